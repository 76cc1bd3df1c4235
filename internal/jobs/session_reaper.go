package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalitm1004/cache-n-carry/internal/config"
	"github.com/lalitm1004/cache-n-carry/internal/db"
)

// StartSessionReaper terminates supervision sessions left open longer than
// cfg.SessionMaxAge. A staff member who forgets to close a session would
// otherwise block that pair from ever opening a new one. A zero interval
// disables the job.
func StartSessionReaper(ctx context.Context, cfg config.Config, store db.Store, log *zap.Logger) {
	if cfg.ReaperInterval <= 0 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	maxAge := cfg.SessionMaxAge
	if maxAge <= 0 {
		maxAge = 12 * time.Hour
	}

	ticker := time.NewTicker(cfg.ReaperInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-maxAge)
				terminated, err := store.Queries().TerminateStaleSessions(ctx, cutoff)
				if err != nil {
					log.Error("session reaper tick failed", zap.Error(err))
					continue
				}
				if terminated > 0 {
					log.Info("terminated stale sessions", zap.Int64("count", terminated))
				}
			}
		}
	}()
}
