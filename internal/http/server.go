package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalitm1004/cache-n-carry/internal/auth"
	"github.com/lalitm1004/cache-n-carry/internal/config"
	"github.com/lalitm1004/cache-n-carry/internal/custody"
	"github.com/lalitm1004/cache-n-carry/internal/db"
)

type Server struct {
	cfg      config.Config
	store    db.Store
	svc      *custody.Service
	log      *zap.Logger
	cache    *redis.Client
	gatherer prometheus.Gatherer
}

// NewServer wires the HTTP surface. cache and gatherer may be nil; a nil
// cache disables warehouse occupancy caching, a nil gatherer serves the
// default metrics registry.
func NewServer(cfg config.Config, store db.Store, svc *custody.Service, log *zap.Logger, cache *redis.Client, gatherer prometheus.Gatherer) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, store: store, svc: svc, log: log, cache: cache, gatherer: gatherer}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireStaff).Post("/session/create", s.handleCreateSession)
		r.With(s.requireStaff).Post("/session/end", s.handleEndSession)
		r.Get("/session", s.handleGetActiveSession)
		r.Get("/session/{sessionId}", s.handleGetSession)

		r.With(s.requireStaff).Post("/belonging", s.handleRegisterBelonging)
		r.With(s.requireStaff).Post("/belonging/checkin", s.handleCheckIn)
		r.With(s.requireStaff).Post("/belonging/checkout", s.handleCheckOut)
		r.Get("/belonging/{belongingId}", s.handleGetBelonging)

		r.With(s.requireStaff).Put("/incident/update", s.handleResolveIncident)
		r.Get("/incident/{incidentId}", s.handleGetIncident)
		r.Get("/incidents", s.handleListIncidents)

		r.Get("/students", s.handleListStudents)
		r.Get("/student/{studentId}", s.handleGetStudent)
		r.Get("/student/{studentId}/belongings", s.handleListStudentBelongings)
		r.With(s.requireStaff).Patch("/student/{studentId}", s.handleUpdateStudentRooms)
		r.With(s.requireStaff).Delete("/student/{studentId}", s.handleDeleteStudent)

		r.Get("/warehouses", s.handleListWarehouses)
		r.Get("/hostels", s.handleListHostels)
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || claims.UserType != "staff" {
			writeError(w, http.StatusForbidden, "staff_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// staffEmail resolves the authenticated staff member's email; the custody
// service addresses staff by email, matching the paper workflow at the
// warehouse desk.
func (s *Server) staffEmail(ctx context.Context) (string, error) {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return "", errors.New("missing claims")
	}
	user, err := s.store.Queries().GetUserByID(ctx, claims.UserID)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

func normalizeRollParam(rollNumber string) string {
	return strings.ToUpper(strings.TrimSpace(rollNumber))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeServiceError maps custody failure kinds onto HTTP statuses. Untyped
// errors are infrastructure failures and surface as 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *custody.Error
	if errors.As(err, &svcErr) {
		writeJSON(w, statusForKind(svcErr.Kind), map[string]string{"error": svcErr.Message})
		return
	}
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	s.log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error")
}

func statusForKind(kind custody.Kind) int {
	switch kind {
	case custody.KindInvalid:
		return http.StatusBadRequest
	case custody.KindForbidden:
		return http.StatusForbidden
	case custody.KindNotFound:
		return http.StatusNotFound
	case custody.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
