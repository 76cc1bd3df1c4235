package custody

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SessionsOpened  prometheus.Counter
	CheckIns        prometheus.Counter
	CheckOuts       prometheus.Counter
	IncidentsOpened prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_sessions_opened_total",
			Help: "Supervision sessions opened.",
		}),
		CheckIns: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_checkins_total",
			Help: "Belongings checked in to a warehouse.",
		}),
		CheckOuts: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_checkouts_total",
			Help: "Belongings checked out of a warehouse.",
		}),
		IncidentsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_incidents_opened_total",
			Help: "Mattress ownership incidents opened at checkout.",
		}),
	}
}
