package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"sitepulse/internal/db"
)

// Metrics counts accepted and rejected events.
type Metrics struct {
	Ingested *prometheus.CounterVec
	Rejected *prometheus.CounterVec
}

// NewMetrics creates the ingestion counters and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ingested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sitepulse",
				Name:      "events_ingested_total",
				Help:      "Total number of stored tracking events.",
			},
			[]string{"project", "event_type", "source"},
		),
		Rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sitepulse",
				Name:      "ingest_rejected_total",
				Help:      "Total number of tracking events that were not stored.",
			},
			[]string{"reason"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Ingested, m.Rejected)
	}
	return m
}

func (m *Metrics) ingested(ev *db.Event) {
	if m == nil {
		return
	}
	m.Ingested.WithLabelValues(projectLabel(ev.ProjectID), ev.EventType, ev.Source).Inc()
}

func (m *Metrics) rejected(err error) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(RejectReason(err)).Inc()
}
