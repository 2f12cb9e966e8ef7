package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Set holds the engine's self-observability collectors.
type Set struct {
	CyclesTotal     *prometheus.CounterVec
	CycleSeconds    prometheus.Histogram
	SignalsTotal    *prometheus.CounterVec
	DegradedTotal   prometheus.Counter
	ReportsArchived prometheus.Counter
}

// NewSet builds the collector set.
func NewSet() *Set {
	return &Set{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infrawatcher",
			Name:      "cycles_total",
			Help:      "Evaluation cycles by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		CycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "infrawatcher",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of completed evaluation cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infrawatcher",
			Name:      "signals_total",
			Help:      "Confirmed anomaly signals by scope and severity.",
		}, []string{"scope", "severity"}),
		DegradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "infrawatcher",
			Name:      "degraded_sources_total",
			Help:      "Metrics skipped because their source was unavailable.",
		}),
		ReportsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "infrawatcher",
			Name:      "reports_archived_total",
			Help:      "Reports successfully written to the archive.",
		}),
	}
}

// Register registers every collector, tolerating duplicates so that
// repeated wiring in tests does not fail.
func (s *Set) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		s.CyclesTotal,
		s.CycleSeconds,
		s.SignalsTotal,
		s.DegradedTotal,
		s.ReportsArchived,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
