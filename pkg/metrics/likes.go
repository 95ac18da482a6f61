package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LikeMetrics records like coordinator outcomes.
type LikeMetrics struct {
	outcomes  *prometheus.CounterVec
	conflicts prometheus.Counter
	duration  prometheus.Histogram
}

// NewLikeMetrics registers the like metrics on the provided registerer.
func NewLikeMetrics(reg prometheus.Registerer) *LikeMetrics {
	if reg == nil {
		return &LikeMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wish_like_outcomes_total",
		Help: "Like attempts by final outcome.",
	}, []string{"outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wish_like_conflicts_total",
		Help: "Like transactions aborted by a concurrent writer.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wish_like_duration_seconds",
		Help:    "End to end duration of like operations including retries.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(outcomes, conflicts, duration)
	return &LikeMetrics{
		outcomes:  outcomes,
		conflicts: conflicts,
		duration:  duration,
	}
}

// IncOutcome counts one finished like call.
func (m *LikeMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncConflict counts one aborted transaction attempt.
func (m *LikeMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

// ObserveDuration records how long a like call took.
func (m *LikeMetrics) ObserveDuration(d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
