package metrics

import "github.com/prometheus/client_golang/prometheus"

// FeedMetrics records change feed delivery and session lifecycle.
type FeedMetrics struct {
	published    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	active       prometheus.Gauge
	disconnected *prometheus.CounterVec
}

// NewFeedMetrics registers the feed metrics on the provided registerer.
func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	if reg == nil {
		return &FeedMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_events_published_total",
		Help: "Events dispatched to subscribers by type.",
	}, []string{"type"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_events_dropped_total",
		Help: "Events discarded before dispatch by reason.",
	}, []string{"reason"})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_sessions_active",
		Help: "Currently registered feed subscriptions.",
	})
	disconnected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_sessions_disconnected_total",
		Help: "Subscriptions terminated by reason.",
	}, []string{"reason"})
	reg.MustRegister(published, dropped, active, disconnected)
	return &FeedMetrics{
		published:    published,
		dropped:      dropped,
		active:       active,
		disconnected: disconnected,
	}
}

func (m *FeedMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *FeedMetrics) IncDropped(reason string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *FeedMetrics) SessionOpened() {
	if m == nil || m.active == nil {
		return
	}
	m.active.Inc()
}

// SessionClosed decrements the active gauge and counts the disconnect reason.
func (m *FeedMetrics) SessionClosed(reason string) {
	if m == nil || m.active == nil {
		return
	}
	m.active.Dec()
	m.disconnected.WithLabelValues(normalizeLabel(reason)).Inc()
}
