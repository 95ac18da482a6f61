package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestLikeMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLikeMetrics(reg)
	m.IncOutcome("liked")
	m.IncOutcome("liked")
	m.IncOutcome("")
	m.IncConflict()
	m.ObserveDuration(15 * time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "wish_like_outcomes_total", "outcome", "liked"); err != nil {
		t.Fatalf("fetch outcomes: %v", err)
	} else if got != 2 {
		t.Fatalf("expected liked=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "wish_like_outcomes_total", "outcome", "unknown"); err != nil {
		t.Fatalf("fetch unknown outcome: %v", err)
	} else if got != 1 {
		t.Fatalf("expected unknown=1, got %f", got)
	}

	mf := findMetricFamily(mfs, "wish_like_conflicts_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one conflict")
	}
	mf = findMetricFamily(mfs, "wish_like_duration_seconds")
	if mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatalf("expected duration sum > 0")
	}
}

func TestFeedMetricsTracksSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFeedMetrics(reg)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("resync")
	m.IncPublished("wish.created")
	m.IncDropped("stale")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	mf := findMetricFamily(mfs, "feed_sessions_active")
	if mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatalf("expected one active session")
	}
	if got, err := fetchCounterValue(mfs, "feed_sessions_disconnected_total", "reason", "resync"); err != nil || got != 1 {
		t.Fatalf("expected resync=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "feed_events_published_total", "type", "wish.created"); err != nil || got != 1 {
		t.Fatalf("expected wish.created=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "feed_events_dropped_total", "reason", "stale"); err != nil || got != 1 {
		t.Fatalf("expected stale=1, got %f (%v)", got, err)
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	likes := NewLikeMetrics(nil)
	likes.IncOutcome("liked")
	likes.IncConflict()
	likes.ObserveDuration(time.Second)

	feed := NewFeedMetrics(nil)
	feed.SessionOpened()
	feed.SessionClosed("closed")
	feed.IncPublished("wish.updated")
	feed.IncDropped("stale")

	var nilLikes *LikeMetrics
	nilLikes.IncOutcome("liked")
	var nilFeed *FeedMetrics
	nilFeed.SessionOpened()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
