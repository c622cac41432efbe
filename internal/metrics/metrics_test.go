package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	// Unlabelled metrics are exported before first use
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"outreach_reviews_pending", "outreach_reviews_queued_total", "outreach_uptime_seconds"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestGlobalMetrics(t *testing.T) {
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)
	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
	SetGlobal(nil)
}

func TestIncHelpers(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncRepliesClassified("genuine")
	IncRepliesClassified("genuine")
	IncRepliesClassified("automated")
	IncFollowUpsSent("gmail-1")
	IncFollowUpsFailed("gmail-1", "temporary")
	IncQuotaExceeded("provider")
	IncLLMFallback("intent")
	IncReviewsQueued()

	tests := []struct {
		name string
		c    prometheus.Counter
		want float64
	}{
		{"genuine", m.RepliesClassifiedTotal.WithLabelValues("genuine"), 2},
		{"automated", m.RepliesClassifiedTotal.WithLabelValues("automated"), 1},
		{"followup sent", m.FollowUpsSentTotal.WithLabelValues("gmail-1"), 1},
		{"followup failed", m.FollowUpsFailedTotal.WithLabelValues("gmail-1", "temporary"), 1},
		{"quota", m.QuotaExceededTotal.WithLabelValues("provider"), 1},
		{"fallback", m.LLMFallbacksTotal.WithLabelValues("intent"), 1},
		{"reviews", m.ReviewsQueuedTotal, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestObserveLoop(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	ObserveLoop("inbound", 0.2)
	ObserveLoop("inbound", 0.4)

	if got := counterValue(t, m.LoopRunsTotal.WithLabelValues("inbound")); got != 2 {
		t.Errorf("LoopRunsTotal = %v, want 2", got)
	}
}

func TestIncHelpersWithoutGlobal(t *testing.T) {
	SetGlobal(nil)

	// None of these may panic
	IncRepliesClassified("genuine")
	IncIntentMatched("pricing")
	IncVerifications("approved")
	IncAutoRepliesSent("p")
	IncReviewsQueued()
	IncFollowUpsSent("p")
	IncFollowUpsFailed("p", "x")
	IncFollowUpsDeferred("quota")
	IncFollowUpsStopped("replied")
	IncQuotaExceeded("global")
	IncLLMFallback("verifier")
	ObserveLoop("followup", 1)
}
