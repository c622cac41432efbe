package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics of the engagement engine
type Metrics struct {
	// Inbound pipeline
	RepliesClassifiedTotal *prometheus.CounterVec
	IntentsMatchedTotal    *prometheus.CounterVec
	VerificationsTotal     *prometheus.CounterVec
	AutoRepliesSentTotal   *prometheus.CounterVec
	ReviewsQueuedTotal     prometheus.Counter

	// Follow-ups
	FollowUpsSentTotal     *prometheus.CounterVec
	FollowUpsFailedTotal   *prometheus.CounterVec
	FollowUpsDeferredTotal *prometheus.CounterVec
	FollowUpsStoppedTotal  *prometheus.CounterVec

	// Collaborators
	QuotaExceededTotal *prometheus.CounterVec
	LLMFallbacksTotal  *prometheus.CounterVec

	// Loops
	LoopRunsTotal       *prometheus.CounterVec
	LoopDurationSeconds *prometheus.HistogramVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Gauges
	ReviewsPending   prometheus.Gauge
	ProspectsActive  prometheus.Gauge
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RepliesClassifiedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_replies_classified_total",
				Help: "Total number of inbound replies classified, by kind",
			},
			[]string{"kind"},
		),
		IntentsMatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_intents_matched_total",
				Help: "Total number of top-ranked intents",
			},
			[]string{"intent"},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_verifications_total",
				Help: "Total number of verified replies, by verdict",
			},
			[]string{"status"},
		),
		AutoRepliesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_auto_replies_sent_total",
				Help: "Total number of automatic replies sent",
			},
			[]string{"provider"},
		),
		ReviewsQueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_reviews_queued_total",
				Help: "Total number of replies queued for manual review",
			},
		),

		FollowUpsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_followups_sent_total",
				Help: "Total number of follow-up touches sent",
			},
			[]string{"provider"},
		),
		FollowUpsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_followups_failed_total",
				Help: "Total number of follow-up touches that failed to send",
			},
			[]string{"provider", "error_type"},
		),
		FollowUpsDeferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_followups_deferred_total",
				Help: "Total number of due touches left for a later scan",
			},
			[]string{"reason"},
		),
		FollowUpsStoppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_followups_stopped_total",
				Help: "Total number of prospects leaving the active follow-up state",
			},
			[]string{"status"},
		),

		QuotaExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_quota_exceeded_total",
				Help: "Total number of sends denied by the rate limiter",
			},
			[]string{"level"},
		),
		LLMFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_llm_fallbacks_total",
				Help: "Total number of LLM failures handled by a fallback",
			},
			[]string{"component"},
		),

		LoopRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_loop_runs_total",
				Help: "Total number of polling loop iterations",
			},
			[]string{"loop"},
		),
		LoopDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_loop_duration_seconds",
				Help:    "Polling loop iteration duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"loop"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		ReviewsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_reviews_pending",
				Help: "Number of replies waiting for manual review",
			},
		),
		ProspectsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_prospects_active",
				Help: "Number of prospects with active follow-ups",
			},
		),
		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.RepliesClassifiedTotal,
		m.IntentsMatchedTotal,
		m.VerificationsTotal,
		m.AutoRepliesSentTotal,
		m.ReviewsQueuedTotal,
		m.FollowUpsSentTotal,
		m.FollowUpsFailedTotal,
		m.FollowUpsDeferredTotal,
		m.FollowUpsStoppedTotal,
		m.QuotaExceededTotal,
		m.LLMFallbacksTotal,
		m.LoopRunsTotal,
		m.LoopDurationSeconds,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.ReviewsPending,
		m.ProspectsActive,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncRepliesClassified counts a classified inbound reply
func IncRepliesClassified(kind string) {
	if m := Global(); m != nil {
		m.RepliesClassifiedTotal.WithLabelValues(kind).Inc()
	}
}

// IncIntentMatched counts a top-ranked intent
func IncIntentMatched(intent string) {
	if m := Global(); m != nil {
		m.IntentsMatchedTotal.WithLabelValues(intent).Inc()
	}
}

// IncVerifications counts a verification verdict
func IncVerifications(status string) {
	if m := Global(); m != nil {
		m.VerificationsTotal.WithLabelValues(status).Inc()
	}
}

// IncAutoRepliesSent counts a sent automatic reply
func IncAutoRepliesSent(provider string) {
	if m := Global(); m != nil {
		m.AutoRepliesSentTotal.WithLabelValues(provider).Inc()
	}
}

// IncReviewsQueued counts a reply queued for review
func IncReviewsQueued() {
	if m := Global(); m != nil {
		m.ReviewsQueuedTotal.Inc()
	}
}

// IncFollowUpsSent counts a sent follow-up touch
func IncFollowUpsSent(provider string) {
	if m := Global(); m != nil {
		m.FollowUpsSentTotal.WithLabelValues(provider).Inc()
	}
}

// IncFollowUpsFailed counts a failed follow-up send
func IncFollowUpsFailed(provider, errorType string) {
	if m := Global(); m != nil {
		m.FollowUpsFailedTotal.WithLabelValues(provider, errorType).Inc()
	}
}

// IncFollowUpsDeferred counts a due touch left for the next scan
func IncFollowUpsDeferred(reason string) {
	if m := Global(); m != nil {
		m.FollowUpsDeferredTotal.WithLabelValues(reason).Inc()
	}
}

// IncFollowUpsStopped counts a prospect reaching a terminal follow-up status
func IncFollowUpsStopped(status string) {
	if m := Global(); m != nil {
		m.FollowUpsStoppedTotal.WithLabelValues(status).Inc()
	}
}

// IncQuotaExceeded counts a rate limiter denial
func IncQuotaExceeded(level string) {
	if m := Global(); m != nil {
		m.QuotaExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncLLMFallback counts an LLM failure handled by a fallback
func IncLLMFallback(component string) {
	if m := Global(); m != nil {
		m.LLMFallbacksTotal.WithLabelValues(component).Inc()
	}
}

// ObserveLoop records one polling loop iteration
func ObserveLoop(loop string, seconds float64) {
	if m := Global(); m != nil {
		m.LoopRunsTotal.WithLabelValues(loop).Inc()
		m.LoopDurationSeconds.WithLabelValues(loop).Observe(seconds)
	}
}
