// Package metrics registers the Prometheus collectors shared by the
// three vocero binaries. Collectors register with the default registry;
// each server exposes them through promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide collector set. Construct once at startup.
type Metrics struct {
	// EventsProcessed counts event-log finalizations.
	// Labels: type (event type), result (processed|retried|finalized_failed)
	EventsProcessed *prometheus.CounterVec

	// EventBacklog gauges unprocessed events per type, refreshed by the
	// worker health sampler.
	EventBacklog *prometheus.GaugeVec

	// DispatchClaims counts claim attempts.
	// Labels: result (claimed|unavailable|expired|not_found)
	DispatchClaims *prometheus.CounterVec

	// LaunchAttempts counts launcher deliveries.
	// Labels: result (succeeded|failed)
	LaunchAttempts *prometheus.CounterVec

	// WebhookCalls counts carrier webhook intakes.
	// Labels: result (accepted|no_agent|bad_signature|error)
	WebhookCalls *prometheus.CounterVec

	// ActiveSessions gauges live connector voice sessions.
	ActiveSessions prometheus.Gauge

	// TurnDuration measures one caller turn end to end (transcript in,
	// speech queued) in seconds.
	TurnDuration prometheus.Histogram

	// ToolExecutions counts tool invocations.
	// Labels: tool_name, status (success|error|timeout)
	ToolExecutions *prometheus.CounterVec

	// ToolLatency measures outbound tool request latency in seconds.
	// Labels: tool_name
	ToolLatency *prometheus.HistogramVec

	// STTEvents counts transcript events by provider and finality.
	// Labels: provider, kind (partial|final)
	STTEvents *prometheus.CounterVec

	// TTSSyntheses counts synthesis attempts.
	// Labels: provider, result (ok|error|fallback)
	TTSSyntheses *prometheus.CounterVec

	// BargeIns counts caller interruptions of agent playback.
	BargeIns prometheus.Counter

	// LLMRequests counts model calls.
	// Labels: provider, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider
	LLMRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors with the default registry.
// Call once per process.
func New() *Metrics {
	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocero_events_processed_total",
				Help: "Event log finalizations by event type and result",
			},
			[]string{"type", "result"},
		),
		EventBacklog: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vocero_event_backlog",
				Help: "Unprocessed events per type",
			},
			[]string{"type"},
		),
		DispatchClaims: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocero_dispatch_claims_total",
				Help: "Dispatch claim attempts by result",
			},
			[]string{"result"},
		),
		LaunchAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocero_launch_attempts_total",
				Help: "Connector launch deliveries by result",
			},
			[]string{"result"},
		),
		WebhookCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocero_webhook_calls_total",
				Help: "Carrier webhook intakes by result",
			},
			[]string{"result"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vocero_active_sessions",
				Help: "Live connector voice sessions",
			},
		),
		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vocero_turn_duration_seconds",
				Help:    "Caller turn latency, transcript in to speech queued",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
		),
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocero_tool_executions_total",
				Help: "Tool invocations by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vocero_tool_latency_seconds",
				Help:    "Outbound tool request latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		STTEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocero_stt_events_total",
				Help: "Transcript events by provider and finality",
			},
			[]string{"provider", "kind"},
		),
		TTSSyntheses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocero_tts_syntheses_total",
				Help: "Speech synthesis attempts by provider and result",
			},
			[]string{"provider", "result"},
		),
		BargeIns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vocero_barge_ins_total",
				Help: "Caller interruptions of agent playback",
			},
		),
		LLMRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocero_llm_requests_total",
				Help: "Model calls by provider and status",
			},
			[]string{"provider", "status"},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vocero_llm_request_duration_seconds",
				Help:    "Model call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"provider"},
		),
	}
}

// SetEventBacklog refreshes the backlog gauges from a store count.
func (m *Metrics) SetEventBacklog(backlog map[string]int) {
	for typ, n := range backlog {
		m.EventBacklog.WithLabelValues(typ).Set(float64(n))
	}
}
