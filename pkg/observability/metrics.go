// Package observability provides Prometheus metrics and OpenTelemetry
// tracing spans around the suspension points spec.md §5 names: database
// calls, vector-store calls, embedding-provider calls, language-model
// calls, and push/webhook calls.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kadsuke/assistant-axelis/pkg/orchestrator"
)

// MetricsConfig configures the Prometheus namespace every metric is
// registered under.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults fills in the namespace when absent.
func (c *MetricsConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "bankassist"
	}
}

// Metrics holds the metric families for agent tiers, escalations, pack
// resolutions, and the HTTP surface. A nil *Metrics is safe to call every
// method on — every recorder is a no-op — so components can take one
// unconditionally and callers who disabled metrics pass nil.
type Metrics struct {
	registry *prometheus.Registry

	agentTurns        *prometheus.CounterVec
	agentTurnDuration *prometheus.HistogramVec

	escalationsTotal *prometheus.CounterVec

	packResolutions *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds a Metrics instance, or returns nil if cfg disables
// collection.
func NewMetrics(cfg *MetricsConfig) *Metrics {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	cfg.SetDefaults()

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.agentTurns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "agent",
		Name:      "turns_total",
		Help:      "Total number of orchestrated turns, by tier and escalation outcome",
	}, []string{"application", "tier", "escalated"})

	m.agentTurnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "agent",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end turn duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"application", "tier"})

	m.escalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "escalation",
		Name:      "total",
		Help:      "Total number of escalations created, by priority",
	}, []string{"application", "priority"})

	m.packResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "pack",
		Name:      "resolutions_total",
		Help:      "Total number of capability resolutions, by resolved pack id",
	}, []string{"application", "pack_id"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(m.agentTurns, m.agentTurnDuration, m.escalationsTotal,
		m.packResolutions, m.httpRequests, m.httpDuration)

	return m
}

// RecordTurn implements pipeline.MetricsSink.
func (m *Metrics) RecordTurn(application string, tier orchestrator.Tier, escalated bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.agentTurns.WithLabelValues(application, string(tier), boolLabel(escalated)).Inc()
	m.agentTurnDuration.WithLabelValues(application, string(tier)).Observe(durationSeconds)
}

// RecordEscalation records a created escalation.
func (m *Metrics) RecordEscalation(application, priority string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(application, priority).Inc()
}

// RecordPackResolution records one capability resolution.
func (m *Metrics) RecordPackResolution(application, packID string) {
	if m == nil {
		return
	}
	m.packResolutions.WithLabelValues(application, packID).Inc()
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusCodeLabel(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler exposes the Prometheus scrape endpoint. Returns 503 when metrics
// are disabled, matching the teacher's nil-safe handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
