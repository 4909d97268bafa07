// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the client core. Both are optional; the manager runs
// without them.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// MetricsPath and MetricsPort locate the scrape endpoint served by
	// Start (default: /metrics on 9090).
	MetricsPath string
	MetricsPort int

	Namespace        string
	Subsystem        string
	HistogramBuckets []float64
	ConstLabels      prometheus.Labels

	// Registerer receives all collectors; defaults to the process-wide
	// registry.
	Registerer prometheus.Registerer
}

// MetricsProvider records what the client core does.
type MetricsProvider interface {
	RecordCall(ctx context.Context, serverID, method, status string, duration time.Duration)
	RecordToolCall(ctx context.Context, serverID, tool, status string, duration time.Duration)
	RecordSessionEvent(ctx context.Context, serverID, event string)
	RecordActiveSessions(ctx context.Context, delta int)
	RecordError(ctx context.Context, serverID, category string)

	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// PrometheusMetricsProvider implements MetricsProvider using Prometheus.
type PrometheusMetricsProvider struct {
	config MetricsConfig
	server *http.Server

	callDuration     *prometheus.HistogramVec
	callTotal        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	sessionEvents    *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	errorTotal       *prometheus.CounterVec
}

// NewMetricsProvider creates a Prometheus metrics provider.
func NewMetricsProvider(config MetricsConfig) (MetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.Subsystem == "" {
		config.Subsystem = "client"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsPort == 0 {
		config.MetricsPort = 9090
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}

	if config.ConstLabels == nil {
		config.ConstLabels = prometheus.Labels{}
	}
	if config.ServiceName != "" {
		config.ConstLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		config.ConstLabels["version"] = config.ServiceVersion
	}
	if config.Environment != "" {
		config.ConstLabels["environment"] = config.Environment
	}

	p := &PrometheusMetricsProvider{config: config}
	p.initializeMetrics()
	if err := p.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return p, nil
}

func (p *PrometheusMetricsProvider) initializeMetrics() {
	p.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "call_duration_milliseconds",
			Help:        "Duration of JSON-RPC calls in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"server_id", "method", "status"},
	)

	p.callTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "call_total",
			Help:        "Total number of JSON-RPC calls",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"server_id", "method", "status"},
	)

	p.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "tool_call_duration_milliseconds",
			Help:        "Duration of tool calls in milliseconds",
			Buckets:     p.config.HistogramBuckets,
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"server_id", "tool", "status"},
	)

	p.sessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "session_events_total",
			Help:        "Session lifecycle events (connect, evict, disconnect)",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"server_id", "event"},
	)

	p.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of live transport sessions",
			ConstLabels: p.config.ConstLabels,
		},
	)

	p.errorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        "error_total",
			Help:        "Total number of errors by category",
			ConstLabels: p.config.ConstLabels,
		},
		[]string{"server_id", "category"},
	)
}

func (p *PrometheusMetricsProvider) registerMetrics() error {
	collectors := []prometheus.Collector{
		p.callDuration,
		p.callTotal,
		p.toolCallDuration,
		p.sessionEvents,
		p.activeSessions,
		p.errorTotal,
	}
	for _, collector := range collectors {
		if err := p.config.Registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// RecordCall records one JSON-RPC call.
func (p *PrometheusMetricsProvider) RecordCall(ctx context.Context, serverID, method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.callDuration.WithLabelValues(serverID, method, status).Observe(ms)
	p.callTotal.WithLabelValues(serverID, method, status).Inc()
}

// RecordToolCall records one tool invocation.
func (p *PrometheusMetricsProvider) RecordToolCall(ctx context.Context, serverID, tool, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.toolCallDuration.WithLabelValues(serverID, tool, status).Observe(ms)
}

// RecordSessionEvent records a session lifecycle event.
func (p *PrometheusMetricsProvider) RecordSessionEvent(ctx context.Context, serverID, event string) {
	p.sessionEvents.WithLabelValues(serverID, event).Inc()
}

// RecordActiveSessions records a change in the live session count.
func (p *PrometheusMetricsProvider) RecordActiveSessions(ctx context.Context, delta int) {
	if delta > 0 {
		p.activeSessions.Add(float64(delta))
	} else {
		p.activeSessions.Sub(float64(-delta))
	}
}

// RecordError records one categorized error.
func (p *PrometheusMetricsProvider) RecordError(ctx context.Context, serverID, category string) {
	p.errorTotal.WithLabelValues(serverID, category).Inc()
}

// Start serves the scrape endpoint.
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, promhttp.Handler())

	p.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", p.config.MetricsPort),
		Handler: mux,
	}

	go func() {
		_ = p.server.ListenAndServe()
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	if p.server != nil {
		return p.server.Shutdown(ctx)
	}
	return nil
}

// NopMetrics returns a provider that records nothing.
func NopMetrics() MetricsProvider {
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) RecordCall(context.Context, string, string, string, time.Duration)     {}
func (nopMetrics) RecordToolCall(context.Context, string, string, string, time.Duration) {}
func (nopMetrics) RecordSessionEvent(context.Context, string, string)                    {}
func (nopMetrics) RecordActiveSessions(context.Context, int)                             {}
func (nopMetrics) RecordError(context.Context, string, string)                           {}
func (nopMetrics) Start(context.Context) error                                           { return nil }
func (nopMetrics) Shutdown(context.Context) error                                        { return nil }
