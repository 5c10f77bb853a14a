package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Stream metrics
	FramesTotal           prometheus.Counter
	FrameParseErrorsTotal prometheus.Counter
	EventsTotal           *prometheus.CounterVec
	InvalidEventsTotal    *prometheus.CounterVec
	UnknownEventsTotal    prometheus.Counter

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Fallback metrics
	FallbacksTotal *prometheus.CounterVec
}

// New creates and registers all metrics
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		FramesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_frames_total",
				Help: "Total number of frames decoded from event streams",
			},
		),
		FrameParseErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_frame_parse_errors_total",
				Help: "Total number of malformed data lines dropped",
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_total",
				Help: "Total number of domain events applied to session state",
			},
			[]string{"type"},
		),
		InvalidEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_invalid_events_total",
				Help: "Total number of events dropped by payload validation",
			},
			[]string{"type"},
		),
		UnknownEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_unknown_events_total",
				Help: "Total number of events with an unrecognized type",
			},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of currently active streaming sessions",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_total",
				Help: "Total number of streaming sessions started",
			},
		),
		SessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "session_duration_seconds",
				Help:    "Duration of streaming sessions in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fallbacks_total",
				Help: "Total number of synchronous fallback attempts",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.FramesTotal,
		m.FrameParseErrorsTotal,
		m.EventsTotal,
		m.InvalidEventsTotal,
		m.UnknownEventsTotal,
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.FallbacksTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for testing
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
