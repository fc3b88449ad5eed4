// Package metrics exposes the relay host's Prometheus metrics. Every method is
// safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Relay sessions
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	UpstreamConnects *prometheus.CounterVec

	// Turns
	TurnsStarted  *prometheus.CounterVec
	TurnsFinished *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec

	// Traffic
	AudioBytesTotal   *prometheus.CounterVec
	DroppedEvents     *prometheus.CounterVec
	ClientErrors      *prometheus.CounterVec
	MalformedUpstream prometheus.Counter

	// One-shot endpoints
	OneShotTotal    *prometheus.CounterVec
	OneShotDuration *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_relay"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"route", "method", "code"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_sessions_active",
			Help:      "Relay sessions currently running.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_sessions_total",
			Help:      "Finished relay sessions by terminal status.",
		}, []string{"status"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_session_duration_seconds",
			Help:      "Relay session duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		UpstreamConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connects_total",
			Help:      "Upstream realtime connection attempts by outcome.",
		}, []string{"outcome"}),
		TurnsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_started_total",
			Help:      "Conversation turns started by kind.",
		}, []string{"kind"}),
		TurnsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_finished_total",
			Help:      "Conversation turns finished by kind and outcome.",
		}, []string{"kind", "outcome"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from turn commit to its end.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM bytes relayed by direction.",
		}, []string{"direction"}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events discarded because their turn was superseded.",
		}, []string{"kind"}),
		ClientErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_errors_total",
			Help:      "Error events sent to clients by code.",
		}, []string{"code"}),
		MalformedUpstream: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_upstream_events_total",
			Help:      "Upstream frames that could not be decoded.",
		}),
		OneShotTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oneshot_requests_total",
			Help:      "One-shot upstream calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		OneShotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oneshot_duration_seconds",
			Help:      "One-shot upstream call duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"op"}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.UpstreamConnects,
		m.TurnsStarted,
		m.TurnsFinished,
		m.TurnDuration,
		m.AudioBytesTotal,
		m.DroppedEvents,
		m.ClientErrors,
		m.MalformedUpstream,
		m.OneShotTotal,
		m.OneShotDuration,
	)
	return m
}

// Handler serves the exposition format for this registry only.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and for registering process collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// InstrumentRoute counts and times requests to one route.
func (m *Metrics) InstrumentRoute(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerCounter(
		m.RequestsTotal.MustCurryWith(labels),
		promhttp.InstrumentHandlerDuration(m.RequestDuration.MustCurryWith(labels), next),
	)
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) UpstreamConnect(outcome string) {
	if m == nil {
		return
	}
	m.UpstreamConnects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OneShot(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.OneShotTotal.WithLabelValues(op, outcome).Inc()
	m.OneShotDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) TurnStarted(kind string) {
	if m == nil {
		return
	}
	m.TurnsStarted.WithLabelValues(kind).Inc()
}

func (m *Metrics) TurnFinished(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsFinished.WithLabelValues(kind, outcome).Inc()
	m.TurnDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) AudioRelayed(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.DroppedEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) StaleFrameDropped() {
	m.EventDropped("queued_frame")
}

func (m *Metrics) ClientError(code string) {
	if m == nil {
		return
	}
	m.ClientErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) MalformedUpstreamEvent() {
	if m == nil {
		return
	}
	m.MalformedUpstream.Inc()
}
