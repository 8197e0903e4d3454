// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the server. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Live session metrics
	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram
	LiveFramesSent      prometheus.Counter
	LiveBuffersPlayed   prometheus.Counter
	LiveDecodeErrors    prometheus.Counter
	LiveInterruptions   prometheus.Counter

	// Chat metrics
	ChatTurnsTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Device metrics
	DevicesConnected prometheus.Gauge
	RateLimitHits    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with its own registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "biblia"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LiveSessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_sessions_active",
				Help:      "Number of active live sessions",
			},
		),
		LiveSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_sessions_total",
				Help:      "Total number of live sessions by final state",
			},
			[]string{"status"},
		),
		LiveSessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "live_session_duration_seconds",
				Help:      "Live session duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),
		LiveFramesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_input_frames_total",
				Help:      "Microphone frames sent to the remote model",
			},
		),
		LiveBuffersPlayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_output_buffers_total",
				Help:      "Model audio buffers scheduled for playback",
			},
		),
		LiveDecodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_decode_errors_total",
				Help:      "Model audio buffers dropped because they could not be decoded",
			},
		),
		LiveInterruptions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "live_interruptions_total",
				Help:      "Playback interruptions signalled by the remote model",
			},
		),
		ChatTurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_turns_total",
				Help:      "Chat turns by outcome",
			},
			[]string{"outcome"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "kind"},
		),
		DevicesConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_connected",
				Help:      "Number of connected devices",
			},
		),
		RateLimitHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_rate_limit_hits_total",
				Help:      "Inbound device messages dropped by the rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.LiveSessionsActive,
		m.LiveSessionsTotal,
		m.LiveSessionDuration,
		m.LiveFramesSent,
		m.LiveBuffersPlayed,
		m.LiveDecodeErrors,
		m.LiveInterruptions,
		m.ChatTurnsTotal,
		m.ErrorsTotal,
		m.DevicesConnected,
		m.RateLimitHits,
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed HTTP request
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLiveSessionStart records a new live session starting
func (m *Metrics) RecordLiveSessionStart() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
}

// RecordLiveSessionEnd records a live session ending with its final state
func (m *Metrics) RecordLiveSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(status).Inc()
	m.LiveSessionDuration.Observe(duration.Seconds())
}

// RecordFrameSent records one microphone frame sent upstream
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.LiveFramesSent.Inc()
}

// RecordBufferPlayed records one model buffer scheduled for playback
func (m *Metrics) RecordBufferPlayed() {
	if m == nil {
		return
	}
	m.LiveBuffersPlayed.Inc()
}

// RecordDecodeError records a dropped model buffer
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.LiveDecodeErrors.Inc()
}

// RecordInterruption records a remote interruption
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.LiveInterruptions.Inc()
}

// RecordChatTurn records a chat turn outcome: ok, empty or error
func (m *Metrics) RecordChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.ChatTurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordError records an error of a component
func (m *Metrics) RecordError(component, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// DeviceConnected adjusts the connected devices gauge
func (m *Metrics) DeviceConnected(delta int) {
	if m == nil {
		return
	}
	m.DevicesConnected.Add(float64(delta))
}

// RecordRateLimitHit records a dropped inbound device frame
func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}
