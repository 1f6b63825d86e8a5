// Package metrics provides Prometheus metrics for the interview service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview_room"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Chat metrics
	ChatRequests *prometheus.CounterVec
	ModelLatency *prometheus.HistogramVec
	ModelTokens  *prometheus.CounterVec
	RateLimited  prometheus.Counter
	HistoryReads prometheus.Counter

	// Room metrics
	RoomsActive   prometheus.Gauge
	RoomsOpened   prometheus.Counter
	RoomsClosed   *prometheus.CounterVec
	RoomDuration  prometheus.Histogram
	FramesDropped *prometheus.CounterVec

	// Turn event metrics
	EventPublishTotal   *prometheus.CounterVec
	EventPublishErrors  *prometheus.CounterVec
	EventPublishLatency *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg. A nil reg registers
// with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ChatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Total number of chat requests by outcome",
		}, []string{"outcome"}),
		ModelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_latency_seconds",
			Help:      "Language model call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"provider"}),
		ModelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Total tokens reported by the language model",
		}, []string{"provider"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_rate_limited_total",
			Help:      "Total number of chat requests rejected by the rate limiter",
		}),
		HistoryReads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_reads_total",
			Help:      "Total number of session history reads",
		}),

		RoomsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of currently connected interview rooms",
		}),
		RoomsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_opened_total",
			Help:      "Total number of interview rooms opened",
		}),
		RoomsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_closed_total",
			Help:      "Total number of interview rooms closed by reason",
		}, []string{"reason"}),
		RoomDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "room_duration_seconds",
			Help:      "Lifetime of interview rooms in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600},
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_frames_dropped_total",
			Help:      "Total number of outbound room frames dropped on a full buffer",
		}, []string{"type"}),

		EventPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Total number of turn events published",
		}, []string{"topic", "event_type"}),
		EventPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total number of turn event publish errors",
		}, []string{"topic", "event_type"}),
		EventPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Turn event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordChat records one chat request outcome. Tokens and latency are only
// observed for calls that reached the model.
func (m *Metrics) RecordChat(provider, outcome string, modelLatency time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(outcome).Inc()
	if modelLatency > 0 {
		m.ModelLatency.WithLabelValues(provider).Observe(modelLatency.Seconds())
	}
	if tokens > 0 {
		m.ModelTokens.WithLabelValues(provider).Add(float64(tokens))
	}
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
	m.ChatRequests.WithLabelValues("rate_limited").Inc()
}

// RecordHistoryRead records a session history read.
func (m *Metrics) RecordHistoryRead() {
	if m == nil {
		return
	}
	m.HistoryReads.Inc()
}

// RecordRoomOpen records a room connecting.
func (m *Metrics) RecordRoomOpen() {
	if m == nil {
		return
	}
	m.RoomsOpened.Inc()
	m.RoomsActive.Inc()
}

// RecordRoomClose records a room closing.
func (m *Metrics) RecordRoomClose(reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.RoomsActive.Dec()
	m.RoomsClosed.WithLabelValues(reason).Inc()
	m.RoomDuration.Observe(lifetime.Seconds())
}

// RecordFrameDropped records an outbound frame dropped on a slow client.
func (m *Metrics) RecordFrameDropped(frameType string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(frameType).Inc()
}

// RecordEventPublish records a turn event publish attempt.
func (m *Metrics) RecordEventPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.EventPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.EventPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.EventPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
