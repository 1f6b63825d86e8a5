// Package events publishes interview turn events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ashureev/interview-room/internal/metrics"
)

// Turn event types.
const (
	TypeTurnCompleted = "turn.completed"
	TypeTurnFailed    = "turn.failed"
)

// TurnEvent describes one finished exchange with the model.
type TurnEvent struct {
	Type           string    `json:"type"`
	UserID         string    `json:"userId"`
	SessionID      string    `json:"sessionId"`
	MessageID      string    `json:"messageId,omitempty"`
	Provider       string    `json:"provider"`
	HistoryLen     int       `json:"historyLen"`
	TokensUsed     int       `json:"tokensUsed,omitempty"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	ErrorKind      string    `json:"errorKind,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher publishes turn events to a Kafka topic. When Kafka is disabled
// events are only logged.
type Publisher struct {
	writer    *kafka.Writer
	principal string
	topic     string
	enabled   bool
	metrics   *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
}

// New creates a publisher. A nil config, a disabled config or an empty
// broker list yields log-only mode.
func New(cfg *Config, m *metrics.Metrics) *Publisher {
	if cfg == nil {
		slog.Info("kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		slog.Info("kafka disabled, using log-only mode")
		return &Publisher{
			principal: cfg.Principal,
			topic:     cfg.Topic,
			metrics:   m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	slog.Info("kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"principal", cfg.Principal,
	)

	return &Publisher{
		writer:    writer,
		principal: cfg.Principal,
		topic:     cfg.Topic,
		enabled:   true,
		metrics:   m,
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// PublishTurn publishes ev keyed by session so a session's events stay on
// one partition in order.
func (p *Publisher) PublishTurn(ctx context.Context, ev TurnEvent) error {
	return p.publish(ctx, ev.Type, ev.UserID+":"+ev.SessionID, ev)
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "topic", p.topic, "error", err)
		return err
	}

	slog.Debug("publishing event",
		"principal", p.principal,
		"topic", p.topic,
		"key", key,
		"payload", json.RawMessage(payload),
	)

	if !p.enabled || p.writer == nil {
		p.metrics.RecordEventPublish(p.topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to write to kafka", "topic", p.topic, "key", key, "error", err)
		p.metrics.RecordEventPublish(p.topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordEventPublish(p.topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes the Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}
	return nil
}
