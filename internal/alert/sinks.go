package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/splax/loadguard/internal/domain"
	"github.com/splax/loadguard/internal/stream"
)

// MarshalAlert encodes an alert for stream and pub/sub consumers.
func MarshalAlert(alert domain.Alert) ([]byte, error) {
	payload := map[string]any{
		"id":         alert.ID,
		"severity":   alert.Severity.String(),
		"kind":       alert.Kind,
		"title":      alert.Title,
		"message":    alert.Message,
		"emitted_at": alert.EmittedAt.UTC().Format(time.RFC3339Nano),
	}
	if ev := alert.Event; ev != nil {
		payload["event"] = map[string]any{
			"id":             ev.ID,
			"level":          ev.Level.String(),
			"timestamp":      ev.Timestamp.UTC().Format(time.RFC3339Nano),
			"cpu_percent":    ev.Sample.CPUPercent,
			"memory_percent": ev.Sample.MemoryPercent,
			"rss_mb":         ev.Sample.ResidentMemoryMB,
			"worker_budget":  ev.Sample.WorkerBudget,
			"degradations":   ev.Degradations,
			"open_breakers":  ev.OpenBreakers,
		}
	}
	return json.Marshal(payload)
}

// SlogSink writes alerts to the structured log at a level matching their
// severity.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink constructs a logging sink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Deliver implements Sink.
func (s *SlogSink) Deliver(_ context.Context, alert domain.Alert) error {
	if s.logger == nil {
		return nil
	}
	attrs := []any{"kind", alert.Kind, "title", alert.Title, "message", alert.Message}
	switch alert.Severity {
	case domain.SeverityCritical:
		s.logger.Error("alert", attrs...)
	case domain.SeverityWarning:
		s.logger.Warn("alert", attrs...)
	default:
		s.logger.Info("alert", attrs...)
	}
	return nil
}

// RedisSink publishes alerts to a Redis channel for external consumers.
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisSink connects to Redis and verifies the connection before
// returning the sink.
func NewRedisSink(addr, password string, db int, channel string, logger *slog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		timeout: 250 * time.Millisecond,
		logger:  logger,
	}, nil
}

// Deliver implements Sink.
func (s *RedisSink) Deliver(ctx context.Context, alert domain.Alert) error {
	payload, err := MarshalAlert(alert)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Publish(opCtx, s.channel, payload).Err()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

// HubSink broadcasts alerts to live stream subscribers. Every alert goes to
// the firehose topic and to its severity topic.
type HubSink struct {
	hub *stream.Hub
}

// NewHubSink constructs a stream sink.
func NewHubSink(hub *stream.Hub) *HubSink {
	return &HubSink{hub: hub}
}

// Deliver implements Sink.
func (s *HubSink) Deliver(_ context.Context, alert domain.Alert) error {
	if s.hub == nil {
		return nil
	}
	payload, err := MarshalAlert(alert)
	if err != nil {
		return err
	}
	s.hub.Broadcast(stream.TopicAlerts, payload)
	s.hub.Broadcast(alert.Severity.String(), payload)
	return nil
}
