// Package bus provides the event bus abstraction and its NATS implementation.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Event is the envelope published on every subject
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event envelope with a fresh id and timestamp
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventBus publishes events for other services to consume
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Close()
}

// NATSEventBus is the NATS-backed EventBus
type NATSEventBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NewNATSEventBus connects to the configured NATS server
func NewNATSEventBus(cfg config.NATSConfig, log *logger.Logger) (*NATSEventBus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(time.Duration(cfg.Timeout)*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	return &NATSEventBus{
		conn:   conn,
		logger: log.WithFields(zap.String("component", "event-bus")),
	}, nil
}

// Publish marshals the event and publishes it on the given subject
func (b *NATSEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	b.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	return nil
}

// Close drains and closes the NATS connection
func (b *NATSEventBus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("NATS drain failed", zap.Error(err))
	}
	b.conn.Close()
}

// MemoryEventBus is a process-local EventBus used when no NATS server
// is configured. Events are logged, not delivered anywhere.
type MemoryEventBus struct {
	logger *logger.Logger
}

// NewMemoryEventBus creates the in-process bus
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		logger: log.WithFields(zap.String("component", "event-bus")),
	}
}

// Publish records the event in the log
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.logger.Debug("event",
		zap.String("subject", subject),
		zap.String("event_type", event.Type),
		zap.Any("data", event.Data))
	return nil
}

// Close is a no-op
func (b *MemoryEventBus) Close() {}
