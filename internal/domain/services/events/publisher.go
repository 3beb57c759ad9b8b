// Package events publishes bridge lifecycle records to Kafka for downstream
// consumers (accounting, reconciliation, dashboards). Publishing is fire and
// forget: the pipeline never blocks or fails because the broker is down.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	"github.com/etrid/flarebridge/pkg/metrics"
)

// Event types carried in the envelope
const (
	TypeDepositConfirmed = "deposit.confirmed"
	TypeDepositEmitted   = "deposit.emitted"
	TypeRelayFinalized   = "relay.finalized"
)

// Envelope wraps every published record
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Config tunes the publisher
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// Publisher writes bridge events to Kafka. A disabled publisher is a no-op,
// so callers never need to special-case the wiring.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	logger  *zap.Logger
}

// NewPublisher creates a Kafka-backed publisher. Messages are keyed so all
// events for one deposit or message hash land on the same partition.
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	p := &Publisher{
		topic:   cfg.Topic,
		enabled: cfg.Enabled && len(cfg.Brokers) > 0,
		logger:  logger,
	}
	if !p.enabled {
		return p
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			result := "ok"
			if err != nil {
				result = "error"
				logger.Warn("event delivery failed",
					zap.Int("messages", len(messages)),
					zap.Error(err))
			}
			metrics.EventsPublishedTotal.WithLabelValues(cfg.Topic, result).Add(float64(len(messages)))
		},
	}
	return p
}

// DepositConfirmed publishes a deposit confirmation record
func (p *Publisher) DepositConfirmed(ctx context.Context, deposit *entities.Deposit) {
	p.publish(ctx, deposit.Key(), TypeDepositConfirmed, deposit)
}

// DepositEmitted publishes a deposit emission record
func (p *Publisher) DepositEmitted(ctx context.Context, deposit *entities.Deposit) {
	p.publish(ctx, deposit.Key(), TypeDepositEmitted, deposit)
}

// RelayFinalized publishes a relay finalization record
func (p *Publisher) RelayFinalized(ctx context.Context, job *entities.RelayJob) {
	p.publish(ctx, job.MessageHash, TypeRelayFinalized, job)
}

func (p *Publisher) publish(ctx context.Context, key, eventType string, payload interface{}) {
	if !p.enabled {
		return
	}

	envelope := Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		p.logger.Error("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}

	// Async writer: this only stages the message, delivery results arrive
	// through the completion callback.
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  envelope.OccurredAt,
	})
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(p.topic, "error").Inc()
		p.logger.Warn("failed to stage event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

// Close flushes buffered messages and releases the writer
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
