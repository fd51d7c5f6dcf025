// Package events publishes order lifecycle events to Kafka so downstream
// consumers (email, fulfillment, analytics) can react without being in the
// request path.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// OrderConfirmed is emitted once per order when payment is confirmed
// (or immediately for COD and zero-total orders).
type OrderConfirmed struct {
	OrderID       string    `json:"order_id"`
	OrderNumber   int64     `json:"order_number"`
	Email         string    `json:"email"`
	Total         string    `json:"total"`
	PaymentMethod string    `json:"payment_method"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// Publisher emits order events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishOrderConfirmed(ctx context.Context, evt OrderConfirmed) error
	Close() error
}

// KafkaPublisher writes order events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: logger,
	}
}

// PublishOrderConfirmed sends the event keyed by order ID so per-order
// ordering is preserved.
func (p *KafkaPublisher) PublishOrderConfirmed(ctx context.Context, evt OrderConfirmed) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("order.confirmed")},
		},
	})
	if err != nil {
		p.logger.Error("publishing order confirmed event", "error", err, "order_id", evt.OrderID)
		return err
	}

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards events. Used when Kafka is not configured and
// in tests.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderConfirmed(ctx context.Context, evt OrderConfirmed) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
