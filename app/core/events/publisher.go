package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher emits decision events for downstream consumers (analytics,
// audit). Keys follow "pipeline.<decision>" and "review.<status>".
type Publisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
	Close() error
}

// Envelope is the wire format for every published event.
type Envelope struct {
	ID            string      `json:"id"`
	CorrelationID string      `json:"correlation_id"`
	Key           string      `json:"key"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Payload       interface{} `json:"payload"`
}

type amqpPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewAMQP connects to RabbitMQ and declares a durable topic exchange.
func NewAMQP(url string, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &amqpPublisher{conn: conn, exchange: exchange}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	envelope := Envelope{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Key:           key,
		EmittedAt:     time.Now().UTC(),
		Payload:       payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     envelope.ID,
		CorrelationId: envelope.CorrelationID,
		Timestamp:     envelope.EmittedAt,
		Body:          body,
	})
	if err == nil {
		log.Printf("[Events] Published %s", key)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	return p.conn.Close()
}

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, interface{}) error { return nil }
func (Noop) Close() error                                       { return nil }
