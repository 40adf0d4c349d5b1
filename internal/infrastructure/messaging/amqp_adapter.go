package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/milepost/pkg/domain/events"
	"github.com/felixgeelhaar/milepost/pkg/domain/messaging"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "milepost.events"

// Channel is the part of *amqp.Channel the adapter uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPAdapter publishes events to a topic exchange. The routing key is the
// event type, so consumers can bind to e.g. "booking.*".
type AMQPAdapter struct {
	config   messaging.AdapterConfig
	channel  Channel
	exchange string
}

func NewAMQPAdapter(config messaging.AdapterConfig, ch Channel, exchange string) *AMQPAdapter {
	return &AMQPAdapter{config: config, channel: ch, exchange: exchange}
}

func (a *AMQPAdapter) Name() string { return a.config.Name }
func (a *AMQPAdapter) Type() string { return messaging.TypeAMQP }

func (a *AMQPAdapter) Send(ctx context.Context, event events.DomainEvent) error {
	msg, err := Publishing(event)
	if err != nil {
		return err
	}
	if err := a.channel.PublishWithContext(ctx, a.exchange, event.EventType(), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	return nil
}

func (a *AMQPAdapter) Close() error {
	return a.channel.Close()
}

// Publishing encodes event as a persistent JSON message.
func Publishing(event events.DomainEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt(),
		Type:         event.EventType(),
	}
	if b, ok := event.(interface{ EventID() string }); ok {
		msg.MessageId = b.EventID()
	}
	return msg, nil
}

// brokerChannel closes the connection together with its channel.
type brokerChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c *brokerChannel) Close() error {
	_ = c.Channel.Close()
	return c.conn.Close()
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string) (Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &brokerChannel{Channel: ch, conn: conn}, nil
}
