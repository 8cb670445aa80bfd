package notification

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange settlement events are published to.
const DefaultExchange = "settlement_events"

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes events to a RabbitMQ topic exchange using the event kind
// as routing key.
type AMQPNotifier struct {
	channel  amqpPublisher
	exchange string
}

// NewAMQPNotifier wraps an open channel. The exchange must already be declared.
func NewAMQPNotifier(ch *amqp.Channel, exchange string) *AMQPNotifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPNotifier{channel: ch, exchange: exchange}
}

func (n *AMQPNotifier) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = n.channel.PublishWithContext(ctx, n.exchange, event.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         event.Kind,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish amqp event: %w", err)
	}
	return nil
}
