package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"
)

// AMQPConsumer forwards RabbitMQ enqueue notifications onto the in-process
// bus under TopicEnqueued. The queue table stays the source of truth; the
// notification only shortens the worker's idle sleep.
type AMQPConsumer struct {
	url    string
	queue  string
	bus    Queue
	logger *slog.Logger
}

func NewAMQPConsumer(url, queueName string, bus Queue, logger *slog.Logger) *AMQPConsumer {
	return &AMQPConsumer{
		url:    url,
		queue:  queueName,
		bus:    bus,
		logger: logger.With("component", "amqp-consumer", "queue", queueName),
	}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *AMQPConsumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("waiting for enqueue notifications")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("amqp delivery channel closed")
			}
			var n Notification
			if err := json.Unmarshal(d.Body, &n); err != nil {
				c.logger.Warn("invalid notification body", "error", err)
			}
			if err := c.bus.Publish(TopicEnqueued, n); err != nil {
				c.logger.Warn("failed to forward notification", "error", err)
			}
			if err := d.Ack(false); err != nil {
				c.logger.Warn("failed to ack notification", "error", err)
			}
		}
	}
}

// Notification is the body published for each enqueued message.
type Notification struct {
	MessageID string `json:"message_id"`
}

// NotifyEnqueued publishes one notification per message id so a worker
// listening on queueName wakes up. Used by the enqueue side.
func NotifyEnqueued(url, queueName string, messageIDs []string) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, id := range messageIDs {
		body, _ := json.Marshal(Notification{MessageID: id})
		err = ch.Publish(
			"",
			q.Name,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to publish notification for %s: %w", id, err)
		}
	}
	return nil
}
