package queue

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitMQMessage is a delivery stripped down to what the grading worker
// needs. Nack with requeue=false routes the job to the dead-letter queue.
type RabbitMQMessage struct {
	MessageID   string
	Body        []byte
	Timestamp   time.Time
	Redelivered bool
	Ack         func(multiple bool) error
	Nack        func(multiple bool, requeue bool) error
}

type RabbitMQConsumer interface {
	Consume(ctx context.Context) (<-chan RabbitMQMessage, error)
	GetQueueLength() (int, error)
	Close() error
}

type rabbitMQConsumer struct {
	channel     *amqp.Channel
	queue       string
	consumerTag string
	prefetch    int
	logger      zerolog.Logger
}

func NewRabbitMQConsumer(channel *amqp.Channel, queue, consumerTag string, prefetch int, logger zerolog.Logger) RabbitMQConsumer {
	return &rabbitMQConsumer{
		channel:     channel,
		queue:       queue,
		consumerTag: consumerTag,
		prefetch:    max(prefetch, 1),
		logger:      logger.With().Str("queue", queue).Logger(),
	}
}

func (c *rabbitMQConsumer) Consume(ctx context.Context) (<-chan RabbitMQMessage, error) {
	// Не больше prefetch неподтверждённых заданий на воркер
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return nil, err
	}

	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue, c.consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, err
	}

	output := make(chan RabbitMQMessage)
	go c.forward(ctx, deliveries, output)

	c.logger.Info().
		Str("consumer_tag", c.consumerTag).
		Int("prefetch", c.prefetch).
		Msg("Grading consumer started")

	return output, nil
}

func (c *rabbitMQConsumer) forward(ctx context.Context, deliveries <-chan amqp.Delivery, output chan<- RabbitMQMessage) {
	defer close(output)

	for {
		var d amqp.Delivery
		var ok bool

		select {
		case <-ctx.Done():
			return
		case d, ok = <-deliveries:
			if !ok {
				c.logger.Warn().Msg("Delivery channel closed by broker")
				return
			}
		}

		msg := RabbitMQMessage{
			MessageID:   d.MessageId,
			Body:        d.Body,
			Timestamp:   d.Timestamp,
			Redelivered: d.Redelivered,
			Ack:         d.Ack,
			Nack:        d.Nack,
		}

		select {
		case output <- msg:
		case <-ctx.Done():
			if err := d.Nack(false, true); err != nil {
				c.logger.Error().Err(err).Msg("Failed to requeue delivery on shutdown")
			}
			return
		}
	}
}

func (c *rabbitMQConsumer) GetQueueLength() (int, error) {
	q, err := c.channel.QueueDeclarePassive(c.queue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Close cancels the subscription only. The channel belongs to the repository.
func (c *rabbitMQConsumer) Close() error {
	if err := c.channel.Cancel(c.consumerTag, false); err != nil && err != amqp.ErrClosed {
		return err
	}
	return nil
}
