package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var ErrPublishNacked = errors.New("broker rejected message")

type RabbitMQPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// rabbitMQPublisher runs its channel in confirm mode: Publish returns only
// after the broker has taken responsibility for the job.
type rabbitMQPublisher struct {
	channel        *amqp.Channel
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

func NewRabbitMQPublisher(channel *amqp.Channel, logger zerolog.Logger) (RabbitMQPublisher, error) {
	if err := channel.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &rabbitMQPublisher{
		channel:        channel,
		confirmTimeout: 5 * time.Second,
		logger:         logger,
	}, nil
}

func (p *rabbitMQPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	messageID := uuid.NewString()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false,
		amqp.Publishing{
			MessageId:    messageID,
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirm for %s: %w", messageID, err)
	}
	if !acked {
		p.logger.Warn().Str("message_id", messageID).Str("routing_key", routingKey).Msg("Publish nacked by broker")
		return ErrPublishNacked
	}

	return nil
}
