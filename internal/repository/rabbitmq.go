package repository

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitMQRepository owns the broker connection. Jobs that cannot be
// decoded are rejected by the worker and parked in "<queue>.dead".
type RabbitMQRepository interface {
	Channel() *amqp.Channel
	NewChannel() (*amqp.Channel, error)
	SetupQueue(exchange, queue, routingKey string) error
	IsClosed() bool
	Close() error
}

type rabbitMQRepository struct {
	conn   *amqp.Connection
	logger zerolog.Logger

	mu       sync.Mutex
	channels []*amqp.Channel
}

func NewRabbitMQRepository(url string, logger zerolog.Logger) (RabbitMQRepository, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Properties: amqp.Table{"connection_name": "grading"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	r := &rabbitMQRepository{conn: conn, logger: logger}
	if _, err := r.NewChannel(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info().Msg("Connected to RabbitMQ")
	return r, nil
}

// Channel is the primary channel, used for topology and publishing.
func (r *rabbitMQRepository) Channel() *amqp.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.channels) == 0 {
		return nil
	}
	return r.channels[0]
}

func (r *rabbitMQRepository) NewChannel() (*amqp.Channel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	r.mu.Lock()
	r.channels = append(r.channels, ch)
	r.mu.Unlock()
	return ch, nil
}

func deadLetterNames(exchange, queue string) (string, string) {
	return exchange + ".dlx", queue + ".dead"
}

// SetupQueue declares the direct job exchange, the durable grading queue
// and its dead-letter pair.
func (r *rabbitMQRepository) SetupQueue(exchange, queue, routingKey string) error {
	ch := r.Channel()
	dlx, dlq := deadLetterNames(exchange, queue)

	// Сначала dead-letter, чтобы основная очередь могла на него сослаться
	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(dlq, "", dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlx,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	r.logger.Info().
		Str("exchange", exchange).
		Str("queue", q.Name).
		Str("routing_key", routingKey).
		Str("dead_letter_queue", dlq).
		Int("pending_jobs", q.Messages).
		Msg("Grading queue ready")

	return nil
}

func (r *rabbitMQRepository) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *rabbitMQRepository) Close() error {
	r.mu.Lock()
	channels := r.channels
	r.channels = nil
	r.mu.Unlock()

	for i := len(channels) - 1; i >= 0; i-- {
		if err := channels[i].Close(); err != nil && err != amqp.ErrClosed {
			r.logger.Error().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}

	if r.conn == nil {
		return nil
	}
	if err := r.conn.Close(); err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
	}
	return nil
}
