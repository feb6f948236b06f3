package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
)

// JobPublisher enqueues grading jobs.
type JobPublisher interface {
	PublishJob(ctx context.Context, event models.SubmissionJobEvent) error
}

type jobPublisher struct {
	publisher  RabbitMQPublisher
	exchange   string
	routingKey string
	logger     zerolog.Logger
}

func NewJobPublisher(publisher RabbitMQPublisher, exchange, routingKey string, logger zerolog.Logger) JobPublisher {
	return &jobPublisher{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

func (p *jobPublisher) PublishJob(ctx context.Context, event models.SubmissionJobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := p.publisher.Publish(ctx, p.exchange, p.routingKey, body); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	p.logger.Debug().
		Str("type", event.Type).
		Str("submission_id", event.SubmissionID).
		Int("attempt", event.Attempt).
		Msg("Grading job published")

	return nil
}

// DecodeJob parses a delivery body into a job event.
func DecodeJob(body []byte) (models.SubmissionJobEvent, error) {
	var event models.SubmissionJobEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if event.Attempt < 1 {
		event.Attempt = 1
	}
	return event, nil
}
