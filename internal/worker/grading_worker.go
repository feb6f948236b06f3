package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/models"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/service"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/worker/queue"
)

type GradingWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() WorkerStats
}

type WorkerStats struct {
	ActiveWorkers  int `json:"active_workers"`
	ProcessedToday int `json:"processed_today"`
	TotalProcessed int `json:"total_processed"`
	FailedJobs     int `json:"failed_jobs"`
	RetriedJobs    int `json:"retried_jobs"`
	QueueLength    int `json:"queue_length"`
}

type gradingWorker struct {
	workerPool     *WorkerPool
	queueConsumer  queue.RabbitMQConsumer
	jobs           queue.JobPublisher
	gradingService service.GradingService
	cfg            config.WorkerConfig
	logger         zerolog.Logger

	stats      WorkerStats
	statsMutex sync.RWMutex
	startTime  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewGradingWorker(
	workerPool *WorkerPool,
	queueConsumer queue.RabbitMQConsumer,
	jobs queue.JobPublisher,
	gradingService service.GradingService,
	cfg config.WorkerConfig,
	logger zerolog.Logger,
) GradingWorker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	return &gradingWorker{
		workerPool:     workerPool,
		queueConsumer:  queueConsumer,
		jobs:           jobs,
		gradingService: gradingService,
		cfg:            cfg,
		logger:         logger,
		startTime:      time.Now(),
		done:           make(chan struct{}),
	}
}

func (w *gradingWorker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting grading worker...")

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	msgs, err := w.queueConsumer.Consume(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	w.workerPool.Start()
	go w.processMessages(ctx, msgs)

	w.logger.Info().
		Int("max_attempts", w.cfg.MaxAttempts).
		Dur("retry_delay", w.cfg.RetryDelay).
		Msg("Grading worker started successfully")
	return nil
}

func (w *gradingWorker) Stop() error {
	w.logger.Info().Msg("Stopping grading worker...")

	if w.cancel != nil {
		w.cancel()
		<-w.done
	}

	w.workerPool.Stop()

	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	stats := w.GetStats()
	w.logger.Info().
		Int("total_processed", stats.TotalProcessed).
		Int("failed_jobs", stats.FailedJobs).
		Int("retried_jobs", stats.RetriedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Grading worker stopped")

	return nil
}

func (w *gradingWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			submitted := w.workerPool.Submit(ctx, func() {
				w.safeHandle(ctx, msg)
			})
			if !submitted {
				// Воркер останавливается, сообщение вернётся в очередь
				if err := msg.Nack(false, true); err != nil {
					w.logger.Error().Err(err).Msg("Failed to nack message")
				}
				return
			}
		}
	}
}

// safeHandle keeps a panic from leaving the delivery unsettled. A first
// delivery goes back to the queue, a redelivered one is dead-lettered.
func (w *gradingWorker) safeHandle(ctx context.Context, msg queue.RabbitMQMessage) {
	settled := false
	ack, nack := msg.Ack, msg.Nack
	msg.Ack = func(multiple bool) error {
		settled = true
		return ack(multiple)
	}
	msg.Nack = func(multiple, requeue bool) error {
		settled = true
		return nack(multiple, requeue)
	}

	defer func() {
		rvr := recover()
		if rvr == nil {
			return
		}
		w.logger.Error().
			Interface("panic", rvr).
			Str("message_id", msg.MessageID).
			Bool("redelivered", msg.Redelivered).
			Bytes("stack", debug.Stack()).
			Msg("Grading job panicked")
		w.countFailed()
		if settled {
			return
		}
		if msg.Redelivered {
			w.reject(msg)
		} else {
			w.nack(msg)
		}
	}()

	w.handle(ctx, msg)
}

// handle settles exactly one delivery: ack, nack with requeue, reject to the
// dead-letter queue, or ack after republishing the job with attempt+1.
func (w *gradingWorker) handle(ctx context.Context, msg queue.RabbitMQMessage) {
	event, err := w.decode(msg)
	if err != nil {
		w.logger.Error().
			Err(err).
			Str("message_id", msg.MessageID).
			Msg("Undecodable grading job, dead-lettering")
		w.reject(msg)
		w.countFailed()
		return
	}

	err = w.process(ctx, event, msg.Redelivered)

	switch {
	case err == nil:
		w.ack(msg)
		w.statsMutex.Lock()
		w.stats.TotalProcessed++
		if time.Since(msg.Timestamp).Hours() < 24 {
			w.stats.ProcessedToday++
		}
		w.statsMutex.Unlock()

	case isPermanentError(err) || service.IsPermanent(err):
		w.logger.Error().Err(err).Str("submission_id", event.SubmissionID).Msg("Grading job failed permanently")
		w.ack(msg)
		w.countFailed()

	case ctx.Err() != nil:
		w.nack(msg)

	case event.Attempt >= w.cfg.MaxAttempts:
		reason := fmt.Sprintf("grading failed after %d attempts: %v", event.Attempt, err)
		if markErr := w.gradingService.MarkFailed(context.WithoutCancel(ctx), event.SubmissionID, reason); markErr != nil {
			w.logger.Error().Err(markErr).Str("submission_id", event.SubmissionID).Msg("Failed to mark submission failed")
		}
		w.logger.Error().
			Err(err).
			Str("submission_id", event.SubmissionID).
			Int("attempt", event.Attempt).
			Msg("Grading attempts exhausted")
		w.ack(msg)
		w.countFailed()

	default:
		w.retry(ctx, msg, event, err)
	}
}

func (w *gradingWorker) decode(msg queue.RabbitMQMessage) (models.SubmissionJobEvent, error) {
	event, err := queue.DecodeJob(msg.Body)
	if err != nil {
		return event, permanent(err)
	}
	if strings.TrimSpace(event.SubmissionID) == "" {
		return event, permanent(errors.New("empty submission_id"))
	}
	return event, nil
}

func (w *gradingWorker) process(ctx context.Context, event models.SubmissionJobEvent, redelivered bool) error {
	w.logger.Info().
		Str("type", event.Type).
		Str("submission_id", event.SubmissionID).
		Str("assignment_id", event.AssignmentID).
		Int("attempt", event.Attempt).
		Bool("redelivered", redelivered).
		Msg("Processing grading job")

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	return w.gradingService.ProcessSubmission(jobCtx, event.SubmissionID)
}

// retry waits retry_delay and publishes the next attempt. The original
// delivery is acked only once the new one is in the queue.
func (w *gradingWorker) retry(ctx context.Context, msg queue.RabbitMQMessage, event models.SubmissionJobEvent, cause error) {
	w.logger.Warn().
		Err(cause).
		Str("submission_id", event.SubmissionID).
		Int("attempt", event.Attempt).
		Dur("retry_delay", w.cfg.RetryDelay).
		Msg("Grading job failed, scheduling retry")

	if w.cfg.RetryDelay > 0 {
		timer := time.NewTimer(w.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.nack(msg)
			return
		case <-timer.C:
		}
	}

	if err := w.jobs.PublishJob(ctx, event.Next()); err != nil {
		w.logger.Error().Err(err).Str("submission_id", event.SubmissionID).Msg("Failed to republish job")
		w.nack(msg)
		return
	}

	w.ack(msg)
	w.statsMutex.Lock()
	w.stats.RetriedJobs++
	w.statsMutex.Unlock()
}

func (w *gradingWorker) ack(msg queue.RabbitMQMessage) {
	if err := msg.Ack(false); err != nil {
		w.logger.Error().Err(err).Msg("Failed to ack message")
	}
}

func (w *gradingWorker) nack(msg queue.RabbitMQMessage) {
	if err := msg.Nack(false, true); err != nil {
		w.logger.Error().Err(err).Msg("Failed to nack message")
	}
}

// reject drops the delivery without requeue; the broker dead-letters it.
func (w *gradingWorker) reject(msg queue.RabbitMQMessage) {
	if err := msg.Nack(false, false); err != nil {
		w.logger.Error().Err(err).Msg("Failed to reject message")
	}
}

func (w *gradingWorker) countFailed() {
	w.statsMutex.Lock()
	w.stats.FailedJobs++
	w.statsMutex.Unlock()
}

func (w *gradingWorker) GetStats() WorkerStats {
	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()

	queueLength, err := w.queueConsumer.GetQueueLength()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to get queue length")
	} else {
		w.stats.QueueLength = queueLength
	}

	w.stats.ActiveWorkers = w.workerPool.GetActiveWorkers()

	return w.stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
