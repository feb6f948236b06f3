package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/worker"
)

// Worker is the standalone grading process: queue in, feedback out, no HTTP.
type Worker struct {
	logger        zerolog.Logger
	core          *core
	gradingWorker worker.GradingWorker
}

func NewWorker(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*Worker, error) {
	c, err := newCore(cfg, log, db)
	if err != nil {
		return nil, err
	}

	gradingWorker, err := c.gradingWorker()
	if err != nil {
		c.close()
		return nil, err
	}

	return &Worker{
		logger:        log,
		core:          c,
		gradingWorker: gradingWorker,
	}, nil
}

// Run starts consuming and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.core.store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to prepare attachment bucket: %w", err)
	}

	if err := w.gradingWorker.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func (w *Worker) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down grading worker...")

	done := make(chan error, 1)
	go func() { done <- w.gradingWorker.Stop() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("worker did not stop in time: %w", ctx.Err())
	}

	w.core.close()
	return err
}
