package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/delivery/httpd"
	mw "github.com/mithorizon7/AIAssignmentProMH-sub000/internal/middleware"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/server"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/service"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/worker"
)

type App struct {
	server        *server.Server
	logger        zerolog.Logger
	config        *config.Config
	core          *core
	gradingWorker worker.GradingWorker
}

// New wires the HTTP API. With worker.embedded the grading worker runs in
// the same process.
func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	c, err := newCore(cfg, log, db)
	if err != nil {
		return nil, err
	}

	auditor := service.NewAuditor(c.complianceRepo, log)

	authService := service.NewAuthService(c.userRepo, c.tokenRepo, auditor, cfg.Auth, log)
	userService := service.NewUserService(c.userRepo, auditor, log)
	courseService := service.NewCourseService(c.courseRepo, c.userRepo, log)
	assignmentService := service.NewAssignmentService(c.assignmentRepo, c.courseRepo, log)

	submissionService := service.NewSubmissionService(
		c.submissionRepo,
		c.assignmentRepo,
		c.courseRepo,
		c.feedbackRepo,
		c.complianceRepo,
		c.store,
		c.jobs,
		auditor,
		cfg.Compliance.RequireAIConsent,
		log,
	)

	batchService := service.NewBatchService(
		c.userRepo,
		c.courseRepo,
		c.assignmentRepo,
		c.submissionRepo,
		c.feedbackRepo,
		c.jobs,
		cfg.Batch.ChunkSize,
		log,
	)

	metricsService := service.NewMetricsService(
		c.courseRepo,
		c.assignmentRepo,
		c.statsRepo,
		c.consumer,
		log,
	)

	complianceService := service.NewComplianceService(
		c.complianceRepo,
		c.userRepo,
		c.courseRepo,
		c.submissionRepo,
		c.feedbackRepo,
		c.tokenRepo,
		c.store,
		auditor,
		cfg.Compliance,
		log,
	)

	handler := httpd.NewHandler(httpd.Services{
		Auth:       authService,
		Users:      userService,
		Courses:    courseService,
		Assignment: assignmentService,
		Submission: submissionService,
		Batch:      batchService,
		Metrics:    metricsService,
		Compliance: complianceService,
	}, db, cfg, log)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	srv := server.NewServer(cfg.Server, router, log)
	srv.SetupMiddleware(
		mw.NewCORS(
			cfg.CORS.AllowedOrigins,
			cfg.CORS.AllowedMethods,
			cfg.CORS.AllowedHeaders,
			cfg.CORS.ExposedHeaders,
			cfg.CORS.AllowCredentials,
			cfg.CORS.MaxAge,
		),
		mw.RequestLogger(log),
		mw.Recovery(log),
		timeout(cfg.Server.RequestTimeout),
	)

	a := &App{
		server: srv,
		logger: log,
		config: cfg,
		core:   c,
	}

	if cfg.Worker.Embedded {
		gradingWorker, err := c.gradingWorker()
		if err != nil {
			c.close()
			return nil, err
		}
		a.gradingWorker = gradingWorker
	}

	return a, nil
}

func (a *App) Run() error {
	ctx := context.Background()

	if err := a.core.store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to prepare attachment bucket: %w", err)
	}

	if a.gradingWorker != nil {
		if err := a.gradingWorker.Start(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to start grading worker")
			return err
		}
	}

	a.logger.Info().
		Bool("embedded_worker", a.gradingWorker != nil).
		Msgf("Starting grading API on %s", a.config.Server.Address)
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down grading API...")

	// Сначала перестаём принимать запросы, потом гасим воркер
	serverErr := a.server.Shutdown(ctx)
	if serverErr != nil {
		a.logger.Error().Err(serverErr).Msg("Failed to shutdown HTTP server")
	}

	if a.gradingWorker != nil {
		if err := a.gradingWorker.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to stop grading worker")
		}
	}

	a.core.close()

	a.logger.Info().Msg("Grading API stopped")
	return serverErr
}

func timeout(d time.Duration) func(next http.Handler) http.Handler {
	if d <= 0 {
		return nil
	}
	return mw.Timeout(d)
}
