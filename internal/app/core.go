package app

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/grader"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/normalizer"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/provider"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/cache"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/database"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/repository"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/service"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/storage"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/worker"
	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/worker/queue"
)

// core holds what both the API and the standalone worker need: repositories,
// object storage and the job queue.
type core struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *sql.DB

	userRepo       repository.UserRepository
	courseRepo     repository.CourseRepository
	assignmentRepo repository.AssignmentRepository
	submissionRepo repository.SubmissionRepository
	feedbackRepo   repository.FeedbackRepository
	statsRepo      repository.StatsRepository
	complianceRepo repository.ComplianceRepository
	tokenRepo      repository.TokenRepository

	store    storage.AttachmentStore
	rabbitMQ repository.RabbitMQRepository
	jobs     queue.JobPublisher
	consumer queue.RabbitMQConsumer
	cache    *cache.ResponseCache
}

func newCore(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*core, error) {
	gormDB, err := database.NewGorm(db, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewMinIOStore(cfg.MinIO, log)
	if err != nil {
		return nil, err
	}

	rabbitMQRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
	if err != nil {
		return nil, err
	}

	if err := rabbitMQRepo.SetupQueue(
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.RoutingKey,
	); err != nil {
		rabbitMQRepo.Close()
		return nil, err
	}

	// Отдельный канал под consumer, основной канал в режиме confirm
	consumerChannel, err := rabbitMQRepo.NewChannel()
	if err != nil {
		rabbitMQRepo.Close()
		return nil, err
	}

	rabbitMQPublisher, err := queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), log)
	if err != nil {
		rabbitMQRepo.Close()
		return nil, err
	}

	rabbitMQConsumer := queue.NewRabbitMQConsumer(
		consumerChannel,
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		log,
	)

	return &core{
		cfg:    cfg,
		logger: log,
		db:     db,

		userRepo:       repository.NewUserRepository(db, log),
		courseRepo:     repository.NewCourseRepository(db, log),
		assignmentRepo: repository.NewAssignmentRepository(db, log),
		submissionRepo: repository.NewSubmissionRepository(db, log),
		feedbackRepo:   repository.NewFeedbackRepository(db, log),
		statsRepo:      repository.NewStatsRepository(db, log),
		complianceRepo: repository.NewComplianceRepository(gormDB, log),
		tokenRepo:      repository.NewTokenRepository(gormDB, log),

		store:    store,
		rabbitMQ: rabbitMQRepo,
		jobs:     queue.NewJobPublisher(rabbitMQPublisher, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, log),
		consumer: rabbitMQConsumer,
	}, nil
}

// gradingWorker builds the AI pipeline and the queue worker around it.
func (c *core) gradingWorker() (worker.GradingWorker, error) {
	ai := c.cfg.AI
	creds := ai.Credentials()

	p, err := provider.New(provider.Config{
		Provider:              ai.Provider,
		APIKey:                creds.APIKey,
		BaseURL:               creds.BaseURL,
		Model:                 creds.Model,
		Timeout:               ai.Timeout,
		InlineAttachmentLimit: ai.InlineAttachmentLimit,
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}

	temperature := ai.Temperature
	g := grader.New(p, normalizer.New(), grader.Options{
		Model:                creds.Model,
		Temperature:          &temperature,
		MaxOutputTokens:      ai.MaxOutputTokens,
		RetryMaxOutputTokens: ai.RetryMaxOutputTokens,
		MaxInputChars:        ai.MaxInputChars,
		MaxImageDimension:    ai.MaxImageDimension,
		Stream:               ai.Stream,
	}, c.logger)

	var resultCache service.ResultCache
	if c.cfg.Cache.Enabled {
		rc, err := cache.Open(c.cfg.Cache.Path, c.cfg.Cache.TTL, c.logger)
		if err != nil {
			// Без кэша работаем, просто дороже
			c.logger.Warn().Err(err).Msg("Response cache disabled")
		} else {
			c.cache = rc
			resultCache = rc
		}
	}

	gradingService := service.NewGradingService(
		c.submissionRepo,
		c.assignmentRepo,
		c.feedbackRepo,
		c.store,
		g,
		resultCache,
		p.Name()+"/"+creds.Model,
		c.logger,
	)

	workerPool := worker.NewWorkerPool(c.cfg.Worker.MaxWorkers, c.logger)

	return worker.NewGradingWorker(
		workerPool,
		c.consumer,
		c.jobs,
		gradingService,
		c.cfg.Worker,
		c.logger,
	), nil
}

func (c *core) close() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close response cache")
		}
	}

	if c.rabbitMQ != nil {
		if err := c.rabbitMQ.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}
}
