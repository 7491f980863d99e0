package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-review-engine/internal/config"
	"github.com/noah-isme/gema-review-engine/internal/database"
	"github.com/noah-isme/gema-review-engine/internal/handler"
	"github.com/noah-isme/gema-review-engine/internal/middleware"
	"github.com/noah-isme/gema-review-engine/internal/repository"
	"github.com/noah-isme/gema-review-engine/internal/router"
	"github.com/noah-isme/gema-review-engine/internal/scheduler"
	"github.com/noah-isme/gema-review-engine/internal/service"
	"github.com/noah-isme/gema-review-engine/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv == "production" {
		logger = logger.Level(zerolog.InfoLevel)
	}

	db, err := database.ConnectPostgres(database.PostgresOptions{
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		Quiet:           cfg.AppEnv == "production",
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var (
		redisClient *redis.Client
		rateStorage fiber.Storage
	)
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		rateStorage = middleware.NewRedisStorage(redisClient, cfg.ChannelBase)
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	var evaluator ai.Evaluator
	if cfg.AIProvider == "openai" && cfg.OpenAIAPIKey != "" {
		openAI, err := ai.NewOpenAIEvaluator(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create ai evaluator: %v", err)
		}
		evaluator = openAI
	} else {
		logger.Info().Str("provider", cfg.AIProvider).Msg("automated reviewer disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	reviewRepo := repository.NewReviewAssignmentRepository(db)
	regradeRepo := repository.NewRegradeRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	auditService := service.NewAuditService(repository.NewAuditRepository(db), validate, logger)
	settingsService := service.NewSettingsService(settingRepo, service.Settings{
		ScorePrecision:       cfg.ScorePrecision,
		DefaultPassThreshold: cfg.DefaultPassThreshold,
		MaxScore:             cfg.DefaultMaxScore,
		RegradeSLADays:       cfg.RegradeSLADays,
		DefaultReviewWindow:  cfg.DefaultReviewWindow,
	}, cfg.SettingsRefreshPeriod, auditService, validate, logger)

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 10*time.Second)
	if err := settingsService.Bootstrap(bootstrapCtx); err != nil {
		cancelBootstrap()
		log.Fatalf("failed to seed settings: %v", service.Cause(err))
	}
	cancelBootstrap()

	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.ChannelBase, natsConn, validate, logger)
	gradeAggregator := service.NewGradeAggregator(assignmentRepo, submissionRepo, reviewRepo, regradeRepo, settingsService, notificationService, auditService, validate, logger)
	reviewMatcher := service.NewReviewMatcher(assignmentRepo, submissionRepo, reviewRepo, enrollmentRepo, settingsService, notificationService, logger)
	reviewTracker := service.NewReviewTracker(assignmentRepo, submissionRepo, reviewRepo, gradeAggregator, settingsService, validate, logger)
	regradeService := service.NewRegradeService(regradeRepo, submissionRepo, settingsService, notificationService, auditService, validate, logger)
	statusService := service.NewAssignmentStatusService(assignmentRepo, submissionRepo, settingsService, auditService, logger)
	reminderService := service.NewDeadlineReminder(assignmentRepo, submissionRepo, reviewRepo, enrollmentRepo, settingsService, notificationService, redisClient, cfg.ChannelBase, logger)
	aiReviewService := service.NewAIReviewService(reviewRepo, submissionRepo, assignmentRepo, reviewTracker, settingsService, evaluator, logger)

	aiInterval := cfg.AIScoringInterval
	if evaluator == nil {
		aiInterval = 0
	}
	jobs := scheduler.New(logger,
		scheduler.StatusSweepJob(statusService, cfg.StatusSweepInterval, logger),
		scheduler.DeadlineJob(reviewTracker, reminderService, cfg.ReminderLeadTime, cfg.DeadlineSweepInterval, logger),
		scheduler.AIScoringJob(aiReviewService, aiInterval, logger),
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	jwtMiddleware := middleware.JWTProtected(middleware.JWTConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		Leeway: cfg.JWTLeeway,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		StackTraces:  cfg.AppEnv != "production",
	})
	router.Register(app, cfg, router.Dependencies{
		ReviewHandler:           handler.NewReviewHandler(reviewMatcher, reviewTracker, logger),
		AssignmentStatusHandler: handler.NewAssignmentStatusHandler(statusService, logger),
		GradeHandler:            handler.NewGradeHandler(gradeAggregator, logger),
		RegradeHandler:          handler.NewRegradeHandler(regradeService, logger),
		SettingsHandler:         handler.NewSettingsHandler(settingsService, logger),
		NotificationHandler:     handler.NewNotificationHandler(notificationService, logger),
		AuditHandler:            handler.NewAuditHandler(auditService, logger),
		HealthProbes:            healthProbes(db, redisClient, natsConn),
		RateLimitStorage:        rateStorage,
		JWTMiddleware:           jwtMiddleware,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := jobs.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduler exited")
		}
	}()

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app)
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.Probe {
	probes := map[string]handler.Probe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		probes["nats"] = func(ctx context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}
	return probes
}

func waitForShutdown(ctx context.Context, app *fiber.App) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
