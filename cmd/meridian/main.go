package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-lms/meridian-lms/internal/accounts"
	"github.com/meridian-lms/meridian-lms/internal/app"
	"github.com/meridian-lms/meridian-lms/internal/enrollment"
	"github.com/meridian-lms/meridian-lms/internal/gateway"
	"github.com/meridian-lms/meridian-lms/internal/lessons"
	"github.com/meridian-lms/meridian-lms/internal/observability"
	"github.com/meridian-lms/meridian-lms/internal/platform/cache"
	"github.com/meridian-lms/meridian-lms/internal/platform/db"
	"github.com/meridian-lms/meridian-lms/internal/progress"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	"github.com/meridian-lms/meridian-lms/internal/token"
	"github.com/meridian-lms/meridian-lms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tokenService, err := token.NewService(token.Config{
		Secret: cfg.TokenSecret,
		Issuer: cfg.TokenIssuer,
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		logger.Error("init token service", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	metrics := observability.NewMetrics()
	pipeline := gateway.NewPipeline(tokenService, auditLogger, metrics, logger)

	accountsRepo := accounts.NewRepository(dbpool)
	accountsService := accounts.NewService(accountsRepo, tokenService)
	accountsHandler := accounts.NewHandler(logger, accountsService, pipeline)

	lessonsRepo := lessons.NewRepository(dbpool)
	lessonCache := lessons.NewCache(redisClient, cfg.LessonCacheTTL)
	if err := lessonCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("lesson cache subscribe", slog.Any("error", err))
	}
	lessonsService := lessons.NewService(lessonsRepo, lessonCache, logger)
	lessonsHandler := lessons.NewHandler(logger, lessonsService, pipeline)

	progressRepo := progress.NewRepository(dbpool)
	progressService := progress.NewService(progressRepo, nil)
	progressHandler := progress.NewHandler(logger, progressService, pipeline)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	enrollmentRepo := enrollment.NewRepository(dbpool)
	enrollmentService := enrollment.NewService(enrollmentRepo, enrollment.AsynqMailer{Client: jobsClient}, logger)
	enrollmentHandler := enrollment.NewHandler(logger, enrollmentService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AccountsHandler:   accountsHandler,
		EnrollmentHandler: enrollmentHandler,
		LessonsHandler:    lessonsHandler,
		ProgressHandler:   progressHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
