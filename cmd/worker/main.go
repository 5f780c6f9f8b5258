package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/caseflow/caseflow/internal/app"
	"github.com/caseflow/caseflow/internal/auth"
	jobmetrics "github.com/caseflow/caseflow/internal/jobs"
	"github.com/caseflow/caseflow/internal/observability"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/security"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4, MaxConnLifetime: time.Hour})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	throttleRepo := security.NewRepository(pool)
	retention := cfg.ThrottleConfig().Retention()
	idempotency := shared.NewIdempotencyStore(pool)
	authRepo := auth.NewRepository(pool)

	mailJob := &jobs.MailJob{
		Sender: jobs.NewSMTPSender(jobs.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}),
		Logger:  logger,
		Metrics: jobMetrics,
	}
	pruneJob := &jobs.PruneJob{
		Targets: []jobs.PruneTarget{
			{Table: "security_event", Run: func(ctx context.Context) (int64, error) {
				return throttleRepo.Prune(ctx, time.Now().Add(-retention))
			}},
			{Table: "idempotency_key", Run: func(ctx context.Context) (int64, error) {
				return idempotency.Prune(ctx, cfg.IdempotencyRetention)
			}},
			{Table: "password_reset", Run: func(ctx context.Context) (int64, error) {
				return authRepo.PruneResets(ctx, time.Now())
			}},
		},
		Logger:  logger,
		Metrics: jobMetrics,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: mailJob.Handle},
			{Type: jobs.TaskMaintenancePrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "17 * * * *", Task: jobs.NewPruneTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started", slog.String("metrics_addr", cfg.WorkerMetricsAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
