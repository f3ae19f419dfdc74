package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/atelier-erp/atelier/internal/app"
	"github.com/atelier-erp/atelier/internal/auth"
	"github.com/atelier-erp/atelier/internal/platform/db"
	"github.com/atelier-erp/atelier/internal/quotations"
	"github.com/atelier-erp/atelier/internal/shared"
	"github.com/atelier-erp/atelier/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	clock := shared.SystemClock{}

	// The sweeps expire documents and replay chain outcomes; neither submits
	// to an approval engine, so none is wired here.
	quotationService := quotations.NewService(quotations.NewRepository(pool), nil, clock, nil, logger)
	authService := auth.NewService(auth.NewRepository(pool), auth.NewMemoryRevocationStore(), clock, cfg.SessionTTL)

	metrics := jobs.NewMetrics(nil)

	sweepTask, err := jobs.NewExpirySweepTask(jobs.ExpirySweepPayload{Limit: cfg.QuotationSweepBatch})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	reconcileTask, err := jobs.NewChainReconcileTask(jobs.ChainReconcilePayload{Limit: cfg.QuotationSweepBatch})
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuotationExpirySweep, Handler: jobs.NewExpirySweepHandler(quotationService, metrics, logger)},
			{Type: jobs.TaskSessionPurge, Handler: jobs.NewSessionPurgeHandler(authService, metrics, logger)},
			{Type: jobs.TaskQuotationChainReconcile, Handler: jobs.NewChainReconcileHandler(quotationService, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.QuotationSweepInterval.String(), Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "@every " + cfg.QuotationSweepInterval.String(), Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: jobs.NewSessionPurgeTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
