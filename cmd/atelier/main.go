package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/atelier-erp/atelier/internal/app"
	"github.com/atelier-erp/atelier/internal/approval"
	"github.com/atelier-erp/atelier/internal/audit"
	audithttp "github.com/atelier-erp/atelier/internal/audit/http"
	"github.com/atelier-erp/atelier/internal/auth"
	"github.com/atelier-erp/atelier/internal/authz"
	"github.com/atelier-erp/atelier/internal/deliveries"
	"github.com/atelier-erp/atelier/internal/invoices"
	"github.com/atelier-erp/atelier/internal/observability"
	"github.com/atelier-erp/atelier/internal/platform/cache"
	"github.com/atelier-erp/atelier/internal/platform/db"
	"github.com/atelier-erp/atelier/internal/projects"
	"github.com/atelier-erp/atelier/internal/quotations"
	"github.com/atelier-erp/atelier/internal/shared"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	clock := shared.SystemClock{}
	metrics := observability.NewMetrics()

	var revocation auth.RevocationStore
	if cfg.RevocationStore == "redis" && redisClient != nil {
		revocation = auth.NewRedisRevocationStore(redisClient)
	} else {
		revocation = auth.NewMemoryRevocationStore()
	}

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, revocation, clock, cfg.SessionTTL)
	authHandler := auth.NewHandler(logger, authService)
	authMiddleware := auth.NewMiddleware(authService, logger)

	authzService := authz.NewService(authz.NewRepository(pool))
	authzMiddleware := authz.Middleware{Service: authzService, Logger: logger}

	approvalEngine := approval.NewEngine(approval.NewRepository(pool), authzService, clock, logger)
	approvalHandler := approval.NewHandler(logger, approvalEngine, authzMiddleware)

	projectRepo := projects.NewRepository(pool)
	projectHandler := projects.NewHandler(logger, projectRepo)

	quotationService := quotations.NewService(quotations.NewRepository(pool), approvalEngine, clock, metrics, logger)
	quotationHandler := quotations.NewHandler(logger, quotationService)

	invoiceService := invoices.NewService(invoices.NewRepository(pool), quotationService, clock, metrics, logger)
	invoiceHandler := invoices.NewHandler(logger, invoiceService)

	deliveryService := deliveries.NewService(deliveries.NewRepository(pool), quotationService, clock, metrics, logger)
	deliveryHandler := deliveries.NewHandler(logger, deliveryService)

	auditService := audit.NewService(audit.NewRepository(pool))
	auditHandler := audithttp.NewHandler(logger, auditService)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthHandler:      authHandler,
		AuthMiddleware:   authMiddleware,
		AuthzMiddleware:  authzMiddleware,
		ProjectHandler:   projectHandler,
		QuotationHandler: quotationHandler,
		InvoiceHandler:   invoiceHandler,
		DeliveryHandler:  deliveryHandler,
		ApprovalHandler:  approvalHandler,
		AuditHandler:     auditHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
