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
	"github.com/shopspring/decimal"

	"github.com/officina-erp/officina-erp/internal/app"
	"github.com/officina-erp/officina-erp/internal/billing"
	"github.com/officina-erp/officina-erp/internal/cashbook"
	"github.com/officina-erp/officina-erp/internal/deposit"
	"github.com/officina-erp/officina-erp/internal/platform/cache"
	"github.com/officina-erp/officina-erp/internal/platform/db"
	"github.com/officina-erp/officina-erp/internal/registry"
	"github.com/officina-erp/officina-erp/internal/workorder"
	"github.com/officina-erp/officina-erp/jobs"
	"github.com/officina-erp/officina-erp/report"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		runJobsCommand(os.Args[2:])
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, cash close locking degraded", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	vatRate, err := decimal.NewFromString(cfg.DefaultVATRate)
	if err != nil {
		logger.Error("parse default vat rate", slog.Any("error", err))
		os.Exit(1)
	}

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

	clients := registry.NewRepository(pool)

	workOrderService := workorder.NewService(workorder.NewRepository(pool), logger)
	billingService := billing.NewService(billing.NewRepository(pool), clients, jobsClient, billing.ServiceConfig{
		DefaultVATRate:          vatRate,
		DefaultPaymentTermsDays: cfg.DefaultPaymentTermsDays,
	}, logger)
	depositService := deposit.NewService(deposit.NewRepository(pool), clients, logger)
	cashbookService := cashbook.NewService(cashbook.NewRepository(pool), redisClient, logger)

	jobsInspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsInspector.Close(); err != nil {
			logger.Warn("jobs inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterConfig{
		Logger:     logger,
		Config:     cfg,
		WorkOrders: workorder.NewHandler(logger, workOrderService),
		Billing:    billing.NewHandler(logger, billingService),
		Deposits:   deposit.NewHandler(logger, depositService),
		Cashbook:   cashbook.NewHandler(logger, cashbookService),
		Reports:    report.NewHandler(report.NewClient(cfg.GotenbergURL), billingService, clients, logger),
		Jobs:       jobs.NewHandler(jobsInspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
