package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainsettle/chainsettle-backend/internal/audit"
	"github.com/chainsettle/chainsettle-backend/internal/exports"
	"github.com/chainsettle/chainsettle-backend/pkg/config"
	"github.com/chainsettle/chainsettle-backend/pkg/db"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
	"github.com/chainsettle/chainsettle-backend/pkg/metrics"
	"github.com/chainsettle/chainsettle-backend/pkg/migrate"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "export-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "export-worker"

	logg = logger.New(logger.Options{
		ServiceName: "export-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	queueMetrics := metrics.NewExportQueueMetrics(registry)
	workerMetrics := metrics.NewWorkerJobMetrics(registry)

	gormDB := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)
	auditSvc, err := audit.NewService(audit.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}
	queue, err := exports.NewService(exports.NewRepository(gormDB), dbClient, outboxSvc, auditSvc, queueMetrics, cfg.Exports)
	if err != nil {
		logg.Error(context.Background(), "failed to create export queue service", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:       cfg,
		Logger:       logg,
		DB:           dbClient,
		Queue:        queue,
		Metrics:      workerMetrics,
		WorkerID:     workerID(),
		TargetSystem: os.Getenv("CHAINSETTLE_EXPORT_WORKER_TARGET"),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create export worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "export-worker",
	})
	logg.Info(ctx, "starting export worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "export worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "export worker shutting down gracefully")
}

func workerID() string {
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
