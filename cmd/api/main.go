package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainsettle/chainsettle-backend/api/routes"
	"github.com/chainsettle/chainsettle-backend/internal/audit"
	"github.com/chainsettle/chainsettle-backend/internal/exports"
	"github.com/chainsettle/chainsettle-backend/internal/ledger"
	"github.com/chainsettle/chainsettle-backend/internal/settlements"
	"github.com/chainsettle/chainsettle-backend/pkg/config"
	"github.com/chainsettle/chainsettle-backend/pkg/db"
	"github.com/chainsettle/chainsettle-backend/pkg/logger"
	"github.com/chainsettle/chainsettle-backend/pkg/metrics"
	"github.com/chainsettle/chainsettle-backend/pkg/migrate"
	"github.com/chainsettle/chainsettle-backend/pkg/outbox"
	"github.com/chainsettle/chainsettle-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)
	queueMetrics := metrics.NewExportQueueMetrics(registry)

	gormDB := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)

	auditSvc, err := audit.NewService(audit.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gormDB), dbClient, outboxSvc, auditSvc, ledgerMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}
	exportsSvc, err := exports.NewService(exports.NewRepository(gormDB), dbClient, outboxSvc, auditSvc, queueMetrics, cfg.Exports)
	if err != nil {
		logg.Error(context.Background(), "failed to create exports service", err)
		os.Exit(1)
	}
	settlementsSvc, err := settlements.NewService(settlements.NewRepository(gormDB), dbClient, outboxSvc, ledgerSvc, exportsSvc, *cfg, ledgerMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlements service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			PubSub:      pubsubClient,
			Registry:    registry,
			Settlements: settlementsSvc,
			Ledger:      ledgerSvc,
			Exports:     exportsSvc,
			Audit:       auditSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
