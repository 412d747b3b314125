package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/forecast-bias-service/internal/adapter/httpapi"
	kafkaadapter "github.com/couchcryptid/forecast-bias-service/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-bias-service/internal/bias"
	"github.com/couchcryptid/forecast-bias-service/internal/config"
	"github.com/couchcryptid/forecast-bias-service/internal/ingest"
	"github.com/couchcryptid/forecast-bias-service/internal/observability"
	"github.com/couchcryptid/forecast-bias-service/internal/pipeline"
	"github.com/couchcryptid/forecast-bias-service/internal/report"
	"github.com/couchcryptid/forecast-bias-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	st, err := store.Open(store.Config{
		Driver:  cfg.DBDriver,
		DSN:     cfg.DBDSN,
		Timeout: cfg.StoreTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	engine := bias.NewEngine(st, logger, bias.Options{
		MinGridCount:  cfg.MinGridCount,
		BiasThreshold: cfg.BiasThreshold,
		MinSampleDays: cfg.BiasMinDays,
	})
	submitter := ingest.NewService(st, logger, metrics, cfg.AllowActualCorrections)

	reader := kafkaadapter.NewReader(cfg, logger)
	rejects := kafkaadapter.NewRejectWriter(cfg, logger)
	p := pipeline.New(reader, submitter, rejects, logger, metrics,
		cfg.BatchSize, cfg.KafkaForecastTopic, cfg.KafkaActualTopic)

	reporter := report.New(engine, st, logger, metrics, nil, report.Options{
		Cities:   cfg.ReportCities,
		Sources:  cfg.ReportSources,
		Interval: cfg.ReportInterval,
		Window:   cfg.ReportWindow,
	})

	srv := httpapi.NewServer(cfg.HTTPAddr, engine, st, p, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingestion pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	// Start the periodic bias summary job.
	if err := reporter.Start(); err != nil {
		logger.Error("failed to schedule summary job", "error", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	reporter.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := rejects.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := st.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
