// Package main is the entry point for the event tracker server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/api"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/config"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/ctr"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/health"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/middleware"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/ranking"
	"github.com/AdamNeiman/prolo-ordering-factor-demo/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Ordering Factor Tracker")
		fmt.Println()
		fmt.Println("Usage: tracker [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "of-tracker",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporterType,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := middleware.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	stager := ctr.NewStager(
		ctr.NewRedisEventStore(rdb),
		logger,
		cfg.SessionLiveTime(),
		cfg.DisplayingDuration(),
	)
	reader := ranking.NewReader(ranking.NewRedisRecordStore(rdb), logger)

	trackerHandlers := api.NewTrackerHandlers(stager, logger, metrics)
	rankingHandlers := api.NewRankingHandlers(reader, logger)
	healthHandlers := api.NewHealthHandlers(logger,
		health.NewDBChecker(db),
		health.NewRedisChecker(rdb),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/track", trackerHandlers.PostTrack)
	mux.HandleFunc("/rankings/", rankingHandlers.GetRanking)
	mux.HandleFunc("/health", healthHandlers.GetHealth)
	mux.HandleFunc("/ready", healthHandlers.GetReady)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			api.WriteError(w, r, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"of-tracker","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Logging -> HTTPMetrics
	handler := middleware.RequestID(middleware.Logging(logger)(middleware.HTTPMetrics(metrics)(mux)))
	if tracer.IsEnabled() {
		handler = otelhttp.NewHandler(handler, "of-tracker")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.TrackerPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting tracker", "port", cfg.TrackerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down tracker...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("tracker stopped")
}
