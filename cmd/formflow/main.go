// Package main is the entry point for the formflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/formflow/internal/config"
	"github.com/pitabwire/formflow/internal/events"
	"github.com/pitabwire/formflow/internal/flow"
	"github.com/pitabwire/formflow/internal/observability"
	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/internal/reconcile"
	"github.com/pitabwire/formflow/internal/session"
	"github.com/pitabwire/formflow/internal/transport"
	"github.com/pitabwire/formflow/internal/wiring"
	"github.com/pitabwire/formflow/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, cfg.Observability.ServiceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	registry, err := wiring.LoadDefinitions(cfg.Definitions, logger, metrics)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	stores, err := wiring.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	defer stores.Close()

	coordinator := persistence.NewCoordinator(stores.Submissions, stores.Mirror,
		persistence.WithLogger(logger),
		persistence.WithRecorder(metrics),
	)

	sessionOpts := []session.Option{
		session.WithLogger(logger),
		session.WithRecorder(metrics),
	}
	if stores.Idempotency != nil {
		sessionOpts = append(sessionOpts, session.WithIdempotencyStore(stores.Idempotency, cfg.Idempotency.TTL))
	}

	readiness := stores.Readiness(registry)

	if cfg.Events.Enabled {
		nc, err := events.Connect(cfg.Events.URL, logger)
		if err != nil {
			logger.Error("nats connection failed", zap.Error(err))
			return 1
		}
		defer nc.Drain()
		publisher := events.NewNATSPublisher(nc, cfg.Events.Subject, logger, metrics)
		sessionOpts = append(sessionOpts, session.WithPublisher(publisher))
		readiness.Events = publisher
	}

	sessions := session.NewService(flow.NewExecutor(registry), stores.States, coordinator, sessionOpts...)

	var scheduler *reconcile.Scheduler
	if cfg.Reconcile.Enabled {
		filters := make([]model.SubmissionFilter, len(cfg.Reconcile.SalesOrders))
		for i, so := range cfg.Reconcile.SalesOrders {
			filters[i] = model.SubmissionFilter{SalesOrderNumber: so}
		}
		auditor := reconcile.NewAuditor(stores.Submissions, stores.Mirror, logger, metrics)
		scheduler, err = reconcile.NewScheduler(auditor, cfg.Reconcile.Schedule, filters, cfg.Reconcile.Fix, logger)
		if err != nil {
			logger.Error("reconcile scheduler initialization failed", zap.Error(err))
			return 1
		}
		scheduler.Start()
	}

	var metricsHandler http.Handler
	if cfg.Observability.Metrics.Enabled {
		metricsHandler = observability.Handler()
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Logger:         logger,
		Registry:       registry,
		Sessions:       sessions,
		Coordinator:    coordinator,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readiness),
		MetricsHandler: metricsHandler,
	})

	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", registry.Count()),
		zap.String("mirror", stores.Mirror.Name()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}
