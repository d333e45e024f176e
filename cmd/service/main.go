package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-query-service/internal/client"
	"github.com/kjstillabower/weather-query-service/internal/config"
	httphandler "github.com/kjstillabower/weather-query-service/internal/http"
	"github.com/kjstillabower/weather-query-service/internal/lifecycle"
	"github.com/kjstillabower/weather-query-service/internal/observability"
	"github.com/kjstillabower/weather-query-service/internal/query"
	"github.com/kjstillabower/weather-query-service/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", a.srv.Addr),
			zap.String("weather_api_url", cfg.WeatherAPIURL),
			zap.Bool("discard_stale", cfg.DiscardStaleResults))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	a.shutdown(cfg)
	logger.Info("shutdown complete")
}

// app is the wired service: one controller shared by every HTTP client.
type app struct {
	srv        *http.Server
	handler    *httphandler.Handler
	controller *query.Controller
	logger     *zap.Logger
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	weatherClient, err := client.NewWeatherAPIClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}

	tracker := traffic.NewTracker(cfg.DegradedWindow)
	opts := []query.Option{
		query.WithLogger(logger),
		query.WithOutcomeRecorder(tracker),
	}
	if cfg.DiscardStaleResults {
		opts = append(opts, query.WithStaleDiscard())
	}
	controller := query.NewController(weatherClient, opts...)

	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
	}
	handler := httphandler.NewHandler(controller, tracker, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, cfg.RequestTimeout)

	// No WriteTimeout: it would cut off /query/stream connections.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
	}
	return &app{srv: srv, handler: handler, controller: controller, logger: logger}, nil
}

// shutdown drains in order: stop accepting, close streams, wait for requests, wait for
// fetches, flush telemetry.
func (a *app) shutdown(cfg *config.Config) {
	lifecycle.SetShuttingDown(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown", zap.Error(err))
	}
	a.handler.CloseStreams()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	a.logger.Info("waiting for in-flight work",
		zap.Int64("requests", httphandler.InFlightCount()),
		zap.Int64("fetches", a.controller.InFlight()))
	if err := httphandler.WaitForInFlight(waitCtx); err != nil {
		a.logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
	if err := a.controller.Wait(waitCtx); err != nil {
		a.logger.Warn("in-flight fetches not completed", zap.Error(err), zap.Int64("remaining", a.controller.InFlight()))
	}

	if err := observability.FlushTelemetry(context.Background(), a.logger); err != nil {
		a.logger.Error("telemetry flush", zap.Error(err))
	}
}
