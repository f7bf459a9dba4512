// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package predictor wires the knit pipeline prediction service together.
//
// # Description
//
// New builds every component from a Config:
//
//	Config ─► telemetry.Init ─► observability.NewMetrics
//	       ─► registry.Load (models dir)
//	       ─► history store (csv | badger)
//	       ─► gin router: Recovery ─► CORS ─► otelgin ─► RequestID ─► routes
//
// Run serves HTTP until its context is cancelled and then releases every
// component in reverse order.
//
// # Usage
//
//	svc, err := predictor.New(ctx, predictor.Config{ModelsDir: "./models"}, nil)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/history"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/inference"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/middleware"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/observability"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/registry"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/routes"
	"github.com/mdnafisfuad/knit-pipeline-app/services/predictor/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// History backends.
const (
	BackendCSV    = "csv"
	BackendBadger = "badger"
)

// Defaults applied by applyConfigDefaults.
const (
	DefaultPort            = 5000
	DefaultModelsDir       = "./models"
	DefaultBadgerPath      = "/tmp/knitpipe-history"
	DefaultShutdownTimeout = 10 * time.Second
)

// ErrInvalidConfig wraps every validation failure returned by New.
var ErrInvalidConfig = errors.New("invalid predictor config")

// Service is the prediction HTTP service.
type Service interface {
	// Run listens on the configured port and blocks until ctx is cancelled
	// or the server fails. The service is closed when Run returns.
	Run(ctx context.Context) error

	// Serve is Run on a caller-supplied listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router exposes the HTTP engine, mainly for tests.
	Router() *gin.Engine

	// Close releases the store and telemetry without serving. Needed only
	// when Run or Serve is never called.
	Close() error
}

// HistoryConfig selects and locates the history store.
type HistoryConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=csv badger"`
	CSVPath    string `yaml:"csv_path"`
	BadgerPath string `yaml:"badger_path"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none otlp stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

// Config configures the service.
type Config struct {
	Port            int             `yaml:"port" validate:"min=1,max=65535"`
	ModelsDir       string          `yaml:"models_dir" validate:"required"`
	StaticDir       string          `yaml:"static_dir"`
	History         HistoryConfig   `yaml:"history"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	GinMode         string          `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	LoadConcurrency int             `yaml:"load_concurrency" validate:"min=0,max=64"`
}

// Options carries process-level dependencies that do not belong in a
// config file.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer and Gatherer back the Prometheus metrics and /metrics.
	// They default to the prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// GeneratorOptions are passed to every stage generator.
	GeneratorOptions []inference.GeneratorOption
}

type service struct {
	config   Config
	logger   *slog.Logger
	router   *gin.Engine
	registry *registry.Registry
	store    history.Store

	shutdownTelemetry func(context.Context) error
}

// New builds a Service.
//
// # Description
//
// Applies defaults, validates the result, then initialises telemetry,
// metrics, the model registry and the history store. A missing models
// directory is not an error; the service then serves formula stages and
// history only.
//
// # Inputs
//
//   - ctx: Bounds model loading and exporter setup.
//   - cfg: Service configuration.
//   - opts: Optional dependencies. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: ErrInvalidConfig, or the first component that failed.
func New(ctx context.Context, cfg Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	cfg = applyConfigDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	s := &service{
		config: cfg,
		logger: opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.TraceExporter = cfg.Telemetry.TraceExporter
	telCfg.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	telCfg.Registerer = registerer
	shutdown, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.shutdownTelemetry = shutdown

	metrics := observability.NewMetrics(registerer)

	s.registry, err = registry.Load(ctx, cfg.ModelsDir, registry.Options{
		Logger:           s.logger,
		Concurrency:      cfg.LoadConcurrency,
		Metrics:          metrics,
		GeneratorOptions: opts.GeneratorOptions,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	s.store, err = openStore(cfg.History, s.logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	s.initRouter(routes.Dependencies{
		Registry:  s.registry,
		Store:     s.store,
		Metrics:   metrics,
		Gatherer:  gatherer,
		StaticDir: cfg.StaticDir,
	})

	s.logger.Info("predictor service initialized",
		"stages", s.registry.Stages(),
		"history_backend", cfg.History.Backend,
		"models_dir", cfg.ModelsDir)
	return s, nil
}

// Run listens on the configured port and serves until ctx is done.
func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("starting predictor server", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down predictor server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	return s.cleanup()
}

// applyConfigDefaults fills unset fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = DefaultModelsDir
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = BackendCSV
	}
	if cfg.History.CSVPath == "" {
		cfg.History.CSVPath = history.DefaultCSVPath
	}
	if cfg.History.BadgerPath == "" {
		cfg.History.BadgerPath = DefaultBadgerPath
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = telemetry.ExporterNone
	}
	if cfg.Telemetry.MetricExporter == "" {
		cfg.Telemetry.MetricExporter = telemetry.ExporterPrometheus
	}
	if cfg.LoadConcurrency == 0 {
		cfg.LoadConcurrency = registry.DefaultConcurrency
	}
	return cfg
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateConfig checks cfg after defaults have been applied.
func validateConfig(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s fails %q (got %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func openStore(cfg HistoryConfig, logger *slog.Logger) (history.Store, error) {
	switch cfg.Backend {
	case BackendBadger:
		return history.OpenBadgerStore(history.BadgerConfig{
			Path:       cfg.BadgerPath,
			SyncWrites: true,
			Logger:     logger,
		})
	default:
		return history.NewCSVStore(cfg.CSVPath)
	}
}

func (s *service) initRouter(deps routes.Dependencies) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORS())
	s.router.Use(otelgin.Middleware("knitpipe"))
	s.router.Use(middleware.RequestID(s.logger))

	routes.SetupRoutes(s.router, deps)
}

// cleanup closes the store and flushes telemetry. Safe to call repeatedly.
func (s *service) cleanup() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("history store close error", "error", err)
			errs = append(errs, err)
		}
		s.store = nil
	}
	if s.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.shutdownTelemetry(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", "error", err)
			errs = append(errs, err)
		}
		s.shutdownTelemetry = nil
	}
	return errors.Join(errs...)
}

var _ Service = (*service)(nil)
