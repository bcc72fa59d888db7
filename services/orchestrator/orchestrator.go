// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the view advisor HTTP service.
//
// New wires every collaborator from one config.Config:
//
//  1. OpenTelemetry tracing (OTLP over gRPC, stdout, or disabled)
//  2. Prometheus command and session metrics
//  3. The read-only SQL Server gateway
//  4. The optional badger session archive
//  5. The policy validator, proposal generator and advisor
//  6. The Gin router with otelgin middleware
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/viewadvisor/pkg/config"
	"github.com/AleutianAI/viewadvisor/services/advisor"
	"github.com/AleutianAI/viewadvisor/services/dbgateway"
	"github.com/AleutianAI/viewadvisor/services/optimizer"
	"github.com/AleutianAI/viewadvisor/services/orchestrator/handlers"
	"github.com/AleutianAI/viewadvisor/services/orchestrator/observability"
	"github.com/AleutianAI/viewadvisor/services/orchestrator/routes"
	"github.com/AleutianAI/viewadvisor/services/policy_engine"
	archive "github.com/AleutianAI/viewadvisor/services/storage/badger"
)

// StdoutExporter as the OTel endpoint prints spans to stdout instead of
// exporting them over gRPC.
const StdoutExporter = "stdout"

const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the lifecycle of the advisor HTTP service.
//
// # Thread Safety
//
// Run blocks and should be called once. Close may be called from any
// goroutine after Run returns, and more than once.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then drains in-flight
	// requests for up to ten seconds. A cancelled context is a clean stop
	// and returns nil.
	Run(ctx context.Context) error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine

	// Close releases the database pool, the archive and the tracer.
	Close() error
}

// Options injects collaborators that New would otherwise build from config.
// Every field is optional.
type Options struct {
	// Gateway replaces the SQL Server gateway opened from cfg.Database.
	Gateway advisor.Gateway

	// Registry receives the advisor metrics and backs /metrics. Nil means
	// the Prometheus default registry.
	Registry *prometheus.Registry

	Logger *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config  config.Config
	logger  *slog.Logger
	router  *gin.Engine
	advisor *advisor.Advisor
	metrics *observability.AdvisorMetrics

	// closers run in reverse order on Close.
	closers []func() error
	closed  bool
}

// New creates a Service from cfg. On error every collaborator opened so far
// is released.
func New(cfg config.Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &service{config: cfg, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	tracerCleanup, err := s.initTracer(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.closers = append(s.closers, tracerCleanup)

	var gatherer prometheus.Gatherer
	if cfg.Server.EnableMetrics {
		var reg prometheus.Registerer
		if opts.Registry != nil {
			reg, gatherer = opts.Registry, opts.Registry
		}
		s.metrics = observability.NewAdvisorMetrics(reg)
		s.logger.Info("Initialized Prometheus metrics")
	}

	gateway := opts.Gateway
	if gateway == nil {
		gw, err := dbgateway.Open(cfg.Database, s.logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open database gateway: %w", err)
		}
		s.closers = append(s.closers, gw.Close)
		gateway = gw
	}

	var sessions handlers.SessionReader
	advisorOpts := []advisor.Option{advisor.WithLogger(s.logger)}
	if cfg.Archive.Enabled {
		store, err := archive.Open(archive.FromAppConfig(cfg.Archive, s.logger))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open session archive: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		sessions = store
		advisorOpts = append(advisorOpts, advisor.WithArchive(store))
	}
	if s.metrics != nil {
		advisorOpts = append(advisorOpts, advisor.WithRecorder(s.metrics))
	}

	policy := policy_engine.NewPolicy(cfg.Constraints, s.logger)
	for _, cfgErr := range policy.ConfigErrors() {
		s.logger.Warn("Ignoring invalid policy pattern", "error", cfgErr)
	}
	validator := policy_engine.NewValidator(policy, s.logger)
	generator := optimizer.NewGenerator(gateway, validator, optimizer.WithLogger(s.logger))
	s.advisor = advisor.New(gateway, generator, cfg.Advisor, advisorOpts...)

	s.initRouter(routes.Dependencies{
		Advisor:   s.advisor,
		Validator: validator,
		Sessions:  sessions,
		Metrics:   s.metrics,
		Defaults:  handlers.Defaults{SnapshotBasePath: cfg.Advisor.SnapshotBasePath},
		Gatherer:  gatherer,
	})

	return s, nil
}

func (s *service) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting view advisor server", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down view advisor server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Initialization Helpers
// =============================================================================

// initTracer installs the global tracer provider and propagators. An empty
// endpoint leaves the no-op provider in place.
func (s *service) initTracer(ctx context.Context) (func() error, error) {
	endpoint := s.config.Server.OTelEndpoint
	if endpoint == "" {
		s.logger.Info("No OTel endpoint configured, tracing disabled")
		return func() error { return nil }, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch endpoint {
	case StdoutExporter:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
	default:
		conn, connErr := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if connErr != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", connErr)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.Server.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	s.logger.Info("Tracing enabled", "endpoint", endpoint)

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}

func (s *service) initRouter(deps routes.Dependencies) {
	if s.config.Server.GinMode != "" {
		gin.SetMode(s.config.Server.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if gin.Mode() == gin.DebugMode {
		s.router.Use(gin.Logger())
	}
	s.router.Use(otelgin.Middleware(s.config.Server.ServiceName))

	routes.SetupRoutes(s.router, deps)
}
