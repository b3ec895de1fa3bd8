// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package canvas provides the collaborative pixel canvas HTTP service.
//
// # Description
//
// The service exposes a shared board of pixel codes and accepts single-pixel
// writes, at most one per network identity per cooldown window. Accepted
// writes are appended to a binary diff log, indexed for time range queries,
// and pushed to live WebSocket subscribers.
//
// # Architecture
//
//	cmd/canvas/main.go
//	       │
//	       ▼
//	canvas.New(cfg) ─► Service interface
//	       │
//	       ├─► initTracer()     OTLP gRPC / stdout / none
//	       ├─► initMetrics()    per-service Prometheus registry
//	       ├─► initLimiter()    memory or Redis
//	       ├─► initHistory()    Badger index, rebuilt from diffs.bin
//	       ├─► placement.New()  + listeners (history, broadcast hub)
//	       ├─► initWatcher()    fsnotify on the board file
//	       └─► initRouter()     gin + otelgin + routes.SetupRoutes
//
// # Usage
//
//	cfg, _ := canvas.ConfigFromEnv(os.LookupEnv)
//	svc, err := canvas.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	err = svc.Run(ctx)
package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/broadcast"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/clock"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/handlers"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/middleware"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/placement"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/ratelimit"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/routes"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/storage/badger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "canvas-service"

// =============================================================================
// Service Interface
// =============================================================================

// Service is the canvas HTTP service.
type Service interface {
	// Run serves until ctx is cancelled or the listener fails, then shuts
	// down gracefully and releases every resource.
	Run(ctx context.Context) error

	// Router returns the gin engine, for tests.
	Router() *gin.Engine

	// Addr returns the bound listen address once Run is serving, else "".
	Addr() string

	// Close releases resources without serving. Run calls it on exit.
	Close() error
}

type service struct {
	config Config

	router         *gin.Engine
	board          *storage.Board
	diffs          *storage.DiffLog
	limiter        ratelimit.Limiter
	redisClient    *redis.Client
	placement      *placement.Service
	hub            *broadcast.Hub
	historyDB      *badger.DB
	history        *badger.History
	watcher        *storage.BoardWatcher
	metrics        *observability.Metrics
	metricsHandler http.Handler
	tracerCleanup  func(context.Context)

	mu        sync.Mutex
	addr      string
	closeOnce sync.Once
	closeErr  error
}

// New builds a Service from cfg.
//
// # Description
//
// Opens every dependency eagerly so configuration problems surface before
// the listener starts. The board file is created empty if missing.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if the board, Redis, the history index or the tracer
//     cannot be initialized. Partially opened resources are released.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		s.initMetrics()
	}

	s.board = storage.NewBoard(s.config.BoardPath)
	s.diffs = storage.NewDiffLog(s.config.DiffPath)
	length, err := s.board.Len()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open board: %w", err)
	}
	s.metrics.SetBoardLength(length)

	if err := s.initLimiter(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := s.initHistory(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize history index: %w", err)
	}

	s.hub = broadcast.NewHub(broadcast.Config{
		Buffer:  s.config.StreamBuffer,
		Metrics: s.metrics,
	})

	clk := s.config.Clock
	if clk == nil {
		clk = clock.System()
	}
	s.placement, err = placement.New(placement.Config{
		Clock:   clk,
		Limiter: s.limiter,
		Board:   s.board,
		Diffs:   s.diffs,
		Metrics: s.metrics,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.history != nil {
		s.placement.AddListener(placement.ListenerFunc(s.indexPlacement))
	}
	s.placement.AddListener(s.hub)

	if s.config.WatchBoard {
		if err := s.initWatcher(); err != nil {
			slog.Warn("Board watcher unavailable, resize events disabled", "error", err)
		}
	}

	if err := s.initRouter(); err != nil {
		_ = s.Close()
		return nil, err
	}

	slog.Info("Canvas service initialized",
		"board", s.config.BoardPath,
		"boardLength", length,
		"diffs", s.config.DiffPath,
		"cooldown", s.config.Cooldown.String(),
		"redis", s.config.RedisAddr != "",
		"history", s.config.HistoryPath,
	)
	return s, nil
}

// Run serves HTTP, the broadcast hub and the board watcher under one
// errgroup. The first failure cancels the rest.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	ln, err := net.Listen("tcp", s.config.BindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.BindAddr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting canvas server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		slog.Info("Shutting down canvas server")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return s.hub.Run(gctx)
	})
	if s.watcher != nil {
		g.Go(func() error {
			return s.watcher.Run(gctx)
		})
	}

	return g.Wait()
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close stops the watcher, closes the hub, the history index, Redis and the
// tracer. Safe to call more than once.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close board watcher: %w", err))
			}
		}
		if s.hub != nil {
			s.hub.Close()
		}
		if s.historyDB != nil {
			if err := s.historyDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close history index: %w", err))
			}
		}
		if s.redisClient != nil {
			if err := s.redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		if s.tracerCleanup != nil {
			s.tracerCleanup(context.Background())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// =============================================================================
// Initialization
// =============================================================================

func (s *service) initTracer() (func(context.Context), error) {
	endpoint := s.config.OTelEndpoint
	if endpoint == "" {
		slog.Info("Tracing disabled, no OTLP endpoint configured")
		return nil, nil
	}
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	if endpoint == OTelStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	} else {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace provider", "error", err)
		}
	}
	slog.Info("Tracing enabled", "endpoint", endpoint)
	return cleanup, nil
}

// initMetrics uses a registry per service so several instances can coexist
// in one process.
func (s *service) initMetrics() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(registry)
	s.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (s *service) initLimiter() error {
	if s.config.RedisAddr == "" {
		s.limiter = ratelimit.NewMemory(s.config.Cooldown)
		slog.Info("Using in-memory rate limiter", "cooldown", s.config.Cooldown.String())
		return nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.config.RedisAddr})
	limiter := ratelimit.NewRedis(client, s.config.Cooldown, s.config.RedisKeyPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := limiter.Ping(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis at %s: %w", s.config.RedisAddr, err)
	}
	s.redisClient = client
	s.limiter = limiter
	slog.Info("Using Redis rate limiter",
		"addr", s.config.RedisAddr,
		"cooldown", s.config.Cooldown.String(),
	)
	return nil
}

func (s *service) initHistory() error {
	if s.config.HistoryPath == "" {
		return nil
	}

	cfg := badger.DefaultConfig()
	if s.config.HistoryPath == HistoryInMemory {
		cfg = badger.InMemoryConfig()
	} else {
		cfg.Path = s.config.HistoryPath
	}
	cfg.Logger = slog.Default().With("component", "badger")

	db, err := badger.Open(cfg)
	if err != nil {
		return err
	}
	s.historyDB = db

	history, err := badger.NewHistory(db)
	if err != nil {
		return err
	}
	s.history = history

	ctx := context.Background()
	count, err := history.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Info("History index loaded", "records", count)
		return nil
	}

	reader, err := storage.OpenDiffReader(s.config.DiffPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	n, err := history.Rebuild(ctx, reader)
	if errors.Is(err, storage.ErrTruncatedRecord) {
		slog.Warn("Diff log ends with a partial record, indexed the complete ones",
			"records", n, "error", err)
		return nil
	}
	if err != nil {
		// The index is a read model; serve with what was indexed.
		s.metrics.RecordHistoryError("rebuild")
		slog.Warn("History rebuild incomplete", "indexed", n, "error", err)
		return nil
	}
	slog.Info("History index rebuilt from diff log", "records", n)
	return nil
}

func (s *service) indexPlacement(ctx context.Context, rec storage.Record) error {
	if err := s.history.OnPlacement(ctx, rec); err != nil {
		s.metrics.RecordHistoryError("index")
		return err
	}
	return nil
}

func (s *service) initWatcher() error {
	w, err := storage.NewBoardWatcher(s.board, func(length int64) {
		s.metrics.SetBoardLength(length)
		s.hub.Resize(length)
	}, slog.Default())
	if err != nil {
		return err
	}
	s.watcher = w
	return nil
}

func (s *service) initRouter() error {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))
	s.router.Use(middleware.RequestID())

	if err := s.router.SetTrustedProxies(s.config.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}

	deps := routes.Dependencies{
		Placer:         s.placement,
		Hub:            s.hub,
		Metrics:        s.metrics,
		MetricsHandler: s.metricsHandler,
		TrustProxies:   len(s.config.TrustedProxies) > 0,
	}
	if s.history != nil {
		deps.History = s.history
	}
	routes.SetupRoutes(s.router, deps)
	return nil
}

// Compile-time check that service implements Service
var _ Service = (*service)(nil)

var _ handlers.HistoryReader = (*badger.History)(nil)
