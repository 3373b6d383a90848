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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/api"
	"github.com/BaSui01/flowstream/api/handlers"
	"github.com/BaSui01/flowstream/config"
	"github.com/BaSui01/flowstream/internal/cache"
	"github.com/BaSui01/flowstream/internal/metrics"
	"github.com/BaSui01/flowstream/internal/pool"
	"github.com/BaSui01/flowstream/internal/server"
	"github.com/BaSui01/flowstream/internal/telemetry"
	"github.com/BaSui01/flowstream/pipeline"
	"github.com/BaSui01/flowstream/streaming"
	"github.com/BaSui01/flowstream/types"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server owns every long-lived component of the service.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	telemetry *telemetry.Providers
	collector *metrics.Collector
	engine    *engine

	healthHandler    *handlers.HealthHandler
	ingestHandler    *handlers.IngestHandler
	statusHandler    *handlers.StatusHandler
	socketHandler    *handlers.SocketHandler
	eventsHandler    *handlers.EventsHandler
	streamingHandler *handlers.StreamingHandler

	hotReloadManager *config.HotReloadManager
	httpManager      *server.Manager
	metricsServer    *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer creates a server. Components are built in Start.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		telemetry:  otel,
	}
}

// Start builds the engine and starts the HTTP and metrics servers.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("flowstream", s.logger)

	eng, err := newEngine(s.cfg, s.collector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build streaming engine: %w", err)
	}
	s.engine = eng

	s.initHandlers()

	if err := s.initHotReload(); err != nil {
		s.logger.Warn("hot reload disabled", zap.Error(err))
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// =============================================================================
// 🌊 Engine
// =============================================================================

// AttrVerified is set by the fan-out verify branch once its re-read matched.
const AttrVerified = "verified"

// engine is the streaming stack behind the HTTP surface.
type engine struct {
	registry *streaming.Registry
	manager  *streaming.Manager
	dispatch *pool.GoroutinePool
	results  cache.Store
	flow     *pipeline.Flow
}

func newEngine(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*engine, error) {
	strategy, err := cfg.Streaming.ParsedStrategy()
	if err != nil {
		return nil, err
	}

	registry := streaming.NewRegistry(
		streaming.WithRegistryLogger(logger),
		streaming.WithRegistryRecorder(collector),
		streaming.WithCompletedRetention(cfg.Streaming.CompletedRootsRetained),
	)
	manager, err := streaming.NewManager(registry,
		streaming.WithBufferConfig(cfg.Streaming.BufferConfig()),
		streaming.WithDefaultStrategy(strategy),
		streaming.WithLogger(logger),
		streaming.WithManagerRecorder(collector),
	)
	if err != nil {
		registry.Close()
		return nil, err
	}

	dispatchCfg := pool.DefaultGoroutinePoolConfig()
	dispatchCfg.PanicHandler = func(r any) {
		logger.Error("dispatched message panicked", zap.Any("panic", r))
	}
	results, err := cache.Open(cfg.Results, logger)
	if err != nil {
		registry.Close()
		return nil, err
	}
	dispatch := pool.NewGoroutinePool(dispatchCfg)

	var recorder pipeline.MessageRecorder = collector
	if otelMessages, err := telemetry.NewMessageMetrics(nil); err != nil {
		logger.Warn("otel message metrics unavailable", zap.Error(err))
	} else {
		recorder = pipeline.Recorders(collector, otelMessages)
	}

	flow, err := pipeline.NewFlow("ingest", manager, ingestProcessor(logger),
		pipeline.WithFlowLogger(logger),
		pipeline.WithMessageRecorder(recorder),
		pipeline.WithMessageTimeout(cfg.Server.MessageTimeout),
		pipeline.WithDispatchPool(dispatch),
		pipeline.WithDispatchObserver(cache.NewDispatchRecorder(results, logger)),
	)
	if err != nil {
		dispatch.Close()
		_ = results.Close()
		registry.Close()
		return nil, err
	}

	return &engine{registry: registry, manager: manager, dispatch: dispatch, results: results, flow: flow}, nil
}

// ingestProcessor digests every message. A "route=fanout" attribute sends it
// through an audit log and an independent re-digest in parallel, so both
// branches replay the same payload.
func ingestProcessor(logger *zap.Logger) pipeline.Processor {
	passthrough := pipeline.ProcessorFunc(func(_ context.Context, msg *pipeline.Message) (*pipeline.Message, error) {
		return msg, nil
	})
	verify := pipeline.ProcessorFunc(func(ctx context.Context, msg *pipeline.Message) (*pipeline.Message, error) {
		want := msg.Attributes[pipeline.AttrDigest]
		out, err := pipeline.Digest().Process(ctx, msg)
		if err != nil {
			return nil, err
		}
		if got := out.Attributes[pipeline.AttrDigest]; got != want {
			return nil, types.NewError(types.ErrValidation, "payload changed between reads").
				WithHTTPStatus(http.StatusInternalServerError)
		}
		out.SetAttribute(AttrVerified, "true")
		return out, nil
	})

	return pipeline.Chain(
		pipeline.Digest(),
		pipeline.Choice(pipeline.AttrRoute, []pipeline.Route{
			{
				Name: "fanout",
				Processor: pipeline.ScatterGather(
					pipeline.Route{Name: "audit", Processor: pipeline.LogPayload(logger, 64)},
					pipeline.Route{Name: "verify", Processor: verify},
				),
			},
		}, passthrough),
	)
}

// close stops accepting dispatched work, waits for it, then disposes every
// remaining provider.
func (e *engine) close(ctx context.Context) error {
	err := e.dispatch.Shutdown(ctx)
	e.registry.Close()
	return errors.Join(err, e.results.Close())
}

// =============================================================================
// 🔧 Handlers and hot reload
// =============================================================================

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewRegistryHealthCheck(s.engine.registry))
	s.healthHandler.RegisterCheck(handlers.NewStoreHealthCheck(s.engine.results))
	s.ingestHandler = handlers.NewIngestHandler(s.engine.flow, s.logger)
	s.statusHandler = handlers.NewStatusHandler(s.engine.results, s.logger)
	s.socketHandler = handlers.NewSocketHandler(s.engine.flow, socketReadLimit(s.cfg.Streaming), s.logger)
	s.eventsHandler = handlers.NewEventsHandler(s.engine.flow, s.logger)
	s.streamingHandler = handlers.NewStreamingHandler(s.engine.manager, s.engine.dispatch, s.logger)

	s.logger.Info("handlers initialized")
}

// socketReadLimit lets one byte past the buffer ceiling through, so the
// engine reports the overflow before the socket closes. Unbounded buffers
// leave socket messages unbounded too.
func socketReadLimit(cfg config.StreamingConfig) int64 {
	bc := cfg.BufferConfig()
	if bc.Unbounded() {
		return 0
	}
	unit, err := streaming.ParseDataUnit(string(bc.Unit))
	if err != nil {
		return 0
	}
	return unit.Bytes(bc.MaxSize) + 1
}

func (s *Server) initHotReload() error {
	opts := []config.HotReloadOption{config.WithHotReloadLogger(s.logger)}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}
	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)
	s.hotReloadManager.OnReload(s.applyReload)

	return s.hotReloadManager.Start(context.Background())
}

// applyReload pushes reloadable settings into running components. Streams
// already under management keep their configuration.
func (s *Server) applyReload(oldCfg, newCfg *config.Config) error {
	if oldCfg.Log.Level != newCfg.Log.Level {
		s.level.SetLevel(parseLevel(newCfg.Log.Level))
	}

	strategy, err := newCfg.Streaming.ParsedStrategy()
	if err != nil {
		return err
	}
	if err := s.engine.manager.Reconfigure(newCfg.Streaming.BufferConfig(), strategy); err != nil {
		return err
	}

	s.logger.Info("configuration reloaded",
		zap.String("strategy", string(strategy)),
		zap.String("log_level", newCfg.Log.Level),
	)
	return nil
}

// =============================================================================
// 🌐 HTTP servers
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc(api.PathHealth, s.healthHandler.HandleHealth)
	mux.HandleFunc(api.PathHealthz, s.healthHandler.HandleHealthz)
	mux.HandleFunc(api.PathReady, s.healthHandler.HandleReady)
	mux.HandleFunc(api.PathVersion, s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc(api.PathMessages, s.ingestHandler.HandleMessage)
	mux.HandleFunc(api.PathMessageStatus, s.statusHandler.HandleStatus)
	mux.HandleFunc(api.PathMessageSocket, s.socketHandler.HandleSocket)
	mux.HandleFunc(api.PathEvents, s.eventsHandler.HandleEvents)
	mux.HandleFunc(api.PathStreamingStats, s.streamingHandler.HandleStats)

	rateLimitCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		RateLimiter(rateLimitCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Server.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		MaxConnections:  s.cfg.Server.MaxConnections,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	var err error
	if s.cfg.Server.TLSCertFile != "" {
		err = s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	} else {
		err = s.httpManager.Start()
	}
	if err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle(api.PathMetrics, promhttp.Handler())

	metricsConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 10 * time.Second,
	}

	s.metricsServer = server.NewManager(mux, metricsConfig, s.logger)
	if err := s.metricsServer.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.String("addr", s.metricsServer.Addr()))
	return nil
}

// =============================================================================
// 🛑 Shutdown
// =============================================================================

// WaitForShutdown blocks until SIGINT or SIGTERM, or until a server fails,
// then shuts down.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.httpManager.Errors():
		s.logger.Error("HTTP server failed", zap.Error(err))
	}

	s.Shutdown()
}

// Shutdown stops the servers first so no new messages arrive, then drains
// dispatched work and disposes every provider.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	if s.engine != nil {
		if err := s.engine.close(ctx); err != nil {
			s.logger.Error("engine shutdown error", zap.Error(err))
		}
	}

	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
