package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/leadflow/acquire"
	"github.com/BaSui01/leadflow/api/handlers"
	"github.com/BaSui01/leadflow/budget"
	"github.com/BaSui01/leadflow/channel"
	"github.com/BaSui01/leadflow/config"
	"github.com/BaSui01/leadflow/engine"
	"github.com/BaSui01/leadflow/ghost"
	"github.com/BaSui01/leadflow/internal/cache"
	"github.com/BaSui01/leadflow/internal/database"
	"github.com/BaSui01/leadflow/internal/metrics"
	"github.com/BaSui01/leadflow/internal/server"
	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

// Server is the composition root for the leadflow process: database,
// redis, the outreach engine with its scheduler, and the HTTP and
// metrics listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	pool   *database.PoolManager
	cache  *cache.Manager
	store  *store.Store
	engine *engine.Engine

	httpManager    *server.Manager
	metricsManager *server.Manager

	schedulerCancel context.CancelFunc
	schedulerDone   chan struct{}
	limiterStop     chan struct{}
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component. On failure it returns with already
// started components still running; the caller should exit.
func (s *Server) Start(ctx context.Context) error {
	db, err := database.Open(s.cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	s.pool, err = database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:        s.cfg.Database.MaxIdleConns,
		MaxOpenConns:        s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("configure database pool: %w", err)
	}

	s.cache, err = cache.NewManager(cache.Config{
		Addr:                s.cfg.Redis.Addr,
		Password:            s.cfg.Redis.Password,
		DB:                  s.cfg.Redis.DB,
		PoolSize:            s.cfg.Redis.PoolSize,
		MinIdleConns:        s.cfg.Redis.MinIdleConns,
		DefaultTTL:          5 * time.Minute,
		MaxRetries:          3,
		HealthCheckInterval: 30 * time.Second,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	collector := metrics.NewCollector("leadflow", s.logger)
	s.store = store.New(s.pool.DB(), s.logger)

	// Delivery provider integrations register here. The fake adapter
	// stands in until a real provider is configured.
	adapters := channel.NewRegistry()
	fake := channel.NewFake()
	adapters.Register(types.ChannelEmail, fake)
	adapters.Register(types.ChannelVoice, fake)
	adapters.Register(types.ChannelLinkedIn, fake)

	tracker := budget.NewTracker(s.cache.Client(), collector, s.logger)

	s.engine, err = engine.New(engine.Options{
		Store:    s.store,
		Redis:    s.cache.Client(),
		Budget:   tracker,
		Adapters: adapters,
		Engine:   s.cfg.Engine,
		Limits:   s.cfg.Budget,
		Metrics:  collector,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	detector := ghost.NewDetector(s.store, tracker, adapters, s.cfg.Budget, collector, s.logger)
	pipeline := acquire.NewPipeline(s.store, acquire.NewProviders(), s.cfg.Acquire, collector, s.logger)
	scheduler := engine.NewScheduler(s.engine, detector, pipeline, s.logger)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	s.schedulerCancel = schedCancel
	s.schedulerDone = make(chan struct{})
	go func() {
		defer close(s.schedulerDone)
		if err := scheduler.Run(schedCtx); err != nil {
			s.logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	if err := s.startHTTPServer(collector); err != nil {
		return err
	}
	return s.startMetricsServer()
}

// skipAuthPaths are served without a bearer token.
var skipAuthPaths = []string{
	"/health",
	"/healthz",
	"/ready",
	"/readyz",
	"/version",
}

func (s *Server) startHTTPServer(collector *metrics.Collector) error {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("postgres", s.pool.Ping))
	health.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))

	replies := handlers.NewReplyHandler(s.store, s.engine, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/healthz", health.HandleHealthz)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.HandleFunc("/readyz", health.HandleReady)
	mux.HandleFunc("/version", health.HandleVersion(Version, BuildTime, GitCommit))
	mux.HandleFunc("/api/v1/replies", replies.HandleInbound)

	s.limiterStop = make(chan struct{})
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger),
		RateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.limiterStop, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger.With(zap.String("listener", "metrics")))

	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a termination signal or a listener
// failure, then shuts everything down in dependency order.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown stops the scheduler, drains in-flight dispatches, and
// closes the listeners and stores.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down")

	if s.schedulerCancel != nil {
		s.schedulerCancel()
		select {
		case <-s.schedulerDone:
		case <-time.After(s.cfg.Server.ShutdownTimeout):
			s.logger.Warn("scheduler did not stop in time")
		}
	}

	if s.engine != nil {
		s.engine.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown failed", zap.Error(err))
		}
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown failed", zap.Error(err))
		}
	}

	if s.limiterStop != nil {
		close(s.limiterStop)
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("redis close failed", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database close failed", zap.Error(err))
		}
	}

	s.logger.Info("shutdown complete")
}
