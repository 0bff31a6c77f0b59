package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arbstr/arbstr/api/handlers"
	"github.com/arbstr/arbstr/internal/breaker"
	"github.com/arbstr/arbstr/internal/config"
	"github.com/arbstr/arbstr/internal/metrics"
	"github.com/arbstr/arbstr/internal/orchestrator"
	"github.com/arbstr/arbstr/internal/server"
	"github.com/arbstr/arbstr/internal/store"
	"github.com/arbstr/arbstr/internal/telemetry"
)

// Server owns arbstr's two listeners (the proxy itself and its metrics
// endpoint) and everything wired between them.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	breakers *breaker.Registry
	store    *store.Store
	metrics  *metrics.Collector
	otel     *telemetry.Providers
	orch     *orchestrator.Orchestrator

	proxyManager   *server.Manager
	metricsManager *server.Manager
}

// NewServer wires every internal package into one Server, ready to Start.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers, st *store.Store) *Server {
	breakers := breaker.New(logger)
	coll := metrics.NewCollector("arbstr", logger)
	orch := orchestrator.New(cfg, breakers, st, coll, logger)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		breakers: breakers,
		store:    st,
		metrics:  coll,
		otel:     otel,
		orch:     orch,
	}
}

// Start brings up both the proxy and metrics listeners. Both Managers are
// non-blocking; call WaitForShutdown to block until a shutdown signal.
func (s *Server) Start() error {
	if err := s.startProxyServer(); err != nil {
		return fmt.Errorf("start proxy server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	s.logger.Info("arbstr started",
		zap.String("listen", s.cfg.Server.Listen),
		zap.String("metrics_listen", s.cfg.Server.MetricsListen),
	)
	return nil
}

func (s *Server) startProxyServer() error {
	mux := http.NewServeMux()

	mux.Handle("/v1/chat/completions", handlers.ChatHandler(s.orch.ChatCompletions))
	mux.Handle("/v1/models", handlers.NewModelsHandler(s.cfg.Providers, s.logger))
	mux.Handle("/health", handlers.NewHealthHandler(s.breakers, s.logger))
	mux.Handle("/providers", handlers.NewProvidersHandler(s.cfg.Providers, s.logger))
	mux.HandleFunc("/version", handlers.VersionHandler(Version, BuildTime, GitCommit))
	if s.store != nil {
		mux.Handle("/v1/stats", handlers.NewStatsHandler(s.store, s.logger))
		mux.Handle("/v1/requests", handlers.NewRequestsHandler(s.store, s.logger))
	}

	handler := Chain(mux,
		Recovery(s.logger),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metrics),
		SecurityHeaders(),
	)

	cfg := server.Config{
		Addr:        s.cfg.Server.Listen,
		ReadTimeout: s.cfg.Server.ReadTimeout,
		// Streaming completions can run well past any fixed write
		// deadline, so the proxy listener carries none; non-streaming
		// upstream calls are bounded by the retryer's 30s deadline, while
		// a streaming upstream call runs under the client request's
		// context alone.
		WriteTimeout:    0,
		IdleTimeout:     120 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.proxyManager = server.NewManager(handler, cfg, s.logger)
	return s.proxyManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	cfg := server.Config{
		Addr:            s.cfg.Server.MetricsListen,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager(mux, cfg, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a shutdown signal reaches the proxy
// listener, then tears everything down.
func (s *Server) WaitForShutdown() {
	if s.proxyManager != nil {
		s.proxyManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown tears down both listeners and the things they depend on.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down arbstr")

	ctx := context.Background()
	if s.proxyManager != nil {
		if err := s.proxyManager.Shutdown(ctx); err != nil {
			s.logger.Error("proxy server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", zap.Error(err))
		}
	}

	s.logger.Info("shutdown complete")
}
