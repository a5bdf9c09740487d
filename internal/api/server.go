// Package api exposes the fleet control API over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfleet/fleetd/internal/heartbeat"
	"github.com/quantfleet/fleetd/internal/metrics"
	"github.com/quantfleet/fleetd/internal/optimizer"
)

// ServerConfig holds configuration for the control API server.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	RatePerSecond   int
	RateBurst       int
	HealthzTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		RatePerSecond:   20,
		RateBurst:       40,
		HealthzTimeout:  2 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Server routes control-plane requests to the executors and the stream.
type Server struct {
	cfg        ServerConfig
	heartbeats *heartbeat.Executor
	optimizer  *optimizer.Executor
	stream     http.Handler
	store      metrics.Pinger
	limiter    *rate.Limiter
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a control API server. The stream handler serves the
// live position feed; the store pinger backs the liveness probe.
func NewServer(
	cfg ServerConfig,
	heartbeats *heartbeat.Executor,
	opt *optimizer.Executor,
	stream http.Handler,
	store metrics.Pinger,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultServerConfig().RatePerSecond
	}
	if cfg.RateBurst < cfg.RatePerSecond {
		cfg.RateBurst = cfg.RatePerSecond
	}
	if cfg.HealthzTimeout <= 0 {
		cfg.HealthzTimeout = DefaultServerConfig().HealthzTimeout
	}

	return &Server{
		cfg:        cfg,
		heartbeats: heartbeats,
		optimizer:  opt,
		stream:     stream,
		store:      store,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		logger:     logger,
	}
}

// Routes builds the request mux. Exposed for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /traders/{id}/heartbeat", s.rateLimited(s.handleHeartbeat))
	mux.HandleFunc("POST /traders/{id}/optimize", s.rateLimited(s.handleOptimize))
	mux.HandleFunc("GET /traders/{id}/optimizations", s.handleOptimizationHistory)
	if s.stream != nil {
		mux.Handle("GET /stream/positions", s.stream)
	}
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// rateLimited gates trigger endpoints behind the shared token bucket.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("request rate limited",
				"method", r.Method,
				"path", r.URL.Path,
			)
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "rate limit exceeded",
			})
			return
		}
		next(w, r)
	}
}

// Start starts the control API server. Blocks until the server stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.cfg.Port),
		Handler:     s.Routes(),
		ReadTimeout: s.cfg.ReadTimeout,
	}

	s.logger.Info("control API server starting", "port", s.cfg.Port)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control API server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("control API server stopping")
	return s.httpServer.Shutdown(ctx)
}
