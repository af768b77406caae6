// Package server exposes the read API, manual job triggers and the live
// event socket over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/prenews/internal/server/handler"
	"github.com/alanyoungcy/prenews/internal/server/middleware"
	"github.com/alanyoungcy/prenews/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string // guards POST endpoints; empty disables them

	RateLimit  int // requests per client per RateWindow, 0 disables
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Jobs and the
// hub are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Feeds   *handler.FeedHandler
	Markets *handler.MarketHandler
	Jobs    *handler.JobHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in logging, CORS, rate limiting
// and key auth for mutating requests. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter middleware.Limiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/feeds/{feed}", handlers.Feeds.GetFeed)

	mux.HandleFunc("GET /api/markets/top", handlers.Markets.Top)
	mux.HandleFunc("GET /api/markets/search", handlers.Markets.Search)
	mux.HandleFunc("GET /api/markets/sparklines", handlers.Markets.Sparklines)
	mux.HandleFunc("GET /api/markets/{slug}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{slug}/snapshots", handlers.Markets.Snapshots)

	if handlers.Jobs != nil {
		mux.HandleFunc("GET /api/jobs", handlers.Jobs.List)
		mux.HandleFunc("GET /api/jobs/{name}/runs", handlers.Jobs.Runs)
		mux.HandleFunc("POST /api/jobs/{name}", handlers.Jobs.Trigger)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RequireKey(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      5 * time.Minute, // synchronous job triggers
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
