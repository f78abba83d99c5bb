// Package server exposes tracked markets over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketstate/internal/server/handler"
	"github.com/alanyoungcy/marketstate/internal/server/middleware"
	"github.com/alanyoungcy/marketstate/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RatePerSec  float64
	RateBurst   int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// History may be nil when no journal is configured.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Quotes  *handler.QuoteHandler
	Tx      *handler.TxHandler
	History *handler.HistoryHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limit, auth) and attaches the
// WebSocket hub when one is given.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// NewHandler builds the routed and wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market views and fetch signals.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{address}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{address}/refetch", handlers.Markets.Refetch)
	mux.HandleFunc("POST /api/visibility", handlers.Markets.Visibility)

	// Pricing and balance checks.
	mux.HandleFunc("GET /api/markets/{address}/quote", handlers.Quotes.Quote)
	mux.HandleFunc("GET /api/balance", handlers.Quotes.Balance)

	// Transaction confirmation signals.
	mux.HandleFunc("POST /api/markets/{address}/tx", handlers.Tx.Observe)

	// Lifecycle history.
	if handlers.History != nil {
		mux.HandleFunc("GET /api/markets/{address}/history", handlers.History.ListTransitions)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(cfg.RatePerSec, cfg.RateBurst)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
