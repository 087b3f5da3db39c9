package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lossharvest/harvestd/internal/domain"
	"github.com/lossharvest/harvestd/internal/server/handler"
	"github.com/lossharvest/harvestd/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Optional per-client rate limiting; disabled when RateLimiter is nil or
	// RateLimit is zero.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Webhooks is optional; when nil the webhook route is not registered.
type Handlers struct {
	Health       *handler.HealthHandler
	Harvest      *handler.HarvestHandler
	Signals      *handler.SignalHandler
	Transactions *handler.TransactionHandler
	Webhooks     *handler.WebhookHandler
}

// Server is the headless HTTP API server for the harvest engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the middleware chain (rate limit, auth, logging, CORS) wired up.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Harvest run endpoints.
	mux.HandleFunc("POST /api/harvest/runs", handlers.Harvest.TriggerRun)
	mux.HandleFunc("GET /api/harvest/runs/{id}/opportunities", handlers.Harvest.ListOpportunities)
	mux.HandleFunc("GET /api/harvest/runs/{id}/summary", handlers.Harvest.GetSummary)
	mux.HandleFunc("GET /api/harvest/runs/{id}/export", handlers.Harvest.DownloadExport)
	mux.HandleFunc("GET /api/harvest/latest", handlers.Harvest.GetLatest)

	// Per-asset input endpoints.
	mux.HandleFunc("PUT /api/assets/{id}/price", handlers.Signals.UpsertPrice)
	mux.HandleFunc("GET /api/assets/{id}/price", handlers.Signals.GetPrice)
	mux.HandleFunc("PUT /api/assets/{id}/signal", handlers.Signals.UpsertSignal)
	mux.HandleFunc("GET /api/assets/{id}/signal", handlers.Signals.GetSignal)
	mux.HandleFunc("PUT /api/assets/{id}/estimate", handlers.Signals.UpsertEstimate)

	// Ledger history.
	mux.HandleFunc("GET /api/transactions", handlers.Transactions.ListTransactions)

	// Signed transfer pushes from ingestion providers.
	if handlers.Webhooks != nil {
		mux.HandleFunc("POST /api/webhooks/transfers", handlers.Webhooks.ReceiveTransfers)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	// Apply rate limiting outermost so rejected requests are still cheap.
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, window)(h)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
