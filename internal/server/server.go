// Package server assembles the HTTP + WebSocket API: routes, middleware
// chain and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/concordmarkets/concord/internal/domain"
	"github.com/concordmarkets/concord/internal/server/handler"
	"github.com/concordmarkets/concord/internal/server/middleware"
	"github.com/concordmarkets/concord/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKeyHashes map[string]string // empty disables authentication
	RateLimit    int               // requests per RateWindow per client, 0 disables
	RateWindow   time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Settlement *handler.SettlementHandler
	Feeds      *handler.FeedHandler
	Balances   *handler.BalanceHandler
	Stats      *handler.StatsHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (rate limit, logging, CORS, auth) wired around it.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (the auth middleware lets it through unauthenticated).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints. The stats route is registered before the {id}
	// pattern; ServeMux prefers the more specific literal segment.
	mux.HandleFunc("GET /api/markets/stats", handlers.Stats.Overview)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/stake", handlers.Markets.Stake)
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Markets.Settle)
	mux.HandleFunc("PUT /api/markets/{id}/confidence", handlers.Markets.SetConfidence)
	mux.HandleFunc("GET /api/markets/{id}/stakes", handlers.Markets.ListStakes)
	mux.HandleFunc("GET /api/markets/{id}/stakes/{user}", handlers.Markets.GetStake)
	mux.HandleFunc("GET /api/markets/{id}/activity", handlers.Markets.Activity)

	// Settlement endpoints.
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Settlement.Claim)
	mux.HandleFunc("GET /api/markets/{id}/reward", handlers.Settlement.PotentialReward)
	mux.HandleFunc("GET /api/markets/{id}/odds", handlers.Settlement.Odds)

	// Feed and consensus endpoints.
	mux.HandleFunc("POST /api/feeds", handlers.Feeds.Register)
	mux.HandleFunc("GET /api/feeds", handlers.Feeds.ListFeeds)
	mux.HandleFunc("GET /api/feeds/{id}", handlers.Feeds.GetFeed)
	mux.HandleFunc("POST /api/feeds/{id}/deactivate", handlers.Feeds.Deactivate)
	mux.HandleFunc("PUT /api/feeds/{id}/weight", handlers.Feeds.SetWeight)
	mux.HandleFunc("POST /api/feeds/{id}/samples", handlers.Feeds.SubmitSample)
	mux.HandleFunc("POST /api/feeds/{id}/consensus", handlers.Feeds.Compute)
	mux.HandleFunc("GET /api/feeds/{id}/consensus", handlers.Feeds.Latest)

	// Balance endpoints.
	mux.HandleFunc("POST /api/balances/{user}/deposit", handlers.Balances.Deposit)
	mux.HandleFunc("GET /api/balances/{user}", handlers.Balances.GetBalance)
	mux.HandleFunc("GET /api/balances/{user}/stakes", handlers.Balances.ListStakes)

	// Activity stream.
	mux.HandleFunc("GET /api/activity", handlers.Stats.Activity)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeyHashes)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Actor")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
