// Package server exposes the auction engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sealedbid/internal/server/handler"
	"sealedbid/internal/server/middleware"
	"sealedbid/internal/server/ws"
	"sealedbid/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string
	// APIKey authenticates the upstream gateway; empty disables the check.
	APIKey string
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Auctions *handler.AuctionHandler
}

// Server is the auctiond HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	log        *telemetry.Logger
}

// NewServer registers routes and wraps them in the middleware chain. limiter
// and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter middleware.Limiter, log *telemetry.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(cfg, handlers, hub, limiter, log),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log.With("server"),
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, limiter middleware.Limiter, log *telemetry.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/metrics", handlers.Health.Metrics)

	a := handlers.Auctions
	mux.HandleFunc("GET /api/auctions", a.ListAuctions)
	mux.HandleFunc("POST /api/auctions", a.CreateAuction)
	mux.HandleFunc("GET /api/auctions/{id}", a.GetAuction)
	mux.HandleFunc("GET /api/auctions/{id}/bids", a.ListBids)
	mux.HandleFunc("POST /api/auctions/{id}/bids", a.PlaceBid)
	mux.HandleFunc("POST /api/auctions/{id}/reveal", a.Reveal)
	mux.HandleFunc("POST /api/auctions/{id}/close", a.Close)
	mux.HandleFunc("POST /api/auctions/{id}/force-close", a.ForceClose)
	mux.HandleFunc("GET /api/me/bids", a.MyBids)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Innermost first: limits see the caller identity.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter)(h)
	h = middleware.Identity()(h)
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(log.With("http"))(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.log.Info("listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if o == "*" || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers",
						"Content-Type, Authorization, X-API-Key, X-User-ID, X-User-Role")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
