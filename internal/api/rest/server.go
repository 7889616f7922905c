package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ringflow/call-auction-backend/internal/infrastructure/config"
	"github.com/ringflow/call-auction-backend/internal/metrics"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps carries everything the server needs. EventsHandler and Metrics may
// be nil; the matching endpoints are then not registered.
type Deps struct {
	Handler       *Handler
	EventsHandler http.Handler
	Metrics       *metrics.Registry
	Database      HealthChecker
	Logger        *slog.Logger
}

// Server is the HTTP front end for the management API and the auction
// endpoint.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Database != nil {
			if err := deps.Database.Health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": "database",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	if deps.EventsHandler != nil {
		mux.Handle("GET /ws/events", deps.EventsHandler)
	}

	h := deps.Handler
	mux.HandleFunc("POST /api/v1/routers", h.handleCreateRouter)
	mux.HandleFunc("GET /api/v1/routers", h.handleListRouters)
	mux.HandleFunc("GET /api/v1/routers/{id}", h.handleGetRouter)
	mux.HandleFunc("PUT /api/v1/routers/{id}", h.handleUpdateRouter)
	mux.HandleFunc("DELETE /api/v1/routers/{id}", h.handleDeleteRouter)

	mux.HandleFunc("POST /api/v1/routers/{id}/assignments", h.handleAssignTarget)
	mux.HandleFunc("GET /api/v1/routers/{id}/assignments", h.handleListAssignments)
	mux.HandleFunc("DELETE /api/v1/routers/{id}/assignments/{targetID}", h.handleRemoveAssignment)

	mux.HandleFunc("POST /api/v1/targets", h.handleCreateTarget)
	mux.HandleFunc("GET /api/v1/targets", h.handleListTargets)
	mux.HandleFunc("GET /api/v1/targets/{id}", h.handleGetTarget)
	mux.HandleFunc("PUT /api/v1/targets/{id}", h.handleUpdateTarget)
	mux.HandleFunc("DELETE /api/v1/targets/{id}", h.handleDeleteTarget)

	mux.HandleFunc("POST /api/v1/auctions", h.handleRunAuction)
	mux.HandleFunc("GET /api/v1/auctions", h.handleListAuctions)
	mux.HandleFunc("GET /api/v1/auctions/{requestID}", h.handleGetAuction)

	middlewares := []Middleware{
		requestIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
	}
	if deps.Metrics != nil {
		middlewares = append(middlewares, metricsMiddleware(deps.Metrics))
	}
	if cfg.Security.RateLimit.RequestsPerSecond > 0 {
		limiter := newIPRateLimiter(
			float64(cfg.Security.RateLimit.RequestsPerSecond),
			cfg.Security.RateLimit.BurstSize,
		)
		middlewares = append(middlewares, rateLimitMiddleware(limiter))
	}
	middlewares = append(middlewares, authMiddleware(cfg.Security.JWTSecret, isPublicEndpoint))

	return &Server{
		httpServer: &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:        Chain(mux, middlewares...),
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			IdleTimeout:    2 * time.Minute,
			MaxHeaderBytes: 1 << 20,
		},
		logger: logger,
	}
}

// isPublicEndpoint exempts health, metrics, and the event stream from JWT
// auth. The event stream authenticates via the upgrade request's origin
// policy at the hub.
func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics", "/ws/events":
		return true
	}
	return false
}

// Start blocks serving requests until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", slog.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
