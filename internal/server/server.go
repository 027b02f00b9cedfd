package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sokoyetu/payments/internal/config"
	"github.com/sokoyetu/payments/internal/handlers"
	"github.com/sokoyetu/payments/internal/metrics"
	custommiddleware "github.com/sokoyetu/payments/internal/middleware"
)

// Server wraps the HTTP server
type Server struct {
	router  *chi.Mux
	httpSrv *http.Server
}

// New creates the HTTP server and configures all routes.
func New(cfg *config.Config, h *handlers.Handler, m *metrics.Metrics) *Server {
	s := &Server{router: chi.NewRouter()}

	r := s.router

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Public endpoints
	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Paid session gating, driven entirely by the browser cookie
	r.Get("/sessions/active", h.ActiveSession)
	r.Post("/sessions", h.RecordSession)
	r.Delete("/sessions", h.ClearSessions)

	// Internal endpoints (marketplace backend only)
	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.EnsureInternalAuth(cfg.InternalSecret))
		r.Post("/initiate", h.InitiatePayment)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{checkoutRequestID}", h.GetTransaction)
	})

	// Callback endpoint (IP filtered + size limited)
	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.IPFilter(cfg.GatewayIPs))
		r.Use(custommiddleware.RequestSizeLimit(cfg.MaxRequestSize))
		r.Post("/callback", h.GatewayCallback)
	})

	s.httpSrv = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
