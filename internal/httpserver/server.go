// Package httpserver is the ops plane: Prometheus metrics, health, and the
// administrative escape hatches for circuit breakers and credential caches.
// The public refund API is served elsewhere.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/credentials"
	"github.com/BrikPay/refunds-service/internal/gateway"
	"github.com/BrikPay/refunds-service/internal/logger"
	"github.com/BrikPay/refunds-service/internal/refund"
)

var serverStartTime = time.Now()

// Server wires the admin handlers and middleware.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	gateways *gateway.Service
	creds    *credentials.Manager
	refunds  *refund.Manager
	logger   zerolog.Logger
}

// New builds the ops HTTP server with its configured router.
func New(cfg *config.Config, gateways *gateway.Service, creds *credentials.Manager, refunds *refund.Manager, registry *prometheus.Registry, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			gateways: gateways,
			creds:    creds,
			refunds:  refunds,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router, registry)
	return s
}

func (s *Server) configureRouter(router chi.Router, registry *prometheus.Registry) {
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   s.cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if limit := s.cfg.Server.AdminRateLimit; limit > 0 {
		router.Use(httprate.Limit(limit, time.Minute, httprate.WithKeyByIP()))
	}

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", s.health)
		r.With(adminAuth(s.cfg.Server.AdminAPIKey)).Handle("/metrics",
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	})

	// Administrative endpoints. Mutations are authenticated.
	router.Route("/admin/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(adminAuth(s.cfg.Server.AdminAPIKey))

		r.Get("/circuits", s.listCircuits)
		r.Get("/circuits/{gateway}", s.getCircuit)
		r.Post("/circuits/{gateway}/reset", s.resetCircuit)
		r.Post("/circuits/{gateway}/force-open", s.forceCircuitOpen)
		r.Post("/circuits/{gateway}/force-close", s.forceCircuitClosed)

		r.Post("/credentials/cache/clear", s.clearCredentialCache)
		r.Post("/credentials/{merchantID}/{gateway}/invalidate", s.invalidateCredentials)

		// Read-only refund views for operators. The customer-facing refund
		// API lives in the API plane, not here.
		r.Get("/refunds/{refundID}", s.getRefund)
		r.Get("/refunds", s.searchRefunds)
	})
}

// securityHeadersMiddleware adds defense-in-depth headers to all responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// adminAuth guards a route with the configured admin key. An empty key
// leaves the route open, for local development only.
func adminAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" && r.Header.Get("X-Admin-API-Key") != apiKey {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
