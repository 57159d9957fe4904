// Package httpserver wires the HTTP surface: the websocket upgrade
// endpoint, the health check, and the prometheus scrape endpoint.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quiz-session-core/internal/config"
	"quiz-session-core/internal/registry"
)

// Server is the process's http.Server plus the collaborators its routes
// delegate to.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	reg    *registry.Registry
	http   *http.Server
}

// New builds the router and wraps it in an http.Server bound to
// cfg.Server.Address. gw handles /ws; reg backs the /health connection
// count.
func New(cfg *config.Config, logger *zap.Logger, gw *registry.Gateway, reg *registry.Registry) *Server {
	s := &Server{cfg: cfg, logger: logger, reg: reg}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", s.handleHealth)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/ws", gw.ServeHTTP)

	s.http = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// healthPayload matches spec.md §6's literal shape for GET /health.
type healthPayload struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := healthPayload{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Connections: s.reg.ConnectionCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

// Start runs the listener; it returns http.ErrServerClosed on a clean
// Shutdown, which callers treat as non-fatal.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("address", s.cfg.Server.Address))
	return s.http.ListenAndServe()
}

// Shutdown stops accepting new connections and handshakes (the first half
// of graceful shutdown; the supervisor handles the second half, closing
// already-live connections).
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
