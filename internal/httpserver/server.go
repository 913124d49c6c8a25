package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gateway-console/internal/conn"
	"gateway-console/internal/gateway"
	"gateway-console/internal/metrics"
	"gateway-console/internal/repo"
	"gateway-console/internal/settings"
)

// Dependencies groups the core components handlers call into. Handlers own no
// protocol logic: they start and stop flows and render state.
type Dependencies struct {
	Gateway        *gateway.Client
	Conn           *conn.Manager
	Settings       *settings.Service
	Store          repo.Store
	GatewayWebhook http.Handler
}

// Server wraps an http.Server with the console routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with health, metrics,
// webhook, and dashboard API endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	if deps.GatewayWebhook != nil {
		mux.Handle("POST /webhook/gateway", deps.GatewayWebhook)
	}

	mux.HandleFunc("GET /api/flows", server.handleFlows)
	mux.HandleFunc("GET /api/instances", server.handleListInstances)
	mux.HandleFunc("POST /api/instances", server.handleCreateInstance)
	mux.HandleFunc("GET /api/instances/{name}", server.handleGetInstance)
	mux.HandleFunc("DELETE /api/instances/{name}", server.handleDeleteInstance)
	mux.HandleFunc("POST /api/instances/{name}/connect", server.handleConnect)
	mux.HandleFunc("POST /api/instances/{name}/cancel", server.handleCancel)
	mux.HandleFunc("POST /api/instances/{name}/regenerate", server.handleRegenerate)
	mux.HandleFunc("POST /api/instances/{name}/restart", server.handleRestart)
	mux.HandleFunc("POST /api/instances/{name}/logout", server.handleLogout)
	mux.HandleFunc("GET /api/instances/{name}/pairing", server.handlePairing)
	mux.HandleFunc("GET /api/instances/{name}/attempts", server.handleAttempts)
	mux.HandleFunc("GET /api/settings", server.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", server.handleSaveSettings)

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("health check database ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
