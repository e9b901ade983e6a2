package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"

	"wificonf/internal/metrics"
	"wificonf/internal/repository"
)

// Runner runs closures against the repository, as repository.Loop does.
type Runner interface {
	Do(ctx context.Context, fn func(*repository.Repository) error) error
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithMetrics serves g on /metrics.
func WithMetrics(g prom.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// Server is the HTTP API over the profile repository.
type Server struct {
	runner         Runner
	bus            *repository.EventBus
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	gatherer       prom.Gatherer
	version        string
	unsubEvents    func()
}

// NewServer creates a new web server. Events from bus are streamed to
// WebSocket clients.
func NewServer(runner Runner, bus *repository.EventBus, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		runner: runner,
		bus:    bus,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	if bus != nil {
		s.unsubEvents = bus.OnAll(func(event repository.Event) {
			s.wsHub.Broadcast(event)
		})
	}

	s.routes()
	return s
}

// Stop detaches from the event bus and disconnects WebSocket clients.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /api/profiles", s.handleAPIListProfiles)
	s.mux.HandleFunc("POST /api/profiles", s.handleAPIAddProfile)
	s.mux.HandleFunc("GET /api/profiles/{id}", s.handleAPIGetProfile)
	s.mux.HandleFunc("DELETE /api/profiles/{id}", s.handleAPIRemoveProfile)
	s.mux.HandleFunc("POST /api/profiles/{id}/enable", s.handleAPIEnable)
	s.mux.HandleFunc("POST /api/profiles/{id}/disable", s.handleAPIDisable)
	s.mux.HandleFunc("PUT /api/profiles/{id}/autojoin", s.handleAPIAutojoin)
	s.mux.HandleFunc("GET /api/profiles/{id}/status", s.handleAPIGetStatus)
	s.mux.HandleFunc("POST /api/profiles/{id}/status", s.handleAPIUpdateStatus)
	s.mux.HandleFunc("GET /api/profiles/{id}/mac", s.handleAPIGetMAC)
	s.mux.HandleFunc("GET /api/profiles/{id}/scan-cache", s.handleAPIScanCache)
	s.mux.HandleFunc("GET /api/profiles/{id}/linked", s.handleAPILinked)
	s.mux.HandleFunc("POST /api/profiles/{id}/connected", s.handleAPIConnected)
	s.mux.HandleFunc("POST /api/profiles/{id}/disconnected", s.handleAPIDisconnected)
	s.mux.HandleFunc("POST /api/profiles/{id}/connection-success", s.handleAPIConnectionSuccess)
	s.mux.HandleFunc("POST /api/profiles/{id}/gateway", s.handleAPIGateway)
	s.mux.HandleFunc("POST /api/profiles/{id}/captive-portal", s.handleAPICaptivePortal)

	s.mux.HandleFunc("POST /api/scan", s.handleAPIScan)
	s.mux.HandleFunc("PUT /api/candidates", s.handleAPICandidates)
	s.mux.HandleFunc("GET /api/user-disabled", s.handleAPIListUserDisabled)
	s.mux.HandleFunc("POST /api/user-disabled", s.handleAPIUserDisable)
	s.mux.HandleFunc("DELETE /api/user-disabled/{name}", s.handleAPIUserEnable)
	s.mux.HandleFunc("POST /api/carrier-restriction", s.handleAPICarrierRestrict)
	s.mux.HandleFunc("DELETE /api/carrier-restriction", s.handleAPICarrierRelease)
	s.mux.HandleFunc("POST /api/cellular-lost", s.handleAPICellularLost)
	s.mux.HandleFunc("POST /api/users/{user}/switch", s.handleAPIUserSwitch)
	s.mux.HandleFunc("POST /api/users/{user}/unlock", s.handleAPIUserUnlock)
	s.mux.HandleFunc("POST /api/users/{user}/stop", s.handleAPIUserStop)
	s.mux.HandleFunc("POST /api/flush", s.handleAPIFlush)

	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Caller-UID, X-Caller-Package")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// The WebSocket upgrade and /metrics stay open; browsers cannot send
		// custom headers on upgrade and scrapers are configured separately.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
