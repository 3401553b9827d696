package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/unified-bridge/internal/bridge"
	"github.com/yourorg/unified-bridge/internal/config"
	"github.com/yourorg/unified-bridge/internal/export"
	"github.com/yourorg/unified-bridge/internal/security"
	"github.com/yourorg/unified-bridge/internal/telemetry"
)

// version is reported by the health and status endpoints
const version = "1.0.0"

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// ServerOptions carries the optional collaborators of the server
type ServerOptions struct {
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
	Exporter *export.Exporter
	Signer   *security.ReceiptSigner
}

// Server exposes the bridge manager over HTTP and websockets
type Server struct {
	config  config.Config
	manager *bridge.Manager
	opts    ServerOptions

	rateLimit *rate.Limiter
	upgrader  websocket.Upgrader
	server    *http.Server
}

// NewServer creates a server around manager
func NewServer(cfg config.Config, manager *bridge.Manager, opts ServerOptions) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:    cfg,
		manager:   manager,
		opts:      opts,
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	logrus.WithFields(logrus.Fields{
		"port":            cfg.Port,
		"protocols":       manager.Registry().Names(),
		"rate_limit_rps":  cfg.RateLimitRPS,
		"metrics":         opts.Metrics != nil,
		"admin_api":       cfg.AdminAPIKey != "",
		"result_export":   opts.Exporter != nil,
		"receipt_signing": opts.Signer != nil,
	}).Info("Server initialized")
	return s
}

// routes registers every API endpoint
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /bridge", s.limited("/bridge", s.handleBridge))
	mux.HandleFunc("GET /bridge/stream", s.handleBridgeStream)
	mux.HandleFunc("POST /routes", s.limited("/routes", s.handleRoutes))
	mux.HandleFunc("POST /routes/all", s.limited("/routes/all", s.handleAllRoutes))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/protocols", s.handleProtocolHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /admin/cache/health", s.admin(s.handleClearHealth))
	mux.HandleFunc("POST /admin/cache/loads", s.admin(s.handleClearLoads))
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	return mux
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:        ":" + s.config.Port,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		// bridge calls block until the transfer settles
		WriteTimeout: s.config.BridgeTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	if s.opts.Exporter != nil {
		if err := s.opts.Exporter.Stop(ctx); err != nil {
			logrus.Warnf("Final result export failed: %v", err)
		}
	}

	logrus.Info("Server stopped")
}

// limited applies the inbound rate limiter and counts the request
func (s *Server) limited(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit.Allow() {
			s.observe(route, http.StatusTooManyRequests)
			s.errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.observe(route, rec.status)
	}
}

// admin requires the configured admin key as a bearer token
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminAPIKey == "" {
			s.errorResponse(w, http.StatusForbidden, "Admin API disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminAPIKey)) != 1 {
			s.errorResponse(w, http.StatusUnauthorized, "Invalid admin API key")
			return
		}
		next(w, r)
	}
}

func (s *Server) observe(route string, status int) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveRequest(route, http.StatusText(status))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ErrorResponse is the JSON body of a failed API call
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

// errorResponse writes a formatted error response
func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)
	writeJSON(w, statusCode, ErrorResponse{
		StatusCode: statusCode,
		Status:     "error",
		Error:      errorMsg,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}
