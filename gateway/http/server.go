// Package http provides the HTTP gateway: the push ingest webhook and
// the operational surface (health, stats, graph sample, metrics).
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/healthgraph/errors"
	"github.com/c360/healthgraph/graph"
	"github.com/c360/healthgraph/health"
	"github.com/c360/healthgraph/ingest"
	"github.com/c360/healthgraph/metric"
)

// HealthSource reports one component's health for /health aggregation.
type HealthSource func() health.Status

// ServerDeps holds runtime dependencies for the gateway.
type ServerDeps struct {
	Config          Config
	Coordinator     *ingest.Coordinator
	Engine          *graph.Engine
	Reporter        *metric.Reporter
	MetricsRegistry *metric.MetricsRegistry // serves GET /metrics; nil omits the route
	HealthSources   []HealthSource
	Logger          *slog.Logger
}

// Server is the HTTP gateway. It owns the listener, the ingest webhook
// routes and the operational endpoints.
type Server struct {
	config        Config
	coordinator   *ingest.Coordinator
	engine        *graph.Engine
	reporter      *metric.Reporter
	healthSources []HealthSource
	logger        *slog.Logger

	httpServer *http.Server
	mux        *http.ServeMux

	// Lifecycle
	running  bool
	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once

	// Request metrics (atomic operations)
	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64
	bytesReceived   atomic.Uint64
	bytesSent       atomic.Uint64
	lastActivity    atomic.Value // stores time.Time
}

// NewServer creates the gateway and registers its routes.
func NewServer(deps ServerDeps) (*Server, error) {
	config := deps.Config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if deps.Coordinator == nil {
		return nil, errors.WrapFatal(fmt.Errorf("nil coordinator"), "Server", "NewServer",
			"coordinator is required")
	}
	if deps.Engine == nil {
		return nil, errors.WrapFatal(fmt.Errorf("nil engine"), "Server", "NewServer",
			"graph engine is required")
	}
	if deps.Reporter == nil {
		return nil, errors.WrapFatal(fmt.Errorf("nil reporter"), "Server", "NewServer",
			"metrics reporter is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "http-gateway")
	}

	s := &Server{
		config:        config,
		coordinator:   deps.Coordinator,
		engine:        deps.Engine,
		reporter:      deps.Reporter,
		healthSources: deps.HealthSources,
		logger:        logger,
		mux:           http.NewServeMux(),
		stopChan:      make(chan struct{}),
	}
	s.lastActivity.Store(time.Time{})

	s.mux.HandleFunc("/webhook", s.route(http.MethodPost, s.handleWebhook))
	s.mux.HandleFunc("/process", s.route(http.MethodPost, s.handleProcess))
	s.mux.HandleFunc("/health", s.route(http.MethodGet, s.handleHealth))
	s.mux.HandleFunc("/stats", s.route(http.MethodGet, s.handleStats))
	s.mux.HandleFunc("/graph/sample", s.route(http.MethodGet, s.handleGraphSample))
	if deps.MetricsRegistry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(
			deps.MetricsRegistry.PrometheusRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}

	s.httpServer = &http.Server{
		Addr:         config.BindAddress,
		Handler:      s.mux,
		ReadTimeout:  config.Timeout(),
		WriteTimeout: config.Timeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start runs the HTTP server until the context is cancelled, Stop is
// called, or the listener fails. The ready channel is closed when the
// server is about to accept connections.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "gateway already running")
	}
	s.running = true
	server := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		s.logger.Info("Gateway starting", "address", s.config.BindAddress)

		if ready != nil {
			close(ready)
		}

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Gateway server error", "error", err)
			select {
			case errChan <- err:
			case <-ctx.Done():
			case <-s.stopChan:
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Gateway context cancelled, shutting down")
		return s.Stop(30 * time.Second)

	case <-s.stopChan:
		s.logger.Info("Gateway stop requested")
		return nil

	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", "HTTP server failed")
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.httpServer
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		s.logger.Error("Gateway shutdown failed", "error", err)
		return errors.WrapTransient(err, "Server", "Stop", "graceful shutdown")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Gateway stopped",
		"requests_total", s.requestsTotal.Load(),
		"requests_failed", s.requestsFailed.Load())
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// getOrGenerateRequestID extracts the request ID from headers or
// generates a new one so responses and logs correlate.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// route wraps a handler with the request ID, activity tracking, method
// filtering and CORS shared by every endpoint.
func (s *Server) route(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		s.requestsTotal.Add(1)
		s.lastActivity.Store(time.Now())

		if s.config.EnableCORS {
			s.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		if r.Method != method {
			s.writeError(w, http.StatusMethodNotAllowed,
				fmt.Sprintf("method %s not allowed", r.Method))
			s.requestsFailed.Add(1)
			return
		}

		handler(w, r)
	}
}

// readBody reads the request body under the configured size limit. A
// false return means the response has already been written.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()

	// Limit + 1 so an oversized body is detectable
	bodyReader := io.LimitReader(r.Body, s.config.MaxRequestSize+1)
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		s.requestsFailed.Add(1)
		return nil, false
	}

	if int64(len(body)) > s.config.MaxRequestSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", s.config.MaxRequestSize))
		s.requestsFailed.Add(1)
		return nil, false
	}

	s.bytesReceived.Add(uint64(len(body)))
	return body, true
}

// applyCORS applies CORS headers to the response.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range s.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes.
func (s *Server) mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// writeJSON writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if n, err := w.Write(data); err == nil {
		s.bytesSent.Add(uint64(n))
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}
