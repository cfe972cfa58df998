package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verahub/vera-core/internal/config"
	"github.com/verahub/vera-core/internal/engine"
	"github.com/verahub/vera-core/internal/expert"
	"github.com/verahub/vera-core/internal/messaging"
	"github.com/verahub/vera-core/internal/metrics"
	"github.com/verahub/vera-core/internal/orchestrator"
)

// HealthChecker reports per-component reachability.
type HealthChecker interface {
	Health(ctx context.Context) map[string]error
}

// DeadLetterReader lists recently dead-lettered expert calls.
type DeadLetterReader interface {
	Entries(ctx context.Context, count int64) ([]messaging.DLQEntry, error)
}

// NodeLister reports remote handler nodes seen on the heartbeat stream.
type NodeLister interface {
	Nodes() []messaging.Heartbeat
	Alive(node string) bool
}

// Server represents the HTTP surface of the core: one ask endpoint plus
// health and metrics.
type Server struct {
	cfg        *config.Config
	engine     *engine.Engine
	tracker    *expert.Tracker
	completion HealthChecker
	dlq        DeadLetterReader
	heartbeats NodeLister
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
	Services  map[string]ServiceHealth `json:"services"`
	Timestamp string                   `json:"timestamp"`
}

// ServiceHealth represents a component health status
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a new HTTP server. dlq and heartbeats are nil when remote
// experts are disabled; the remote endpoint then reports them as such.
func New(cfg *config.Config, eng *engine.Engine, tracker *expert.Tracker, completionHealth HealthChecker, dlq DeadLetterReader, heartbeats NodeLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		engine:     eng,
		tracker:    tracker,
		completion: completionHealth,
		dlq:        dlq,
		heartbeats: heartbeats,
		logger:     logger,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.instrument("/health", s.healthHandler))
	mux.HandleFunc("/api/v1/ask", s.instrument("/api/v1/ask", s.askHandler))
	mux.HandleFunc("/api/v1/handlers/health", s.instrument("/api/v1/handlers/health", s.handlersHealthHandler))
	mux.HandleFunc("/api/v1/experts/remote", s.instrument("/api/v1/experts/remote", s.remoteStatusHandler))
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// askHandler handles one utterance end to end.
func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := s.engine.Ask(r.Context(), req)
	if err != nil {
		s.writeAskError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

// writeAskError maps engine failures to status codes.
func (s *Server) writeAskError(w http.ResponseWriter, err error) {
	var verr *orchestrator.GraphValidationError

	switch {
	case errors.Is(err, engine.ErrEmptyUtterance):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrUpstreamUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &verr):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("ask failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	services := map[string]ServiceHealth{
		"http": {Healthy: true, Message: "HTTP server running"},
	}

	overall := "healthy"
	if s.completion != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for lane, err := range s.completion.Health(ctx) {
			sh := ServiceHealth{Healthy: err == nil}
			if err != nil {
				sh.Message = err.Error()
				overall = "degraded"
			}
			services["lane:"+lane] = sh
		}
	}

	response := HealthResponse{
		Status:    overall,
		Version:   "1.0.0",
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handlersHealthHandler reports expert handler health from the tracker.
func (s *Server) handlersHealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]expert.HandlerStatus{}
	if s.tracker != nil {
		status = s.tracker.Status()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

type remoteNode struct {
	Node     string   `json:"node"`
	Handlers []string `json:"handlers"`
	Alive    bool     `json:"alive"`
	Seen     string   `json:"seen"`
}

type remoteDeadLetter struct {
	Handler  string `json:"handler"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	Failed   string `json:"failed"`
}

type remoteStatusResponse struct {
	Enabled     bool               `json:"enabled"`
	Nodes       []remoteNode       `json:"nodes"`
	DeadLetters []remoteDeadLetter `json:"dead_letters"`
}

// remoteStatusHandler reports the remote expert fleet: heartbeat nodes and
// recent dead-lettered calls.
func (s *Server) remoteStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := remoteStatusResponse{
		Enabled:     s.heartbeats != nil,
		Nodes:       []remoteNode{},
		DeadLetters: []remoteDeadLetter{},
	}

	if s.heartbeats != nil {
		for _, hb := range s.heartbeats.Nodes() {
			resp.Nodes = append(resp.Nodes, remoteNode{
				Node:     hb.Node,
				Handlers: hb.Handlers,
				Alive:    s.heartbeats.Alive(hb.Node),
				Seen:     hb.Seen.UTC().Format(time.RFC3339),
			})
		}
	}

	if s.dlq != nil {
		entries, err := s.dlq.Entries(r.Context(), 20)
		if err != nil {
			s.logger.Warn("dlq read failed", "error", err)
		}
		for _, e := range entries {
			dl := remoteDeadLetter{
				Reason:   e.Reason,
				Attempts: e.Attempts,
				Failed:   e.Failed.UTC().Format(time.RFC3339),
			}
			if e.Call != nil {
				dl.Handler = e.Call.Handler
			}
			resp.DeadLetters = append(resp.DeadLetters, dl)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
