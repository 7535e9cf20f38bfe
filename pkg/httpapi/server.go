// Package httpapi serves the assistant over HTTP: request submission,
// health and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/assistant"
	"github.com/harun/nara/pkg/dispatch"
	"github.com/harun/nara/pkg/react"
)

// Options configures the HTTP server.
type Options struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	MaxBodyBytes       int64
}

// Server exposes the assistant over HTTP.
type Server struct {
	options Options
	agent   *assistant.Assistant
	server  *http.Server
	limiter *RateLimiter
	logger  zerolog.Logger

	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates the server. The assistant must already be started.
func NewServer(options Options, agent *assistant.Assistant, logger zerolog.Logger) (*Server, error) {
	if agent == nil {
		return nil, fmt.Errorf("assistant is required")
	}
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.Port == 0 {
		options.Port = 8420
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 100
	}
	if options.MaxBodyBytes == 0 {
		options.MaxBodyBytes = 64 * 1024
	}

	return &Server{
		options:   options,
		agent:     agent,
		limiter:   NewRateLimiter(options.RateLimitPerMinute),
		logger:    logger.With().Str("component", "httpapi").Logger(),
		startTime: time.Now(),
	}, nil
}

// Handler returns the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.agent.Metrics().Handler())
	mux.HandleFunc("/v1/messages", s.handleMessage)
	return mux
}

// Start runs the server until Stop is called. It blocks.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting HTTP API")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown drain timeout reached, forcing close")
	}

	s.limiter.Stop()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http api: %w", err)
	}
	s.logger.Info().Msg("HTTP API stopped")
	return nil
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type messageResponse struct {
	Status     string       `json:"status"`
	Message    string       `json:"message"`
	Route      string       `json:"route,omitempty"`
	Iterations int          `json:"iterations"`
	DurationMs int64        `json:"duration_ms"`
	Trace      []traceEntry `json:"trace,omitempty"`
}

type traceEntry struct {
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	Iteration int    `json:"iteration"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r)
	if !s.limiter.Allow(ip) {
		retryAfter := int(s.limiter.RetryAfter(ip).Seconds()) + 1
		s.logger.Warn().Str("ip", ip).Int("retry_after", retryAfter).Msg("Rate limit exceeded")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	var req messageRequest
	body := http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Field \"text\" is required", http.StatusBadRequest)
		return
	}

	out, err := s.agent.Process(r.Context(), req.SessionID, req.Text)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error().Err(err).Str("ip", ip).Dur("duration", duration).Msg("Request rejected")
		switch {
		case errors.Is(err, dispatch.ErrQueueFull):
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		case errors.Is(err, dispatch.ErrClosed):
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		default:
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	s.logger.Info().
		Str("ip", ip).
		Str("session", req.SessionID).
		Str("status", string(out.Status)).
		Dur("duration", duration).
		Msg("Request completed")

	resp := messageResponse{
		Status:     string(out.Status),
		Message:    out.Message,
		Route:      string(out.Route),
		Iterations: out.Iterations,
		DurationMs: out.Duration.Milliseconds(),
	}
	if wantTrace(r) {
		resp.Trace = toTraceEntries(out.Trace)
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := struct {
		assistant.Health
		UptimeSeconds float64 `json:"uptime_seconds"`
		Timestamp     int64   `json:"timestamp"`
	}{
		Health:        s.agent.Health(),
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Timestamp:     time.Now().UnixMilli(),
	}
	s.sendJSON(w, http.StatusOK, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Cannot write response")
	}
}

func wantTrace(r *http.Request) bool {
	switch r.URL.Query().Get("trace") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func toTraceEntries(trace []react.Entry) []traceEntry {
	entries := make([]traceEntry, len(trace))
	for i, e := range trace {
		entries[i] = traceEntry{Kind: string(e.Kind), Text: e.Text, Iteration: e.Iteration}
	}
	return entries
}

// clientIP extracts the caller address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
