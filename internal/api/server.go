package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

// ProgressSource exposes the most recent progress record.
type ProgressSource interface {
	Latest() (crawler.Progress, bool)
}

// Config tunes the status server.
type Config struct {
	RequestTimeout time.Duration
}

// Server exposes health, metrics, and progress for a single drain process.
type Server struct {
	router   chi.Router
	progress ProgressSource
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	ready    func() bool
	extra    []func(http.Handler) http.Handler
}

// Option customizes the server.
type Option func(*Server)

// WithReadiness installs a readiness check; without one /readyz mirrors /healthz.
func WithReadiness(fn func() bool) Option {
	return func(s *Server) {
		s.ready = fn
	}
}

// WithMiddleware appends middleware after the built-in request ID, logging,
// recover, and timeout layers.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.extra = append(s.extra, mw...)
	}
}

// NewServer wires the routes. A nil gatherer disables /metrics.
func NewServer(
	progress ProgressSource,
	gatherer prometheus.Gatherer,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		router:   chi.NewRouter(),
		progress: progress,
		gatherer: gatherer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(requestIDMiddleware)
	s.router.Use(loggingMiddleware(logger))
	s.router.Use(recoverMiddleware(logger))
	s.router.Use(timeoutMiddleware(cfg.RequestTimeout))
	s.router.Use(s.extra...)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Get("/progress", s.handleProgress)
	if gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusNotFound, "progress unavailable")
		return
	}
	p, ok := s.progress.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	p.Timestamp = p.Timestamp.UTC()
	writeJSON(w, http.StatusOK, p)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.Any("request_id", r.Context().Value(requestIDKey{})),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
