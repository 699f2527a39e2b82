// Package metrics exposes Prometheus collectors for the status server and
// the per-host navigation limiter.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the process-level metrics not derived from progress
// events.
type Collectors struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	hostWaitSeconds            *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_http_requests_total",
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		),
		hostWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_host_wait_seconds",
				Help:    "Histogram of per-host rate limit waits before navigation.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
	}
	for _, col := range []prometheus.Collector{c.httpRequestsTotal, c.httpRequestDurationSeconds, c.hostWaitSeconds} {
		if err := reg.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("metrics already registered: %w", err)
			}
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveHostWait records how long a navigation waited for its host's token.
func (c *Collectors) ObserveHostWait(rawURL string, waited time.Duration) {
	c.hostWaitSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(waited.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func (c *Collectors) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		c.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
