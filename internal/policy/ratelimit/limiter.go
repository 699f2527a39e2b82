// Package ratelimit implements the drain loop's pacing: randomized per-item
// and per-batch pauses plus an optional per-host token bucket on navigations.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter caps navigations per host with a token bucket per hostname.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	observe  func(rawURL string, waited time.Duration)
}

// HostConfig holds host limiter configuration. RPS <= 0 disables limiting.
type HostConfig struct {
	RPS   float64
	Burst int
	// Observe, when set, receives the time each Wait spent blocked.
	Observe func(rawURL string, waited time.Duration)
}

// NewHostLimiter creates a HostLimiter.
func NewHostLimiter(cfg HostConfig) *HostLimiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
		observe:  cfg.Observe,
	}
}

// Wait blocks until the host of rawURL has a token, or ctx ends.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.rps == rate.Inf {
		return nil
	}
	start := time.Now()
	if err := l.limiterFor(hostOf(rawURL)).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if l.observe != nil {
		l.observe(rawURL, time.Since(start))
	}
	return nil
}

// Hosts returns how many hosts currently hold a bucket.
func (l *HostLimiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *HostLimiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
