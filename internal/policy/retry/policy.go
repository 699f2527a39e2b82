// Package retry runs extraction attempts under a bounded, linearly backed-off
// retry budget.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/policy/ratelimit"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
)

// Operation performs one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) (crawler.Record, error)

// Config sets the retry budget.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Policy retries transient failures, waiting BaseDelay*n after attempt n.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(context.Context, time.Duration) error
	logger      *zap.Logger
}

// New builds a Policy, filling zero values with defaults.
func New(cfg Config, logger *zap.Logger) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		sleep:       ratelimit.Sleep,
		logger:      logger,
	}
}

// MaxAttempts returns the configured attempt ceiling.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Backoff returns the wait applied after the given failed attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.baseDelay * time.Duration(attempt)
}

// Run invokes op until it succeeds, fails fatally, or exhausts the budget.
// Failures are reported in the AttemptResult; the error return is non-nil only
// when ctx is canceled, in which case the result must not be committed.
func (p *Policy) Run(ctx context.Context, op Operation) (crawler.AttemptResult, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return interrupted(lastErr, attempt-1), fmt.Errorf("retry canceled: %w", err)
		}
		record, err := op(ctx, attempt)
		if err == nil {
			return crawler.AttemptResult{Kind: crawler.ResultSuccess, Record: record, Attempts: attempt}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return interrupted(err, attempt), fmt.Errorf("retry canceled: %w", ctxErr)
		}
		lastErr = err
		kind := crawler.Classify(err)
		if kind == crawler.ResultFatal {
			return crawler.AttemptResult{Kind: kind, Err: err, Attempts: attempt}, nil
		}
		if attempt == p.maxAttempts {
			break
		}
		delay := p.Backoff(attempt)
		p.logger.Debug("attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return interrupted(lastErr, attempt), fmt.Errorf("retry canceled: %w", err)
		}
	}
	return crawler.AttemptResult{Kind: crawler.ResultTransient, Err: lastErr, Attempts: p.maxAttempts}, nil
}

func interrupted(err error, attempts int) crawler.AttemptResult {
	return crawler.AttemptResult{Kind: crawler.ResultTransient, Err: err, Attempts: attempts}
}
