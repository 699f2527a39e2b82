// Package commit persists the outcome of each drained item. A usable record is
// inserted first and its work item retired only after the insert succeeds;
// every other outcome leaves the item pending and appends an ErrorRecord.
package commit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/clock/system"
	"github.com/JakeFAU/product-scraper/internal/crawler"
)

// Status is the result of committing one item.
type Status string

// Commit statuses.
const (
	StatusCommitted    Status = "committed"
	StatusInsertFailed Status = "insert_failed"
	StatusRetireFailed Status = "retire_failed"
	StatusFailed       Status = "failed"
	StatusUnusable     Status = "unusable"
)

// Succeeded reports whether the record reached the result store. A retire
// failure still counts: the upsert keeps the next run idempotent.
func (s Status) Succeeded() bool {
	return s == StatusCommitted || s == StatusRetireFailed
}

// Error-log stages.
const (
	StageExtract = "extract"
	StageInsert  = "insert"
	StageRetire  = "retire"
)

// Committer applies attempt outcomes to the durable store.
type Committer struct {
	results  crawler.ResultStore
	errorLog crawler.ErrorLog
	notifier crawler.Notifier
	clock    crawler.Clock
	logger   *zap.Logger
}

// Option customizes a Committer.
type Option func(*Committer)

// WithNotifier announces committed records. Notification errors are logged only.
func WithNotifier(n crawler.Notifier) Option {
	return func(c *Committer) { c.notifier = n }
}

// WithClock sets the clock used for ErrorRecord timestamps.
func WithClock(clock crawler.Clock) Option {
	return func(c *Committer) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Committer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Committer. errorLog may be nil to discard error records.
func New(results crawler.ResultStore, errorLog crawler.ErrorLog, opts ...Option) *Committer {
	c := &Committer{
		results:  results,
		errorLog: errorLog,
		clock:    system.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit records the outcome for item and reports what happened.
func (c *Committer) Commit(
	ctx context.Context,
	runID uuid.UUID,
	item crawler.WorkItem,
	result crawler.AttemptResult,
) Status {
	if !result.Succeeded() {
		c.appendError(ctx, runID, item.URL, StageExtract, result.Err, result.Attempts)
		return StatusFailed
	}
	record := result.Record
	if !record.Usable() {
		c.appendError(ctx, runID, item.URL, StageExtract, crawler.ErrUnusable, result.Attempts)
		return StatusUnusable
	}
	if record.ItemURL == "" {
		record.ItemURL = item.URL
	}

	if err := c.results.InsertRecord(ctx, record); err != nil {
		c.logger.Warn("insert record failed, item left pending", zap.String("url", item.URL), zap.Error(err))
		c.appendError(ctx, runID, item.URL, StageInsert, err, result.Attempts)
		return StatusInsertFailed
	}
	status := StatusCommitted
	if err := c.results.RetireItem(ctx, item.URL); err != nil {
		c.logger.Warn("retire item failed after insert", zap.String("url", item.URL), zap.Error(err))
		c.appendError(ctx, runID, item.URL, StageRetire, err, result.Attempts)
		status = StatusRetireFailed
	}
	c.notify(ctx, record)
	return status
}

func (c *Committer) notify(ctx context.Context, record crawler.Record) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, record); err != nil {
		c.logger.Warn("notify committed record failed", zap.String("url", record.ItemURL), zap.Error(err))
	}
}

// appendError writes a best-effort diagnostic; failures are logged and dropped.
func (c *Committer) appendError(
	ctx context.Context,
	runID uuid.UUID,
	url string,
	stage string,
	cause error,
	attempts int,
) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	c.logger.Info("item not committed",
		zap.String("url", url),
		zap.String("stage", stage),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	if c.errorLog == nil {
		return
	}
	rec := crawler.ErrorRecord{
		RunID:     runID,
		URL:       url,
		Message:   cause.Error(),
		Stage:     stage,
		Attempts:  attempts,
		Timestamp: c.clock.Now(),
	}
	if err := c.errorLog.AppendError(ctx, rec); err != nil {
		c.logger.Warn("append error record failed", zap.String("url", url), zap.Error(err))
	}
}
