package drain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/clock/system"
	"github.com/JakeFAU/product-scraper/internal/commit"
	"github.com/JakeFAU/product-scraper/internal/crawler"
	iduuid "github.com/JakeFAU/product-scraper/internal/id/uuid"
	"github.com/JakeFAU/product-scraper/internal/policy/retry"
	"github.com/JakeFAU/product-scraper/internal/progress"
)

const (
	defaultFetchLimit    = 1000
	defaultBatchSize     = 100
	defaultSeenSetSize   = 100_000
	defaultCommitTimeout = 30 * time.Second
)

// Config controls batching and refetch behavior.
type Config struct {
	// FetchLimit bounds each FetchPending call.
	FetchLimit int
	// BatchSize is the number of items between inter-batch pauses.
	BatchSize int
	// RetryUnusable turns a record with neither name nor price into a
	// transient failure so the page is rendered again.
	RetryUnusable bool
	// Refetch keeps fetching after the first page until nothing new arrives.
	Refetch     bool
	SeenSetSize int
	// CommitTimeout bounds the commit of one item. Commits run detached from
	// run cancellation so a finished attempt is still persisted on shutdown.
	CommitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchLimit <= 0 {
		c.FetchLimit = defaultFetchLimit
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.SeenSetSize <= 0 {
		c.SeenSetSize = defaultSeenSetSize
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = defaultCommitTimeout
	}
	return c
}

// Sessions renders one URL per call. *browser.Manager implements it.
type Sessions interface {
	Start(ctx context.Context) error
	Close() error
	WithSession(ctx context.Context, rawURL string) (crawler.Record, error)
}

// Committer persists one item outcome. *commit.Committer implements it.
type Committer interface {
	Commit(ctx context.Context, runID uuid.UUID, item crawler.WorkItem, result crawler.AttemptResult) commit.Status
}

// Pacer provides the two randomized waits. *ratelimit.Jitter implements it.
type Pacer interface {
	InterItemDelay(ctx context.Context) (time.Duration, error)
	InterBatchDelay(ctx context.Context) (time.Duration, error)
}

// RunIDs issues run identifiers.
type RunIDs interface {
	NewRunID() (uuid.UUID, error)
}

// Loop drains the pending set once per Run.
type Loop struct {
	cfg       Config
	source    crawler.PendingSource
	sessions  Sessions
	policy    *retry.Policy
	committer Committer
	pacer     Pacer

	emitter progress.Emitter
	ids     RunIDs
	clock   crawler.Clock
	logger  *zap.Logger
}

// Option customizes a Loop.
type Option func(*Loop)

// WithEmitter sets where progress events go.
func WithEmitter(e progress.Emitter) Option {
	return func(l *Loop) {
		if e != nil {
			l.emitter = e
		}
	}
}

// WithRunIDs overrides the run ID source.
func WithRunIDs(ids RunIDs) Option {
	return func(l *Loop) {
		if ids != nil {
			l.ids = ids
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock crawler.Clock) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New wires a Loop. All collaborators are required.
func New(
	cfg Config,
	source crawler.PendingSource,
	sessions Sessions,
	policy *retry.Policy,
	committer Committer,
	pacer Pacer,
	opts ...Option,
) (*Loop, error) {
	switch {
	case source == nil:
		return nil, errors.New("pending source is required")
	case sessions == nil:
		return nil, errors.New("session manager is required")
	case policy == nil:
		return nil, errors.New("retry policy is required")
	case committer == nil:
		return nil, errors.New("committer is required")
	case pacer == nil:
		return nil, errors.New("pacer is required")
	}
	l := &Loop{
		cfg:       cfg.withDefaults(),
		source:    source,
		sessions:  sessions,
		policy:    policy,
		committer: committer,
		pacer:     pacer,
		emitter:   progress.Discard,
		ids:       iduuid.New(),
		clock:     system.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// run holds the mutable state of one Run call.
type run struct {
	summary crawler.RunSummary
	seen    *lru.Cache[string, struct{}]
	// stuck counts attempted items that are still pending in the store.
	stuck int
}

// Run drains the pending set. The error is non-nil only for run-fatal
// failures; cancellation yields a summary with Interrupted set and no error.
func (l *Loop) Run(ctx context.Context) (crawler.RunSummary, error) {
	runID, err := l.ids.NewRunID()
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("start run: %w", err)
	}
	seen, err := lru.New[string, struct{}](l.cfg.SeenSetSize)
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("create seen set: %w", err)
	}
	r := &run{
		summary: crawler.RunSummary{RunID: runID, StartedAt: l.clock.Now()},
		seen:    seen,
	}
	logger := l.logger.With(zap.String("run_id", runID.String()))

	items, err := l.source.FetchPending(ctx, l.cfg.FetchLimit)
	if err != nil {
		l.emitRun(r, progress.StageRunStart, "", "")
		return l.fail(r, fmt.Errorf("fetch pending: %w", err))
	}
	r.summary.Total = len(items)
	l.emitRun(r, progress.StageRunStart, "", "")
	if len(items) == 0 {
		logger.Info("no pending urls")
		return l.finish(r)
	}

	logger.Info("drain starting", zap.Int("pending", len(items)), zap.Int("batch_size", l.cfg.BatchSize))
	if err := l.sessions.Start(ctx); err != nil {
		return l.fail(r, fmt.Errorf("start rendering engine: %w", err))
	}
	defer func() {
		if err := l.sessions.Close(); err != nil {
			logger.Warn("close rendering engine failed", zap.Error(err))
		}
	}()

	for {
		if !l.drain(ctx, r, items) {
			r.summary.Interrupted = true
			logger.Info("drain interrupted", zap.Int("attempted", r.summary.Attempted), zap.Int("total", r.summary.Total))
			return l.finish(r)
		}
		if !l.cfg.Refetch {
			break
		}
		items, err = l.refetch(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				r.summary.Interrupted = true
				return l.finish(r)
			}
			logger.Warn("refetch failed, finishing run", zap.Error(err))
			break
		}
		if len(items) == 0 {
			break
		}
		r.summary.Total += len(items)
		logger.Info("refetched pending urls", zap.Int("new", len(items)))
		if !l.batchPause(ctx, r) {
			r.summary.Interrupted = true
			return l.finish(r)
		}
	}
	return l.finish(r)
}

// drain processes items in batches and reports false when interrupted.
func (l *Loop) drain(ctx context.Context, r *run, items []crawler.WorkItem) bool {
	batches := chunk(items, l.cfg.BatchSize)
	for bi, batch := range batches {
		for ii, item := range batch {
			if ctx.Err() != nil {
				return false
			}
			if !l.process(ctx, r, item) {
				return false
			}
			if ii == len(batch)-1 {
				continue
			}
			if _, err := l.pacer.InterItemDelay(ctx); err != nil {
				return false
			}
		}
		if bi == len(batches)-1 {
			continue
		}
		if !l.batchPause(ctx, r) {
			return false
		}
	}
	return true
}

func (l *Loop) batchPause(ctx context.Context, r *run) bool {
	d, err := l.pacer.InterBatchDelay(ctx)
	if err != nil {
		return false
	}
	l.emit(r, progress.Event{Stage: progress.StageBatchPause, Dur: d})
	return true
}

// process runs one item through retry and commit. It returns false when the
// attempt was interrupted; the item is then left uncommitted.
func (l *Loop) process(ctx context.Context, r *run, item crawler.WorkItem) bool {
	r.seen.Add(item.URL, struct{}{})
	start := l.clock.Now()
	l.emit(r, progress.Event{Stage: progress.StageItemStart, URL: item.URL})

	result, err := l.policy.Run(ctx, func(ctx context.Context, _ int) (crawler.Record, error) {
		record, err := l.sessions.WithSession(ctx, item.URL)
		if err != nil {
			return record, err
		}
		if l.cfg.RetryUnusable && !record.Usable() {
			return record, crawler.Transient(crawler.ErrUnusable)
		}
		return record, nil
	})
	if err != nil {
		if crawler.IsCanceled(err) {
			l.logger.Info("item interrupted, left pending", zap.String("url", item.URL))
		} else {
			l.logger.Warn("item aborted, left pending", zap.String("url", item.URL), zap.Error(err))
		}
		return false
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.CommitTimeout)
	status := l.committer.Commit(commitCtx, r.summary.RunID, item, result)
	cancel()

	r.summary.Attempted++
	if status.Succeeded() {
		r.summary.Succeeded++
	} else {
		r.summary.Failed++
	}
	if status != commit.StatusCommitted {
		r.stuck++
	}
	l.logger.Debug("item processed",
		zap.String("url", item.URL),
		zap.String("status", string(status)),
		zap.Int("attempts", result.Attempts),
	)
	l.emit(r, progress.Event{
		Stage:    progress.StageItemDone,
		URL:      item.URL,
		Outcome:  string(status),
		Attempts: result.Attempts,
		Dur:      l.clock.Now().Sub(start),
	})
	return true
}

// refetch asks the store for more pending items and keeps the ones not yet
// attempted this run. Items still pending after an attempt would otherwise
// fill the page, so the limit grows by that count.
func (l *Loop) refetch(ctx context.Context, r *run) ([]crawler.WorkItem, error) {
	items, err := l.source.FetchPending(ctx, l.cfg.FetchLimit+r.stuck)
	if err != nil {
		return nil, fmt.Errorf("refetch pending: %w", err)
	}
	fresh := items[:0]
	for _, item := range items {
		if r.seen.Contains(item.URL) {
			continue
		}
		fresh = append(fresh, item)
	}
	return fresh, nil
}

func (l *Loop) finish(r *run) (crawler.RunSummary, error) {
	r.summary.FinishedAt = l.clock.Now()
	s := r.summary
	l.logger.Info("drain finished",
		zap.String("run_id", s.RunID.String()),
		zap.String("status", string(s.Status())),
		zap.Int("total", s.Total),
		zap.Int("attempted", s.Attempted),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Float64("success_rate", s.SuccessRate()),
		zap.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)),
	)
	l.emitRun(r, progress.StageRunDone, s.Status(), "")
	return s, nil
}

func (l *Loop) fail(r *run, err error) (crawler.RunSummary, error) {
	r.summary.FinishedAt = l.clock.Now()
	l.logger.Error("drain failed", zap.String("run_id", r.summary.RunID.String()), zap.Error(err))
	l.emitRun(r, progress.StageRunError, crawler.RunFailed, err.Error())
	return r.summary, err
}

func (l *Loop) emitRun(r *run, stage progress.Stage, status crawler.RunStatus, note string) {
	evt := progress.Event{Stage: stage, Status: status, Note: note, TS: r.summary.StartedAt}
	if stage != progress.StageRunStart {
		evt.TS = r.summary.FinishedAt
		evt.Dur = r.summary.FinishedAt.Sub(r.summary.StartedAt)
		evt.Interrupted = r.summary.Interrupted
	}
	l.emit(r, evt)
}

func (l *Loop) emit(r *run, evt progress.Event) {
	evt.RunID = r.summary.RunID
	if evt.TS.IsZero() {
		evt.TS = l.clock.Now()
	}
	evt.Processed = r.summary.Attempted
	evt.Total = r.summary.Total
	evt.Succeeded = r.summary.Succeeded
	evt.Failed = r.summary.Failed
	l.emitter.Emit(evt)
}

func chunk(items []crawler.WorkItem, size int) [][]crawler.WorkItem {
	var out [][]crawler.WorkItem
	for size < len(items) {
		items, out = items[size:], append(out, items[0:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
