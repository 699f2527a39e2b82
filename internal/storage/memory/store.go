package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memory store closed")

// Run is the stored state of one drain run.
type Run struct {
	ID       uuid.UUID
	Started  time.Time
	Finished *time.Time
	Status   crawler.RunStatus
	Summary  crawler.RunSummary
	ErrorMsg *string
}

// Store keeps pending items, results, error records and runs in memory. It
// implements crawler.Store for development runs and tests.
type Store struct {
	mu      sync.RWMutex
	mode    crawler.RetireMode
	order   []string
	pending map[string]bool
	results map[string]crawler.Record
	errors  []crawler.ErrorRecord
	runs    map[uuid.UUID]*Run
	closed  bool

	insertFault func(url string) error
	retireFault func(url string) error
}

// NewStore seeds a Store with pending URLs in the given order. Duplicates are
// ignored.
func NewStore(mode crawler.RetireMode, seeds ...string) *Store {
	if mode == "" {
		mode = crawler.RetireFlag
	}
	s := &Store{
		mode:    mode,
		pending: make(map[string]bool),
		results: make(map[string]crawler.Record),
		runs:    make(map[uuid.UUID]*Run),
	}
	s.enqueue(seeds)
	return s
}

// Enqueue adds URLs to the pending set.
func (s *Store) Enqueue(_ context.Context, urls ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.enqueue(urls)
	return nil
}

func (s *Store) enqueue(urls []string) {
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := s.pending[u]; ok {
			continue
		}
		s.order = append(s.order, u)
		s.pending[u] = false
	}
}

// InjectInsertFault makes InsertRecord fail whenever fn returns an error.
func (s *Store) InjectInsertFault(fn func(url string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertFault = fn
}

// InjectRetireFault makes RetireItem fail whenever fn returns an error.
func (s *Store) InjectRetireFault(fn func(url string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retireFault = fn
}

// FetchPending returns up to limit unretired items in insertion order.
func (s *Store) FetchPending(_ context.Context, limit int) ([]crawler.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	items := make([]crawler.WorkItem, 0)
	for _, u := range s.order {
		if limit > 0 && len(items) >= limit {
			break
		}
		retired, ok := s.pending[u]
		if !ok || retired {
			continue
		}
		items = append(items, crawler.WorkItem{URL: u})
	}
	return items, nil
}

// InsertRecord upserts by ItemURL.
func (s *Store) InsertRecord(_ context.Context, record crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if record.ItemURL == "" {
		return errors.New("record item url is required")
	}
	if s.insertFault != nil {
		if err := s.insertFault(record.ItemURL); err != nil {
			return err
		}
	}
	s.results[record.ItemURL] = record
	return nil
}

// RetireItem flags or deletes the pending URL depending on the retire mode.
func (s *Store) RetireItem(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.retireFault != nil {
		if err := s.retireFault(url); err != nil {
			return err
		}
	}
	if _, ok := s.pending[url]; !ok {
		return nil
	}
	if s.mode == crawler.RetireDelete {
		delete(s.pending, url)
		return nil
	}
	s.pending[url] = true
	return nil
}

// AppendError stores an error record.
func (s *Store) AppendError(_ context.Context, rec crawler.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.errors = append(s.errors, rec)
	return nil
}

// StartRun records a running run.
func (s *Store) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.runs[runID]; ok {
		return nil
	}
	s.runs[runID] = &Run{ID: runID, Started: startedAt, Status: crawler.RunRunning}
	return nil
}

// FinishRun stores the final summary for a run.
func (s *Store) FinishRun(
	_ context.Context,
	summary crawler.RunSummary,
	status crawler.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	run, ok := s.runs[summary.RunID]
	if !ok {
		run = &Run{ID: summary.RunID, Started: summary.StartedAt}
		s.runs[summary.RunID] = run
	}
	finished := summary.FinishedAt
	run.Finished = &finished
	run.Status = status
	run.Summary = summary
	run.ErrorMsg = errMsg
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Results returns a copy of the stored records keyed by item URL.
func (s *Store) Results() map[string]crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]crawler.Record, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Errors returns a copy of the appended error records.
func (s *Store) Errors() []crawler.ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.ErrorRecord(nil), s.errors...)
}

// PendingCount returns how many items are still pending.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, retired := range s.pending {
		if !retired {
			n++
		}
	}
	return n
}

// Run returns a copy of the stored run.
func (s *Store) Run(id uuid.UUID) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}
