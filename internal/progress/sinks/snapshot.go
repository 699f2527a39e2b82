package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/progress"
)

// SnapshotSink keeps the most recent progress record for the status server.
type SnapshotSink struct {
	mu     sync.RWMutex
	latest crawler.Progress
	seen   bool
}

// NewSnapshotSink returns an empty SnapshotSink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// Consume replaces the snapshot with the newest event in the batch.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if s.seen && evt.TS.Before(s.latest.Timestamp) {
			continue
		}
		p := evt.Progress()
		// Run-level events carry no URL; keep the last item visible.
		if p.CurrentURL == "" && s.seen && s.latest.RunID == p.RunID {
			p.CurrentURL = s.latest.CurrentURL
		}
		s.latest = p
		s.seen = true
	}
	return nil
}

// Latest returns the last recorded progress and whether any event arrived.
func (s *SnapshotSink) Latest() (crawler.Progress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.seen
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
