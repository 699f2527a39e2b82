// Package memory records notifications in memory for development runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

// Notifier keeps every notified record for inspection. Fail, when set, is
// returned from Notify instead of recording.
type Notifier struct {
	mu      sync.RWMutex
	records []crawler.Record
	Fail    error
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records the message.
func (n *Notifier) Notify(_ context.Context, record crawler.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Fail != nil {
		return n.Fail
	}
	n.records = append(n.records, record)
	return nil
}

// Records returns the notified records in order.
func (n *Notifier) Records() []crawler.Record {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]crawler.Record(nil), n.records...)
}
