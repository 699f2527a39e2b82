package crawler

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// PendingSource yields pending work items in store-defined order.
type PendingSource interface {
	FetchPending(ctx context.Context, limit int) ([]WorkItem, error)
}

// ResultStore persists extracted records and retires processed work items.
// InsertRecord must upsert by Record.ItemURL so a re-processed item never
// produces a second row.
type ResultStore interface {
	InsertRecord(ctx context.Context, record Record) error
	RetireItem(ctx context.Context, url string) error
}

// ErrorLog appends diagnostic entries.
type ErrorLog interface {
	AppendError(ctx context.Context, rec ErrorRecord) error
}

// RunLog records the lifecycle of drain runs.
type RunLog interface {
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	FinishRun(ctx context.Context, summary RunSummary, status RunStatus, errMsg *string) error
}

// Store is the full durable-store contract implemented by every driver.
type Store interface {
	PendingSource
	ResultStore
	ErrorLog
	RunLog
	Close() error
}

// Seeder adds URLs to the pending set. Already-known URLs are ignored.
type Seeder interface {
	Enqueue(ctx context.Context, urls ...string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Notifier announces committed records to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, record Record) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
