package crawler

import (
	"time"

	"github.com/google/uuid"
)

// DefaultAvailability is recorded when no availability selector matches.
const DefaultAvailability = "Unavailable"

// WorkItem is a single pending URL awaiting extraction. Its identity is the URL.
type WorkItem struct {
	URL string `json:"url"`
}

// Record is the structured product data extracted from one rendered page.
// Every field except Availability, SourceURL and ItemURL is nullable; absence
// is expressed as nil rather than an empty value.
type Record struct {
	// ItemURL is the pending URL that produced the record and the idempotence key.
	ItemURL       string    `json:"item_url"`
	ProductName   *string   `json:"product_name"`
	Price         *float64  `json:"price"`
	Currency      *string   `json:"currency"`
	Description   *string   `json:"description"`
	Specification *string   `json:"specification"`
	Brand         *string   `json:"brand"`
	Availability  string    `json:"availability"`
	SKU           *string   `json:"sku"`
	ImageURL      *string   `json:"image_url"`
	SourceURL     string    `json:"source_url"`
	ExtractedAt   time.Time `json:"extracted_at"`
}

// Usable reports whether the record carries a product name or a price.
func (r Record) Usable() bool {
	return r.ProductName != nil || r.Price != nil
}

// ResultKind classifies the outcome of an extraction attempt.
type ResultKind string

// Attempt outcome kinds.
const (
	ResultSuccess   ResultKind = "success"
	ResultTransient ResultKind = "transient"
	ResultFatal     ResultKind = "fatal"
)

// AttemptResult is the final outcome of a retried extraction for one item.
type AttemptResult struct {
	Kind     ResultKind
	Record   Record
	Err      error
	Attempts int
}

// Succeeded reports whether the result carries a record.
func (r AttemptResult) Succeeded() bool {
	return r.Kind == ResultSuccess
}

// ErrorRecord is an append-only diagnostic entry for a failed item.
type ErrorRecord struct {
	RunID     uuid.UUID `json:"run_id"`
	URL       string    `json:"url"`
	Message   string    `json:"message"`
	Stage     string    `json:"stage"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is a snapshot of how far the current run has advanced.
type Progress struct {
	RunID      uuid.UUID `json:"run_id"`
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	Percentage int       `json:"percentage"`
	CurrentURL string    `json:"current_url"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunStatus is the lifecycle state persisted for a drain run.
type RunStatus string

// Run statuses.
const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// RunSummary holds the final counters of a drain run.
type RunSummary struct {
	RunID       uuid.UUID `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Total       int       `json:"total"`
	Attempted   int       `json:"attempted"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Interrupted bool      `json:"interrupted"`
}

// SuccessRate returns Succeeded/Total, or 0 for an empty run.
func (s RunSummary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}

// Status derives the persisted run status from the counters.
func (s RunSummary) Status() RunStatus {
	if s.Interrupted {
		return RunInterrupted
	}
	return RunCompleted
}

// RetireMode selects how a committed work item leaves the pending set.
type RetireMode string

// Retire modes.
const (
	RetireFlag   RetireMode = "flag"
	RetireDelete RetireMode = "delete"
)
