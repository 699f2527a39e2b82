package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageItemStart  Stage = "ITEM_START"
	StageItemDone   Stage = "ITEM_DONE"
	StageBatchPause Stage = "BATCH_PAUSE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event is one progress milestone of a drain run.
type Event struct {
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// URL is the item being processed, empty for run-level stages.
	URL string
	// Outcome is the committer status for ITEM_DONE.
	Outcome  string
	Attempts int
	// Processed counts items that finished an attempt cycle; it and the
	// other counters are running totals at TS.
	Processed   int
	Total       int
	Succeeded   int
	Failed      int
	Interrupted bool
	// Dur is the item latency for ITEM_DONE, the run latency for RUN_DONE and
	// the planned pause for BATCH_PAUSE.
	Dur time.Duration
	// Status is the terminal run status for RUN_DONE and RUN_ERROR.
	Status crawler.RunStatus
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageBatchPause:
	case StageItemStart:
		if e.URL == "" {
			return errors.New("item start requires url")
		}
	case StageItemDone:
		if e.URL == "" {
			return errors.New("item done requires url")
		}
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	case StageRunDone, StageRunError:
		if e.Status == "" {
			return errors.New("run completion requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Processed < 0 || e.Total < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// Percentage returns Processed/Total as a whole percentage rounded to the
// nearest integer, 0 when Total is 0.
func (e Event) Percentage() int {
	if e.Total == 0 {
		return 0
	}
	return int(math.Round(float64(e.Processed) / float64(e.Total) * 100))
}

// Progress converts the event into the progress record reported to callers.
func (e Event) Progress() crawler.Progress {
	status := e.Status
	if status == "" {
		status = crawler.RunRunning
	}
	return crawler.Progress{
		RunID:      e.RunID,
		Processed:  e.Processed,
		Total:      e.Total,
		Percentage: e.Percentage(),
		CurrentURL: e.URL,
		Status:     string(status),
		Timestamp:  e.TS,
	}
}
