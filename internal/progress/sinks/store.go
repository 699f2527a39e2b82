package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/progress"
)

// StoreSink records run starts and completions in a crawler.RunLog.
type StoreSink struct {
	runs   crawler.RunLog
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided run log.
func NewStoreSink(runs crawler.RunLog, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{runs: runs, logger: logger}
}

// Consume forwards run-level events to the run log and ignores item events.
// The first failing write aborts the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.runs == nil {
		return nil
	}
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.runs.StartRun(ctx, evt.RunID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.runs.FinishRun(ctx, summaryOf(evt), evt.Status, note); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
			s.logger.Debug("run log updated", zap.String("run_id", evt.RunID.String()), zap.String("status", string(evt.Status)))
		}
	}
	return nil
}

func summaryOf(evt progress.Event) crawler.RunSummary {
	return crawler.RunSummary{
		RunID:       evt.RunID,
		StartedAt:   evt.TS.Add(-evt.Dur),
		FinishedAt:  evt.TS,
		Total:       evt.Total,
		Attempted:   evt.Processed,
		Succeeded:   evt.Succeeded,
		Failed:      evt.Failed,
		Interrupted: evt.Interrupted,
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
