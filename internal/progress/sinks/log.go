package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Item starts are logged at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("processed", evt.Processed),
			zap.Int("total", evt.Total),
			zap.Int("percentage", evt.Percentage()),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome), zap.Int("attempts", evt.Attempts))
		}
		if evt.Status != "" {
			fields = append(fields,
				zap.String("status", string(evt.Status)),
				zap.Int("succeeded", evt.Succeeded),
				zap.Int("failed", evt.Failed),
				zap.Bool("interrupted", evt.Interrupted),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageItemStart:
			s.logger.Debug("progress event", fields...)
		case progress.StageRunError:
			s.logger.Error("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
