package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/product-scraper/internal/progress"
)

// PrometheusSink exports drain progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   prometheus.Histogram

	items        *prometheus.CounterVec
	itemAttempts prometheus.Histogram
	itemDuration *prometheus.HistogramVec
	batchPauses  prometheus.Counter
	progress     prometheus.Gauge

	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_runs_started_total",
			Help: "Drain runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_completed_total",
			Help: "Drain runs finished, partitioned by terminal status.",
		}, []string{"status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_runs_running",
			Help: "Drain runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_items_total",
			Help: "Items processed, partitioned by commit outcome.",
		}, []string{"outcome"}),
		itemAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_item_attempts",
			Help:    "Attempts used per processed item.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_item_duration_seconds",
			Help:    "Item latency from first attempt to commit, partitioned by outcome.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"outcome"}),
		batchPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_batch_pauses_total",
			Help: "Inter-batch pauses taken.",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_progress_ratio",
			Help: "Fraction of the current run's items processed.",
		}),
		running: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.items,
		s.itemAttempts,
		s.itemDuration,
		s.batchPauses,
		s.progress,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. The hub calls it from a single goroutine.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	id := evt.RunID.String()
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if _, ok := s.running[id]; !ok {
			s.running[id] = struct{}{}
			s.runsRunning.Inc()
		}
		s.progress.Set(0)
	case progress.StageItemDone:
		s.items.WithLabelValues(evt.Outcome).Inc()
		if evt.Attempts > 0 {
			s.itemAttempts.Observe(float64(evt.Attempts))
		}
		if evt.Dur > 0 {
			s.itemDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
		}
		if evt.Total > 0 {
			s.progress.Set(float64(evt.Processed) / float64(evt.Total))
		}
	case progress.StageBatchPause:
		s.batchPauses.Inc()
	case progress.StageRunDone, progress.StageRunError:
		s.runsCompleted.WithLabelValues(string(evt.Status)).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
		if _, ok := s.running[id]; ok {
			delete(s.running, id)
			s.runsRunning.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
