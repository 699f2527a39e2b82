package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Window is an inclusive duration range sampled uniformly.
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Validate ensures the window is non-negative and ordered.
func (w Window) Validate() error {
	if w.Min < 0 || w.Max < 0 {
		return fmt.Errorf("window bounds must be >= 0")
	}
	if w.Max < w.Min {
		return fmt.Errorf("window max %s is below min %s", w.Max, w.Min)
	}
	return nil
}

// Jitter paces the drain loop with randomized pauses so requests never follow
// a fixed cadence.
type Jitter struct {
	item  Window
	batch Window

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(context.Context, time.Duration) error
}

// NewJitter builds a Jitter seeded from the runtime's random source.
func NewJitter(item, batch Window) (*Jitter, error) {
	return NewJitterWithSource(item, batch, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewJitterWithSource builds a Jitter over a caller-supplied source.
func NewJitterWithSource(item, batch Window, src rand.Source) (*Jitter, error) {
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("item window: %w", err)
	}
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("batch window: %w", err)
	}
	return &Jitter{
		item:  item,
		batch: batch,
		rng:   rand.New(src),
		sleep: Sleep,
	}, nil
}

// SampleItem draws a per-item delay.
func (j *Jitter) SampleItem() time.Duration {
	return j.sample(j.item)
}

// SampleBatch draws a per-batch delay.
func (j *Jitter) SampleBatch() time.Duration {
	return j.sample(j.batch)
}

// InterItemDelay sleeps a per-item delay and returns it.
func (j *Jitter) InterItemDelay(ctx context.Context) (time.Duration, error) {
	d := j.SampleItem()
	return d, j.sleep(ctx, d)
}

// InterBatchDelay sleeps a per-batch delay and returns it.
func (j *Jitter) InterBatchDelay(ctx context.Context) (time.Duration, error) {
	d := j.SampleBatch()
	return d, j.sleep(ctx, d)
}

func (j *Jitter) sample(w Window) time.Duration {
	span := w.Max - w.Min
	if span <= 0 {
		return w.Min
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return w.Min + time.Duration(j.rng.Int64N(int64(span)+1))
}

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
