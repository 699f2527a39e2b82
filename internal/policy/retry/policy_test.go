package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

func newRecordingPolicy(maxAttempts int, base time.Duration) (*Policy, *[]time.Duration) {
	p := New(Config{MaxAttempts: maxAttempts, BaseDelay: base}, nil)
	var waits []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return p, &waits
}

func TestRunExhaustsTransientFailures(t *testing.T) {
	t.Parallel()

	p, waits := newRecordingPolicy(3, time.Second)
	calls := 0
	res, err := p.Run(context.Background(), func(context.Context, int) (crawler.Record, error) {
		calls++
		return crawler.Record{}, crawler.Transient(errors.New("navigation timeout"))
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, crawler.ResultTransient, res.Kind)
	require.Equal(t, 3, res.Attempts)
	require.ErrorContains(t, res.Err, "navigation timeout")
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
	require.Greater(t, (*waits)[1], (*waits)[0])
}

func TestRunFatalShortCircuits(t *testing.T) {
	t.Parallel()

	p, waits := newRecordingPolicy(5, time.Second)
	calls := 0
	res, err := p.Run(context.Background(), func(context.Context, int) (crawler.Record, error) {
		calls++
		return crawler.Record{}, crawler.Fatal(errors.New("malformed url"))
	})

	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, crawler.ResultFatal, res.Kind)
	require.Empty(t, *waits)
}

func TestRunSucceedsAfterRetry(t *testing.T) {
	t.Parallel()

	p, waits := newRecordingPolicy(3, 10*time.Millisecond)
	name := "Llave"
	res, err := p.Run(context.Background(), func(_ context.Context, attempt int) (crawler.Record, error) {
		if attempt < 2 {
			return crawler.Record{}, errors.New("dom not ready")
		}
		return crawler.Record{ProductName: &name}, nil
	})

	require.NoError(t, err)
	require.Equal(t, crawler.ResultSuccess, res.Kind)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, "Llave", *res.Record.ProductName)
	require.Equal(t, []time.Duration{10 * time.Millisecond}, *waits)
}

func TestRunSucceedsOnFinalAttempt(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond
	p, waits := newRecordingPolicy(3, base)
	calls := 0
	name := "Esmeril"
	res, err := p.Run(context.Background(), func(_ context.Context, attempt int) (crawler.Record, error) {
		calls++
		if attempt < 3 {
			return crawler.Record{}, crawler.Transient(errors.New("render timeout"))
		}
		return crawler.Record{ProductName: &name}, nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, crawler.ResultSuccess, res.Kind)
	require.Equal(t, 3, res.Attempts)
	require.NoError(t, res.Err)
	require.Equal(t, "Esmeril", *res.Record.ProductName)
	require.Equal(t, []time.Duration{base, 2 * base}, *waits)
}

func TestRunCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxAttempts: 3, BaseDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Run(ctx, func(context.Context, int) (crawler.Record, error) {
		return crawler.Record{}, errors.New("flaky")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestRunCanceledDuringAttempt(t *testing.T) {
	t.Parallel()

	p, _ := newRecordingPolicy(3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := p.Run(ctx, func(ctx context.Context, _ int) (crawler.Record, error) {
		calls++
		cancel()
		return crawler.Record{}, ctx.Err()
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	p := New(Config{}, nil)
	require.Equal(t, 3, p.MaxAttempts())
	require.Zero(t, p.Backoff(0))
	require.Zero(t, p.Backoff(2))

	p = New(Config{BaseDelay: 2 * time.Second}, nil)
	require.Equal(t, 4*time.Second, p.Backoff(2))
}
