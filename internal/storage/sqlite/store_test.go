package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/storage"
)

func newTestStore(t *testing.T, mode crawler.RetireMode) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{
		Path:       filepath.Join(t.TempDir(), "data", "scraper.db"),
		RetireMode: mode,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "x.db"),
		Tables: storage.Tables{Runs: "runs--"},
	})
	assert.Error(t, err)
}

func TestPendingLifecycleWithFlag(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, crawler.RetireFlag)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "https://shop.test/a", "https://shop.test/b", "https://shop.test/a"))
	items, err := store.FetchPending(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []crawler.WorkItem{{URL: "https://shop.test/a"}, {URL: "https://shop.test/b"}}, items)

	require.NoError(t, store.RetireItem(ctx, "https://shop.test/a"))
	items, err = store.FetchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []crawler.WorkItem{{URL: "https://shop.test/b"}}, items)

	var flag int
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT scraped FROM pending_urls WHERE url = ?`, "https://shop.test/a").Scan(&flag))
	assert.Equal(t, 1, flag)
}

func TestRetireByDeleteRemovesRow(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, crawler.RetireDelete)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "https://shop.test/a"))
	require.NoError(t, store.RetireItem(ctx, "https://shop.test/a"))

	var n int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_urls`).Scan(&n))
	assert.Zero(t, n)
}

func TestInsertRecordIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, crawler.RetireFlag)
	ctx := context.Background()

	price := 1299.9
	rec := crawler.Record{
		ItemURL:      "https://shop.test/a",
		ProductName:  strPtr("Taladro"),
		Price:        &price,
		Availability: crawler.DefaultAvailability,
		SourceURL:    "https://shop.test/a",
		ExtractedAt:  time.Now(),
	}
	require.NoError(t, store.InsertRecord(ctx, rec))
	rec.ProductName = strPtr("Taladro Pro")
	require.NoError(t, store.InsertRecord(ctx, rec))

	var (
		n    int
		name sql.NullString
		got  sql.NullFloat64
	)
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT product_name, price FROM products WHERE item_url = ?`, rec.ItemURL).Scan(&name, &got))
	assert.Equal(t, "Taladro Pro", name.String)
	assert.InDelta(t, 1299.9, got.Float64, 1e-9)
}

func TestInsertRecordKeepsNullFields(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, crawler.RetireFlag)
	ctx := context.Background()

	require.NoError(t, store.InsertRecord(ctx, crawler.Record{
		ItemURL:      "https://shop.test/b",
		ProductName:  strPtr("Solo nombre"),
		Availability: crawler.DefaultAvailability,
		SourceURL:    "https://shop.test/b",
		ExtractedAt:  time.Now(),
	}))

	var price sql.NullFloat64
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT price FROM products WHERE item_url = ?`, "https://shop.test/b").Scan(&price))
	assert.False(t, price.Valid)
}

func TestErrorsAndRuns(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, crawler.RetireFlag)
	ctx := context.Background()
	runID := uuid.New()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartRun(ctx, runID, started))
	require.NoError(t, store.StartRun(ctx, runID, started))
	require.NoError(t, store.AppendError(ctx, crawler.ErrorRecord{
		RunID: runID, URL: "https://shop.test/a", Stage: "extract", Message: "timeout", Attempts: 3, Timestamp: started,
	}))
	msg := "launch failed"
	require.NoError(t, store.FinishRun(ctx, crawler.RunSummary{
		RunID: runID, StartedAt: started, FinishedAt: started.Add(time.Minute), Total: 2, Attempted: 2, Succeeded: 1, Failed: 1,
	}, crawler.RunFailed, &msg))

	var (
		status string
		rate   float64
		errMsg sql.NullString
		nErr   int
	)
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT status, success_rate, error_message FROM scrape_runs WHERE run_id = ?`, runID.String()).
		Scan(&status, &rate, &errMsg))
	assert.Equal(t, string(crawler.RunFailed), status)
	assert.InDelta(t, 0.5, rate, 1e-9)
	assert.Equal(t, msg, errMsg.String)

	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scrape_errors WHERE run_id = ?`, runID.String()).Scan(&nErr))
	assert.Equal(t, 1, nErr)
}

func TestFinishRunStoresInterruptedFlag(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, crawler.RetireFlag)
	ctx := context.Background()
	runID := uuid.New()
	started := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartRun(ctx, runID, started))
	require.NoError(t, store.FinishRun(ctx, crawler.RunSummary{
		RunID: runID, StartedAt: started, FinishedAt: started.Add(time.Minute),
		Total: 4, Attempted: 2, Succeeded: 2, Interrupted: true,
	}, crawler.RunInterrupted, nil))

	var (
		status      string
		interrupted bool
	)
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT status, interrupted FROM scrape_runs WHERE run_id = ?`, runID.String()).
		Scan(&status, &interrupted))
	assert.Equal(t, string(crawler.RunInterrupted), status)
	assert.True(t, interrupted)
}

func TestClosedStoreFails(t *testing.T) {
	t.Parallel()
	store, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.FetchPending(context.Background(), 1)
	assert.Error(t, err)
}
