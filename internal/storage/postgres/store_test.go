package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/storage"
)

func newMockStore(t *testing.T, mode crawler.RetireMode) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, storage.Tables{}, mode)
	require.NoError(t, err)
	return store, mock
}

func strPtr(s string) *string { return &s }

func TestNewWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, storage.Tables{}, crawler.RetireFlag)
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, storage.Tables{Results: "bad name"}, crawler.RetireFlag)
	assert.Error(t, err)
	_, err = NewWithPool(mock, storage.Tables{}, crawler.RetireMode("archive"))
	assert.Error(t, err)
}

func TestFetchPendingSelectsUnretired(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	mock.ExpectQuery("SELECT url FROM pending_urls WHERE scraped = false LIMIT").
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).
			AddRow("https://shop.test/a").
			AddRow("https://shop.test/b"))

	items, err := store.FetchPending(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []crawler.WorkItem{{URL: "https://shop.test/a"}, {URL: "https://shop.test/b"}}, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPendingWrapsQueryError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	mock.ExpectQuery("SELECT url FROM pending_urls").WillReturnError(errors.New("conn reset"))

	_, err := store.FetchPending(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch pending")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordUpsertsByItemURL(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	price := 12990.0
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	rec := crawler.Record{
		ItemURL:      "https://shop.test/a",
		ProductName:  strPtr("Taladro"),
		Price:        &price,
		Availability: "InStock",
		SourceURL:    "https://shop.test/a?redirected=1",
		ExtractedAt:  now,
	}

	mock.ExpectExec(`INSERT INTO products .* ON CONFLICT \(item_url\) DO UPDATE SET`).
		WithArgs(
			rec.ItemURL,
			rec.ProductName,
			rec.Price,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			"InStock",
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			rec.SourceURL,
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, store.InsertRecord(context.Background(), crawler.Record{}))
}

func TestRetireItemByFlag(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	mock.ExpectExec("UPDATE pending_urls SET scraped = true WHERE url").
		WithArgs("https://shop.test/a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RetireItem(context.Background(), "https://shop.test/a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetireItemByDelete(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireDelete)

	mock.ExpectExec("DELETE FROM pending_urls WHERE url").
		WithArgs("https://shop.test/a").
		WillReturnError(errors.New("deadlock"))

	err := store.RetireItem(context.Background(), "https://shop.test/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retire item")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendErrorStoresNullRunID(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	mock.ExpectExec("INSERT INTO scrape_errors").
		WithArgs((*uuid.UUID)(nil), "https://shop.test/a", "extract", "timeout", 3, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.AppendError(context.Background(), crawler.ErrorRecord{
		URL: "https://shop.test/a", Stage: "extract", Message: "timeout", Attempts: 3, Timestamp: at,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	runID := uuid.New()
	started := time.Date(2025, 3, 4, 5, 0, 0, 0, time.UTC)
	finished := started.Add(time.Hour)
	summary := crawler.RunSummary{
		RunID: runID, StartedAt: started, FinishedAt: finished,
		Total: 4, Attempted: 4, Succeeded: 3, Failed: 1,
	}

	mock.ExpectExec(`INSERT INTO scrape_runs .* ON CONFLICT \(run_id\) DO NOTHING`).
		WithArgs(runID, started, crawler.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE scrape_runs SET").
		WithArgs(finished, crawler.RunCompleted, 4, 4, 3, 1, false, 0.75, (*string)(nil), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, store.StartRun(ctx, runID, started))
	require.NoError(t, store.FinishRun(ctx, summary, crawler.RunCompleted, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunStoresInterruptedFlag(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	runID := uuid.New()
	finished := time.Date(2025, 3, 4, 6, 0, 0, 0, time.UTC)
	summary := crawler.RunSummary{
		RunID: runID, FinishedAt: finished, Total: 4, Attempted: 2, Succeeded: 2, Interrupted: true,
	}

	mock.ExpectExec(`UPDATE scrape_runs SET .* interrupted = \$7`).
		WithArgs(finished, crawler.RunInterrupted, 4, 2, 2, 0, true, 0.5, (*string)(nil), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.FinishRun(context.Background(), summary, crawler.RunInterrupted, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaDeclaresInterruptedBoolean(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	for _, table := range []string{"pending_urls", "products", "scrape_errors"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	}
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS scrape_runs .* interrupted BOOLEAN NOT NULL DEFAULT false`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueAndEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t, crawler.RetireFlag)

	for _, table := range []string{"pending_urls", "products", "scrape_errors", "scrape_runs"} {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	}
	mock.ExpectExec("INSERT INTO pending_urls").
		WithArgs([]string{"https://shop.test/a"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Enqueue(ctx, "https://shop.test/a"))
	require.NoError(t, store.Enqueue(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
