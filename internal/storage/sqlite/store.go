// Package sqlite implements the durable store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/storage"
)

// Config selects the database file and table layout.
type Config struct {
	Path       string
	Tables     storage.Tables
	RetireMode crawler.RetireMode
}

// Store implements crawler.Store and crawler.Seeder.
type Store struct {
	db     *sql.DB
	tables storage.Tables
	mode   crawler.RetireMode
}

// New opens (creating if needed) the database and initializes the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store.path is required")
	}
	tables := cfg.Tables.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	mode := cfg.RetireMode
	switch mode {
	case "":
		mode = crawler.RetireFlag
	case crawler.RetireFlag, crawler.RetireDelete:
	default:
		return nil, fmt.Errorf("unknown retire mode %q", mode)
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, tables: tables, mode: mode}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	t := s.tables
	stmts := []string{
		`PRAGMA busy_timeout = 5000`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url        TEXT PRIMARY KEY,
	%s         INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`, t.Pending, t.PendingFlag),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	item_url      TEXT PRIMARY KEY,
	product_name  TEXT,
	price         REAL,
	currency      TEXT,
	description   TEXT,
	specification TEXT,
	brand         TEXT,
	availability  TEXT NOT NULL,
	sku           TEXT,
	image_url     TEXT,
	source_url    TEXT NOT NULL,
	extracted_at  DATETIME NOT NULL
)`, t.Results),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT,
	url         TEXT NOT NULL,
	stage       TEXT NOT NULL,
	message     TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	occurred_at DATETIME NOT NULL
)`, t.Errors),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id        TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME,
	status        TEXT NOT NULL,
	total         INTEGER NOT NULL DEFAULT 0,
	attempted     INTEGER NOT NULL DEFAULT 0,
	succeeded     INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	interrupted   BOOLEAN NOT NULL DEFAULT 0,
	success_rate  REAL NOT NULL DEFAULT 0,
	error_message TEXT
)`, t.Runs),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Enqueue adds URLs to the pending table, ignoring ones already present.
func (s *Store) Enqueue(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (url) VALUES (?)`, s.tables.Pending)
	for _, u := range urls {
		if _, err := tx.ExecContext(ctx, query, u); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("enqueue %s: %w", u, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

// FetchPending returns up to limit unretired URLs in insertion order. A
// limit <= 0 returns all.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]crawler.WorkItem, error) {
	if limit <= 0 {
		limit = -1
	}
	query := fmt.Sprintf(`SELECT url FROM %s WHERE %s = 0 ORDER BY rowid LIMIT ?`,
		s.tables.Pending, s.tables.PendingFlag)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	defer rows.Close()

	var items []crawler.WorkItem
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		items = append(items, crawler.WorkItem{URL: u})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return items, nil
}

// InsertRecord upserts a record keyed by item_url.
func (s *Store) InsertRecord(ctx context.Context, record crawler.Record) error {
	if record.ItemURL == "" {
		return errors.New("record item url is required")
	}
	query := fmt.Sprintf(`INSERT INTO %s (
	item_url, product_name, price, currency, description, specification,
	brand, availability, sku, image_url, source_url, extracted_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(item_url) DO UPDATE SET
	product_name = excluded.product_name,
	price = excluded.price,
	currency = excluded.currency,
	description = excluded.description,
	specification = excluded.specification,
	brand = excluded.brand,
	availability = excluded.availability,
	sku = excluded.sku,
	image_url = excluded.image_url,
	source_url = excluded.source_url,
	extracted_at = excluded.extracted_at`, s.tables.Results)

	_, err := s.db.ExecContext(ctx, query,
		record.ItemURL,
		record.ProductName,
		record.Price,
		record.Currency,
		record.Description,
		record.Specification,
		record.Brand,
		record.Availability,
		record.SKU,
		record.ImageURL,
		record.SourceURL,
		record.ExtractedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// RetireItem flags or deletes the pending row for url.
func (s *Store) RetireItem(ctx context.Context, url string) error {
	var query string
	if s.mode == crawler.RetireDelete {
		query = fmt.Sprintf(`DELETE FROM %s WHERE url = ?`, s.tables.Pending)
	} else {
		query = fmt.Sprintf(`UPDATE %s SET %s = 1 WHERE url = ?`, s.tables.Pending, s.tables.PendingFlag)
	}
	if _, err := s.db.ExecContext(ctx, query, url); err != nil {
		return fmt.Errorf("retire item: %w", err)
	}
	return nil
}

// AppendError inserts an error row.
func (s *Store) AppendError(ctx context.Context, rec crawler.ErrorRecord) error {
	var runID *string
	if rec.RunID != uuid.Nil {
		id := rec.RunID.String()
		runID = &id
	}
	query := fmt.Sprintf(`INSERT INTO %s (run_id, url, stage, message, attempts, occurred_at)
VALUES (?, ?, ?, ?, ?, ?)`, s.tables.Errors)
	if _, err := s.db.ExecContext(ctx, query, runID, rec.URL, rec.Stage, rec.Message, rec.Attempts, rec.Timestamp.UTC()); err != nil {
		return fmt.Errorf("append error: %w", err)
	}
	return nil
}

// StartRun inserts a running row for runID.
func (s *Store) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (run_id, started_at, status) VALUES (?, ?, ?)`, s.tables.Runs)
	if _, err := s.db.ExecContext(ctx, query, runID.String(), startedAt.UTC(), string(crawler.RunRunning)); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, summary crawler.RunSummary, status crawler.RunStatus, errMsg *string) error {
	query := fmt.Sprintf(`UPDATE %s SET
	finished_at = ?, status = ?, total = ?, attempted = ?, succeeded = ?,
	failed = ?, interrupted = ?, success_rate = ?, error_message = ?
WHERE run_id = ?`, s.tables.Runs)
	_, err := s.db.ExecContext(ctx, query,
		summary.FinishedAt.UTC(),
		string(status),
		summary.Total,
		summary.Attempted,
		summary.Succeeded,
		summary.Failed,
		summary.Interrupted,
		summary.SuccessRate(),
		errMsg,
		summary.RunID.String(),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
