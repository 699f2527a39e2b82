// Package postgres implements the durable store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/storage"
)

// Config controls the connection pool and table layout.
type Config struct {
	DSN             string
	Tables          storage.Tables
	RetireMode      crawler.RetireMode
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store implements crawler.Store and crawler.Seeder.
type Store struct {
	pool   pool
	tables storage.Tables
	mode   crawler.RetireMode
}

// New connects to Postgres, optionally creating the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Tables, cfg.RetireMode)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, tables storage.Tables, mode crawler.RetireMode) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	tables = tables.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	switch mode {
	case "":
		mode = crawler.RetireFlag
	case crawler.RetireFlag, crawler.RetireDelete:
	default:
		return nil, fmt.Errorf("unknown retire mode %q", mode)
	}
	return &Store{pool: p, tables: tables, mode: mode}, nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	t := s.tables
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	%s BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, t.Pending, t.PendingFlag),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	item_url TEXT PRIMARY KEY,
	product_name TEXT,
	price DOUBLE PRECISION,
	currency TEXT,
	description TEXT,
	specification TEXT,
	brand TEXT,
	availability TEXT NOT NULL,
	sku TEXT,
	image_url TEXT,
	source_url TEXT NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL
)`, t.Results),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id UUID,
	url TEXT NOT NULL,
	stage TEXT NOT NULL,
	message TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
)`, t.Errors),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	total INTEGER NOT NULL DEFAULT 0,
	attempted INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	interrupted BOOLEAN NOT NULL DEFAULT false,
	success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT
)`, t.Runs),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
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
	query := fmt.Sprintf(`INSERT INTO %s (url)
SELECT unnest($1::text[])
ON CONFLICT (url) DO NOTHING`, s.tables.Pending)
	if _, err := s.pool.Exec(ctx, query, urls); err != nil {
		return fmt.Errorf("enqueue urls: %w", err)
	}
	return nil
}

// FetchPending returns up to limit unretired URLs. A limit <= 0 returns all.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]crawler.WorkItem, error) {
	query := fmt.Sprintf(`SELECT url FROM %s
WHERE %s = false`, s.tables.Pending, s.tables.PendingFlag)
	args := []any{}
	if limit > 0 {
		query += "\nLIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan pending: %w", err)
	}
	items := make([]crawler.WorkItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, crawler.WorkItem{URL: u})
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
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (item_url) DO UPDATE SET
	product_name = EXCLUDED.product_name,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	description = EXCLUDED.description,
	specification = EXCLUDED.specification,
	brand = EXCLUDED.brand,
	availability = EXCLUDED.availability,
	sku = EXCLUDED.sku,
	image_url = EXCLUDED.image_url,
	source_url = EXCLUDED.source_url,
	extracted_at = EXCLUDED.extracted_at`, s.tables.Results)

	args := []any{
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
		record.ExtractedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// RetireItem flags or deletes the pending row for url.
func (s *Store) RetireItem(ctx context.Context, url string) error {
	var query string
	if s.mode == crawler.RetireDelete {
		query = fmt.Sprintf(`DELETE FROM %s WHERE url = $1`, s.tables.Pending)
	} else {
		query = fmt.Sprintf(`UPDATE %s SET %s = true WHERE url = $1`, s.tables.Pending, s.tables.PendingFlag)
	}
	if _, err := s.pool.Exec(ctx, query, url); err != nil {
		return fmt.Errorf("retire item: %w", err)
	}
	return nil
}

// AppendError inserts an error row.
func (s *Store) AppendError(ctx context.Context, rec crawler.ErrorRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (run_id, url, stage, message, attempts, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6)`, s.tables.Errors)
	if _, err := s.pool.Exec(ctx, query, nullableRunID(rec.RunID), rec.URL, rec.Stage, rec.Message, rec.Attempts, rec.Timestamp); err != nil {
		return fmt.Errorf("append error: %w", err)
	}
	return nil
}

// StartRun inserts a running row for runID.
func (s *Store) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`INSERT INTO %s (run_id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO NOTHING`, s.tables.Runs)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, crawler.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, summary crawler.RunSummary, status crawler.RunStatus, errMsg *string) error {
	query := fmt.Sprintf(`UPDATE %s SET
	finished_at = $1, status = $2, total = $3, attempted = $4, succeeded = $5,
	failed = $6, interrupted = $7, success_rate = $8, error_message = $9
WHERE run_id = $10`, s.tables.Runs)
	if _, err := s.pool.Exec(ctx, query,
		summary.FinishedAt,
		status,
		summary.Total,
		summary.Attempted,
		summary.Succeeded,
		summary.Failed,
		summary.Interrupted,
		summary.SuccessRate(),
		errMsg,
		summary.RunID,
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nullableRunID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
