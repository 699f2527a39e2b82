package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/clock/system"
	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/extract"
	"github.com/JakeFAU/product-scraper/internal/hash/sha256"
	"github.com/JakeFAU/product-scraper/internal/policy/ratelimit"
)

// ErrNotStarted is returned when a session is requested before Start.
var ErrNotStarted = errors.New("rendering engine not started")

const (
	defaultNavTimeout  = 60 * time.Second
	defaultSettleDelay = 2 * time.Second
	defaultViewportW   = 1366
	defaultViewportH   = 768
	snapshotType       = "text/html; charset=utf-8"
)

// Config sets per-session behavior.
type Config struct {
	NavTimeout     time.Duration
	SettleDelay    time.Duration
	ItemTimeout    time.Duration
	ViewportWidth  int
	ViewportHeight int
	BlockResources []string
	ArchivePrefix  string
}

func (c Config) withDefaults() Config {
	if c.NavTimeout <= 0 {
		c.NavTimeout = defaultNavTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = c.NavTimeout + c.SettleDelay + 30*time.Second
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = defaultViewportW
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = defaultViewportH
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = "snapshots"
	}
	return c
}

// Manager owns the engine and runs one scoped session per item.
type Manager struct {
	launch     Launcher
	extractor  *extract.Extractor
	cfg        Config
	identities *IdentityPool
	limiter    *ratelimit.HostLimiter
	archive    crawler.BlobStore
	hasher     *sha256.Hasher
	clock      crawler.Clock
	logger     *zap.Logger

	mu     sync.Mutex
	engine Engine
}

// Option customizes a Manager.
type Option func(*Manager)

// WithIdentityPool sets the user-agent pool.
func WithIdentityPool(pool *IdentityPool) Option {
	return func(m *Manager) {
		if pool != nil {
			m.identities = pool
		}
	}
}

// WithHostLimiter throttles navigations per host.
func WithHostLimiter(l *ratelimit.HostLimiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// WithArchive stores every rendered snapshot in blob storage.
func WithArchive(store crawler.BlobStore) Option {
	return func(m *Manager) { m.archive = store }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used for archive paths.
func WithClock(clock crawler.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager builds a Manager. The engine is not launched until Start.
func NewManager(launch Launcher, extractor *extract.Extractor, cfg Config, opts ...Option) *Manager {
	if extractor == nil {
		extractor = extract.New(nil)
	}
	m := &Manager{
		launch:     launch,
		extractor:  extractor,
		cfg:        cfg.withDefaults(),
		identities: NewIdentityPool(nil, nil),
		hasher:     sha256.New(),
		clock:      system.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the engine. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine != nil {
		return nil
	}
	if m.launch == nil {
		return errors.New("no engine launcher configured")
	}
	engine, err := m.launch(ctx)
	if err != nil {
		return fmt.Errorf("launch engine: %w", err)
	}
	m.engine = engine
	return nil
}

// Close releases the engine.
func (m *Manager) Close() error {
	m.mu.Lock()
	engine := m.engine
	m.engine = nil
	m.mu.Unlock()
	if engine == nil {
		return nil
	}
	if err := engine.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	m.logger.Debug("engine closed", zap.Int("rate_limited_hosts", m.limiter.Hosts()))
	return nil
}

// WithSession renders rawURL in a fresh session and extracts a record. The
// session is closed on every path. Malformed URLs fail fatally; engine and
// navigation errors are transient.
func (m *Manager) WithSession(ctx context.Context, rawURL string) (crawler.Record, error) {
	if err := ValidateURL(rawURL); err != nil {
		return crawler.Record{}, crawler.Fatal(err)
	}
	m.mu.Lock()
	engine := m.engine
	m.mu.Unlock()
	if engine == nil {
		return crawler.Record{}, crawler.Fatal(ErrNotStarted)
	}

	itemCtx, cancel := context.WithTimeout(ctx, m.cfg.ItemTimeout)
	defer cancel()

	if err := m.limiter.Wait(itemCtx, rawURL); err != nil {
		return crawler.Record{}, m.failure(ctx, err)
	}

	session, err := engine.NewSession(itemCtx)
	if err != nil {
		return crawler.Record{}, m.failure(ctx, fmt.Errorf("open session: %w", err))
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			m.logger.Warn("session close failed", zap.String("url", rawURL), zap.Error(closeErr))
		}
	}()

	if err := m.configure(itemCtx, session); err != nil {
		return crawler.Record{}, m.failure(ctx, err)
	}

	finalURL, err := session.Navigate(itemCtx, rawURL, m.cfg.NavTimeout)
	if err != nil {
		return crawler.Record{}, m.failure(ctx, fmt.Errorf("navigate: %w", err))
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	if err := ratelimit.Sleep(itemCtx, m.cfg.SettleDelay); err != nil {
		return crawler.Record{}, m.failure(ctx, fmt.Errorf("settle: %w", err))
	}

	html, err := session.Snapshot(itemCtx)
	if err != nil {
		return crawler.Record{}, m.failure(ctx, err)
	}
	record, err := m.extractor.ExtractHTML(html, finalURL)
	if err != nil {
		return crawler.Record{}, m.failure(ctx, err)
	}
	record.ItemURL = rawURL
	m.archiveSnapshot(itemCtx, rawURL, html)
	return record, nil
}

func (m *Manager) configure(ctx context.Context, session Session) error {
	if err := session.SetIdentity(ctx, m.identities.Pick()); err != nil {
		return err
	}
	if err := session.SetViewport(ctx, m.cfg.ViewportWidth, m.cfg.ViewportHeight); err != nil {
		return err
	}
	if len(m.cfg.BlockResources) > 0 {
		if err := session.BlockResourceTypes(ctx, m.cfg.BlockResources); err != nil {
			return err
		}
	}
	return nil
}

// failure classifies err. Caller cancellation passes through untouched so
// the retry policy can stop; fatal errors keep their class.
func (m *Manager) failure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("session interrupted: %w", ctxErr)
	}
	if crawler.IsFatal(err) {
		return err
	}
	return crawler.Transient(err)
}

func (m *Manager) archiveSnapshot(ctx context.Context, rawURL, html string) {
	if m.archive == nil {
		return
	}
	key := m.snapshotPath(rawURL)
	uri, err := m.archive.PutObject(ctx, key, snapshotType, strings.NewReader(html))
	if err != nil {
		m.logger.Warn("archive snapshot failed", zap.String("url", rawURL), zap.Error(err))
		return
	}
	m.logger.Debug("snapshot archived", zap.String("url", rawURL), zap.String("uri", uri))
}

func (m *Manager) snapshotPath(rawURL string) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	now := m.clock.Now().UTC()
	name := fmt.Sprintf("%s-%d.html", m.hasher.URLKey(rawURL), now.Unix())
	return path.Join(m.cfg.ArchivePrefix, now.Format("2006/01/02"), host, name)
}

// ValidateURL rejects addresses that no retry could fix.
func ValidateURL(rawURL string) error {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return errors.New("empty url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	return nil
}
