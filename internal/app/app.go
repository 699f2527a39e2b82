// Package app initializes and holds long-lived services for one scraper
// process, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/product-scraper/internal/api"
	"github.com/JakeFAU/product-scraper/internal/browser"
	"github.com/JakeFAU/product-scraper/internal/clock/system"
	"github.com/JakeFAU/product-scraper/internal/commit"
	"github.com/JakeFAU/product-scraper/internal/config"
	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/drain"
	"github.com/JakeFAU/product-scraper/internal/extract"
	iduuid "github.com/JakeFAU/product-scraper/internal/id/uuid"
	"github.com/JakeFAU/product-scraper/internal/logging"
	"github.com/JakeFAU/product-scraper/internal/metrics"
	"github.com/JakeFAU/product-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/product-scraper/internal/policy/retry"
	"github.com/JakeFAU/product-scraper/internal/progress"
	"github.com/JakeFAU/product-scraper/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/product-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/product-scraper/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/product-scraper/internal/storage/gcs"
	"github.com/JakeFAU/product-scraper/internal/storage/local"
	"github.com/JakeFAU/product-scraper/internal/storage/memory"
	"github.com/JakeFAU/product-scraper/internal/storage/postgres"
	"github.com/JakeFAU/product-scraper/internal/storage/sqlite"
)

// App holds the shared services for a single drain process. It is built once
// at startup by New and torn down by Close.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    crawler.Store
	archive  crawler.BlobStore
	notifier crawler.Notifier
	manager  *browser.Manager
	loop     *drain.Loop
	hub      *progress.Hub
	snapshot *sinks.SnapshotSink
	registry *prometheus.Registry
	metrics  *metrics.Collectors

	server   *http.Server
	listener net.Listener
	serveErr chan error

	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	launcher browser.Launcher
	store    crawler.Store
	clock    crawler.Clock
}

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLauncher replaces the engine launcher selected by browser.engine.
func WithLauncher(launch browser.Launcher) Option {
	return func(o *options) { o.launcher = launch }
}

// WithStore replaces the store selected by store.driver. The App does not
// close an injected store.
func WithStore(store crawler.Store) Option {
	return func(o *options) { o.store = store }
}

// WithClock overrides the wall clock.
func WithClock(clock crawler.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store exposes the durable store.
func (a *App) Store() crawler.Store {
	return a.store
}

// Archive exposes the snapshot blob store, or nil when archiving is off.
func (a *App) Archive() crawler.BlobStore {
	return a.archive
}

// Notifier exposes the commit notifier, or nil when notifications are off.
func (a *App) Notifier() crawler.Notifier {
	return a.notifier
}

// Progress returns the latest progress snapshot.
func (a *App) Progress() (crawler.Progress, bool) {
	return a.snapshot.Latest()
}

// Registry exposes the Prometheus registry served on /metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Addr reports the status server's bound address, or "" when disabled.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// New wires every service from cfg. It fails fast when a required service
// cannot be initialized and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			if a.hub != nil {
				_ = a.hub.Close(context.WithoutCancel(ctx))
			}
			_ = a.closeResources()
		}
	}()

	a.logger = o.logger
	if a.logger == nil {
		a.logger, err = logging.New(logging.Config{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	clock := o.clock
	if clock == nil {
		clock = system.New()
	}

	if err := a.initStore(ctx, o.store); err != nil {
		return nil, err
	}
	if err := a.seed(ctx); err != nil {
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		return nil, err
	}
	if err := a.initNotifier(ctx); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	extractor, err := a.buildExtractor(clock)
	if err != nil {
		return nil, err
	}
	a.manager = a.buildManager(o.launcher, extractor, clock)

	pacer, err := a.buildPacer()
	if err != nil {
		return nil, err
	}
	policy := retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}, a.logger.Named("retry"))

	commitOpts := []commit.Option{
		commit.WithClock(clock),
		commit.WithLogger(a.logger.Named("commit")),
	}
	if a.notifier != nil {
		commitOpts = append(commitOpts, commit.WithNotifier(a.notifier))
	}
	committer := commit.New(a.store, a.store, commitOpts...)

	if err := a.initProgress(); err != nil {
		return nil, err
	}

	a.loop, err = drain.New(
		drain.Config{
			FetchLimit:    cfg.Drain.FetchLimit,
			BatchSize:     cfg.Drain.BatchSize,
			RetryUnusable: cfg.Drain.RetryUnusable,
			Refetch:       cfg.Drain.Refetch,
			SeenSetSize:   cfg.Drain.SeenSetSize,
			CommitTimeout: cfg.Drain.CommitTimeout,
		},
		a.store,
		a.manager,
		policy,
		committer,
		pacer,
		drain.WithEmitter(a.hub),
		drain.WithRunIDs(iduuid.New()),
		drain.WithClock(clock),
		drain.WithLogger(a.logger.Named("drain")),
	)
	if err != nil {
		return nil, fmt.Errorf("init drain loop: %w", err)
	}

	if err := a.startServer(); err != nil {
		return nil, err
	}

	a.logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("engine", cfg.Browser.Engine),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("notify", cfg.Notify.Driver),
		zap.Int("max_attempts", policy.MaxAttempts()),
		zap.String("status_addr", a.Addr()),
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context, injected crawler.Store) error {
	if injected != nil {
		a.store = injected
		return nil
	}
	sc := a.cfg.Store
	mode := crawler.RetireMode(sc.RetireMode)
	switch sc.Driver {
	case config.StorePostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             sc.DSN,
			Tables:          sc.Tables,
			RetireMode:      mode,
			MaxConns:        sc.MaxConns,
			MinConns:        sc.MinConns,
			MaxConnLifetime: sc.MaxConnLifetime,
			AutoMigrate:     sc.AutoMigrate,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.store = store
	case config.StoreSQLite:
		store, err := sqlite.New(ctx, sqlite.Config{
			Path:       sc.Path,
			Tables:     sc.Tables,
			RetireMode: mode,
		})
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		a.store = store
	case config.StoreMemory:
		a.store = memory.NewStore(mode)
	default:
		return fmt.Errorf("unknown store driver %q", sc.Driver)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) seed(ctx context.Context) error {
	urls := a.cfg.Store.SeedURLs
	if len(urls) == 0 {
		return nil
	}
	seeder, ok := a.store.(crawler.Seeder)
	if !ok {
		return fmt.Errorf("store driver %q cannot be seeded", a.cfg.Store.Driver)
	}
	if err := seeder.Enqueue(ctx, urls...); err != nil {
		return fmt.Errorf("seed pending items: %w", err)
	}
	a.logger.Info("seeded pending items", zap.Int("count", len(urls)))
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	ac := a.cfg.Archive
	switch ac.Driver {
	case config.DriverNone, "":
	case config.DriverMemory:
		a.archive = memory.NewBlobStore()
	case config.DriverLocal:
		store, err := local.New(local.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
	case config.DriverGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: ac.Bucket, Prefix: ac.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.archive = store
	default:
		return fmt.Errorf("unknown archive driver %q", ac.Driver)
	}
	return nil
}

func (a *App) initNotifier(ctx context.Context) error {
	nc := a.cfg.Notify
	switch nc.Driver {
	case config.DriverNone, "":
	case config.DriverMemory:
		a.notifier = memorypublisher.New()
	case config.DriverPubSub:
		client, err := pubsub.NewClient(ctx, nc.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		notifier, err := pubsubpublisher.New(client, nc.Topic)
		if err != nil {
			return fmt.Errorf("init pubsub notifier: %w", err)
		}
		a.closers = append(a.closers, func() error {
			notifier.Close()
			return nil
		})
		a.notifier = notifier
	default:
		return fmt.Errorf("unknown notify driver %q", nc.Driver)
	}
	return nil
}

func (a *App) buildExtractor(clock crawler.Clock) (*extract.Extractor, error) {
	table, source := extract.DefaultTable(), "builtin"
	if path := a.cfg.Extract.SelectorsFile; path != "" {
		loaded, err := extract.LoadTable(path)
		if err != nil {
			return nil, fmt.Errorf("load selectors: %w", err)
		}
		table, source = loaded, path
	}
	a.logger.Info("selector table ready",
		zap.Int("fields", len(table.Fields())),
		zap.String("source", source),
	)
	return extract.New(table,
		extract.WithAvailabilityDefault(a.cfg.Extract.AvailabilityDefault),
		extract.WithClock(clock),
	), nil
}

func (a *App) buildManager(launch browser.Launcher, extractor *extract.Extractor, clock crawler.Clock) *browser.Manager {
	bc := a.cfg.Browser
	if launch == nil {
		switch bc.Engine {
		case config.EngineStatic:
			launch = browser.StaticLauncher()
		default:
			launch = browser.ChromedpLauncher(browser.ChromedpConfig{
				Headless:  bc.Headless,
				NoSandbox: bc.NoSandbox,
				ExecPath:  bc.ExecPath,
			}, a.logger.Named("chromedp"))
		}
	}
	identities := browser.NewIdentityPool(bc.UserAgents, a.randSource())
	a.logger.Debug("identity pool ready", zap.Int("user_agents", identities.Size()))
	opts := []browser.Option{
		browser.WithIdentityPool(identities),
		browser.WithClock(clock),
		browser.WithLogger(a.logger.Named("browser")),
	}
	if a.cfg.RateLimit.HostRPS > 0 {
		opts = append(opts, browser.WithHostLimiter(ratelimit.NewHostLimiter(ratelimit.HostConfig{
			RPS:     a.cfg.RateLimit.HostRPS,
			Burst:   a.cfg.RateLimit.HostBurst,
			Observe: a.metrics.ObserveHostWait,
		})))
	}
	if a.archive != nil {
		opts = append(opts, browser.WithArchive(a.archive))
	}
	return browser.NewManager(launch, extractor, browser.Config{
		NavTimeout:     bc.NavTimeout,
		SettleDelay:    bc.SettleDelay,
		ItemTimeout:    bc.ItemTimeout,
		ViewportWidth:  bc.ViewportWidth,
		ViewportHeight: bc.ViewportHeight,
		BlockResources: bc.BlockResources,
		ArchivePrefix:  a.cfg.Archive.Prefix,
	}, opts...)
}

func (a *App) buildPacer() (*ratelimit.Jitter, error) {
	rc := a.cfg.RateLimit
	item := ratelimit.Window{Min: rc.ItemMin, Max: rc.ItemMax}
	batch := ratelimit.Window{Min: rc.BatchMin, Max: rc.BatchMax}
	jitter, err := ratelimit.NewJitterWithSource(item, batch, a.randSource())
	if err != nil {
		return nil, fmt.Errorf("init pacer: %w", err)
	}
	return jitter, nil
}

// randSource returns a deterministic source when ratelimit.seed is set.
func (a *App) randSource() rand.Source {
	if seed := a.cfg.RateLimit.Seed; seed > 0 {
		return rand.NewPCG(seed, seed)
	}
	return rand.NewPCG(rand.Uint64(), rand.Uint64())
}

func (a *App) initProgress() error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	a.snapshot = sinks.NewSnapshotSink()

	pc := a.cfg.Progress
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.MaxBatchEvents,
		MaxBatchWait:   pc.MaxBatchWait,
		SinkTimeout:    pc.SinkTimeout,
		Logger:         a.logger.Named("progress"),
	},
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(a.store, a.logger.Named("runlog")),
		a.snapshot,
	)
	return nil
}

func (a *App) startServer() error {
	addr := a.cfg.Server.Addr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	a.listener = ln
	handler := api.NewServer(
		a.snapshot,
		a.registry,
		api.Config{},
		a.logger.Named("api"),
		api.WithMiddleware(a.metrics.Middleware),
	).Handler()
	a.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.serveErr = make(chan error, 1)
	go func() {
		a.logger.Info("status server started", zap.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server error", zap.Error(err))
			a.serveErr <- err
		}
		close(a.serveErr)
	}()
	return nil
}

// Run drains the pending set once. Errors are run-fatal; an interrupted run
// returns a summary with Interrupted set and a nil error.
func (a *App) Run(ctx context.Context) (crawler.RunSummary, error) {
	summary, err := a.loop.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("drain run: %w", err)
	}
	return summary, nil
}

// Close flushes progress, stops the status server, and releases every
// resource New opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if a.hub != nil {
		if err := a.hub.Close(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
	}
	if a.server != nil {
		if err := a.server.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown status server: %w", err))
		}
	}
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// closeResources runs closers in reverse order of acquisition.
func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
