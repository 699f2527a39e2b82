// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/product-scraper/internal/crawler"
	"github.com/JakeFAU/product-scraper/internal/storage"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCRAPER_STORE_DSN for store.dsn.
const EnvPrefix = "SCRAPER"

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Engine drivers.
const (
	EngineChromedp = "chromedp"
	EngineStatic   = "static"
)

// Archive and notify drivers share "none" and "memory".
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverLocal  = "local"
	DriverGCS    = "gcs"
	DriverPubSub = "pubsub"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Drain     DrainConfig     `mapstructure:"drain"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects the durable store driver.
type StoreConfig struct {
	Driver          string         `mapstructure:"driver"`
	DSN             string         `mapstructure:"dsn"`
	Path            string         `mapstructure:"path"`
	RetireMode      string         `mapstructure:"retire_mode"`
	AutoMigrate     bool           `mapstructure:"auto_migrate"`
	MaxConns        int32          `mapstructure:"max_conns"`
	MinConns        int32          `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration  `mapstructure:"max_conn_lifetime"`
	Tables          storage.Tables `mapstructure:"tables"`
	SeedURLs        []string       `mapstructure:"seed_urls"`
}

// BrowserConfig configures the rendering engine and per-item session.
type BrowserConfig struct {
	Engine         string        `mapstructure:"engine"`
	Headless       bool          `mapstructure:"headless"`
	NoSandbox      bool          `mapstructure:"no_sandbox"`
	ExecPath       string        `mapstructure:"exec_path"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	ItemTimeout    time.Duration `mapstructure:"item_timeout"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	BlockResources []string      `mapstructure:"block_resources"`
	UserAgents     []string      `mapstructure:"user_agents"`
}

// RetryConfig sets the per-item attempt budget.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// DrainConfig controls fetching and batching.
type DrainConfig struct {
	FetchLimit    int           `mapstructure:"fetch_limit"`
	BatchSize     int           `mapstructure:"batch_size"`
	RetryUnusable bool          `mapstructure:"retry_unusable"`
	Refetch       bool          `mapstructure:"refetch"`
	SeenSetSize   int           `mapstructure:"seen_set_size"`
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
}

// RateLimitConfig holds the jitter windows and the optional per-host ceiling.
type RateLimitConfig struct {
	ItemMin   time.Duration `mapstructure:"item_min"`
	ItemMax   time.Duration `mapstructure:"item_max"`
	BatchMin  time.Duration `mapstructure:"batch_min"`
	BatchMax  time.Duration `mapstructure:"batch_max"`
	HostRPS   float64       `mapstructure:"host_rps"`
	HostBurst int           `mapstructure:"host_burst"`
	Seed      uint64        `mapstructure:"seed"`
}

// ExtractConfig points at an optional selector override file.
type ExtractConfig struct {
	SelectorsFile       string `mapstructure:"selectors_file"`
	AvailabilityDefault string `mapstructure:"availability_default"`
}

// ArchiveConfig selects where rendered snapshots are kept.
type ArchiveConfig struct {
	Driver  string `mapstructure:"driver"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig selects where committed records are announced.
type NotifyConfig struct {
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the optional status server. An empty Addr disables it.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from an optional file plus SCRAPER_* environment
// variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	tables := storage.DefaultTables()
	v.SetDefault("store.driver", StorePostgres)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "data/scraper.db")
	v.SetDefault("store.retire_mode", string(crawler.RetireFlag))
	v.SetDefault("store.auto_migrate", false)
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("store.tables.pending", tables.Pending)
	v.SetDefault("store.tables.pending_flag", tables.PendingFlag)
	v.SetDefault("store.tables.results", tables.Results)
	v.SetDefault("store.tables.errors", tables.Errors)
	v.SetDefault("store.tables.runs", tables.Runs)
	v.SetDefault("store.seed_urls", []string{})

	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.nav_timeout", "60s")
	v.SetDefault("browser.settle_delay", "2s")
	v.SetDefault("browser.item_timeout", "0s")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.block_resources", []string{"stylesheet", "font", "image"})
	v.SetDefault("browser.user_agents", []string{})

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "2s")

	v.SetDefault("drain.fetch_limit", 1000)
	v.SetDefault("drain.batch_size", 100)
	v.SetDefault("drain.retry_unusable", true)
	v.SetDefault("drain.refetch", false)
	v.SetDefault("drain.seen_set_size", 100000)
	v.SetDefault("drain.commit_timeout", "30s")

	v.SetDefault("ratelimit.item_min", "1s")
	v.SetDefault("ratelimit.item_max", "3s")
	v.SetDefault("ratelimit.batch_min", "7m")
	v.SetDefault("ratelimit.batch_max", "8m")
	v.SetDefault("ratelimit.host_rps", 0)
	v.SetDefault("ratelimit.host_burst", 1)
	v.SetDefault("ratelimit.seed", 0)

	v.SetDefault("extract.selectors_file", "")
	v.SetDefault("extract.availability_default", crawler.DefaultAvailability)

	v.SetDefault("archive.driver", DriverNone)
	v.SetDefault("archive.base_dir", "data/snapshots")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "snapshots")

	v.SetDefault("notify.driver", DriverNone)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")

	v.SetDefault("server.addr", "")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "10s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.DSN == "" {
			add("store.dsn is required for the postgres driver")
		}
	case StoreSQLite:
		if c.Store.Path == "" {
			add("store.path is required for the sqlite driver")
		}
	case StoreMemory:
	default:
		add("store.driver %q is not one of postgres, sqlite, memory", c.Store.Driver)
	}
	switch crawler.RetireMode(c.Store.RetireMode) {
	case crawler.RetireFlag, crawler.RetireDelete:
	default:
		add("store.retire_mode %q is not one of flag, delete", c.Store.RetireMode)
	}
	if err := c.Store.Tables.WithDefaults().Validate(); err != nil {
		add("store.tables: %w", err)
	}

	switch c.Browser.Engine {
	case EngineChromedp, EngineStatic:
	default:
		add("browser.engine %q is not one of chromedp, static", c.Browser.Engine)
	}
	if c.Browser.NavTimeout <= 0 {
		add("browser.nav_timeout must be > 0")
	}
	if c.Browser.SettleDelay < 0 {
		add("browser.settle_delay must be >= 0")
	}

	if c.Retry.MaxAttempts <= 0 {
		add("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelay < 0 {
		add("retry.base_delay must be >= 0")
	}
	if c.Drain.FetchLimit <= 0 {
		add("drain.fetch_limit must be > 0")
	}
	if c.Drain.BatchSize <= 0 {
		add("drain.batch_size must be > 0")
	}

	if c.RateLimit.ItemMin < 0 || c.RateLimit.ItemMax < c.RateLimit.ItemMin {
		add("ratelimit.item_min/item_max must satisfy 0 <= min <= max")
	}
	if c.RateLimit.BatchMin < 0 || c.RateLimit.BatchMax < c.RateLimit.BatchMin {
		add("ratelimit.batch_min/batch_max must satisfy 0 <= min <= max")
	}
	if c.RateLimit.HostRPS < 0 {
		add("ratelimit.host_rps must be >= 0")
	}

	switch c.Archive.Driver {
	case DriverNone, DriverMemory:
	case DriverLocal:
		if c.Archive.BaseDir == "" {
			add("archive.base_dir is required for the local driver")
		}
	case DriverGCS:
		if c.Archive.Bucket == "" {
			add("archive.bucket is required for the gcs driver")
		}
	default:
		add("archive.driver %q is not one of none, memory, local, gcs", c.Archive.Driver)
	}

	switch c.Notify.Driver {
	case DriverNone, DriverMemory:
	case DriverPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			add("notify.project_id and notify.topic are required for the pubsub driver")
		}
	default:
		add("notify.driver %q is not one of none, memory, pubsub", c.Notify.Driver)
	}

	return errors.Join(errs...)
}
