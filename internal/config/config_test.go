package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
  seed_urls: ["https://shop.test/a"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, []string{"https://shop.test/a"}, cfg.Store.SeedURLs)
	assert.Equal(t, "flag", cfg.Store.RetireMode)
	assert.Equal(t, "pending_urls", cfg.Store.Tables.Pending)
	assert.Equal(t, "scraped", cfg.Store.Tables.PendingFlag)

	assert.Equal(t, EngineChromedp, cfg.Browser.Engine)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.NoSandbox)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavTimeout)
	assert.Equal(t, 2*time.Second, cfg.Browser.SettleDelay)
	assert.Equal(t, []string{"stylesheet", "font", "image"}, cfg.Browser.BlockResources)

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 100, cfg.Drain.BatchSize)
	assert.True(t, cfg.Drain.RetryUnusable)

	assert.Equal(t, time.Second, cfg.RateLimit.ItemMin)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.ItemMax)
	assert.Equal(t, 7*time.Minute, cfg.RateLimit.BatchMin)
	assert.Equal(t, 8*time.Minute, cfg.RateLimit.BatchMax)

	assert.Equal(t, "Unavailable", cfg.Extract.AvailabilityDefault)
	assert.Equal(t, DriverNone, cfg.Archive.Driver)
	assert.Equal(t, DriverNone, cfg.Notify.Driver)
	assert.Empty(t, cfg.Server.Addr)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  development: true
  level: debug
store:
  driver: sqlite
  path: /tmp/x.db
  retire_mode: delete
  tables:
    results: productos
browser:
  engine: static
  nav_timeout: 30s
  user_agents: ["agent-a", "agent-b"]
retry:
  max_attempts: 5
  base_delay: 500ms
drain:
  batch_size: 10
  refetch: true
ratelimit:
  item_min: 0s
  item_max: 0s
  batch_min: 1s
  batch_max: 2s
  host_rps: 0.5
archive:
  driver: local
  base_dir: /tmp/snapshots
notify:
  driver: pubsub
  project_id: proj
  topic: products
server:
  addr: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "delete", cfg.Store.RetireMode)
	assert.Equal(t, "productos", cfg.Store.Tables.Results)
	assert.Equal(t, "pending_urls", cfg.Store.Tables.Pending)
	assert.Equal(t, EngineStatic, cfg.Browser.Engine)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavTimeout)
	assert.Equal(t, []string{"agent-a", "agent-b"}, cfg.Browser.UserAgents)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 10, cfg.Drain.BatchSize)
	assert.True(t, cfg.Drain.Refetch)
	assert.Zero(t, cfg.RateLimit.ItemMax)
	assert.InDelta(t, 0.5, cfg.RateLimit.HostRPS, 1e-9)
	assert.Equal(t, DriverLocal, cfg.Archive.Driver)
	assert.Equal(t, "products", cfg.Notify.Topic)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPER_STORE_DRIVER", "postgres")
	t.Setenv("SCRAPER_STORE_DSN", "postgres://u:p@localhost/db")
	t.Setenv("SCRAPER_DRAIN_BATCH_SIZE", "25")
	t.Setenv("SCRAPER_BROWSER_HEADLESS", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Store.DSN)
	assert.Equal(t, 25, cfg.Drain.BatchSize)
	assert.False(t, cfg.Browser.Headless)
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	_, err := Load(writeConfig(t, "store:\n  driver: postgres\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Store:     StoreConfig{Driver: "mongo", RetireMode: "archive"},
		Browser:   BrowserConfig{Engine: "firefox"},
		RateLimit: RateLimitConfig{ItemMin: 3 * time.Second, ItemMax: time.Second},
		Archive:   ArchiveConfig{Driver: DriverGCS},
		Notify:    NotifyConfig{Driver: DriverPubSub},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"store.driver",
		"store.retire_mode",
		"browser.engine",
		"browser.nav_timeout",
		"retry.max_attempts",
		"drain.fetch_limit",
		"drain.batch_size",
		"ratelimit.item_min",
		"archive.bucket",
		"notify.project_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsBadTableName(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "store:\n  driver: memory\n"))
	require.NoError(t, err)
	cfg.Store.Tables.Errors = "errors; drop"
	assert.ErrorContains(t, cfg.Validate(), "store.tables")
}
