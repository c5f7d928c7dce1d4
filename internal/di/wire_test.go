package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-kline-cache/internal/config"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.DefaultConfig()
	require.NoError(t, err)
	cfg.Storage.Backend = "memory"
	cfg.Logging.Output = "stderr"
	cfg.Catalog.RefreshOnStart = false
	return cfg
}

func TestInitializeApp(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, app)
	defer cleanup()

	assert.NotNil(t, app.Service())
}

func TestInitializeAppFileBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "file"
	cfg.Storage.Root = t.TempDir()

	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, app)
}

func TestInitializeAppRejectsBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Timezone = "Mars/Olympus_Mons"

	app, cleanup, err := InitializeApp(cfg)
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Nil(t, cleanup)
}

func TestProvideMetrics(t *testing.T) {
	cfg := testConfig(t)
	assert.NotNil(t, ProvideMetrics(cfg))

	cfg.Metrics.Enabled = false
	assert.Nil(t, ProvideMetrics(cfg))
}

func TestProvideSchedulerRegistersCatalogRefresh(t *testing.T) {
	cfg := testConfig(t)
	lm, cleanupLogger, err := ProvideLoggerManager(cfg)
	require.NoError(t, err)
	defer cleanupLogger()
	logger := ProvideLogger(lm)

	blobs, cleanupStore, err := ProvideBlobStore(cfg, logger)
	require.NoError(t, err)
	defer cleanupStore()

	cat := ProvideCatalog(blobs, ProvideKucoinAdapter(cfg, logger, nil), logger, nil)
	sched, err := ProvideScheduler(cat, cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.GetStats().TotalJobs)
}
