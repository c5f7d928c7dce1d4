package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/johnayoung/go-kline-cache/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every store the contract runs against. Redis joins when
// KLINE_TEST_REDIS_ADDR points at a server.
func backends(t *testing.T) map[string]BlobStore {
	t.Helper()
	ctx := context.Background()

	file, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	duck, err := NewDuckDBStore(":memory:", nil)
	require.NoError(t, err, "failed to create test DuckDB storage")
	require.NoError(t, duck.Initialize(ctx))

	stores := map[string]BlobStore{
		BackendFile:   file,
		BackendMemory: NewMemoryStore(),
		BackendDuckDB: duck,
	}

	if addr := os.Getenv("KLINE_TEST_REDIS_ADDR"); addr != "" {
		r, err := NewRedisStore(ctx, nil, WithRedisAddr(addr), WithRedisPrefix(fmt.Sprintf("klinecache-test-%s", t.Name())))
		require.NoError(t, err)
		stores[BackendRedis] = r
	}

	t.Cleanup(func() {
		for name, s := range stores {
			if name == BackendRedis {
				keys, _ := s.List(ctx, "")
				for _, k := range keys {
					s.Delete(ctx, k)
				}
			}
			s.Close()
		}
	})
	return stores
}

func TestBlobStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := "1day/BTC-USDT.csv"

			ok, err := store.Exists(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = store.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)

			require.NoError(t, store.Put(ctx, key, []byte("v1")))
			require.NoError(t, store.Put(ctx, key, []byte("v2")))

			data, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "v2", string(data), "put replaces the whole value")

			ok, err = store.Exists(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, store.Put(ctx, "1day/ETH-USDT.csv", []byte("eth")))
			require.NoError(t, store.Put(ctx, "1hour/BTC-USDT.csv", []byte("btc")))
			require.NoError(t, store.Put(ctx, "list_available/listing.json", []byte(`{"listing":[]}`)))

			keys, err := store.List(ctx, "1day/")
			require.NoError(t, err)
			assert.Equal(t, []string{"1day/BTC-USDT.csv", "1day/ETH-USDT.csv"}, keys)

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 4)

			require.NoError(t, store.Delete(ctx, key))
			require.NoError(t, store.Delete(ctx, key), "deleting a missing key is fine")
			_, err = store.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			if hc, ok := store.(HealthChecker); ok {
				assert.NoError(t, hc.HealthCheck(ctx))
			}
		})
	}
}

func TestBlobStoreConcurrentPuts(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, store.Put(ctx, "5min/BTC-USDT.csv", []byte(fmt.Sprintf("value-%02d", i))))
				}(i)
			}
			wg.Wait()

			data, err := store.Get(ctx, "5min/BTC-USDT.csv")
			require.NoError(t, err)
			assert.Regexp(t, `^value-\d\d$`, string(data), "readers see one complete value")
		})
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"1day/BTC-USDT.csv", false},
		{"list_available/listing.json", false},
		{"list_available", false},
		{"", true},
		{"/etc/passwd", true},
		{"../outside", true},
		{"1day/../../x", true},
		{"1day//x", true},
		{`1day\x`, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFileStore(root, nil)
	require.NoError(t, err)

	require.NoError(t, Prepare(ctx, store, "1day", "list_available"))
	assert.DirExists(t, filepath.Join(root, "1day"))
	assert.DirExists(t, filepath.Join(root, "list_available"))

	require.NoError(t, store.Put(ctx, "1day/BTC-USDT.csv", []byte("x")))
	assert.FileExists(t, filepath.Join(root, "1day", "BTC-USDT.csv"))

	entries, err := os.ReadDir(filepath.Join(root, "1day"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	_, err = NewFileStore("", nil)
	assert.Error(t, err)
}

func TestPrepareWithoutPreparer(t *testing.T) {
	assert.NoError(t, Prepare(context.Background(), NewMemoryStore(), "1day"))
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, Options{Backend: BackendMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = New(ctx, Options{Backend: BackendFile, Root: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = New(ctx, Options{Backend: BackendDuckDB, DuckDBPath: ":memory:"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &DuckDBStore{}, store)
	require.NoError(t, store.Close())

	_, err = New(ctx, Options{Backend: "s3"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfiguration)
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())
	assert.Error(t, store.Put(context.Background(), "a", nil))
}

func TestDuckDBMigrations(t *testing.T) {
	ctx := context.Background()
	duck, err := NewDuckDBStore(":memory:", nil)
	require.NoError(t, err)
	defer duck.Close()

	require.NoError(t, duck.Initialize(ctx))
	require.NoError(t, duck.Initialize(ctx), "migrating twice is a no-op")

	m := NewMigrationManager(duck.db, nil)
	version, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.Latest(), version)

	applied, err := m.Applied(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "create blobs table", applied[0].Description)

	require.NoError(t, duck.Put(ctx, "1day/BTC-USDT.csv", []byte("x")))
	require.NoError(t, m.Rollback(ctx, 0))
	version, err = m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	_, err = duck.Get(ctx, "1day/BTC-USDT.csv")
	assert.Error(t, err, "blobs table is gone after rollback")

	require.NoError(t, m.MigrateToLatest(ctx))
	_, err = duck.Get(ctx, "1day/BTC-USDT.csv")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
