package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string
}

// RedisOption mutates a RedisConfig.
type RedisOption func(*RedisConfig)

// WithRedisAddr sets host:port. Empty values are ignored.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) {
		if addr != "" {
			c.Addr = addr
		}
	}
}

// WithRedisPassword sets the password.
func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

// WithRedisDB selects the logical database.
func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

// WithRedisPrefix namespaces every key. Empty values are ignored.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		if prefix != "" {
			c.Prefix = prefix
		}
	}
}

// RedisStore keeps each key as a Redis string. SET replaces a value
// atomically, and listing walks the namespace with SCAN.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, logger *slog.Logger, opts ...RedisOption) (*RedisStore, error) {
	cfg := &RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 2,
		Prefix:       "klinecache",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, NewStorageError("open", "", fmt.Errorf("redis ping: %w", err))
	}

	logger.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisStore{client: client, prefix: cfg.Prefix, logger: logger}, nil
}

func (r *RedisStore) wrapKey(key string) string {
	return r.prefix + ":" + key
}

func (r *RedisStore) unwrapKey(key string) string {
	return strings.TrimPrefix(key, r.prefix+":")
}

// Get implements BlobStore.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.wrapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(key)
		}
		return nil, NewStorageError("get", key, err)
	}
	return data, nil
}

// Put implements BlobStore.
func (r *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.wrapKey(key), data, 0).Err(); err != nil {
		return NewStorageError("put", key, err)
	}
	return nil
}

// Exists implements BlobStore.
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, r.wrapKey(key)).Result()
	if err != nil {
		return false, NewStorageError("exists", key, err)
	}
	return n > 0, nil
}

// List implements BlobStore.
func (r *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := r.wrapKey(escapeGlob(prefix)) + "*"

	keys := []string{}
	iter := r.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.unwrapKey(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, NewStorageError("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements BlobStore.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Unlink(ctx, r.wrapKey(key)).Err(); err != nil {
		return NewStorageError("delete", key, err)
	}
	return nil
}

// HealthCheck pings the server.
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return NewStorageError("health_check", "", err)
	}
	return nil
}

// Close implements BlobStore.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
