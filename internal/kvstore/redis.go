package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/opqueue/internal/config"
	"github.com/rzpsarthak13/opqueue/internal/core"
)

// RedisOptions configures a RedisKVStore.
type RedisOptions struct {
	Endpoints    []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisKVStore implements core.KVStore on a single Redis node.
type RedisKVStore struct {
	client *redis.Client
	closed atomic.Bool
	log    *slog.Logger
}

// NewRedisKVStore connects to the first endpoint and pings it.
func NewRedisKVStore(opts RedisOptions) (*RedisKVStore, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	// TODO: use redis.NewClusterClient when more than one endpoint is configured.
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Endpoints[0],
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisKVStoreFromClient(client), nil
}

// NewRedisKVStoreFromClient wraps an existing client.
func NewRedisKVStoreFromClient(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{
		client: client,
		log:    slog.Default().With("component", "kvstore", "backend", "redis"),
	}
}

// Get retrieves a value by key from the store.
func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.log.Debug("key not found", "key", key)
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	r.log.Debug("get", "key", key, "bytes", len(val))
	return val, nil
}

// Set stores a key-value pair. A zero ttl never expires.
func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return ErrClosed
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	r.log.Debug("set", "key", key, "bytes", len(value), "ttl", ttl)
	return nil
}

// Delete removes a key from the store. DEL answers with the number of keys
// removed, so existence and removal are one round trip.
func (r *RedisKVStore) Delete(ctx context.Context, key string) (bool, error) {
	if r.closed.Load() {
		return false, ErrClosed
	}

	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return n > 0, nil
}

// Exists checks if a key exists in the store.
func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if r.closed.Load() {
		return false, ErrClosed
	}

	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return count > 0, nil
}

// Close closes the connection pool.
func (r *RedisKVStore) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}

// Client returns the underlying Redis client.
func (r *RedisKVStore) Client() *redis.Client {
	return r.client
}

// ListPushCapped appends values to the list at key and trims it to the
// newest maxLen entries in one pipeline.
func (r *RedisKVStore) ListPushCapped(ctx context.Context, key string, maxLen int64, values ...[]byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if len(values) == 0 {
		return nil
	}

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, args...)
	pipe.LTrim(ctx, key, -maxLen, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push to list %s: %w", key, err)
	}
	return nil
}

// ListRange returns a range of elements from a list (LRANGE).
func (r *RedisKVStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", key, err)
	}
	result := make([][]byte, len(vals))
	for i, v := range vals {
		result[i] = []byte(v)
	}
	return result, nil
}

// RedisKVStoreFactory creates RedisKVStores.
type RedisKVStoreFactory struct{}

func (f *RedisKVStoreFactory) Type() string { return "redis" }

// Validate checks the Redis-specific settings.
func (f *RedisKVStoreFactory) Validate(cfg config.KVStoreConfig) error {
	if cfg.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", cfg.Type)
	}
	rc := cfg.Redis
	if len(rc.Endpoints) == 0 {
		return fieldErr("kvstore.redis.endpoints", "at least one endpoint is required")
	}
	if rc.DB < 0 || rc.DB > 15 {
		return fieldErr("kvstore.redis.db", "must be between 0 and 15, got: %d", rc.DB)
	}
	if rc.PoolSize <= 0 {
		return fieldErr("kvstore.redis.pool_size", "must be greater than 0, got: %d", rc.PoolSize)
	}
	if rc.MinIdleConns < 0 {
		return fieldErr("kvstore.redis.min_idle_conns", "must be non-negative, got: %d", rc.MinIdleConns)
	}
	return validateTimeouts(cfg)
}

// Create connects to Redis.
func (f *RedisKVStoreFactory) Create(cfg config.KVStoreConfig) (core.KVStore, error) {
	store, err := NewRedisKVStore(RedisOptions{
		Endpoints:    cfg.Redis.Endpoints,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&RedisKVStoreFactory{})
}
