package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/registry"
)

// RedisKVStore implements core.KVStore using Redis. It also provides the list
// operations used by the Redis write-back queue.
type RedisKVStore struct {
	client *redis.Client
	logger *slog.Logger
	closed bool
}

// NewRedisKVStore connects to the first endpoint of cfg and pings it.
func NewRedisKVStore(ctx context.Context, cfg KVStoreConfig) (*RedisKVStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoints[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisKVStoreWithClient(client, cfg.logger()), nil
}

// NewRedisKVStoreWithClient wraps an existing client.
func NewRedisKVStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisKVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisKVStore{
		client: client,
		logger: logger.With("component", "redis"),
	}
}

// Get retrieves a value by key from the store.
func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed {
		return nil, errClosed()
	}

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	r.logger.Debug("get", "key", key, "bytes", len(val))
	return val, nil
}

// Set stores a key-value pair. A zero ttl means no expiration.
func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed {
		return errClosed()
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	r.logger.Debug("set", "key", key, "bytes", len(value), "ttl", ttl)
	return nil
}

// Delete removes a key from the store.
func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if r.closed {
		return errClosed()
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if r.closed {
		return false, errClosed()
	}

	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return count > 0, nil
}

// BatchSet stores multiple key-value pairs in one pipeline with a shared TTL.
func (r *RedisKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if r.closed {
		return errClosed()
	}
	if len(items) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to batch set keys: %w", err)
	}
	r.logger.Debug("batch set", "keys", len(items), "ttl", ttl)
	return nil
}

// Close closes the connection to Redis.
func (r *RedisKVStore) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// ListPush adds a value to the end of a list (RPUSH).
func (r *RedisKVStore) ListPush(ctx context.Context, key string, value []byte) error {
	if r.closed {
		return errClosed()
	}
	return r.client.RPush(ctx, key, value).Err()
}

// ListPop removes and returns the first element of a list (LPOP). It returns
// nil when the list is empty.
func (r *RedisKVStore) ListPop(ctx context.Context, key string) ([]byte, error) {
	if r.closed {
		return nil, errClosed()
	}
	val, err := r.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// ListLength returns the length of a list (LLEN).
func (r *RedisKVStore) ListLength(ctx context.Context, key string) (int64, error) {
	if r.closed {
		return 0, errClosed()
	}
	return r.client.LLen(ctx, key).Result()
}

// ListRange returns a range of elements from a list (LRANGE).
func (r *RedisKVStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if r.closed {
		return nil, errClosed()
	}
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	result := make([][]byte, len(vals))
	for i, v := range vals {
		result[i] = []byte(v)
	}
	return result, nil
}

// ListTrim trims a list to the specified range (LTRIM).
func (r *RedisKVStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	if r.closed {
		return errClosed()
	}
	return r.client.LTrim(ctx, key, start, stop).Err()
}

// RedisKVStoreFactory implements the KVStoreFactory interface for Redis.
type RedisKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *RedisKVStoreFactory) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration.
func (f *RedisKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "redis" {
		return fmt.Errorf("invalid type for Redis factory: %s", config.Type)
	}
	return validateRedis(config.Endpoints, config.DB, config.PoolSize, config.MinIdleConns, config.DialTimeout)
}

// Create creates a new Redis KV store instance.
func (f *RedisKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewRedisKVStore(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return store, nil
}

// RedisConfigValidator validates the redis persistence section.
type RedisConfigValidator struct{}

// Type returns the type identifier for this validator.
func (v *RedisConfigValidator) Type() string {
	return "redis"
}

// Validate validates the Redis-specific configuration in the internal config.
func (v *RedisConfigValidator) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	p := config.Cache.Persistence
	if err := validateRedis(p.Redis.Endpoints, p.Redis.DB, p.Redis.PoolSize, p.Redis.MinIdleConns, p.DialTimeout); err != nil {
		return err
	}
	if p.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", p.ReadTimeout)
	}
	if p.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", p.WriteTimeout)
	}
	return nil
}

func validateRedis(endpoints []string, db, poolSize, minIdle int, dialTimeout time.Duration) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if db < 0 || db > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", db)
	}
	if poolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", poolSize)
	}
	if minIdle < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", minIdle)
	}
	if dialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", dialTimeout)
	}
	return nil
}

func init() {
	RegisterFactory(&RedisKVStoreFactory{})
	registry.RegisterValidator(&RedisConfigValidator{})
}
