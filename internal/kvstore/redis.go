package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
)

// RedisKVStore implements the core.KVStore interface using Redis.
// It suits deployments where the engine runs next to a local Redis rather
// than embedded on the device.
type RedisKVStore struct {
	client *redis.Client
	closed atomic.Bool
}

// scanBatch is the COUNT hint for SCAN and the chunk size for MGET.
const scanBatch = 256

// NewRedisKVStore creates a new Redis KV store implementation.
func NewRedisKVStore(endpoints []string, password string, db int, poolSize int, minIdleConns int, dialTimeout, readTimeout, writeTimeout time.Duration) (*RedisKVStore, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	// Single-node only; cluster SCAN would need to fan out per master.
	opts := &redis.Options{
		Addr:         endpoints[0],
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info().Str("component", "redis").Str("addr", opts.Addr).Int("db", db).Msg("Connected to local store")
	return &RedisKVStore{client: client}, nil
}

// Get retrieves a value by key from the store.
func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, errClosed
	}

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(key)
	}
	if err != nil {
		logging.Error().Str("component", "redis").Str("key", key).Err(err).Msg("GET failed")
		return nil, unavailable("get", key, err)
	}
	return val, nil
}

// Set stores a key-value pair with an optional TTL.
func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return errClosed
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logging.Error().Str("component", "redis").Str("key", key).Err(err).Msg("SET failed")
		return unavailable("set", key, err)
	}
	logging.Debug().Str("component", "redis").Str("key", key).Int("bytes", len(value)).Dur("ttl", ttl).Msg("SET")
	return nil
}

// Delete removes a key from the store.
func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return errClosed
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (r *RedisKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if r.closed.Load() {
		return false, errClosed
	}

	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return count > 0, nil
}

// BatchSet stores multiple key-value pairs atomically with a shared TTL.
func (r *RedisKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if r.closed.Load() {
		return errClosed
	}
	if len(items) == 0 {
		return nil
	}
	if ttl < 0 {
		ttl = 0
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range items {
			pipe.Set(ctx, key, value, ttl)
		}
		return nil
	})
	if err != nil {
		return unavailable("batch set", fmt.Sprintf("(%d keys)", len(items)), err)
	}
	return nil
}

// Scan walks the keyspace with SCAN MATCH and fetches values with MGET.
// Keys deleted between the two steps are skipped.
func (r *RedisKVStore) Scan(ctx context.Context, prefix string) ([]core.KeyValue, error) {
	if r.closed.Load() {
		return nil, errClosed
	}

	keys := make([]string, 0)
	iter := r.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", prefix, err)
	}
	sort.Strings(keys)

	out := make([]core.KeyValue, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		vals, err := r.client.MGet(ctx, chunk...).Result()
		if err != nil {
			return nil, unavailable("scan", prefix, err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			out = append(out, core.KeyValue{Key: chunk[i], Value: []byte(s)})
		}
	}
	return out, nil
}

// escapeGlob escapes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Close closes the connection to the KV store.
func (r *RedisKVStore) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
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
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if config.DB < 0 || config.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", config.DB)
	}
	if config.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", config.PoolSize)
	}
	if config.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", config.MinIdleConns)
	}
	if config.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be greater than 0, got: %v", config.DialTimeout)
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", config.ReadTimeout)
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", config.WriteTimeout)
	}
	return nil
}

// Create creates a new Redis KV store instance based on the provided configuration.
func (f *RedisKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	redisStore, err := NewRedisKVStore(
		config.Endpoints,
		config.Password,
		config.DB,
		config.PoolSize,
		config.MinIdleConns,
		config.DialTimeout,
		config.ReadTimeout,
		config.WriteTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return redisStore, nil
}

func init() {
	RegisterFactory(&RedisKVStoreFactory{})
}
