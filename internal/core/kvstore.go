package core

import (
	"context"
	"time"
)

// KVStore defines the interface for the local key-value engine backing the
// record store and the mutation queue.
// Implementations must make every single-key write atomic and durable
// before returning.
type KVStore interface {
	// Get retrieves a value by key from the store.
	// Returns an error wrapping ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair with an optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the store. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// BatchSet stores multiple key-value pairs with a shared TTL.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Scan returns every live key-value pair whose key starts with prefix,
	// sorted by key in ascending byte order.
	Scan(ctx context.Context, prefix string) ([]KeyValue, error)

	// Close closes the connection to the KV store and releases resources.
	Close() error
}

// KeyValue is a single entry returned by KVStore.Scan.
type KeyValue struct {
	Key   string
	Value []byte
}
