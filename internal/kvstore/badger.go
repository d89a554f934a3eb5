package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
)

// BadgerKVStore implements the core.KVStore interface on an embedded BadgerDB.
// It is the default durable engine for on-device storage.
type BadgerKVStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewBadgerKVStore opens (or creates) a Badger database at path. An empty
// path with inMemory set opens a throwaway in-memory database.
func NewBadgerKVStore(path string, inMemory bool) (*BadgerKVStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Every write is fsynced before Set returns.
		opts = opts.WithSyncWrites(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}

	logging.Info().Str("component", "badger").Str("path", path).Bool("in_memory", inMemory).Msg("Opened local store")
	return &BadgerKVStore{db: db}, nil
}

// Get retrieves a value by key from the store.
func (b *BadgerKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if b.closed.Load() {
		return nil, errClosed
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	return value, nil
}

// Set stores a key-value pair with an optional TTL.
func (b *BadgerKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if b.closed.Load() {
		return errClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func newEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// Delete removes a key from the store.
func (b *BadgerKVStore) Delete(ctx context.Context, key string) error {
	if b.closed.Load() {
		return errClosed
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return unavailable("delete", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (b *BadgerKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if b.closed.Load() {
		return false, errClosed
	}

	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return true, nil
}

// BatchSet stores multiple key-value pairs in a single transaction.
func (b *BadgerKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if b.closed.Load() {
		return errClosed
	}
	if len(items) == 0 {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for k, v := range items {
			if err := txn.SetEntry(newEntry(k, v, ttl)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("batch set", fmt.Sprintf("(%d keys)", len(items)), err)
	}
	return nil
}

// Scan returns all live pairs under prefix. Badger iterates keys in byte order.
func (b *BadgerKVStore) Scan(ctx context.Context, prefix string) ([]core.KeyValue, error) {
	if b.closed.Load() {
		return nil, errClosed
	}

	out := make([]core.KeyValue, 0)
	p := []byte(prefix)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, core.KeyValue{Key: string(item.KeyCopy(nil)), Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("scan", prefix, err)
	}
	return out, nil
}

// Close closes the underlying database.
func (b *BadgerKVStore) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

// BadgerKVStoreFactory implements the KVStoreFactory interface for Badger.
type BadgerKVStoreFactory struct{}

func (f *BadgerKVStoreFactory) Type() string {
	return "badger"
}

func (f *BadgerKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "badger" {
		return fmt.Errorf("invalid type for badger factory: %s", config.Type)
	}
	if config.Path == "" && !config.InMemory {
		return fmt.Errorf("path is required for badger unless in_memory is set")
	}
	return nil
}

func (f *BadgerKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewBadgerKVStore(config.Path, config.InMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&BadgerKVStoreFactory{})
}
