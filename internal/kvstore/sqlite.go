package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	k          TEXT PRIMARY KEY,
	v          BLOB NOT NULL,
	expires_at INTEGER
)`

// SQLiteKVStore implements core.KVStore on a single SQLite table.
type SQLiteKVStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteKVStore opens the SQLite file at path, or a private in-memory
// database when inMemory is set.
func NewSQLiteKVStore(path string, inMemory bool) (*SQLiteKVStore, error) {
	dsn := path
	if inMemory {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers anyway and an in-memory
	// database is private to its connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA synchronous = FULL"}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	logging.Info().Str("component", "sqlite").Str("path", dsn).Msg("Opened local store")
	return &SQLiteKVStore{db: db}, nil
}

func expiry(ttl time.Duration) interface{} {
	if ttl <= 0 {
		return nil
	}
	return time.Now().Add(ttl).UnixNano()
}

// Get retrieves a value by key from the store.
func (s *SQLiteKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, errClosed
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM kv WHERE k = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, time.Now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	return value, nil
}

// Set stores a key-value pair with an optional TTL.
func (s *SQLiteKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return errClosed
	}
	if _, err := s.db.ExecContext(ctx, upsertKV, key, value, expiry(ttl)); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

const upsertKV = `
INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)
ON CONFLICT(k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at`

// Delete removes a key from the store.
func (s *SQLiteKVStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return errClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (s *SQLiteKVStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, core.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// BatchSet stores multiple key-value pairs in one transaction.
func (s *SQLiteKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if s.closed.Load() {
		return errClosed
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("batch set", "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertKV)
	if err != nil {
		return unavailable("batch set", "prepare", err)
	}
	defer stmt.Close()

	exp := expiry(ttl)
	for k, v := range items {
		if _, err := stmt.ExecContext(ctx, k, v, exp); err != nil {
			return unavailable("batch set", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("batch set", "commit", err)
	}
	return nil
}

// Scan returns all live pairs under prefix sorted by key.
func (s *SQLiteKVStore) Scan(ctx context.Context, prefix string) ([]core.KeyValue, error) {
	if s.closed.Load() {
		return nil, errClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT k, v FROM kv
		 WHERE substr(k, 1, ?) = ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY k`,
		utf8.RuneCountInString(prefix), prefix, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, unavailable("scan", prefix, err)
	}
	defer rows.Close()

	out := make([]core.KeyValue, 0)
	for rows.Next() {
		var kv core.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, unavailable("scan", prefix, err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan", prefix, err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *SQLiteKVStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// SQLiteKVStoreFactory implements the KVStoreFactory interface for SQLite.
type SQLiteKVStoreFactory struct{}

func (f *SQLiteKVStoreFactory) Type() string {
	return "sqlite"
}

func (f *SQLiteKVStoreFactory) Validate(config KVStoreConfig) error {
	if config.Type != "sqlite" {
		return fmt.Errorf("invalid type for sqlite factory: %s", config.Type)
	}
	if config.Path == "" && !config.InMemory {
		return fmt.Errorf("path is required for sqlite unless in_memory is set")
	}
	return nil
}

func (f *SQLiteKVStoreFactory) Create(config KVStoreConfig) (core.KVStore, error) {
	store, err := NewSQLiteKVStore(config.Path, config.InMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&SQLiteKVStoreFactory{})
}
