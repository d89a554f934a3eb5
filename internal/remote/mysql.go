package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
)

// MySQLConfig holds connection settings for the MySQL remote.
type MySQLConfig struct {
	Host              string        `yaml:"host" json:"host" koanf:"host"`
	Port              int           `yaml:"port" json:"port" koanf:"port"`
	Database          string        `yaml:"database" json:"database" koanf:"database"`
	Username          string        `yaml:"username" json:"username" koanf:"username"`
	Password          string        `yaml:"password" json:"-" koanf:"password"`
	Table             string        `yaml:"table" json:"table" koanf:"table"`
	MaxOpenConns      int           `yaml:"max_open_conns" json:"max_open_conns" koanf:"max_open_conns"`
	MaxIdleConns      int           `yaml:"max_idle_conns" json:"max_idle_conns" koanf:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" koanf:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" koanf:"conn_max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout" koanf:"connection_timeout"`
}

// DefaultMySQLConfig returns local development defaults.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Host:              "localhost",
		Port:              3306,
		Database:          "offlinesync",
		Username:          "root",
		Table:             "documents",
		MaxOpenConns:      10,
		MaxIdleConns:      5,
		ConnMaxLifetime:   30 * time.Minute,
		ConnMaxIdleTime:   5 * time.Minute,
		ConnectionTimeout: 5 * time.Second,
	}
}

// DSN builds the driver connection string.
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Timeout = c.ConnectionTimeout
	return cfg.FormatDSN()
}

// MySQLRemote stores documents as JSON rows in a single MySQL table keyed by
// (collection, id).
type MySQLRemote struct {
	db    *sql.DB
	table string
}

// NewMySQLRemote opens the connection pool, checks it and creates the
// documents table when missing.
func NewMySQLRemote(ctx context.Context, config MySQLConfig) (*MySQLRemote, error) {
	if config.Table == "" {
		config.Table = "documents"
	}
	db, err := sql.Open("mysql", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := &MySQLRemote{db: db, table: config.Table}
	if err := m.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Str("component", "mysql").Str("addr", net.JoinHostPort(config.Host, strconv.Itoa(config.Port))).
		Str("database", config.Database).Str("table", config.Table).Msg("MySQL remote connected")
	return m, nil
}

func (m *MySQLRemote) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGINT NOT NULL AUTO_INCREMENT,
			collection VARCHAR(191) NOT NULL,
			id VARCHAR(191) NOT NULL,
			fields LONGTEXT NOT NULL,
			idempotency_key VARCHAR(191) NULL,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (collection, id),
			UNIQUE KEY uniq_seq (seq),
			UNIQUE KEY uniq_idempotency (collection, idempotency_key)
		)`, m.quotedTable())
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (m *MySQLRemote) quotedTable() string {
	return "`" + m.table + "`"
}

func scanDocument(row interface{ Scan(...interface{}) error }) (*core.Document, error) {
	var (
		id      string
		raw     string
		updated time.Time
	)
	if err := row.Scan(&id, &raw, &updated); err != nil {
		return nil, err
	}
	fields := core.NewFields()
	if err := json.Unmarshal([]byte(raw), fields); err != nil {
		return nil, fmt.Errorf("%w: document %s has invalid fields: %v", core.ErrRemotePermanent, id, err)
	}
	return &core.Document{ID: id, Fields: fields, UpdateTime: updated}, nil
}

func (m *MySQLRemote) selectOne(ctx context.Context, q sqlQuerier, where string, args ...interface{}) (*core.Document, error) {
	query := fmt.Sprintf("SELECT id, fields, updated_at FROM %s WHERE %s", m.quotedTable(), where)
	return scanDocument(q.QueryRowContext(ctx, query, args...))
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Create inserts a document with a generated UUID. A repeated idempotency
// key returns the row inserted the first time.
func (m *MySQLRemote) Create(ctx context.Context, collection, idempotencyKey string, payload *core.Fields) (*core.Document, error) {
	if idempotencyKey != "" {
		doc, err := m.selectOne(ctx, m.db, "collection = ? AND idempotency_key = ?", collection, idempotencyKey)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	if payload == nil {
		payload = core.NewFields()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRemotePermanent, err)
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	var key interface{}
	if idempotencyKey != "" {
		key = idempotencyKey
	}

	query := fmt.Sprintf("INSERT INTO %s (collection, id, fields, idempotency_key, updated_at) VALUES (?, ?, ?, ?, ?)", m.quotedTable())
	if _, err := m.db.ExecContext(ctx, query, collection, id, string(raw), key, now); err != nil {
		var myErr *mysql.MySQLError
		if idempotencyKey != "" && errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			// Lost a race with a concurrent replay of the same create.
			return m.selectOne(ctx, m.db, "collection = ? AND idempotency_key = ?", collection, idempotencyKey)
		}
		return nil, err
	}
	return &core.Document{ID: id, Fields: payload.Clone(), UpdateTime: now}, nil
}

// Update merges payload into the stored fields inside a transaction.
func (m *MySQLRemote) Update(ctx context.Context, collection, id string, payload *core.Fields) (*core.Document, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := m.selectOne(ctx, tx, "collection = ? AND id = ? FOR UPDATE", collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, err
	}

	doc.Fields.Merge(payload)
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRemotePermanent, err)
	}
	doc.UpdateTime = time.Now().UTC()

	query := fmt.Sprintf("UPDATE %s SET fields = ?, updated_at = ? WHERE collection = ? AND id = ?", m.quotedTable())
	if _, err := tx.ExecContext(ctx, query, string(raw), doc.UpdateTime, collection, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes a document.
func (m *MySQLRemote) Delete(ctx context.Context, collection, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = ? AND id = ?", m.quotedTable())
	res, err := m.db.ExecContext(ctx, query, collection, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(collection, id)
	}
	return nil
}

// Get fetches one document.
func (m *MySQLRemote) Get(ctx context.Context, collection, id string) (*core.Document, error) {
	doc, err := m.selectOne(ctx, m.db, "collection = ? AND id = ?", collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(collection, id)
	}
	return doc, err
}

// List returns the documents of collection in insertion order. Filters are
// applied after decoding so they match the same way the local cache does.
func (m *MySQLRemote) List(ctx context.Context, collection string, filters []core.Filter) ([]*core.Document, error) {
	query := fmt.Sprintf("SELECT id, fields, updated_at FROM %s WHERE collection = ? ORDER BY seq", m.quotedTable())
	rows, err := m.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if core.MatchesAll(doc.Fields, filters) {
			out = append(out, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks that the database is reachable.
func (m *MySQLRemote) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close closes the connection pool.
func (m *MySQLRemote) Close() error {
	return m.db.Close()
}
