package remote

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

func TestMemoryRemoteCRUD(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRemote()

	doc, err := r.Create(ctx, "courses", "temp_1", core.NewFields().Set("title", "A"))
	require.NoError(t, err)
	assert.Equal(t, "srv_1", doc.ID)

	again, err := r.Create(ctx, "courses", "temp_1", core.NewFields().Set("title", "A"))
	require.NoError(t, err)
	assert.Equal(t, "srv_1", again.ID)
	assert.Len(t, r.Documents("courses"), 1)

	updated, err := r.Update(ctx, "courses", "srv_1", core.NewFields().Set("level", 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "level"}, updated.Fields.Keys())

	_, err = r.Update(ctx, "courses", "missing", core.NewFields())
	assert.ErrorIs(t, err, core.ErrRemoteNotFound)

	list, err := r.List(ctx, "courses", []core.Filter{{Field: "level", Value: "2"}})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, r.Delete(ctx, "courses", "srv_1"))
	assert.ErrorIs(t, r.Delete(ctx, "courses", "srv_1"), core.ErrRemoteNotFound)
	_, err = r.Get(ctx, "courses", "srv_1")
	assert.ErrorIs(t, err, core.ErrRemoteNotFound)

	assert.Equal(t, 2, r.CallCount("create"))
	assert.Equal(t, 2, r.CallCount("delete"))
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"breaker open", gobreaker.ErrOpenState, true},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"invalid conn", mysql.ErrInvalidConn, true},
		{"deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"too many connections", &mysql.MySQLError{Number: 1040}, true},
		{"syntax error", &mysql.MySQLError{Number: 1064}, false},
		{"permanent", fmt.Errorf("x: %w", core.ErrRemotePermanent), false},
		{"not found", core.ErrRemoteNotFound, false},
		{"unknown", errors.New("boom"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestGuardClassifiesErrors(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRemote()
	g := NewGuarded(mem, "classify", GuardConfig{MaxFailures: 100})

	_, err := g.Get(ctx, "courses", "nope")
	assert.ErrorIs(t, err, core.ErrRemoteNotFound)

	mem.SetFail(func(op, _, _ string) error { return errors.New("connection reset") })
	_, err = g.Get(ctx, "courses", "x")
	assert.ErrorIs(t, err, core.ErrRemoteTransient)

	mem.SetFail(func(op, _, _ string) error { return &mysql.MySQLError{Number: 1064, Message: "bad"} })
	_, err = g.Get(ctx, "courses", "x")
	assert.ErrorIs(t, err, core.ErrRemotePermanent)
	assert.False(t, errors.Is(err, core.ErrRemoteTransient))
}

func TestGuardOpensBreakerOnTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRemote()
	g := NewGuarded(mem, "trip", GuardConfig{MaxFailures: 3, OpenTimeout: time.Hour})

	mem.SetFail(func(string, string, string) error { return fmt.Errorf("%w: rejected", core.ErrRemotePermanent) })
	for i := 0; i < 5; i++ {
		_, err := g.Get(ctx, "courses", "x")
		assert.ErrorIs(t, err, core.ErrRemotePermanent)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())

	mem.SetFail(func(string, string, string) error { return errors.New("timeout") })
	for i := 0; i < 3; i++ {
		_, err := g.Get(ctx, "courses", "x")
		assert.ErrorIs(t, err, core.ErrRemoteTransient)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	mem.ResetCalls()
	_, err := g.Get(ctx, "courses", "x")
	assert.ErrorIs(t, err, core.ErrRemoteTransient)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Zero(t, mem.CallCount("get"))
}

func TestGuardReturnsCallerContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGuarded(NewMemoryRemote(), "ctx", DefaultGuardConfig())

	_, err := g.List(ctx, "courses", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, core.ErrRemoteTransient))
}

func TestGuardTimeoutIsTransient(t *testing.T) {
	mem := NewMemoryRemote()
	g := NewGuarded(mem, "timeout", GuardConfig{Timeout: time.Millisecond})
	mem.SetFail(func(string, string, string) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	_, err := g.List(context.Background(), "courses", nil)
	assert.ErrorIs(t, err, core.ErrRemoteTransient)
}

func TestMySQLConfigDSN(t *testing.T) {
	cfg := DefaultMySQLConfig()
	cfg.Password = "secret"
	dsn := cfg.DSN()

	assert.True(t, strings.HasPrefix(dsn, "root:secret@tcp(localhost:3306)/offlinesync?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "timeout=5s")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Type = "firestore"
	assert.Error(t, cfg.Validate())

	cfg.Type = TypeMySQL
	cfg.MySQL.Host = ""
	assert.Error(t, cfg.Validate())

	g, err := Open(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, g.Ping(context.Background()))
	assert.NoError(t, g.Close())
}
