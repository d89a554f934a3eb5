package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rzpsarthak13/offlinesync/internal/core"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/metrics"
)

// GuardConfig configures the per-call timeout and circuit breaker.
type GuardConfig struct {
	// Timeout bounds every remote call. Zero disables it.
	Timeout time.Duration `yaml:"timeout" json:"timeout" koanf:"timeout"`

	// MaxFailures is the number of consecutive transient failures that
	// opens the breaker.
	MaxFailures uint32 `yaml:"max_failures" json:"max_failures" koanf:"max_failures"`

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `yaml:"open_timeout" json:"open_timeout" koanf:"open_timeout"`

	// HalfOpenRequests is the number of probe calls allowed while half-open.
	HalfOpenRequests uint32 `yaml:"half_open_requests" json:"half_open_requests" koanf:"half_open_requests"`
}

// DefaultGuardConfig returns the default guard settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:          10 * time.Second,
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Guarded wraps a core.Remote with a timeout, a circuit breaker and error
// classification. Every error it returns wraps exactly one of
// ErrRemoteTransient, ErrRemotePermanent or ErrRemoteNotFound, except when
// the caller's context ends, in which case the context error is returned.
type Guarded struct {
	next    core.Remote
	cb      *gobreaker.CircuitBreaker[interface{}]
	timeout time.Duration
}

// NewGuarded wraps next.
func NewGuarded(next core.Remote, name string, config GuardConfig) *Guarded {
	def := DefaultGuardConfig()
	if config.MaxFailures == 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = def.OpenTimeout
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = def.HalfOpenRequests
	}

	maxFailures := config.MaxFailures
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenRequests,
		Interval:    0,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Rejections and missing documents prove the remote is up.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().Str("component", "remote").Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Remote circuit breaker state changed")
		},
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)

	return &Guarded{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker[interface{}](settings),
		timeout: config.Timeout,
	}
}

// State returns the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	res, err := g.cb.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	metrics.ObserveRemoteCall(op, Outcome(err), start)
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, classify(op, err)
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, core.ErrRemoteNotFound),
		errors.Is(err, core.ErrRemoteTransient),
		errors.Is(err, core.ErrRemotePermanent):
		return err
	case IsTransient(err):
		return fmt.Errorf("%w: %s: %w", core.ErrRemoteTransient, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", core.ErrRemotePermanent, op, err)
	}
}

// Create implements core.Remote.
func (g *Guarded) Create(ctx context.Context, collection, idempotencyKey string, payload *core.Fields) (*core.Document, error) {
	res, err := g.call(ctx, "create", func(ctx context.Context) (interface{}, error) {
		return g.next.Create(ctx, collection, idempotencyKey, payload)
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Document), nil
}

// Update implements core.Remote.
func (g *Guarded) Update(ctx context.Context, collection, id string, payload *core.Fields) (*core.Document, error) {
	res, err := g.call(ctx, "update", func(ctx context.Context) (interface{}, error) {
		return g.next.Update(ctx, collection, id, payload)
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Document), nil
}

// Delete implements core.Remote.
func (g *Guarded) Delete(ctx context.Context, collection, id string) error {
	_, err := g.call(ctx, "delete", func(ctx context.Context) (interface{}, error) {
		return nil, g.next.Delete(ctx, collection, id)
	})
	return err
}

// Get implements core.Remote.
func (g *Guarded) Get(ctx context.Context, collection, id string) (*core.Document, error) {
	res, err := g.call(ctx, "get", func(ctx context.Context) (interface{}, error) {
		return g.next.Get(ctx, collection, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Document), nil
}

// List implements core.Remote.
func (g *Guarded) List(ctx context.Context, collection string, filters []core.Filter) ([]*core.Document, error) {
	res, err := g.call(ctx, "list", func(ctx context.Context) (interface{}, error) {
		return g.next.List(ctx, collection, filters)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*core.Document), nil
}

// Pinger is implemented by remotes that can check reachability cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the wrapped remote when it supports it. It bypasses the
// breaker so a probe can observe recovery while the breaker is open.
func (g *Guarded) Ping(ctx context.Context) error {
	p, ok := g.next.(Pinger)
	if !ok {
		return nil
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return p.Ping(ctx)
}

// Close closes the wrapped remote when it holds resources.
func (g *Guarded) Close() error {
	if c, ok := g.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
