package offlinesync

import (
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/connectivity"
	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// Option configures a Facade.
type Option func(*Facade)

// WithKVStore uses kv instead of opening the engine named in the config.
// The caller keeps ownership; Close does not close it.
func WithKVStore(kv core.KVStore) Option {
	return func(f *Facade) { f.kv = kv }
}

// WithMonitor uses an existing connectivity monitor. The caller keeps
// ownership.
func WithMonitor(m *connectivity.Monitor) Option {
	return func(f *Facade) { f.monitor = m }
}

// WithClock overrides the time source used for staleness, expiry and
// backoff.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// WithObserver registers an observer notified after every drain pass.
func WithObserver(o DrainObserver) Option {
	return func(f *Facade) { f.observers = append(f.observers, o) }
}

// WithIDGenerator overrides provisional id generation.
func WithIDGenerator(gen func() string) Option {
	return func(f *Facade) { f.newID = gen }
}

type createOptions struct {
	id string
}

// CreateOption configures a Create call.
type CreateOption func(*createOptions)

// WithProvisionalID pins the provisional id used if the create is queued.
// It is also sent as the idempotency key.
func WithProvisionalID(id string) CreateOption {
	return func(o *createOptions) { o.id = id }
}

type listOptions struct {
	index string
	value interface{}
}

// ListOption narrows a List call.
type ListOption func(*listOptions)

// WithIndex lists records whose declared index field equals value.
func WithIndex(name string, value interface{}) ListOption {
	return func(o *listOptions) {
		o.index = name
		o.value = value
	}
}
