// Package supervisor runs the engine's long-lived services under a suture
// supervisor tree.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/rzpsarthak13/offlinesync/internal/logging"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64 `yaml:"failure_threshold" json:"failure_threshold" koanf:"failure_threshold"`

	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64 `yaml:"failure_decay" json:"failure_decay" koanf:"failure_decay"`

	// FailureBackoff is the duration to wait when the threshold is exceeded.
	FailureBackoff time.Duration `yaml:"failure_backoff" json:"failure_backoff" koanf:"failure_backoff"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" koanf:"shutdown_timeout"`
}

// DefaultTreeConfig returns suture's defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers:
//   - sync: connectivity prober, drain scheduler, expiry cleanup
//   - api: HTTP server
//
// A crashing prober does not take the API down with it.
type Tree struct {
	root   *suture.Supervisor
	sync   *suture.Supervisor
	api    *suture.Supervisor
	config TreeConfig
}

// NewTree creates a tree. A nil logger logs through the zerolog global.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if logger == nil {
		logger = logging.NewSlogLogger()
	}

	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("offlinesync", rootSpec)
	syncLayer := suture.New("sync-layer", childSpec)
	api := suture.New("api-layer", childSpec)
	root.Add(syncLayer)
	root.Add(api)

	return &Tree{root: root, sync: syncLayer, api: api, config: config}
}

// Config returns the effective configuration.
func (t *Tree) Config() TreeConfig {
	return t.config
}

// AddSyncService adds a service to the sync layer.
func (t *Tree) AddSyncService(svc suture.Service) suture.ServiceToken {
	return t.sync.Add(svc)
}

// AddAPIService adds a service to the API layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
