package cli

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/connectivity"
	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/remote"
	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

// loadConfig loads the layered configuration and applies it to the logger.
func loadConfig(opts *RootOptions) (*offlinesync.Config, error) {
	cfg, err := offlinesync.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	logging.Init(cfg.Logging)
	return cfg, nil
}

// session is an initialized facade plus whatever must be released with it.
type session struct {
	facade  *offlinesync.Facade
	remote  *remote.Guarded
	monitor *connectivity.Monitor
}

func (s *session) Close() error {
	var errs []error
	if s.facade != nil {
		errs = append(errs, s.facade.Close())
	}
	if s.remote != nil {
		errs = append(errs, s.remote.Close())
	}
	if s.monitor != nil {
		s.monitor.Close()
	}
	return errors.Join(errs...)
}

// openLocal opens the local store without contacting the remote. The
// facade starts and stays offline, so it never drains or calls out.
func openLocal(ctx context.Context, cfg *offlinesync.Config) (*session, error) {
	monitor := connectivity.NewMonitor(cfg.Connectivity.StabilityWindow)
	monitor.Report(false)

	f, err := offlinesync.New(cfg, remote.NewMemoryRemote(), offlinesync.WithMonitor(monitor))
	if err != nil {
		monitor.Close()
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	s := &session{facade: f, monitor: monitor}
	if err := f.Init(ctx); err != nil {
		_ = s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	return s, nil
}

// openRemote opens the configured remote and an online facade over it.
func openRemote(ctx context.Context, cfg *offlinesync.Config, opts ...offlinesync.Option) (*session, error) {
	r, err := remote.Open(ctx, cfg.Remote)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open remote", err)
	}
	f, err := offlinesync.New(cfg, r, opts...)
	if err != nil {
		_ = r.Close()
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	s := &session{facade: f, remote: r}
	if err := f.Init(ctx); err != nil {
		_ = s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	return s, nil
}

// withLocal runs fn against a local-only session.
func withLocal(ctx context.Context, opts *RootOptions, fn func(*offlinesync.Facade) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	s, err := openLocal(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s.facade)
}

// withRemote runs fn against a session connected to the remote.
func withRemote(ctx context.Context, opts *RootOptions, fn func(*offlinesync.Facade) error, facadeOpts ...offlinesync.Option) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	s, err := openRemote(ctx, cfg, facadeOpts...)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s.facade)
}

// reportCollector sums every drain pass of a session.
type reportCollector struct {
	mu    sync.Mutex
	total offlinesync.DrainReport
	runs  int
}

func (c *reportCollector) OnDrainComplete(_ context.Context, r offlinesync.DrainReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runs == 0 {
		c.total.StartedAt = r.StartedAt
	}
	c.runs++
	c.total.FinishedAt = r.FinishedAt
	c.total.Forced = c.total.Forced || r.Forced
	c.total.Succeeded += r.Succeeded
	c.total.Retrying += r.Retrying
	c.total.Failed += r.Failed
	c.total.Deferred += r.Deferred
	c.total.Remaining = r.Remaining
	c.total.Errors = append(c.total.Errors, r.Errors...)
}

func (c *reportCollector) report() offlinesync.DrainReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// drainNow runs a manual pass, waiting out any pass already running, and
// returns the sum of every pass the session observed.
func drainNow(ctx context.Context, f *offlinesync.Facade, c *reportCollector) (offlinesync.DrainReport, error) {
	for {
		_, err := f.Drain(ctx)
		if errors.Is(err, offlinesync.ErrDrainInProgress) {
			select {
			case <-ctx.Done():
				return offlinesync.DrainReport{}, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return offlinesync.DrainReport{}, err
		}
		return c.report(), nil
	}
}
