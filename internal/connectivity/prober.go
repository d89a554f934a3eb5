package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/logging"
)

// Check probes the remote. A nil error means reachable.
type Check func(ctx context.Context) error

// HTTPCheck returns a Check that GETs url. Any response below 500 counts as
// reachable.
func HTTPCheck(client *http.Client, url string) Check {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("health check returned %d", resp.StatusCode)
		}
		return nil
	}
}

// Prober periodically runs a Check and reports the result to a Monitor.
// It implements suture.Service.
type Prober struct {
	monitor  *Monitor
	check    Check
	interval time.Duration
	timeout  time.Duration
	name     string
}

// NewProber creates a prober. interval defaults to 5s; each probe is bounded
// by the interval.
func NewProber(monitor *Monitor, check Check, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		check:    check,
		interval: interval,
		timeout:  interval,
		name:     "connectivity-prober",
	}
}

// Probe runs one check and reports its outcome.
func (p *Prober) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.check(probeCtx)
	if ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the network.
		return p.monitor.IsOnline()
	}
	if err != nil {
		logging.Debug().Err(err).Str("component", "connectivity").Msg("Probe failed")
	}
	p.monitor.Report(err == nil)
	return err == nil
}

// Serve implements suture.Service.
func (p *Prober) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// String implements fmt.Stringer for logging.
func (p *Prober) String() string {
	return p.name
}
