package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/logging"
)

// HTTPServer matches the *http.Server lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an HTTP server to suture.Service.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPServerService wraps server.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "http-server",
	}
}

// Serve implements suture.Service. http.ErrServerClosed is not an error.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The serve context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for logging.
func (h *HTTPServerService) String() string {
	return h.name
}

// TickerService runs a job on a fixed interval. Job errors are logged and
// do not restart the service.
type TickerService struct {
	name     string
	interval time.Duration
	job      func(ctx context.Context) error
}

// NewTickerService creates a ticker service.
func NewTickerService(name string, interval time.Duration, job func(ctx context.Context) error) *TickerService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TickerService{name: name, interval: interval, job: job}
}

// Serve implements suture.Service.
func (s *TickerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.job(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Str("component", "supervisor").
					Str("service", s.name).Msg("Scheduled job failed")
			}
		}
	}
}

// String implements fmt.Stringer for logging.
func (s *TickerService) String() string {
	return s.name
}
