package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingService struct {
	started atomic.Int32
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type fakeServer struct {
	stop     chan struct{}
	shutdown atomic.Int32
	err      error
}

func (f *fakeServer) ListenAndServe() error {
	if f.err != nil {
		return f.err
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdown.Add(1)
	close(f.stop)
	return nil
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree(nil, TreeConfig{})
	assert.Equal(t, DefaultTreeConfig(), tree.Config())
}

func TestTreeRunsServicesInBothLayers(t *testing.T) {
	tree := NewTree(nil, TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	syncSvc := &blockingService{}
	apiSvc := &blockingService{}
	tree.AddSyncService(syncSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool {
		return syncSvc.started.Load() == 1 && apiSvc.started.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
	report, err := tree.UnstoppedServiceReport()
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestHTTPServerServiceShutsDownOnCancel(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{})}
	svc := NewHTTPServerService(srv, time.Second)
	assert.Equal(t, "http-server", svc.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, int32(1), srv.shutdown.Load())
}

func TestHTTPServerServiceReportsStartFailure(t *testing.T) {
	srv := &fakeServer{err: errors.New("address in use")}
	err := NewHTTPServerService(srv, 0).Serve(context.Background())
	assert.ErrorContains(t, err, "address in use")
}

func TestTickerServiceRunsJob(t *testing.T) {
	var runs atomic.Int32
	svc := NewTickerService("cleanup", 5*time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("first run fails")
		}
		return nil
	})
	assert.Equal(t, "cleanup", svc.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
