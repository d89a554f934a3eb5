package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 40 * time.Millisecond

func expectEvent(t *testing.T, ch <-chan Event, want EventType) {
	t.Helper()
	select {
	case ev := <-ch:
		assert.Equal(t, want, ev.Type)
	case <-time.After(time.Second):
		t.Fatalf("no %s event", want)
	}
}

func expectNoEvent(t *testing.T, ch <-chan Event, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event", ev.Type)
	case <-time.After(wait):
	}
}

func TestMonitorStartsOnline(t *testing.T) {
	m := NewMonitor(window)
	defer m.Close()
	assert.True(t, m.IsOnline())

	ch, cancel := m.Subscribe()
	defer cancel()
	m.Report(true)
	expectNoEvent(t, ch, 2*window)
}

func TestLostIsImmediateRestoredWaitsForWindow(t *testing.T) {
	m := NewMonitor(window)
	defer m.Close()
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Report(false)
	expectEvent(t, ch, ConnectionLost)
	assert.False(t, m.IsOnline())

	// Repeated offline signals emit nothing.
	m.Report(false)
	expectNoEvent(t, ch, 10*time.Millisecond)

	m.Report(true)
	assert.False(t, m.IsOnline())
	expectEvent(t, ch, ConnectionRestored)
	assert.True(t, m.IsOnline())
}

func TestFlappingInsideWindowEmitsNothing(t *testing.T) {
	m := NewMonitor(window)
	defer m.Close()
	m.Report(false)

	ch, cancel := m.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		m.Report(true)
		time.Sleep(window / 4)
		m.Report(false)
	}
	expectNoEvent(t, ch, 2*window)
	assert.False(t, m.IsOnline())
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	m := NewMonitor(time.Millisecond)
	defer m.Close()
	ch, cancel := m.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+4; i++ {
		m.Report(false)
		m.Report(true)
		require.Eventually(t, m.IsOnline, time.Second, time.Millisecond)
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestCancelAndCloseCloseChannels(t *testing.T) {
	m := NewMonitor(window)
	ch1, cancel1 := m.Subscribe()
	ch2, _ := m.Subscribe()

	cancel1()
	cancel1()
	_, ok := <-ch1
	assert.False(t, ok)

	m.Close()
	_, ok = <-ch2
	assert.False(t, ok)

	ch3, _ := m.Subscribe()
	_, ok = <-ch3
	assert.False(t, ok)
	m.Report(false)
}

func TestProberReportsCheckResults(t *testing.T) {
	m := NewMonitor(time.Millisecond)
	defer m.Close()

	var fail atomic.Bool
	p := NewProber(m, func(context.Context) error {
		if fail.Load() {
			return errors.New("unreachable")
		}
		return nil
	}, time.Hour)

	fail.Store(true)
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.IsOnline())

	fail.Store(false)
	assert.True(t, p.Probe(context.Background()))
	require.Eventually(t, m.IsOnline, time.Second, time.Millisecond)
	assert.Equal(t, "connectivity-prober", p.String())
}

func TestHTTPCheck(t *testing.T) {
	status := atomic.Int32{}
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	check := HTTPCheck(srv.Client(), srv.URL)
	assert.NoError(t, check(context.Background()))

	status.Store(http.StatusNotFound)
	assert.NoError(t, check(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, check(context.Background()))
}

func TestProberServeStopsOnCancel(t *testing.T) {
	m := NewMonitor(time.Millisecond)
	defer m.Close()
	var probes atomic.Int32
	p := NewProber(m, func(context.Context) error {
		probes.Add(1)
		return nil
	}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	require.Eventually(t, func() bool { return probes.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
}
