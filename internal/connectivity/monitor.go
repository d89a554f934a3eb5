// Package connectivity turns raw online/offline signals into debounced
// transition events.
package connectivity

import (
	"sync"
	"time"

	"github.com/rzpsarthak13/offlinesync/internal/logging"
	"github.com/rzpsarthak13/offlinesync/internal/metrics"
)

// DefaultStabilityWindow is how long an online signal must persist before
// ConnectionRestored is emitted.
const DefaultStabilityWindow = 2 * time.Second

const subscriberBuffer = 16

// EventType identifies a connectivity transition.
type EventType int

const (
	// ConnectionLost is emitted on the first offline signal while online.
	ConnectionLost EventType = iota
	// ConnectionRestored is emitted once connectivity has been stable for
	// the stability window.
	ConnectionRestored
)

func (t EventType) String() string {
	switch t {
	case ConnectionLost:
		return "connection_lost"
	case ConnectionRestored:
		return "connection_restored"
	default:
		return "unknown"
	}
}

// Event is one connectivity transition.
type Event struct {
	Type EventType
	At   time.Time
}

// Monitor tracks connectivity. It starts online.
type Monitor struct {
	window time.Duration

	mu        sync.Mutex
	online    bool
	rawOnline bool
	timer     *time.Timer
	gen       uint64
	subs      map[uint64]chan Event
	nextSub   uint64
	closed    bool
}

// NewMonitor creates a monitor. A non-positive window means
// DefaultStabilityWindow.
func NewMonitor(window time.Duration) *Monitor {
	if window <= 0 {
		window = DefaultStabilityWindow
	}
	metrics.SetOnline(true)
	return &Monitor{
		window:    window,
		online:    true,
		rawOnline: true,
		subs:      make(map[uint64]chan Event),
	}
}

// IsOnline reports the debounced state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report feeds a raw signal. Going offline takes effect immediately; coming
// back online takes effect only if no offline signal arrives within the
// stability window.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if !online {
		m.rawOnline = false
		m.cancelTimer()
		if m.online {
			m.online = false
			m.emit(ConnectionLost)
		}
		return
	}

	if m.online || m.rawOnline {
		// Already online, or a restore is already pending.
		m.rawOnline = true
		return
	}
	m.rawOnline = true
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.window, func() { m.restore(gen) })
}

func (m *Monitor) restore(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen || !m.rawOnline || m.online {
		return
	}
	m.timer = nil
	m.online = true
	m.emit(ConnectionRestored)
}

// cancelTimer must be called with mu held.
func (m *Monitor) cancelTimer() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// emit must be called with mu held. Subscribers that are not keeping up
// lose the event rather than blocking the monitor.
func (m *Monitor) emit(t EventType) {
	ev := Event{Type: t, At: time.Now()}
	metrics.SetOnline(t == ConnectionRestored)
	metrics.ConnectivityTransitions.WithLabelValues(t.String()).Inc()
	logging.Info().Str("component", "connectivity").Str("event", t.String()).Msg("Connectivity changed")

	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			metrics.ConnectivityDropped.Inc()
		}
	}
}

// Subscribe returns a channel of future events and a func that stops the
// subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Close stops pending timers and closes every subscription.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cancelTimer()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
