// Package connectivity watches reachability of the remote host and reports
// online/offline transitions.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// State is the last observed reachability.
type State int

const (
	StateUnknown State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Probe reports whether the remote host answered.
type Probe func(ctx context.Context) error

// HTTPProbe issues a HEAD request against url. Any HTTP response counts as
// reachable; only transport failures count as offline.
func HTTPProbe(client *http.Client, url string) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// Config configures a Monitor.
type Config struct {
	Probe    Probe
	Interval time.Duration
	// Timeout bounds a single probe. Defaults to Interval.
	Timeout time.Duration
}

// Monitor polls a Probe and notifies subscribers on transitions.
type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration

	mu     sync.RWMutex
	state  State
	subs   map[int]func(State)
	nextID int

	stopOnce sync.Once
	done     chan struct{}
}

// NewMonitor creates a monitor. It does nothing until Start.
func NewMonitor(cfg Config) *Monitor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = cfg.Interval
	}
	return &Monitor{
		probe:    cfg.Probe,
		interval: cfg.Interval,
		timeout:  timeout,
		subs:     make(map[int]func(State)),
		done:     make(chan struct{}),
	}
}

// Start runs the probe loop until Stop. A non-positive interval disables
// polling; Check can still be called directly.
func (m *Monitor) Start() {
	if m.interval <= 0 || m.probe == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Check(context.Background())
		}
	}
}

// Stop ends the probe loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Done is closed after Stop.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// State returns the last observed state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers fn for transitions and returns its unsubscribe
// handle. The first observation after StateUnknown is reported only when it
// is offline.
func (m *Monitor) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Check runs the probe once and records the result.
func (m *Monitor) Check(ctx context.Context) State {
	if m.probe == nil {
		return m.State()
	}
	probeCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	next := StateOnline
	if err := m.probe(probeCtx); err != nil {
		next = StateOffline
		slog.Debug("Connectivity probe failed", "error", err)
	}
	m.Set(next)
	return next
}

// Set records an externally observed state, notifying subscribers on a
// transition.
func (m *Monitor) Set(next State) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	if prev == StateUnknown && next == StateOnline {
		return
	}
	slog.Info("Connectivity changed", "from", prev.String(), "to", next.String())
	for _, fn := range fns {
		fn(next)
	}
}
