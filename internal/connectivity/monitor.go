package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/ardhilink/plotsync/internal/logger"
)

// Status is the connectivity state surfaced to the UI layer.
type Status string

// Connectivity states.
const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusChecking     Status = "checking"
)

// Prober issues a health probe against the remote source.
type Prober interface {
	ProbeHealth(ctx context.Context) bool
}

// Monitor caches remote-source health and gates data fetches. Each Monitor
// is an independent instance with its own cache and clock; nothing here is
// process-global.
//
// A probe is only issued when the TTL has elapsed or the cached state is
// unhealthy at a TTL boundary. While healthy and within TTL, ShouldFetch
// answers from cache. A failed probe is remembered until the next TTL
// boundary, which keeps a down source from being hammered with probes.
type Monitor struct {
	prober Prober
	log    *logger.Logger
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	checked   bool
	healthy   bool
	lastCheck time.Time
}

// NewMonitor creates a Monitor with the given probe TTL.
func NewMonitor(prober Prober, ttl time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		prober: prober,
		log:    log,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the monitor clock. Used by tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// ShouldFetch reports whether a data fetch may proceed. Within the TTL the
// cached health answers directly, with no probe in either direction.
func (m *Monitor) ShouldFetch(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.checked && now.Sub(m.lastCheck) < m.ttl {
		return m.healthy
	}

	healthy := m.prober.ProbeHealth(ctx)
	m.record(healthy, now)
	if !healthy {
		m.log.Warn("Source health probe failed", map[string]interface{}{
			"ttl": m.ttl.String(),
		})
	}
	return healthy
}

// RecordResult folds the outcome of an actual data fetch into the health
// cache, so a failed fetch marks the source unhealthy without waiting for
// the next probe.
func (m *Monitor) RecordResult(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(ok, m.now())
}

// Status reports the cached connectivity state. Before the first probe or
// fetch the state is unknown and reported as checking.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checked {
		return StatusChecking
	}
	if m.healthy {
		return StatusConnected
	}
	return StatusDisconnected
}

// LastCheck returns when health was last established, zero if never.
func (m *Monitor) LastCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}

func (m *Monitor) record(healthy bool, at time.Time) {
	m.checked = true
	m.healthy = healthy
	m.lastCheck = at
}
