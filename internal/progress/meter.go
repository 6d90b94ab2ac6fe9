package progress

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// Stats represents a point-in-time snapshot of progress.
type Stats struct {
	BytesDone int64
	RateBps   float64
	StartedAt time.Time
	Elapsed   time.Duration
}

// Meter tracks bytes received by one session and computes a smoothed rate.
// It is safe for concurrent use; the session goroutine adds while the
// monitor takes snapshots.
type Meter struct {
	mu        sync.Mutex
	done      int64
	startedAt time.Time
	lastAt    time.Time
	lastDone  int64
	rateBps   float64
	alpha     float64
	clock     clock.Clock
}

// NewMeter returns a meter reading time from clk (nil means wall time).
func NewMeter(clk clock.Clock) *Meter {
	if clk == nil {
		clk = clock.New()
	}
	return &Meter{alpha: 0.2, clock: clk}
}

// Start resets the meter.
func (m *Meter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = 0
	m.startedAt = m.clock.Now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// Add records n more bytes.
func (m *Meter) Add(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.done += int64(n)
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime > 0 {
		inst := float64(m.done-m.lastDone) / deltaTime
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastDone = m.done
	}
}

// Snapshot returns current stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		BytesDone: m.done,
		RateBps:   m.rateBps,
		StartedAt: m.startedAt,
	}
	if !m.startedAt.IsZero() {
		stats.Elapsed = m.clock.Now().Sub(m.startedAt)
	}
	return stats
}
