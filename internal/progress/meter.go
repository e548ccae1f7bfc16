package progress

import (
	"sync"
	"time"
)

// Stats represents a point-in-time snapshot of progress.
type Stats struct {
	Fraction  float64
	Percent   float64
	ETA       time.Duration
	StartedAt time.Time
}

// Meter tracks fractional completion of a transfer and computes a
// smoothed rate so the ETA does not jitter with every chunk.
type Meter struct {
	mu        sync.Mutex
	fraction  float64
	startedAt time.Time
	lastAt    time.Time
	lastFrac  float64
	rate      float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a meter with a default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now}
}

// Start resets the meter for a new transfer.
func (m *Meter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now()
	m.fraction = 0
	m.startedAt = t
	m.lastAt = t
	m.lastFrac = 0
	m.rate = 0
}

// Update records the current completed fraction, clamped to [0, 1].
func (m *Meter) Update(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.fraction = fraction
	delta := fraction - m.lastFrac
	elapsed := now.Sub(m.lastAt).Seconds()
	if elapsed > 0 && delta > 0 {
		inst := delta / elapsed
		if m.rate == 0 {
			m.rate = inst
		} else {
			m.rate = m.alpha*inst + (1-m.alpha)*m.rate
		}
		m.lastAt = now
		m.lastFrac = fraction
	}
}

// Snapshot returns the current progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		Fraction:  m.fraction,
		Percent:   m.fraction * 100,
		StartedAt: m.startedAt,
	}
	if m.rate > 0 && m.fraction < 1 {
		stats.ETA = time.Duration((1-m.fraction)/m.rate) * time.Second
	}
	return stats
}
