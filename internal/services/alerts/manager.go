package alerts

import (
	"sync"
	"time"

	"StreamSentinel/internal/domain/models"
)

// Thresholds configure severity classification. Scores at or above Critical
// are critical, at or above Warning are warnings, everything else is info.
type Thresholds struct {
	Warning  float64 // default 0.5
	Critical float64 // default 0.8
}

// DefaultThresholds returns the documented severity cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.5, Critical: 0.8}
}

// Severity classifies a score against the thresholds. Pure function;
// dispatch of the resulting alert is the caller's concern.
func (t Thresholds) Severity(score float64) models.Severity {
	switch {
	case score >= t.Critical:
		return models.SeverityCritical
	case score >= t.Warning:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// Manager keeps a bounded in-memory ring of recent alerts with per-type
// counters. It never delivers anything itself.
type Manager struct {
	thresholds Thresholds
	max        int

	mu     sync.RWMutex
	ring   []models.Alert
	start  int
	count  int
	counts map[string]int
}

// NewManager builds a manager retaining at most max alerts (default 100 when
// max <= 0).
func NewManager(thresholds Thresholds, max int) *Manager {
	if max <= 0 {
		max = 100
	}
	return &Manager{
		thresholds: thresholds,
		max:        max,
		ring:       make([]models.Alert, max),
		counts:     make(map[string]int),
	}
}

// Thresholds exposes the configured severity cutoffs.
func (m *Manager) Thresholds() Thresholds { return m.thresholds }

// Add records an alert, classifying its severity from the score and evicting
// the oldest entry when the ring is full.
func (m *Manager) Add(symbol, alertType, message string, score float64) models.Alert {
	a := models.Alert{
		Timestamp: time.Now(),
		Symbol:    symbol,
		Type:      alertType,
		Severity:  m.thresholds.Severity(score),
		Message:   message,
		Score:     score,
	}

	m.mu.Lock()
	if m.count == m.max {
		m.start = (m.start + 1) % m.max
	} else {
		m.count++
	}
	m.ring[(m.start+m.count-1)%m.max] = a
	m.counts[alertType]++
	m.mu.Unlock()
	return a
}

// Recent returns up to n alerts, most recent first, optionally filtered by
// severity (empty string matches all).
func (m *Manager) Recent(n int, severity models.Severity) []models.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Alert, 0, n)
	for i := m.count - 1; i >= 0 && len(out) < n; i-- {
		a := m.ring[(m.start+i)%m.max]
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Summary returns total alert counts per type since startup.
func (m *Manager) Summary() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}
