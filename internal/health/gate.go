package health

import (
	"sync"
	"time"
)

// GateStatus is the global health status published by the Health Gate
// (§4.17).
type GateStatus int

const (
	GateHealthy GateStatus = iota
	GateDegraded
	GateCritical
)

func (s GateStatus) String() string {
	switch s {
	case GateHealthy:
		return "healthy"
	case GateDegraded:
		return "degraded"
	case GateCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// DefaultCooldown is the §4.17 transition-debounce default.
const DefaultCooldown = 10 * time.Second

// Signals are the system-level inputs the gate observes (§4.17: "resident
// memory fraction, session count").
type Signals struct {
	MemoryFraction float64
	SessionCount   int
}

// Thresholds configures when Signals cross into Degraded/Critical.
type Thresholds struct {
	DegradedMemoryFraction  float64
	CriticalMemoryFraction  float64
	DegradedSessionCount    int
	CriticalSessionCount    int
}

// DefaultThresholds is a conservative starting point; operators are
// expected to tune these to their deployment.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedMemoryFraction: 0.75,
		CriticalMemoryFraction: 0.90,
		DegradedSessionCount:   800,
		CriticalSessionCount:   1000,
	}
}

// Gate publishes a debounced global health status (§4.17).
type Gate struct {
	thresholds Thresholds
	cooldown   time.Duration

	mu             sync.Mutex
	status         GateStatus
	lastTransition time.Time
}

// NewGate constructs a Gate starting Healthy.
func NewGate(thresholds Thresholds, cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{
		thresholds:     thresholds,
		cooldown:       cooldown,
		status:         GateHealthy,
		lastTransition: time.Now(),
	}
}

func classify(t Thresholds, s Signals) GateStatus {
	if s.MemoryFraction >= t.CriticalMemoryFraction || s.SessionCount >= t.CriticalSessionCount {
		return GateCritical
	}
	if s.MemoryFraction >= t.DegradedMemoryFraction || s.SessionCount >= t.DegradedSessionCount {
		return GateDegraded
	}
	return GateHealthy
}

// Observe feeds fresh signals into the gate, transitioning status only if
// the cooldown has elapsed since the last transition (§4.17: "transition
// cooldown ... that debounces flapping").
func (g *Gate) Observe(s Signals) GateStatus {
	target := classify(g.thresholds, s)

	g.mu.Lock()
	defer g.mu.Unlock()

	if target != g.status && time.Since(g.lastTransition) >= g.cooldown {
		g.status = target
		g.lastTransition = time.Now()
	}
	return g.status
}

// Status returns the gate's current published status.
func (g *Gate) Status() GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// AllowNewSession reports whether a new session may be admitted (§4.17
// admission rules).
func (g *Gate) AllowNewSession() bool {
	return g.Status() != GateCritical
}

// AllowNewTransfer reports whether a new transfer may be admitted (§4.17
// admission rules).
func (g *Gate) AllowNewTransfer() bool {
	return g.Status() == GateHealthy
}

// ShouldEvictIdleSessions reports whether the manager should begin idle
// eviction, per Critical's "initiates idle-session eviction" rule.
func (g *Gate) ShouldEvictIdleSessions() bool {
	return g.Status() == GateCritical
}
