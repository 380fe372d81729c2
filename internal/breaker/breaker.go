// Package breaker implements a per-peer circuit breaker (C14, §4.14),
// adapted from the closed/open/half-open state machine the teacher used
// for transport retries.
package breaker

import (
	"sync"
	"time"
)

// CircuitState mirrors the teacher's CircuitState enum, extended with
// HalfOpen per §3 CircuitState / §4.14.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the §4.14 defaults.
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	SuccessThreshold int
}

// DefaultConfig returns the §4.14 defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		SuccessThreshold: 2,
	}
}

type peerCircuit struct {
	state             CircuitState
	consecFailures    int
	consecSuccesses   int
	lastTransition    time.Time
}

// Breaker tracks one circuit per peer identifier (§3 CircuitState: "Per
// peer").
type Breaker struct {
	cfg Config

	mu     sync.Mutex
	peers  map[string]*peerCircuit
}

// New constructs a Breaker with cfg.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg,
		peers: make(map[string]*peerCircuit),
	}
}

func (b *Breaker) getOrCreate(id string) *peerCircuit {
	c, ok := b.peers[id]
	if !ok {
		c = &peerCircuit{state: CircuitClosed, lastTransition: time.Now()}
		b.peers[id] = c
	}
	return c
}

// Allow reports whether a request to id should proceed, performing the
// Open -> HalfOpen timeout transition as a side effect (§4.14: "Open:
// refuses requests until timeout elapses, then next admission moves to
// HalfOpen").
func (b *Breaker) Allow(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(id)
	switch c.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(c.lastTransition) >= b.cfg.Timeout {
			c.state = CircuitHalfOpen
			c.consecSuccesses = 0
			c.lastTransition = time.Now()
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful call against id.
func (b *Breaker) RecordSuccess(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(id)
	switch c.state {
	case CircuitHalfOpen:
		c.consecSuccesses++
		c.consecFailures = 0
		if c.consecSuccesses >= b.cfg.SuccessThreshold {
			c.state = CircuitClosed
			c.lastTransition = time.Now()
		}
	case CircuitClosed:
		c.consecFailures = 0
	}
}

// RecordFailure registers a failed call against id (§4.14: "Closed:
// consecutive failures >= threshold -> Open"; "HalfOpen: any failure ->
// Open").
func (b *Breaker) RecordFailure(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(id)
	switch c.state {
	case CircuitClosed:
		c.consecFailures++
		if c.consecFailures >= b.cfg.FailureThreshold {
			c.state = CircuitOpen
			c.lastTransition = time.Now()
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.consecSuccesses = 0
		c.lastTransition = time.Now()
	}
}

// State returns the current circuit state for id.
func (b *Breaker) State(id string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getOrCreate(id).state
}
