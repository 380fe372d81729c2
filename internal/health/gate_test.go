package health

import (
	"testing"
	"time"
)

func TestGateStaysHealthy(t *testing.T) {
	g := NewGate(DefaultThresholds(), time.Millisecond)
	status := g.Observe(Signals{MemoryFraction: 0.1, SessionCount: 5})
	if status != GateHealthy {
		t.Fatalf("expected healthy, got %s", status)
	}
	if !g.AllowNewSession() || !g.AllowNewTransfer() {
		t.Fatalf("expected healthy gate to allow sessions and transfers")
	}
}

func TestGateDebouncesTransitions(t *testing.T) {
	g := NewGate(DefaultThresholds(), time.Hour)
	g.Observe(Signals{MemoryFraction: 0.99})
	if g.Status() != GateHealthy {
		t.Fatalf("expected status to stay healthy during cooldown, got %s", g.Status())
	}
}

func TestGateTransitionsAfterCooldown(t *testing.T) {
	g := NewGate(DefaultThresholds(), time.Millisecond)
	g.Observe(Signals{MemoryFraction: 0.99})
	time.Sleep(2 * time.Millisecond)
	status := g.Observe(Signals{MemoryFraction: 0.99})
	if status != GateCritical {
		t.Fatalf("expected critical after cooldown elapses, got %s", status)
	}
	if g.AllowNewSession() || g.AllowNewTransfer() {
		t.Fatalf("expected critical gate to reject new sessions and transfers")
	}
	if !g.ShouldEvictIdleSessions() {
		t.Fatalf("expected critical gate to request idle eviction")
	}
}

func TestGateDegradedRejectsOnlyTransfers(t *testing.T) {
	g := NewGate(DefaultThresholds(), time.Millisecond)
	g.Observe(Signals{SessionCount: 900})
	time.Sleep(2 * time.Millisecond)
	status := g.Observe(Signals{SessionCount: 900})
	if status != GateDegraded {
		t.Fatalf("expected degraded, got %s", status)
	}
	if !g.AllowNewSession() {
		t.Fatalf("expected degraded gate to still allow new sessions")
	}
	if g.AllowNewTransfer() {
		t.Fatalf("expected degraded gate to reject new transfers")
	}
}
