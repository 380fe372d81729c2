package breaker

import (
	"testing"
	"time"
)

func TestOpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Timeout: time.Hour, SuccessThreshold: 2})
	peer := "peer-a"

	for i := 0; i < 3; i++ {
		if !b.Allow(peer) {
			t.Fatalf("expected closed circuit to allow request %d", i)
		}
		b.RecordFailure(peer)
	}

	if b.State(peer) != CircuitOpen {
		t.Fatalf("expected circuit open after threshold failures")
	}
	if b.Allow(peer) {
		t.Fatalf("expected open circuit to refuse requests")
	}
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond, SuccessThreshold: 1})
	peer := "peer-b"

	b.Allow(peer)
	b.RecordFailure(peer)
	if b.State(peer) != CircuitOpen {
		t.Fatalf("expected open")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow(peer) {
		t.Fatalf("expected half-open admission after timeout")
	}
	if b.State(peer) != CircuitHalfOpen {
		t.Fatalf("expected state half-open, got %s", b.State(peer))
	}
}

func TestHalfOpenClosesAfterSuccesses(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Millisecond, SuccessThreshold: 2})
	peer := "peer-c"

	b.Allow(peer)
	b.RecordFailure(peer)
	time.Sleep(5 * time.Millisecond)
	b.Allow(peer) // transitions to half-open

	b.RecordSuccess(peer)
	if b.State(peer) != CircuitHalfOpen {
		t.Fatalf("expected still half-open after 1 success")
	}
	b.RecordSuccess(peer)
	if b.State(peer) != CircuitClosed {
		t.Fatalf("expected closed after success threshold met")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Millisecond, SuccessThreshold: 2})
	peer := "peer-d"

	b.Allow(peer)
	b.RecordFailure(peer)
	time.Sleep(5 * time.Millisecond)
	b.Allow(peer)

	b.RecordFailure(peer)
	if b.State(peer) != CircuitOpen {
		t.Fatalf("expected half-open failure to reopen circuit")
	}
}
