package congestion

import (
	"testing"
	"time"
)

func TestInitialCwndIsMin(t *testing.T) {
	c := New()
	if c.Snapshot().Cwnd != MinCwnd {
		t.Fatalf("expected initial cwnd = MinCwnd, got %d", c.Snapshot().Cwnd)
	}
}

func TestCwndGrowsWithBandwidthAndRTT(t *testing.T) {
	c := New()
	c.OnRTTSample(50 * time.Millisecond)
	c.OnDeliverySample(1_000_000, 100*time.Millisecond) // 10 MB/s

	snap := c.Snapshot()
	if snap.Cwnd <= MinCwnd {
		t.Fatalf("expected cwnd to grow above minimum, got %d", snap.Cwnd)
	}
	if snap.Cwnd > MaxCwnd {
		t.Fatalf("expected cwnd to stay within max, got %d", snap.Cwnd)
	}
}

func TestMinRTTTracksMinimum(t *testing.T) {
	c := New()
	c.OnRTTSample(100 * time.Millisecond)
	c.OnRTTSample(20 * time.Millisecond)
	c.OnRTTSample(80 * time.Millisecond)

	if c.Snapshot().MinRTT != 20*time.Millisecond {
		t.Fatalf("expected min rtt 20ms, got %v", c.Snapshot().MinRTT)
	}
}

func TestPacingGate(t *testing.T) {
	c := New()
	if !c.CanSend(MinCwnd) {
		t.Fatalf("expected a packet exactly filling cwnd to be sendable")
	}
	c.OnSend(MinCwnd)
	if c.CanSend(1) {
		t.Fatalf("expected pacing to block once cwnd is full")
	}
	c.OnAcked(MinCwnd)
	if !c.CanSend(1) {
		t.Fatalf("expected pacing to unblock after ack frees cwnd")
	}
}
