// Package telemetry provides coarse, operator-facing bandwidth and
// latency reporting for a transfer, separate from the congestion
// controller's own bandwidth-delay estimates: the congestion package
// tracks samples to drive pacing decisions, while Collector tracks
// cumulative totals a CLI can print at the end of a run (adapted from
// the teacher's telemetry collector).
package telemetry

import (
	"sync"
	"time"
)

// Collector accumulates bytes-sent and RTT observations cumulatively from
// a fixed window start set at construction.
type Collector struct {
	mu          sync.RWMutex
	windowStart time.Time
	bytesSent   uint64
	lastRTT     time.Duration
}

// NewCollector returns a Collector whose window begins at start.
func NewCollector(start time.Time) *Collector {
	return &Collector{windowStart: start}
}

// RecordBytesSent adds n to the running total.
func (c *Collector) RecordBytesSent(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesSent += n
}

// RecordRTT records the most recent round-trip observation.
func (c *Collector) RecordRTT(rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRTT = rtt
}

// BandwidthMbps returns the average throughput since the window start,
// in megabits per second.
func (c *Collector) BandwidthMbps() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elapsed := time.Since(c.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	bits := float64(c.bytesSent) * 8
	return bits / elapsed / 1_000_000
}

// LatencyMs returns the last recorded RTT in milliseconds.
func (c *Collector) LatencyMs() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return float64(c.lastRTT) / float64(time.Millisecond)
}
