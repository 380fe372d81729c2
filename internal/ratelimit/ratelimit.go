// Package ratelimit implements the token-bucket admission gates used for
// per-IP, per-session and global limits (C12, §4.12).
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single linear-refill token bucket (§4.12 bucket semantics).
type Bucket struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

// NewBucket creates a bucket starting full, refilling at refillRate tokens
// per second up to capacity.
func NewBucket(capacity, refillRate float64) *Bucket {
	return &Bucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Allow attempts to consume n tokens, succeeding iff tokens >= n (§4.12:
// "A consume of n succeeds iff tokens >= n, after which tokens -= n").
func (b *Bucket) Allow(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Tokens returns the current token count, refilling first.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return b.tokens
}

// Config holds the default rates from §4.12.
type Config struct {
	NewConnectionsPerMinute float64 // per source IP
	PacketsPerSecond        float64 // per session
	BytesPerSecond          float64 // per session
	MaxConcurrentSessions   int     // global
}

// DefaultConfig returns the §4.12 defaults.
func DefaultConfig() Config {
	return Config{
		NewConnectionsPerMinute: 10,
		PacketsPerSecond:        1000,
		BytesPerSecond:          10 * 1024 * 1024,
		MaxConcurrentSessions:   1000,
	}
}

// Limiter gates new connections per source IP, packet/byte rates per
// session, and the global concurrent-session cap.
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	byIP     map[string]*Bucket
	sessions map[string]*sessionBuckets

	globalMu  sync.Mutex
	globalCnt int
}

type sessionBuckets struct {
	packets *Bucket
	bytes   *Bucket
}

// New constructs a Limiter with cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:      cfg,
		byIP:     make(map[string]*Bucket),
		sessions: make(map[string]*sessionBuckets),
	}
}

// AllowNewConnection gates a new-connection attempt from ip (§4.12 per-IP
// new-connection rate).
func (l *Limiter) AllowNewConnection(ip string) bool {
	l.mu.Lock()
	b, ok := l.byIP[ip]
	if !ok {
		b = NewBucket(l.cfg.NewConnectionsPerMinute, l.cfg.NewConnectionsPerMinute/60.0)
		l.byIP[ip] = b
	}
	l.mu.Unlock()
	return b.Allow(1)
}

// AllowSessionTraffic gates n packets/bytes on an established session
// (§4.12 per-session packet and byte rate).
func (l *Limiter) AllowSessionTraffic(sessionKey string, packets, bytes float64) bool {
	l.mu.Lock()
	sb, ok := l.sessions[sessionKey]
	if !ok {
		sb = &sessionBuckets{
			packets: NewBucket(l.cfg.PacketsPerSecond, l.cfg.PacketsPerSecond),
			bytes:   NewBucket(l.cfg.BytesPerSecond, l.cfg.BytesPerSecond),
		}
		l.sessions[sessionKey] = sb
	}
	l.mu.Unlock()

	if !sb.packets.Allow(packets) {
		return false
	}
	return sb.bytes.Allow(bytes)
}

// AcquireGlobalSlot reserves one of the global concurrent-session slots,
// reporting false if the cap is already reached (§4.12 global limit).
func (l *Limiter) AcquireGlobalSlot() bool {
	l.globalMu.Lock()
	defer l.globalMu.Unlock()
	if l.globalCnt >= l.cfg.MaxConcurrentSessions {
		return false
	}
	l.globalCnt++
	return true
}

// ReleaseGlobalSlot frees a global session slot.
func (l *Limiter) ReleaseGlobalSlot() {
	l.globalMu.Lock()
	defer l.globalMu.Unlock()
	if l.globalCnt > 0 {
		l.globalCnt--
	}
}

// RemoveSession drops per-session bucket state once a session closes.
func (l *Limiter) RemoveSession(sessionKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionKey)
}
