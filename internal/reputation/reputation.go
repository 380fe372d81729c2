// Package reputation tracks per-source-IP failure counts with time decay
// and progressive bans (C13, §4.13).
package reputation

import (
	"sync"
	"time"
)

// Status is one value of the PeerReputation status enum (§3 PeerReputation).
type Status int

const (
	StatusGood Status = iota
	StatusWarning
	StatusBackoff
	StatusTempBanned
	StatusPermBanned
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusWarning:
		return "warning"
	case StatusBackoff:
		return "backoff"
	case StatusTempBanned:
		return "temp-banned"
	case StatusPermBanned:
		return "perm-banned"
	default:
		return "unknown"
	}
}

// Config holds the §4.13 default thresholds.
type Config struct {
	WarningThreshold  int
	BackoffThreshold  int
	TempBanThreshold  int
	PermBanThreshold  int
	TempBanDuration   time.Duration
	DecayInterval     time.Duration
	DecayDecrement    int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

// DefaultConfig returns the §4.13 defaults.
func DefaultConfig() Config {
	return Config{
		WarningThreshold: 3,
		BackoffThreshold: 5,
		TempBanThreshold: 10,
		PermBanThreshold: 50,
		TempBanDuration:  time.Hour,
		DecayInterval:    5 * time.Minute,
		DecayDecrement:   1,
		BackoffBase:      100 * time.Millisecond,
		BackoffCap:       30 * time.Second,
	}
}

// record is one IP's reputation state (§3 PeerReputation).
type record struct {
	failures   int
	lastFail   time.Time
	lastDecay  time.Time
	status     Status
	bannedUntil time.Time
}

// Tracker is a concurrency-safe per-IP reputation table.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	records map[string]*record
}

// New constructs a Tracker with cfg.
func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg,
		records: make(map[string]*record),
	}
}

func (t *Tracker) getOrCreate(ip string) *record {
	r, ok := t.records[ip]
	if !ok {
		now := time.Now()
		r = &record{status: StatusGood, lastDecay: now}
		t.records[ip] = r
	}
	return r
}

// applyDecay decrements the failure counter for every whole decay interval
// elapsed since the last decay, never going below zero (§4.13: "apply decay
// first (to avoid double-counting elapsed time)").
func (t *Tracker) applyDecay(r *record, now time.Time) {
	if t.cfg.DecayInterval <= 0 {
		return
	}
	elapsed := now.Sub(r.lastDecay)
	intervals := int(elapsed / t.cfg.DecayInterval)
	if intervals <= 0 {
		return
	}
	r.failures -= intervals * t.cfg.DecayDecrement
	if r.failures < 0 {
		r.failures = 0
	}
	r.lastDecay = r.lastDecay.Add(time.Duration(intervals) * t.cfg.DecayInterval)
}

// recomputeStatus sets r.status as a pure function of the failure counter
// and thresholds, except TempBanned latches an explicit expiry (§3
// PeerReputation invariant).
func (t *Tracker) recomputeStatus(r *record, now time.Time) {
	if r.status == StatusPermBanned {
		return // never automatically reversed (§4.13)
	}

	if r.status == StatusTempBanned && now.Before(r.bannedUntil) {
		if r.failures >= t.cfg.PermBanThreshold {
			r.status = StatusPermBanned
		}
		return
	}
	if r.status == StatusTempBanned && !now.Before(r.bannedUntil) {
		r.failures = 0
		r.status = StatusGood
		return
	}

	switch {
	case r.failures >= t.cfg.PermBanThreshold:
		r.status = StatusPermBanned
	case r.failures >= t.cfg.TempBanThreshold:
		r.status = StatusTempBanned
		r.bannedUntil = now.Add(t.cfg.TempBanDuration)
	case r.failures >= t.cfg.BackoffThreshold:
		r.status = StatusBackoff
	case r.failures >= t.cfg.WarningThreshold:
		r.status = StatusWarning
	default:
		r.status = StatusGood
	}
}

// RecordFailure decays, increments the failure counter, and recomputes
// status for ip (§4.13 "On failure record").
func (t *Tracker) RecordFailure(ip string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	r := t.getOrCreate(ip)
	t.applyDecay(r, now)
	r.failures++
	r.lastFail = now
	t.recomputeStatus(r, now)
	return r.status
}

// Admission is the result of an admission check: whether the request is
// allowed, and if allowed under Backoff, the suggested delay before
// retrying.
type Admission struct {
	Allowed bool
	Status  Status
	Delay   time.Duration
}

// Check performs an admission check for ip (§4.13 "On admission check").
func (t *Tracker) Check(ip string) Admission {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	r := t.getOrCreate(ip)
	t.applyDecay(r, now)
	t.recomputeStatus(r, now)

	switch r.status {
	case StatusPermBanned:
		return Admission{Allowed: false, Status: r.status}
	case StatusTempBanned:
		return Admission{Allowed: false, Status: r.status}
	case StatusBackoff:
		shift := r.failures - t.cfg.BackoffThreshold
		if shift < 0 {
			shift = 0
		}
		delay := t.cfg.BackoffBase << uint(shift)
		if delay > t.cfg.BackoffCap || delay <= 0 {
			delay = t.cfg.BackoffCap
		}
		return Admission{Allowed: true, Status: r.status, Delay: delay}
	default:
		return Admission{Allowed: true, Status: r.status}
	}
}

// StatusOf returns the current status for ip without mutating failure state
// beyond the usual decay/recompute pass.
func (t *Tracker) StatusOf(ip string) Status {
	return t.Check(ip).Status
}
