// Package pathvalidate implements PATH_CHALLENGE/PATH_RESPONSE path
// validation for connection migration (C10, §4.10).
package pathvalidate

import (
	"crypto/rand"
	"errors"
	"net"
	"sync"
	"time"
)

// ChallengeSize is the width of a PATH_CHALLENGE payload (§4.10 step 1).
const ChallengeSize = 8

// DefaultTimeout is the §4.10 step 1 default expiry for a pending challenge.
const DefaultTimeout = 3 * time.Second

// ErrNoPendingChallenge is returned when a PATH_RESPONSE doesn't match any
// outstanding challenge.
var ErrNoPendingChallenge = errors.New("pathvalidate: no matching pending challenge")

type pending struct {
	newAddr net.Addr
	sentAt  time.Time
}

// Validator tracks outstanding path-migration challenges for one session.
type Validator struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[[ChallengeSize]byte]pending
}

// New constructs a Validator with the default timeout.
func New() *Validator {
	return &Validator{
		timeout: DefaultTimeout,
		pending: make(map[[ChallengeSize]byte]pending),
	}
}

// BeginMigration generates a challenge for a migration to newAddr and
// records it as pending (§4.10 step 1). The caller is responsible for
// encrypting and sending the PATH_CHALLENGE frame carrying the returned
// bytes.
func (v *Validator) BeginMigration(newAddr net.Addr) ([ChallengeSize]byte, error) {
	var challenge [ChallengeSize]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return challenge, err
	}

	v.mu.Lock()
	v.pending[challenge] = pending{newAddr: newAddr, sentAt: time.Now()}
	v.mu.Unlock()

	return challenge, nil
}

// Respond builds the PATH_RESPONSE payload for a received PATH_CHALLENGE
// (§4.10 step 3): simply echo the challenge bytes.
func Respond(challenge [ChallengeSize]byte) [ChallengeSize]byte {
	return challenge
}

// CompleteMigration processes a PATH_RESPONSE. If response matches a pending
// challenge, it returns the validated address and measured RTT, removing
// the pending entry (§4.10 step 4).
func (v *Validator) CompleteMigration(response [ChallengeSize]byte) (net.Addr, time.Duration, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pending[response]
	if !ok {
		return nil, 0, ErrNoPendingChallenge
	}
	delete(v.pending, response)

	if time.Since(p.sentAt) > v.timeout {
		return nil, 0, ErrNoPendingChallenge
	}

	return p.newAddr, time.Since(p.sentAt), nil
}

// GC removes challenges older than the configured timeout, returning how
// many were evicted (§4.10 step 5: "Expired challenges are garbage-collected").
func (v *Validator) GC() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	cutoff := time.Now().Add(-v.timeout)
	evicted := 0
	for k, p := range v.pending {
		if p.sentAt.Before(cutoff) {
			delete(v.pending, k)
			evicted++
		}
	}
	return evicted
}

// Pending reports how many migration challenges are outstanding.
func (v *Validator) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}
