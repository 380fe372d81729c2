package session

import (
	"net"
	"sync"
	"time"

	"github.com/deb2000-sudo/wraithgo/internal/crypto"
	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/pathvalidate"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

// Sender is the outbound half of the transport I/O loop (C6) that a Session
// calls to emit a sealed datagram. Defining it here, rather than importing
// the transport package, keeps transport -> session a one-way dependency:
// transport holds a *Session and calls its methods, while a Session calls
// back out through this narrow interface instead of importing transport.
type Sender interface {
	SendDatagram(payload []byte, addr net.Addr) error
}

// Stats mirrors the connection counters held by every established session
// (§3 Session: "connection stats (bytes/packets sent+received, RTT estimate,
// loss rate)").
type Stats struct {
	BytesSent      uint64
	BytesReceived  uint64
	PacketsSent    uint64
	PacketsReceived uint64
	RTT            time.Duration
	LossRate       float64
	FailedPings    int
}

// Session is the per-peer handle referenced by the routing table and the
// session manager (§3 Session, §4.5).
type Session struct {
	mu sync.Mutex

	state State

	PeerID     identity.PeerID
	RemoteAddr net.Addr
	CID        protocol.ConnectionID
	SessionID  [32]byte

	crypto *crypto.SessionCrypto
	sender Sender

	stats        Stats
	lastActivity time.Time
	createdAt    time.Time

	sendSeq uint64

	pingSentAt time.Time

	pathValidator *pathvalidate.Validator
	migratingTo   net.Addr
}

// New constructs a session in the Idle state. Call AdvanceTo to move it
// through the handshake states, then Establish once the handshake keys are
// available.
func New(peerID identity.PeerID, remote net.Addr, sender Sender) *Session {
	now := time.Now()
	return &Session{
		state:         StateIdle,
		PeerID:        peerID,
		RemoteAddr:    remote,
		sender:        sender,
		createdAt:     now,
		lastActivity:  now,
		pathValidator: pathvalidate.New(),
	}
}

// State returns the current SessionState under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AdvanceTo attempts a state transition, rejecting ones not in the SessionState
// graph (§3).
func (s *Session) AdvanceTo(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return &ErrInvalidTransition{From: s.state, To: to}
	}
	s.state = to
	return nil
}

// Establish transitions the session to Established and installs the AEAD
// state and identifiers produced by a completed handshake (§4.5 invariant:
// "A session reaches Established only after the handshake has produced both
// keys and the CID is inserted into the RoutingTable" — CID insertion is the
// caller's responsibility, typically done in the same critical section by
// the SessionManager).
func (s *Session) Establish(cid protocol.ConnectionID, sessionID [32]byte, sc *crypto.SessionCrypto) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, StateEstablished) {
		return &ErrInvalidTransition{From: s.state, To: StateEstablished}
	}
	s.state = StateEstablished
	s.CID = cid
	s.SessionID = sessionID
	s.crypto = sc
	s.lastActivity = time.Now()
	return nil
}

// Close transitions to Closed unconditionally (§3: "From any state,
// transition to Closed is permitted.").
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// EncryptFrame seals an encoded frame for transmission, touching
// last-activity and outbound stats (§4.5: "updates last_activity ... on
// every send").
func (s *Session) EncryptFrame(plaintext []byte) ([]byte, uint64, error) {
	s.mu.Lock()
	sc := s.crypto
	seq := s.sendSeq
	s.mu.Unlock()

	if sc == nil {
		return nil, 0, &ErrInvalidTransition{From: s.State(), To: StateEstablished}
	}

	aad := make([]byte, 8)
	for i := 0; i < 8; i++ {
		aad[i] = byte(seq >> (56 - 8*i))
	}

	ct, err := sc.Encrypt(plaintext, aad)
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	s.sendSeq++
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(len(ct))
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return ct, seq, nil
}

// DecryptFrame opens a received ciphertext at sequence seq, touching
// last-activity and inbound stats on success (§4.5: "updates last_activity
// ... on every successful decrypt").
func (s *Session) DecryptFrame(seq uint64, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	sc := s.crypto
	s.mu.Unlock()

	if sc == nil {
		return nil, &ErrInvalidTransition{From: s.State(), To: StateEstablished}
	}

	aad := make([]byte, 8)
	for i := 0; i < 8; i++ {
		aad[i] = byte(seq >> (56 - 8*i))
	}

	pt, err := sc.DecryptWithCounter(seq, ciphertext, aad)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.stats.PacketsReceived++
	s.stats.BytesReceived += uint64(len(ciphertext))
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return pt, nil
}

// Send encrypts and transmits plaintext via the installed Sender, to the
// session's current remote address.
func (s *Session) Send(plaintext []byte) error {
	return s.SendTo(plaintext, s.RemoteAddr)
}

// SendTo encrypts and transmits plaintext to addr without changing the
// session's remote address, used to probe an as-yet-unvalidated migration
// path (§4.10 step 2: the PATH_CHALLENGE is addressed to new_addr, not the
// session's current peer_addr).
func (s *Session) SendTo(plaintext []byte, addr net.Addr) error {
	ct, seq, err := s.EncryptFrame(plaintext)
	if err != nil {
		return err
	}
	datagram := protocol.BuildSealedDatagram(s.CID, seq, ct)
	return s.sender.SendDatagram(datagram, addr)
}

// LastActivity returns the last time this session sent or successfully
// decrypted a frame.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Idle reports whether the session has been quiet for longer than timeout
// (§4.5: idle timeout drives the health monitor and garbage collector).
func (s *Session) Idle(timeout time.Duration) bool {
	return time.Since(s.LastActivity()) > timeout
}

// Stats returns a snapshot of the session's connection statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RecordRTT updates the session's RTT estimate, e.g. from a PING/PONG
// round trip (§4.11).
func (s *Session) RecordRTT(rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.RTT = rtt
}

// RecordFailedPing increments the consecutive failed-ping counter; a
// successful pong resets it (§3 Session: "failed-ping count").
func (s *Session) RecordFailedPing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FailedPings++
	return s.stats.FailedPings
}

// ResetFailedPing clears the failed-ping counter.
func (s *Session) ResetFailedPing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FailedPings = 0
}

// MarkPingSent records the time a keepalive PING was sent, so a later PONG
// can be turned into an RTT sample (§4.11).
func (s *Session) MarkPingSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingSentAt = time.Now()
}

// ObservePong turns a received PONG into an RTT sample against the most
// recently recorded PING and resets the failed-ping counter (§4.11: "a
// successful pong resets it").
func (s *Session) ObservePong() {
	s.mu.Lock()
	sentAt := s.pingSentAt
	s.mu.Unlock()

	if !sentAt.IsZero() {
		s.RecordRTT(time.Since(sentAt))
	}
	s.ResetFailedPing()
}

// BeginMigration starts path validation toward newAddr (§4.10 step 1),
// returning the challenge bytes to send in a PATH_CHALLENGE frame. ok is
// false if a migration to newAddr is already pending, in which case the
// caller should not send a duplicate challenge.
func (s *Session) BeginMigration(newAddr net.Addr) (challenge [pathvalidate.ChallengeSize]byte, ok bool, err error) {
	s.mu.Lock()
	if s.migratingTo != nil && s.migratingTo.String() == newAddr.String() {
		s.mu.Unlock()
		return challenge, false, nil
	}
	s.migratingTo = newAddr
	s.mu.Unlock()

	challenge, err = s.pathValidator.BeginMigration(newAddr)
	return challenge, true, err
}

// CompleteMigration validates a received PATH_RESPONSE against the
// session's pending challenge and, on success, commits the migration by
// updating the session's remote address (§4.10 step 4).
func (s *Session) CompleteMigration(response [pathvalidate.ChallengeSize]byte) (net.Addr, time.Duration, error) {
	addr, rtt, err := s.pathValidator.CompleteMigration(response)
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	s.RemoteAddr = addr
	s.migratingTo = nil
	s.mu.Unlock()

	s.RecordRTT(rtt)
	return addr, rtt, nil
}
