// Package transport owns the UDP socket, runs the receive loop, and
// exposes the send path other components call (C6, §4.6).
package transport

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/pathvalidate"
	"github.com/deb2000-sudo/wraithgo/internal/ratelimit"
	"github.com/deb2000-sudo/wraithgo/internal/reputation"
	"github.com/deb2000-sudo/wraithgo/internal/routing"
	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

// maxDatagramSize is the jumbo-packet read buffer size (§4.6: "up to a
// jumbo-sized packet (64 KiB)").
const maxDatagramSize = 64 * 1024

// FrameHandler is invoked for every successfully decrypted, decoded frame
// on an established session.
type FrameHandler func(s *session.Session, f *protocol.Frame)

// UnknownCIDHandler is invoked when a datagram's CID has no routed session;
// per §4.4/§4.6 this is where the handshake responder is driven.
type UnknownCIDHandler func(raw []byte, from *net.UDPAddr)

// Endpoint is the UDP I/O loop and send path (C6).
type Endpoint struct {
	conn *net.UDPConn

	Table      *routing.Table
	Sessions   *session.Manager
	Limiter    *ratelimit.Limiter
	Reputation *reputation.Tracker
	Identity   *identity.NodeIdentity

	OnFrame      FrameHandler
	OnUnknownCID UnknownCIDHandler

	mu     sync.Mutex
	closed bool
}

// New binds a UDP socket on addr and wires it to the given routing table,
// session manager, limiter and reputation tracker.
func New(addr string, table *routing.Table, sessions *session.Manager, limiter *ratelimit.Limiter, rep *reputation.Tracker, id *identity.NodeIdentity) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	return &Endpoint{
		conn:       conn,
		Table:      table,
		Sessions:   sessions,
		Limiter:    limiter,
		Reputation: rep,
		Identity:   id,
	}, nil
}

// LocalAddr returns the bound local address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// Close shuts the socket down, unblocking the receive loop.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.conn.Close()
}

// Serve runs the receive loop until the socket is closed (§4.6 receive
// loop). It is meant to be called from its own goroutine.
func (e *Endpoint) Serve() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			log.Printf("transport: read error: %v", err)
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		e.handleDatagram(raw, from)
	}
}

func (e *Endpoint) handleDatagram(raw []byte, from *net.UDPAddr) {
	ip := from.IP.String()

	if e.Reputation != nil {
		adm := e.Reputation.Check(ip)
		if !adm.Allowed {
			return
		}
	}
	cid, _, err := protocol.SplitDatagram(raw)
	if err != nil {
		if e.Reputation != nil {
			e.Reputation.RecordFailure(ip)
		}
		return
	}

	s, ok := e.Table.Lookup(cid)
	if !ok {
		if e.Limiter != nil && !e.Limiter.AllowNewConnection(ip) {
			return
		}
		if e.OnUnknownCID != nil {
			e.OnUnknownCID(raw, from)
		}
		return
	}
	sess, ok := s.Session.(*session.Session)
	if !ok {
		return
	}

	if e.Limiter != nil && !e.Limiter.AllowSessionTraffic(cid.String(), 1, float64(len(raw))) {
		return
	}

	e.Table.RecordIngress(cid, from, len(raw))

	_, seq, ciphertext, err := protocol.SplitSealedDatagram(raw)
	if err != nil {
		if e.Reputation != nil {
			e.Reputation.RecordFailure(ip)
		}
		return
	}

	plaintext, err := sess.DecryptFrame(seq, ciphertext)
	if err != nil {
		if e.Reputation != nil {
			e.Reputation.RecordFailure(ip)
		}
		return
	}

	frame, err := protocol.Decode(plaintext)
	if err != nil {
		if e.Reputation != nil {
			e.Reputation.RecordFailure(ip)
		}
		return
	}

	e.maybeMigrate(sess, cid, from)

	if e.handleMaintenanceFrame(sess, from, frame) {
		return
	}

	if e.OnFrame != nil {
		e.OnFrame(sess, frame)
	}
}

// maybeMigrate starts path validation when an authenticated datagram for an
// established session arrives from an address other than the one the
// session and routing table currently have on file (§4.10 step 1: migration
// is detected, not requested). A migration already in flight to the same
// address is left alone rather than re-challenged every datagram.
func (e *Endpoint) maybeMigrate(sess *session.Session, cid protocol.ConnectionID, from *net.UDPAddr) {
	if sess.State() != session.StateEstablished {
		return
	}
	if sess.RemoteAddr != nil && sess.RemoteAddr.String() == from.String() {
		return
	}

	challenge, ok, err := sess.BeginMigration(from)
	if err != nil || !ok {
		return
	}

	encoded, err := protocol.Encode(&protocol.Frame{Type: protocol.FrameTypePathChallenge, Payload: challenge[:]})
	if err != nil {
		return
	}
	if err := sess.SendTo(encoded, from); err != nil {
		log.Printf("transport: path challenge to %s failed: %v", from, err)
	}
}

// handleMaintenanceFrame answers transport-level frames (keepalive and path
// validation) that belong to the endpoint, not the application, reporting
// whether it consumed the frame so handleDatagram doesn't also hand it to
// OnFrame (§4.10, §4.11).
func (e *Endpoint) handleMaintenanceFrame(sess *session.Session, from *net.UDPAddr, frame *protocol.Frame) bool {
	switch frame.Type {
	case protocol.FrameTypePing:
		pong, err := protocol.Encode(&protocol.Frame{Type: protocol.FrameTypePong})
		if err != nil {
			return true
		}
		if err := sess.Send(pong); err != nil {
			log.Printf("transport: pong to %s failed: %v", from, err)
		}
		return true

	case protocol.FrameTypePong:
		sess.ObservePong()
		return true

	case protocol.FrameTypePathChallenge:
		var challenge [pathvalidate.ChallengeSize]byte
		copy(challenge[:], frame.Payload)
		response := pathvalidate.Respond(challenge)
		encoded, err := protocol.Encode(&protocol.Frame{Type: protocol.FrameTypePathResponse, Payload: response[:]})
		if err != nil {
			return true
		}
		if err := sess.SendTo(encoded, from); err != nil {
			log.Printf("transport: path response to %s failed: %v", from, err)
		}
		return true

	case protocol.FrameTypePathResponse:
		var response [pathvalidate.ChallengeSize]byte
		copy(response[:], frame.Payload)
		addr, _, err := sess.CompleteMigration(response)
		if err != nil {
			return true
		}
		e.Table.UpdateRemoteAddr(sess.CID, addr)
		return true
	}
	return false
}

// SendDatagram implements session.Sender: a non-blocking send with a short
// bounded retry, surfacing a transport error to the caller so congestion
// control can react (§4.6 send path).
func (e *Endpoint) SendDatagram(payload []byte, addr net.Addr) error {
	const maxAttempts = 3

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("transport: unsupported address type %T", addr)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err := e.conn.WriteToUDP(payload, udpAddr)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("transport: send to %s failed: %w", addr, lastErr)
}
