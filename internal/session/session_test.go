package session

import (
	"net"
	"testing"
	"time"

	icrypto "github.com/deb2000-sudo/wraithgo/internal/crypto"
	"github.com/deb2000-sudo/wraithgo/internal/identity"
)

type recordingSender struct {
	sent [][]byte
	addr net.Addr
}

func (r *recordingSender) SendDatagram(payload []byte, addr net.Addr) error {
	r.sent = append(r.sent, payload)
	r.addr = addr
	return nil
}

func testSessionCrypto(t *testing.T) *icrypto.SessionCrypto {
	t.Helper()
	var a, b, chain [32]byte
	for i := range a {
		a[i] = byte(i + 1)
	}
	for i := range b {
		b[i] = byte(i + 50)
	}
	sc, err := icrypto.NewSessionCrypto(a, b, chain)
	if err != nil {
		t.Fatalf("NewSessionCrypto: %v", err)
	}
	return sc
}

func TestStateTransitions(t *testing.T) {
	id, err := identity.NewNodeIdentity()
	if err != nil {
		t.Fatalf("NewNodeIdentity: %v", err)
	}
	s := New(id.PublicKey(), nil, &recordingSender{})

	if s.State() != StateIdle {
		t.Fatalf("expected initial state Idle, got %s", s.State())
	}
	if err := s.AdvanceTo(StateHandshakingInitSent); err != nil {
		t.Fatalf("Idle->InitSent should be valid: %v", err)
	}
	if err := s.AdvanceTo(StateHandshakingInitComplete); err != nil {
		t.Fatalf("InitSent->InitComplete should be valid: %v", err)
	}
	if err := s.AdvanceTo(StateHandshakingRespSent); err == nil {
		t.Fatalf("expected InitComplete->RespSent to be rejected")
	}
	if err := s.AdvanceTo(StateClosed); err != nil {
		t.Fatalf("any state -> Closed must be valid: %v", err)
	}
}

func TestEncryptDecryptUpdatesStats(t *testing.T) {
	id, _ := identity.NewNodeIdentity()
	sender := &recordingSender{}
	s := New(id.PublicKey(), &net.UDPAddr{Port: 9}, sender)

	var cid [8]byte
	var sid [32]byte
	if err := s.Establish(cid, sid, testSessionCrypto(t)); err != nil {
		t.Fatalf("Establish: %v", err)
	}

	before := s.LastActivity()
	time.Sleep(time.Millisecond)

	if err := s.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one datagram sent")
	}
	if s.Stats().PacketsSent != 1 {
		t.Fatalf("expected PacketsSent=1, got %d", s.Stats().PacketsSent)
	}
	if !s.LastActivity().After(before) {
		t.Fatalf("expected last activity to advance after send")
	}
}

func TestIdleDetection(t *testing.T) {
	id, _ := identity.NewNodeIdentity()
	s := New(id.PublicKey(), nil, &recordingSender{})
	if s.Idle(0) == false {
		t.Fatalf("expected session to be idle with a zero timeout")
	}
}

func TestFailedPingCounter(t *testing.T) {
	id, _ := identity.NewNodeIdentity()
	s := New(id.PublicKey(), nil, &recordingSender{})

	if n := s.RecordFailedPing(); n != 1 {
		t.Fatalf("expected counter 1, got %d", n)
	}
	if n := s.RecordFailedPing(); n != 2 {
		t.Fatalf("expected counter 2, got %d", n)
	}
	s.ResetFailedPing()
	if s.Stats().FailedPings != 0 {
		t.Fatalf("expected counter reset to 0")
	}
}
