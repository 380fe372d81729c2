package health

import (
	"net"
	"testing"
	"time"

	icrypto "github.com/deb2000-sudo/wraithgo/internal/crypto"
	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/routing"
	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

type captureSender struct {
	frames [][]byte
}

func (c *captureSender) SendDatagram(payload []byte, addr net.Addr) error {
	c.frames = append(c.frames, payload)
	return nil
}

func testEstablishedSession(t *testing.T, cidByte byte) (*session.Session, *captureSender) {
	t.Helper()
	id, _ := identity.NewNodeIdentity()
	sender := &captureSender{}
	s := session.New(id.PublicKey(), &net.UDPAddr{Port: 1}, sender)

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

	var cid protocol.ConnectionID
	cid[0] = cidByte
	var sid [32]byte
	if err := s.Establish(cid, sid, sc); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	return s, sender
}

func TestTickSendsPingToIdleSession(t *testing.T) {
	table := routing.NewTable()
	mgr := session.NewManager(table)
	s, sender := testEstablishedSession(t, 1)
	mgr.Insert(s)

	time.Sleep(120 * time.Millisecond)
	loop := NewLoop(mgr, 200*time.Millisecond, time.Second)
	loop.tick()

	if len(sender.frames) != 1 {
		t.Fatalf("expected a ping frame sent, got %d frames", len(sender.frames))
	}
}

func TestTickSkipsActiveSession(t *testing.T) {
	table := routing.NewTable()
	mgr := session.NewManager(table)
	s, sender := testEstablishedSession(t, 2)
	mgr.Insert(s)

	loop := NewLoop(mgr, time.Hour, time.Second)
	loop.tick()

	if len(sender.frames) != 0 {
		t.Fatalf("expected no ping for a recently-active session, got %d frames", len(sender.frames))
	}
}

func TestTickRecordsFailedPingWhenUnanswered(t *testing.T) {
	table := routing.NewTable()
	mgr := session.NewManager(table)
	s, _ := testEstablishedSession(t, 3)
	mgr.Insert(s)

	time.Sleep(120 * time.Millisecond)
	loop := NewLoop(mgr, 200*time.Millisecond, time.Millisecond)
	loop.tick()
	if s.Stats().FailedPings != 0 {
		t.Fatalf("expected no failed ping on first tick, got %d", s.Stats().FailedPings)
	}

	time.Sleep(5 * time.Millisecond)
	loop.tick()
	if s.Stats().FailedPings != 1 {
		t.Fatalf("expected 1 failed ping after unanswered tick, got %d", s.Stats().FailedPings)
	}
}

func TestTickEvictsDeadSession(t *testing.T) {
	table := routing.NewTable()
	mgr := session.NewManager(table)
	s, _ := testEstablishedSession(t, 4)
	mgr.Insert(s)

	s.RecordFailedPing()
	s.RecordFailedPing()
	s.RecordFailedPing()

	loop := NewLoop(mgr, time.Hour, time.Second)
	loop.tick()

	if _, ok := mgr.Lookup(s.CID); ok {
		t.Fatalf("expected dead session to be evicted")
	}
}

func TestObservePongResetsFailedPingsAndRecordsRTT(t *testing.T) {
	s, _ := testEstablishedSession(t, 5)
	s.RecordFailedPing()
	s.MarkPingSent()
	time.Sleep(time.Millisecond)
	s.ObservePong()

	if s.Stats().FailedPings != 0 {
		t.Fatalf("expected failed pings reset after pong, got %d", s.Stats().FailedPings)
	}
	if s.Stats().RTT <= 0 {
		t.Fatalf("expected a positive rtt sample after pong")
	}
}
