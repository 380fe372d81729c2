package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/ratelimit"
	"github.com/deb2000-sudo/wraithgo/internal/reputation"
	"github.com/deb2000-sudo/wraithgo/internal/routing"
	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

func newTestEndpoint(t *testing.T) (*Endpoint, *identity.NodeIdentity) {
	t.Helper()
	id, err := identity.NewNodeIdentity()
	if err != nil {
		t.Fatalf("NewNodeIdentity: %v", err)
	}
	table := routing.NewTable()
	sessions := session.NewManager(table)
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	rep := reputation.New(reputation.DefaultConfig())

	ep, err := New("127.0.0.1:0", table, sessions, limiter, rep, id)
	if err != nil {
		t.Fatalf("New endpoint: %v", err)
	}
	return ep, id
}

func TestHandshakeEstablishesSessionBothSides(t *testing.T) {
	a, idA := newTestEndpoint(t)
	b, idB := newTestEndpoint(t)
	defer a.Close()
	defer b.Close()

	go a.Serve()
	go b.Serve()

	hcA := NewHandshakeCoordinator(a, idA)
	NewHandshakeCoordinator(b, idB)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	bAddr := b.LocalAddr().(*net.UDPAddr)
	sessA, err := hcA.Connect(ctx, bAddr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sessA.State() != session.StateEstablished {
		t.Fatalf("expected initiator session established, got %s", sessA.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Sessions.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Sessions.Len() != 1 {
		t.Fatalf("expected responder to have established one session, got %d", b.Sessions.Len())
	}
}

func TestSendDatagramRejectsNonUDPAddr(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	defer ep.Close()

	err := ep.SendDatagram([]byte("x"), dummyAddr{})
	if err == nil {
		t.Fatalf("expected error for non-UDP address")
	}
}

type dummyAddr struct{}

func (dummyAddr) Network() string { return "dummy" }
func (dummyAddr) String() string  { return "dummy" }

func TestHandleDatagramDropsShortPacket(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	defer ep.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	ep.handleDatagram([]byte{1, 2, 3}, addr)

	if ep.Table.Len() != 0 {
		t.Fatalf("expected no routed session created from a malformed packet")
	}
}

func TestSealedDatagramRoundTrip(t *testing.T) {
	cid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	datagram := protocol.BuildSealedDatagram(cid, 42, []byte("ciphertext"))

	gotCID, gotSeq, gotCT, err := protocol.SplitSealedDatagram(datagram)
	if err != nil {
		t.Fatalf("SplitSealedDatagram: %v", err)
	}
	if gotCID != cid || gotSeq != 42 || string(gotCT) != "ciphertext" {
		t.Fatalf("round trip mismatch: cid=%v seq=%d ct=%q", gotCID, gotSeq, gotCT)
	}
}
