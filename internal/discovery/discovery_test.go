package discovery

import (
	"net"
	"testing"

	"github.com/deb2000-sudo/wraithgo/internal/identity"
)

func TestAnnounceThenLookup(t *testing.T) {
	d := NewStaticDiscoverer()
	var id identity.PeerID
	id[0] = 7

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	info := PeerInfo{PeerID: id, Addresses: []net.Addr{addr}, Capabilities: []string{"relay"}, NATType: NATFullCone}

	if err := d.Announce(info); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	got, err := d.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got.Addresses) != 1 || got.Addresses[0].String() != addr.String() {
		t.Fatalf("unexpected addresses: %+v", got.Addresses)
	}
	if got.NATType != NATFullCone {
		t.Fatalf("expected NATFullCone, got %v", got.NATType)
	}
	if got.LastSeen.IsZero() {
		t.Fatalf("expected LastSeen to be set")
	}
}

func TestLookupUnknownPeer(t *testing.T) {
	d := NewStaticDiscoverer()
	var id identity.PeerID
	id[0] = 42
	if _, err := d.Lookup(id); err != ErrUnknownPeer {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestBootstrapAccumulatesAddresses(t *testing.T) {
	d := NewStaticDiscoverer()
	a := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}
	b := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 2}

	if err := d.Bootstrap([]net.Addr{a}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := d.Bootstrap([]net.Addr{b}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	var zero identity.PeerID
	got, err := d.Lookup(zero)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got.Addresses) != 2 {
		t.Fatalf("expected 2 bootstrap addresses, got %d", len(got.Addresses))
	}
}

func TestForgetRemovesPeer(t *testing.T) {
	d := NewStaticDiscoverer()
	var id identity.PeerID
	id[0] = 1
	d.Announce(PeerInfo{PeerID: id})
	d.Forget(id)
	if _, err := d.Lookup(id); err != ErrUnknownPeer {
		t.Fatalf("expected ErrUnknownPeer after forget, got %v", err)
	}
}

func TestPeersListsAnnounced(t *testing.T) {
	d := NewStaticDiscoverer()
	var a, b identity.PeerID
	a[0], b[0] = 1, 2
	d.Announce(PeerInfo{PeerID: a})
	d.Announce(PeerInfo{PeerID: b})

	ids := d.Peers()
	if len(ids) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(ids))
	}
}
