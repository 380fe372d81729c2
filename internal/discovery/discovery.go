// Package discovery defines the external collaborator interface the core
// consumes to resolve a peer id to reachable addresses, plus a simple
// static in-memory implementation for deployments that configure peers up
// front rather than running a DHT (DHT/NAT-traversal/STUN/hole-punching are
// out of scope for the core; they live behind this interface).
package discovery

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/deb2000-sudo/wraithgo/internal/identity"
)

// NATType classifies a peer's reachability, as reported by a discovery
// backend (§6: "lookup(peer_id) -> {addresses, capabilities, nat_type}").
type NATType int

const (
	NATUnknown NATType = iota
	NATOpen
	NATFullCone
	NATRestrictedCone
	NATPortRestrictedCone
	NATSymmetric
)

// PeerInfo is what a Discoverer reports about a peer.
type PeerInfo struct {
	PeerID       identity.PeerID
	Addresses    []net.Addr
	Capabilities []string
	NATType      NATType
	LastSeen     time.Time
}

// ErrUnknownPeer is returned when a lookup finds no record for a peer id.
var ErrUnknownPeer = errors.New("discovery: unknown peer id")

// Discoverer is the collaborator interface the transport consumes to
// resolve peers (§6 Collaborator interfaces). DHT, STUN, and NAT traversal
// backends all implement this same interface; the core never depends on
// any of them directly.
type Discoverer interface {
	Announce(self PeerInfo) error
	Lookup(id identity.PeerID) (PeerInfo, error)
	Bootstrap(addresses []net.Addr) error
}

// StaticDiscoverer is an in-memory Discoverer backed by operator-supplied
// peer records, for deployments that configure peers directly instead of
// running a DHT (adapted from the teacher's orchestrator.Service relay
// registry, which tracked known relays in the same shape).
type StaticDiscoverer struct {
	mu    sync.RWMutex
	peers map[identity.PeerID]PeerInfo
}

// NewStaticDiscoverer builds an empty static discoverer.
func NewStaticDiscoverer() *StaticDiscoverer {
	return &StaticDiscoverer{peers: make(map[identity.PeerID]PeerInfo)}
}

// Announce records self's reachability information, overwriting any prior
// record for the same peer id.
func (d *StaticDiscoverer) Announce(self PeerInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	self.LastSeen = time.Now()
	d.peers[self.PeerID] = self
	return nil
}

// Lookup returns the last-announced info for id.
func (d *StaticDiscoverer) Lookup(id identity.PeerID) (PeerInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	if !ok {
		return PeerInfo{}, ErrUnknownPeer
	}
	return p, nil
}

// Bootstrap seeds the discoverer with a set of well-known addresses with no
// associated peer id, reachable by direct dial rather than lookup. A
// StaticDiscoverer has no separate bootstrap set to join, so addresses that
// arrive this way are recorded under the zero peer id as a fallback pool.
func (d *StaticDiscoverer) Bootstrap(addresses []net.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var zero identity.PeerID
	entry := d.peers[zero]
	entry.PeerID = zero
	entry.Addresses = append(entry.Addresses, addresses...)
	entry.LastSeen = time.Now()
	d.peers[zero] = entry
	return nil
}

// Peers returns every peer id with a current record.
func (d *StaticDiscoverer) Peers() []identity.PeerID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]identity.PeerID, 0, len(d.peers))
	for id := range d.peers {
		ids = append(ids, id)
	}
	return ids
}

// Forget removes any record for id.
func (d *StaticDiscoverer) Forget(id identity.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, id)
}
