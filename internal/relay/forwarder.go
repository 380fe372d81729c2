// Package relay implements a byte-blind UDP packet forwarder for nodes
// that cannot reach each other directly. It never inspects or decrypts
// the datagrams it forwards, so a relay hop leaves each side's end-to-end
// Noise session untouched (adapted from the teacher's edge-relay
// forwarder, generalized from a one-directional listen->forward pipe into
// a two-peer bidirectional one since this protocol has no fixed
// sender/receiver role once a session is established).
package relay

import (
	"log"
	"net"
	"sync"
	"time"
)

const maxDatagramSize = 64*1024 + 256

// heartbeatInterval matches the teacher's forwarder heartbeat cadence.
const heartbeatInterval = 30 * time.Second

// Forwarder relays datagrams between two peer addresses over a single
// bound UDP socket.
type Forwarder struct {
	ListenAddr *net.UDPAddr
	PeerA      *net.UDPAddr
	PeerB      *net.UDPAddr
	RelayID    string

	conn   *net.UDPConn
	closed chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	learned map[string]*net.UDPAddr

	bytesRelayed uint64
}

// NewForwarder binds listen and prepares to relay between peerA and peerB.
func NewForwarder(listen, peerA, peerB, relayID string) (*Forwarder, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, err
	}
	a, err := net.ResolveUDPAddr("udp", peerA)
	if err != nil {
		return nil, err
	}
	b, err := net.ResolveUDPAddr("udp", peerB)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		ListenAddr: laddr,
		PeerA:      a,
		PeerB:      b,
		RelayID:    relayID,
		conn:       conn,
		closed:     make(chan struct{}),
		learned:    make(map[string]*net.UDPAddr),
	}, nil
}

// Start begins forwarding packets and logging heartbeats until Close is
// called.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		buf := make([]byte, maxDatagramSize)
		for {
			n, from, err := f.conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-f.closed:
					return
				default:
					log.Printf("[relay %s] read error from %v: %v", f.RelayID, from, err)
					continue
				}
			}

			dest := f.destinationFor(from)
			if dest == nil {
				continue
			}
			if _, err := f.conn.WriteToUDP(buf[:n], dest); err != nil {
				log.Printf("[relay %s] forward error to %v: %v", f.RelayID, dest, err)
				continue
			}

			f.mu.Lock()
			f.bytesRelayed += uint64(n)
			f.mu.Unlock()
		}
	}()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.mu.Lock()
				total := f.bytesRelayed
				f.mu.Unlock()
				log.Printf("[relay %s] heartbeat (relayed %d bytes between %s and %s)",
					f.RelayID, total, f.PeerA, f.PeerB)
			case <-f.closed:
				return
			}
		}
	}()
}

// destinationFor maps an observed source address to the other side's
// current live address, recording from as the live address for whichever
// configured peer it matches (a peer's configured address may be a NAT
// mapping unreachable from the relay until that peer has sent through it
// at least once). An exact IP and port match wins; a source matching
// neither configured address exactly is matched by IP alone, peer A first.
func (f *Forwarder) destinationFor(from *net.UDPAddr) *net.UDPAddr {
	f.mu.Lock()
	defer f.mu.Unlock()

	matchesA := from.IP.Equal(f.PeerA.IP) && from.Port == f.PeerA.Port
	matchesB := from.IP.Equal(f.PeerB.IP) && from.Port == f.PeerB.Port
	if !matchesA && !matchesB {
		matchesA = from.IP.Equal(f.PeerA.IP)
		matchesB = from.IP.Equal(f.PeerB.IP)
	}

	switch {
	case matchesA:
		f.learned[f.PeerA.String()] = from
		if dest, ok := f.learned[f.PeerB.String()]; ok {
			return dest
		}
		return f.PeerB
	case matchesB:
		f.learned[f.PeerB.String()] = from
		if dest, ok := f.learned[f.PeerA.String()]; ok {
			return dest
		}
		return f.PeerA
	default:
		return nil
	}
}

// Close stops forwarding and closes the socket.
func (f *Forwarder) Close() error {
	close(f.closed)
	err := f.conn.Close()
	f.wg.Wait()
	return err
}
