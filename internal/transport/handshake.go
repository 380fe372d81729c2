package transport

import (
	"context"
	"net"
	"sync"
	"time"

	icrypto "github.com/deb2000-sudo/wraithgo/internal/crypto"
	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

// HandshakeTimeout bounds how long a responder handshake may wait for the
// initiator's next message before aborting.
const HandshakeTimeout = 5 * time.Second

// udpExchanger implements crypto.MessageExchanger over a fixed remote
// address on the endpoint's shared socket, used to drive one in-progress
// handshake (§4.2, §4.6: "C2 is driven by C6").
type udpExchanger struct {
	endpoint *Endpoint
	remote   *net.UDPAddr
	inbox    chan []byte
}

func newExchanger(e *Endpoint, remote *net.UDPAddr) *udpExchanger {
	return &udpExchanger{
		endpoint: e,
		remote:   remote,
		inbox:    make(chan []byte, 4),
	}
}

// Send prefixes msg with a zero connection id: handshake-phase datagrams
// carry no real CID yet (one is only derived once the handshake
// completes), but the receiver's packet router always reads 8 bytes as a
// CID before classifying a datagram (§4.4 step 2), so both sides agree on
// an all-zero placeholder until then.
func (x *udpExchanger) Send(msg []byte) error {
	datagram := protocol.BuildDatagram(protocol.ConnectionID{}, msg)
	return x.endpoint.SendDatagram(datagram, x.remote)
}

func (x *udpExchanger) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-x.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (x *udpExchanger) deliver(msg []byte) {
	select {
	case x.inbox <- msg:
	default:
	}
}

// HandshakeCoordinator tracks pending responder handshakes keyed by remote
// address (§4.4 step 4: "check pending-handshake table for src").
type HandshakeCoordinator struct {
	endpoint *Endpoint
	identity *identity.NodeIdentity

	mu      sync.Mutex
	pending map[string]*udpExchanger

	// OnEstablished is called once a responder handshake completes and the
	// resulting session has been inserted into the routing table.
	OnEstablished func(s *session.Session)
}

// NewHandshakeCoordinator builds a coordinator bound to e and local.
func NewHandshakeCoordinator(e *Endpoint, local *identity.NodeIdentity) *HandshakeCoordinator {
	hc := &HandshakeCoordinator{
		endpoint: e,
		identity: local,
		pending:  make(map[string]*udpExchanger),
	}
	e.OnUnknownCID = hc.handleUnknown
	return hc
}

func (hc *HandshakeCoordinator) handleUnknown(raw []byte, from *net.UDPAddr) {
	key := from.String()

	hc.mu.Lock()
	x, ok := hc.pending[key]
	hc.mu.Unlock()

	if ok {
		_, payload, err := protocol.SplitDatagram(raw)
		if err == nil {
			x.deliver(payload)
		}
		return
	}

	// Fresh handshake initiation (§4.4 step 5): the remaining bytes after
	// the connection-id prefix are Noise message 1.
	_, firstMessage, err := protocol.SplitDatagram(raw)
	if err != nil {
		return
	}

	ex := newExchanger(hc.endpoint, from)
	hc.mu.Lock()
	hc.pending[key] = ex
	hc.mu.Unlock()

	go hc.runResponder(key, ex, firstMessage, from)
}

func (hc *HandshakeCoordinator) runResponder(key string, ex *udpExchanger, firstMessage []byte, from *net.UDPAddr) {
	defer func() {
		hc.mu.Lock()
		delete(hc.pending, key)
		hc.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
	defer cancel()

	result, err := icrypto.RunResponder(ctx, hc.identity, firstMessage, ex)
	if err != nil {
		return
	}

	sendKey, recvKey := result.SessionKeys(false)
	sc, err := icrypto.NewSessionCrypto(sendKey, recvKey, result.ChainKey)
	if err != nil {
		return
	}

	s := session.New(result.PeerStatic, from, hc.endpoint)
	if err := s.Establish(result.CID, result.SessionID, sc); err != nil {
		return
	}

	if hc.endpoint.Sessions != nil {
		hc.endpoint.Sessions.Insert(s)
	} else {
		hc.endpoint.Table.Insert(result.CID, s, from)
	}
	if hc.OnEstablished != nil {
		hc.OnEstablished(s)
	}
}

// Connect drives an initiator handshake against remote and, on success,
// installs the resulting session into the endpoint's routing table and
// session manager.
func (hc *HandshakeCoordinator) Connect(ctx context.Context, remote *net.UDPAddr) (*session.Session, error) {
	ex := newExchanger(hc.endpoint, remote)
	key := remote.String()

	hc.mu.Lock()
	hc.pending[key] = ex
	hc.mu.Unlock()
	defer func() {
		hc.mu.Lock()
		delete(hc.pending, key)
		hc.mu.Unlock()
	}()

	result, err := icrypto.RunInitiator(ctx, hc.identity, ex)
	if err != nil {
		return nil, err
	}

	sendKey, recvKey := result.SessionKeys(true)
	sc, err := icrypto.NewSessionCrypto(sendKey, recvKey, result.ChainKey)
	if err != nil {
		return nil, err
	}

	s := session.New(result.PeerStatic, remote, hc.endpoint)
	if err := s.Establish(result.CID, result.SessionID, sc); err != nil {
		return nil, err
	}

	if hc.endpoint.Sessions != nil {
		hc.endpoint.Sessions.Insert(s)
	} else {
		hc.endpoint.Table.Insert(result.CID, s, remote)
	}
	return s, nil
}
