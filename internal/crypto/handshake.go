package crypto

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/hkdf"

	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// cidLabel and sessionIDLabel domain-separate the HKDF expansions used to
// turn the handshake's derived chain-key material into routing identifiers
// (§4.2, §9 open question on domain-separation labels).
var (
	cidLabel       = []byte("wraith-cid")
	sessionIDLabel = []byte("wraith-session-id")
	chainKeyLabel  = []byte("wraith-chain-key-v1")
)

// MessageExchanger carries raw handshake datagrams for one in-progress
// handshake. The transport layer (C6) implements this over the pending
// per-address handshake channel described in §4.2/§4.4.
type MessageExchanger interface {
	Send(msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// HandshakeResult is everything the session layer needs once the Noise_XX
// exchange completes (§4.2, §3 Session/SessionId).
// KeyInitToResp and KeyRespToInit are named by direction, not by role: the
// initiator's send key is KeyInitToResp and its recv key is KeyRespToInit;
// the responder assigns the opposite way (§4.2: "each side assigns the pair
// to its own send/recv slots accordingly").
type HandshakeResult struct {
	KeyInitToResp [32]byte
	KeyRespToInit [32]byte
	ChainKey      [32]byte
	CID           protocol.ConnectionID
	SessionID     [32]byte
	PeerStatic    identity.PeerID
}

// RunInitiator drives the initiator side of a three-message Noise_XX
// handshake (§4.2 message 1 and 3) over ex.
func RunInitiator(ctx context.Context, local *identity.NodeIdentity, ex MessageExchanger) (*HandshakeResult, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     true,
		StaticKeypair: local.DHKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeAborted, err)
	}

	// Message 1: -> e
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: write message 1: %v", ErrHandshakeAborted, err)
	}
	if err := ex.Send(msg1); err != nil {
		return nil, fmt.Errorf("%w: send message 1: %v", ErrHandshakeAborted, err)
	}

	// Message 2: <- e, ee, s, es
	raw2, err := ex.Recv(ctx)
	if err != nil {
		return nil, classifyRecvErr(err)
	}
	if _, _, _, err := hs.ReadMessage(nil, raw2); err != nil {
		return nil, fmt.Errorf("%w: read message 2: %v", ErrHandshakeAborted, err)
	}

	// Message 3: -> s, se
	msg3, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: write message 3: %v", ErrHandshakeAborted, err)
	}
	if err := ex.Send(msg3); err != nil {
		return nil, fmt.Errorf("%w: send message 3: %v", ErrHandshakeAborted, err)
	}

	var peerStatic identity.PeerID
	copy(peerStatic[:], hs.PeerStatic())

	// Initiator's cs1 is the I->R direction, cs2 is R->I (flynn/noise Split
	// convention; both sides agree on which CipherState is "first").
	return finishSplit(cs1, cs2, peerStatic)
}

// RunResponder drives the responder side. firstMessage is the already-routed
// Noise message 1, delivered by the packet router (§4.4 step 5) before the
// responder handshake task starts.
func RunResponder(ctx context.Context, local *identity.NodeIdentity, firstMessage []byte, ex MessageExchanger) (*HandshakeResult, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     false,
		StaticKeypair: local.DHKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeAborted, err)
	}

	// Message 1: <- e
	if _, _, _, err := hs.ReadMessage(nil, firstMessage); err != nil {
		return nil, fmt.Errorf("%w: read message 1: %v", ErrHandshakeAborted, err)
	}

	// Message 2: -> e, ee, s, es
	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: write message 2: %v", ErrHandshakeAborted, err)
	}
	if err := ex.Send(msg2); err != nil {
		return nil, fmt.Errorf("%w: send message 2: %v", ErrHandshakeAborted, err)
	}

	// Message 3: <- s, se
	raw3, err := ex.Recv(ctx)
	if err != nil {
		return nil, classifyRecvErr(err)
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, raw3)
	if err != nil {
		return nil, fmt.Errorf("%w: read message 3: %v", ErrHandshakeAborted, err)
	}

	var peerStatic identity.PeerID
	copy(peerStatic[:], hs.PeerStatic())

	return finishSplit(cs1, cs2, peerStatic)
}

// finishSplit derives our own key-committing directional keys and chain-key
// material from the Noise split's two CipherStates. flynn/noise does not
// expose the raw split keys, so both sides deterministically derive
// substitute secret material by running each CipherState once (at its
// initial nonce) as a keyed PRF over a fixed, domain-separated label —
// both parties hold the same underlying key so the derived bytes match.
func finishSplit(cs1, cs2 *noise.CipherState, peerStatic identity.PeerID) (*HandshakeResult, error) {
	if cs1 == nil || cs2 == nil {
		return nil, fmt.Errorf("%w: handshake did not complete split", ErrHandshakeAborted)
	}

	keyItoR := derivePRFKey(cs1, []byte("wraith-dir-i2r"))
	keyRtoI := derivePRFKey(cs2, []byte("wraith-dir-r2i"))

	h, _ := blake2s.New256(chainKeyLabel)
	h.Write(keyItoR[:])
	h.Write(keyRtoI[:])
	var chainKey [32]byte
	copy(chainKey[:], h.Sum(nil))

	cid, err := expandCID(chainKey)
	if err != nil {
		return nil, fmt.Errorf("%w: derive cid: %v", ErrHandshakeAborted, err)
	}
	sessionID, err := expandSessionID(chainKey, cid)
	if err != nil {
		return nil, fmt.Errorf("%w: derive session id: %v", ErrHandshakeAborted, err)
	}

	return &HandshakeResult{
		KeyInitToResp: keyItoR,
		KeyRespToInit: keyRtoI,
		ChainKey:      chainKey,
		CID:           cid,
		SessionID:     sessionID,
		PeerStatic:    peerStatic,
	}, nil
}

// derivePRFKey runs cs as a one-shot keyed PRF: Encrypt a zero block under
// ad=label at the CipherState's initial nonce and keep the leading 32 bytes
// of the sealed output as derived key material. The CipherState is not
// reused afterward.
func derivePRFKey(cs *noise.CipherState, label []byte) [32]byte {
	var zero [32]byte
	sealed := cs.Encrypt(nil, label, zero[:])
	var out [32]byte
	copy(out[:], sealed[:32])
	return out
}

func expandCID(chainKey [32]byte) (protocol.ConnectionID, error) {
	r := hkdf.New(sha256.New, chainKey[:], nil, cidLabel)
	var cid protocol.ConnectionID
	if _, err := io.ReadFull(r, cid[:]); err != nil {
		return protocol.ConnectionID{}, err
	}
	return cid, nil
}

func expandSessionID(chainKey [32]byte, cid protocol.ConnectionID) ([32]byte, error) {
	r := hkdf.New(sha256.New, chainKey[:], nil, sessionIDLabel)
	var tail [24]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return [32]byte{}, err
	}
	var sessionID [32]byte
	copy(sessionID[:8], cid[:])
	copy(sessionID[8:], tail[:])
	return sessionID, nil
}

// SessionKeys returns (sendKey, recvKey) for the caller's role in the
// handshake that produced this result.
func (r *HandshakeResult) SessionKeys(initiator bool) (sendKey, recvKey [32]byte) {
	if initiator {
		return r.KeyInitToResp, r.KeyRespToInit
	}
	return r.KeyRespToInit, r.KeyInitToResp
}

func classifyRecvErr(err error) error {
	if err == context.DeadlineExceeded {
		return ErrHandshakeTimeout
	}
	return fmt.Errorf("%w: %v", ErrHandshakeAborted, err)
}
