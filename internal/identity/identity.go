// Package identity holds the long-term static keypair that identifies a
// node to its peers across the lifetime of the process.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// PeerID is a peer's stable identifier: its 32-byte static public key.
type PeerID [32]byte

// String returns the hex encoding of the peer ID.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// NodeIdentity is the static Curve25519 keypair used by the handshake
// engine. It is generated once per process and never rotated.
type NodeIdentity struct {
	keypair noise.DHKey
}

// NewNodeIdentity generates a fresh static keypair.
func NewNodeIdentity() (*NodeIdentity, error) {
	kp, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate static keypair: %w", err)
	}
	return &NodeIdentity{keypair: kp}, nil
}

// NodeIdentityFromPrivate reconstructs an identity from a persisted private key.
func NodeIdentityFromPrivate(priv []byte) (*NodeIdentity, error) {
	if len(priv) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(priv))
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	kp := noise.DHKey{
		Private: append([]byte(nil), priv...),
		Public:  pub,
	}
	return &NodeIdentity{keypair: kp}, nil
}

// DHKey returns the underlying Noise DH keypair.
func (n *NodeIdentity) DHKey() noise.DHKey {
	return n.keypair
}

// PublicKey returns this node's stable peer identifier.
func (n *NodeIdentity) PublicKey() PeerID {
	var id PeerID
	copy(id[:], n.keypair.Public)
	return id
}
