package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// ConnectionIDSize is the length of the routing prefix on every
// non-handshake datagram.
const ConnectionIDSize = 8

// ConnectionID is the 8-byte routing key carried by every established-session
// datagram.
type ConnectionID [ConnectionIDSize]byte

// Uint64 returns the big-endian integer form used as a RoutingTable key.
func (c ConnectionID) Uint64() uint64 {
	return binary.BigEndian.Uint64(c[:])
}

// String returns the hex encoding of the connection id, used as a map key
// in components that track per-session state by string (e.g. rate limit
// buckets).
func (c ConnectionID) String() string {
	return hex.EncodeToString(c[:])
}

// ConnectionIDFromUint64 builds a ConnectionID from its integer form.
func ConnectionIDFromUint64(v uint64) ConnectionID {
	var c ConnectionID
	binary.BigEndian.PutUint64(c[:], v)
	return c
}

// SplitDatagram extracts the connection id prefix and the remaining
// ciphertext from a received datagram. Per §4.4, datagrams shorter than the
// CID are dropped as malformed.
func SplitDatagram(datagram []byte) (ConnectionID, []byte, error) {
	if len(datagram) < ConnectionIDSize {
		return ConnectionID{}, nil, errors.New("protocol: datagram shorter than connection id")
	}
	var cid ConnectionID
	copy(cid[:], datagram[:ConnectionIDSize])
	return cid, datagram[ConnectionIDSize:], nil
}

// BuildDatagram prefixes ciphertext with its routing connection id.
func BuildDatagram(cid ConnectionID, ciphertext []byte) []byte {
	out := make([]byte, ConnectionIDSize+len(ciphertext))
	copy(out, cid[:])
	copy(out[ConnectionIDSize:], ciphertext)
	return out
}

// SequenceSize is the width of the cleartext AEAD sequence number carried
// on every established-session datagram, alongside the connection id. The
// sequence is not secret (QUIC-style packet numbers are sent in the clear
// too); it only tells the receiver which nonce and replay-window slot to
// use before the ciphertext can be opened.
const SequenceSize = 8

// BuildSealedDatagram prefixes ciphertext with its routing connection id
// and cleartext AEAD sequence number: cid(8) || seq(8) || ciphertext.
func BuildSealedDatagram(cid ConnectionID, seq uint64, ciphertext []byte) []byte {
	out := make([]byte, ConnectionIDSize+SequenceSize+len(ciphertext))
	copy(out, cid[:])
	binary.BigEndian.PutUint64(out[ConnectionIDSize:], seq)
	copy(out[ConnectionIDSize+SequenceSize:], ciphertext)
	return out
}

// SplitSealedDatagram extracts the connection id, cleartext sequence
// number, and remaining ciphertext from a received datagram.
func SplitSealedDatagram(datagram []byte) (ConnectionID, uint64, []byte, error) {
	if len(datagram) < ConnectionIDSize+SequenceSize {
		return ConnectionID{}, 0, nil, errors.New("protocol: datagram shorter than connection id and sequence")
	}
	var cid ConnectionID
	copy(cid[:], datagram[:ConnectionIDSize])
	seq := binary.BigEndian.Uint64(datagram[ConnectionIDSize : ConnectionIDSize+SequenceSize])
	return cid, seq, datagram[ConnectionIDSize+SequenceSize:], nil
}
