package crypto

import (
	"sync"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

// rekeyCeiling is the number of messages a single counter may seal or open
// before the owner must perform a key update (§4.1).
const rekeyCeiling = 1_000_000

// keyCommitmentLabel domain-separates the key-commitment digest from any
// other blake2s usage in the protocol (§9: domain-separation labels must be
// constant, bytes are implementation-defined).
var keyCommitmentLabel = []byte("wraith-key-commit-v1")

// nonceSaltLabel domain-separates the per-message nonce derivation.
var nonceSaltLabel = []byte("wraith-nonce-v1")

// bufferPool reuses scratch buffers across encrypt/decrypt calls to avoid
// per-datagram allocation on the hot path (grounded on the buffer-pool
// technique in the Rust original's wraith-crypto::aead::session module,
// adapted to Go's standard pooling primitive).
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 2*1024)
		return &buf
	},
}

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func putBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}

// SessionCrypto holds the directional AEAD keys, nonce counters, nonce salt,
// and replay window for one established session (§4.1, §3 Session).
type SessionCrypto struct {
	mu sync.Mutex

	sendKey [32]byte
	recvKey [32]byte
	salt    [16]byte

	sendCounter uint64
	recvCounter uint64

	sendAEAD cipherAEAD
	recvAEAD cipherAEAD

	replay *ReplayWindow

	sendCommitment [32]byte
	recvCommitment [32]byte
}

// cipherAEAD is satisfied by chacha20poly1305's returned cipher.AEAD.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// NewSessionCrypto builds session crypto state from the two directional keys
// and the chain key produced by the handshake split (§4.2).
func NewSessionCrypto(sendKey, recvKey, chainKey [32]byte) (*SessionCrypto, error) {
	sendAEAD, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, err
	}
	recvAEAD, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, err
	}

	sc := &SessionCrypto{
		sendKey:  sendKey,
		recvKey:  recvKey,
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
		replay:   NewReplayWindow(),
	}
	copy(sc.salt[:], chainKey[:16])
	sc.sendCommitment = commitment(sendKey)
	sc.recvCommitment = commitment(recvKey)
	return sc, nil
}

// commitment derives the 32-byte key-commitment digest bound into AAD.
// Prepending it to every AAD prevents multi-key ambiguity: a ciphertext that
// happens to authenticate under a second key would carry a mismatched
// commitment and be rejected (§4.1 rationale).
func commitment(key [32]byte) [32]byte {
	h, _ := blake2s.New256(keyCommitmentLabel)
	h.Write(key[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// deriveNonce builds the 12-byte ChaCha20-Poly1305 nonce from the counter
// and the session's 16-byte nonce salt, domain-separated from the
// key-commitment derivation.
func deriveNonce(salt [16]byte, counter uint64) [chacha20poly1305.NonceSize]byte {
	h, _ := blake2s.New256(nonceSaltLabel)
	h.Write(salt[:])
	var counterBytes [8]byte
	for i := 0; i < 8; i++ {
		counterBytes[i] = byte(counter >> (56 - 8*i))
	}
	h.Write(counterBytes[:])
	sum := h.Sum(nil)
	var nonce [chacha20poly1305.NonceSize]byte
	copy(nonce[:], sum[:chacha20poly1305.NonceSize])
	return nonce
}

// Encrypt seals plaintext under the send key, post-incrementing the send
// counter. The key commitment is prepended to aad before sealing.
func (sc *SessionCrypto) Encrypt(plaintext, aad []byte) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.sendCounter >= rekeyCeiling {
		return nil, ErrNonceOverflow
	}

	nonce := deriveNonce(sc.salt, sc.sendCounter)
	sc.sendCounter++

	committedAAD := getBuffer()
	defer putBuffer(committedAAD)
	*committedAAD = append(*committedAAD, sc.sendCommitment[:]...)
	*committedAAD = append(*committedAAD, aad...)

	return sc.sendAEAD.Seal(nil, nonce[:], plaintext, *committedAAD), nil
}

// Decrypt opens ciphertext under the recv key using the next recv counter
// value (sequential, non-explicit-sequence path).
func (sc *SessionCrypto) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	sc.mu.Lock()
	seq := sc.recvCounter
	sc.mu.Unlock()
	return sc.DecryptWithCounter(seq, ciphertext, aad)
}

// DecryptWithCounter opens ciphertext with an explicit sequence number,
// consulting the replay window before attempting decryption (§4.1). This is
// the variant used on the wire because frames carry their own sequence.
func (sc *SessionCrypto) DecryptWithCounter(seq uint64, ciphertext, aad []byte) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.replay.Check(seq) {
		return nil, ErrReplayDetected
	}

	nonce := deriveNonce(sc.salt, seq)

	committedAAD := getBuffer()
	defer putBuffer(committedAAD)
	*committedAAD = append(*committedAAD, sc.recvCommitment[:]...)
	*committedAAD = append(*committedAAD, aad...)

	plaintext, err := sc.recvAEAD.Open(nil, nonce[:], ciphertext, *committedAAD)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	sc.replay.Accept(seq)
	if seq >= sc.recvCounter {
		sc.recvCounter = seq + 1
	}
	return plaintext, nil
}

// NeedsRekey reports whether either counter has reached the ceiling.
func (sc *SessionCrypto) NeedsRekey() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sendCounter >= rekeyCeiling || sc.recvCounter >= rekeyCeiling
}

// Rekey replaces both directional keys and the chain-key-derived salt and
// resets the replay window, per §4.1 ("the window is reset whenever keys are
// updated").
func (sc *SessionCrypto) Rekey(sendKey, recvKey, chainKey [32]byte) error {
	sendAEAD, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return err
	}
	recvAEAD, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.sendKey = sendKey
	sc.recvKey = recvKey
	sc.sendAEAD = sendAEAD
	sc.recvAEAD = recvAEAD
	copy(sc.salt[:], chainKey[:16])
	sc.sendCommitment = commitment(sendKey)
	sc.recvCommitment = commitment(recvKey)
	sc.sendCounter = 0
	sc.recvCounter = 0
	sc.replay.Reset()
	return nil
}
