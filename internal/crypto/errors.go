package crypto

import "errors"

// Error kinds for the AEAD session layer and handshake engine (§7).
var (
	// ErrNonceOverflow is returned by Encrypt once the send counter reaches
	// the rekey ceiling.
	ErrNonceOverflow = errors.New("crypto: send counter reached rekey ceiling")

	// ErrReplayDetected is returned by DecryptWithCounter without attempting
	// decryption when the sequence number fails the replay-window check.
	ErrReplayDetected = errors.New("crypto: replayed or out-of-window sequence number")

	// ErrDecryptionFailed covers AEAD authentication failure, including a
	// key-commitment mismatch.
	ErrDecryptionFailed = errors.New("crypto: decryption or authentication failed")

	// ErrHandshakeTimeout is returned when a handshake does not complete
	// within its deadline.
	ErrHandshakeTimeout = errors.New("crypto: handshake timed out")

	// ErrHandshakeAborted covers parse errors, bad message lengths, and DH
	// failures during the handshake exchange.
	ErrHandshakeAborted = errors.New("crypto: handshake aborted")
)
