package crypto

import (
	"bytes"
	"testing"
)

func testKeys() (send, recv, chain [32]byte) {
	for i := range send {
		send[i] = byte(i + 1)
	}
	for i := range recv {
		recv[i] = byte(i + 100)
	}
	for i := range chain {
		chain[i] = byte(i + 200)
	}
	return
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sendKey, recvKey, chainKey := testKeys()

	alice, err := NewSessionCrypto(sendKey, recvKey, chainKey)
	if err != nil {
		t.Fatalf("NewSessionCrypto: %v", err)
	}
	bob, err := NewSessionCrypto(recvKey, sendKey, chainKey)
	if err != nil {
		t.Fatalf("NewSessionCrypto: %v", err)
	}

	plaintext := []byte("hello wraith")
	aad := []byte("frame-aad")

	ct, err := alice.Encrypt(plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	pt, err := bob.DecryptWithCounter(0, ct, aad)
	if err != nil {
		t.Fatalf("DecryptWithCounter: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, plaintext)
	}
}

func TestReplayDetected(t *testing.T) {
	sendKey, recvKey, chainKey := testKeys()
	alice, _ := NewSessionCrypto(sendKey, recvKey, chainKey)
	bob, _ := NewSessionCrypto(recvKey, sendKey, chainKey)

	ct, err := alice.Encrypt([]byte("once"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := bob.DecryptWithCounter(0, ct, nil); err != nil {
		t.Fatalf("first delivery should succeed: %v", err)
	}
	if _, err := bob.DecryptWithCounter(0, ct, nil); err != ErrReplayDetected {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}
}

func TestDecryptionFailsOnTamperedCiphertext(t *testing.T) {
	sendKey, recvKey, chainKey := testKeys()
	alice, _ := NewSessionCrypto(sendKey, recvKey, chainKey)
	bob, _ := NewSessionCrypto(recvKey, sendKey, chainKey)

	ct, err := alice.Encrypt([]byte("data"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF

	if _, err := bob.DecryptWithCounter(0, ct, nil); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestNonceOverflow(t *testing.T) {
	sendKey, recvKey, chainKey := testKeys()
	alice, _ := NewSessionCrypto(sendKey, recvKey, chainKey)
	alice.sendCounter = rekeyCeiling

	if _, err := alice.Encrypt([]byte("x"), nil); err != ErrNonceOverflow {
		t.Fatalf("expected ErrNonceOverflow, got %v", err)
	}
}

func TestReplayWindowAcceptsReorderingWithinRange(t *testing.T) {
	w := NewReplayWindow()
	if !w.Check(10) {
		t.Fatalf("expected first sequence accepted")
	}
	w.Accept(10)

	if !w.Check(5) {
		t.Fatalf("expected earlier-but-in-window sequence accepted")
	}
	w.Accept(5)

	if w.Check(5) {
		t.Fatalf("expected duplicate sequence rejected")
	}
	if !w.Check(11) {
		t.Fatalf("expected advancing sequence accepted")
	}
	w.Accept(11)
}

func TestReplayWindowCheckDoesNotMutateOnFailedAuth(t *testing.T) {
	w := NewReplayWindow()
	w.Accept(10)

	// A spoofed/corrupt datagram reusing a future seq must not poison the
	// window: Check alone must not mark it seen.
	if !w.Check(20) {
		t.Fatalf("expected seq 20 to be checkable as accepted")
	}
	if !w.Check(20) {
		t.Fatalf("Check must be idempotent when Accept is never called")
	}

	w.Accept(20)
	if w.Check(20) {
		t.Fatalf("expected seq 20 rejected as replay once actually accepted")
	}
}
