// Package transfer implements the chunker, reassembler, and per-transfer
// state machine that drive file transfer over established sessions
// (C8, §4.8).
package transfer

import (
	"errors"
	"os"
	"sync"

	"github.com/deb2000-sudo/wraithgo/internal/filehash"
)

// ErrChunkHashMismatch is returned when a received chunk's BLAKE3 hash
// doesn't match the pre-shared chunk vector (§4.8 receive path).
var ErrChunkHashMismatch = errors.New("transfer: chunk hash mismatch")

// ErrRootHashMismatch is returned once all chunks are present but the
// recomputed Merkle root disagrees with the StreamOpen's root_hash.
var ErrRootHashMismatch = errors.New("transfer: root hash mismatch")

// Reassembler is a sparse writer into the destination file with a
// per-chunk done-set (§3 TransferSession: "owns a Reassembler").
type Reassembler struct {
	mu sync.Mutex

	f         *os.File
	chunkSize int64
	fileSize  int64
	totalChunks uint64

	expectedChunks [][filehash.HashSize]byte // nil if not pre-shared
	expectedRoot   [filehash.HashSize]byte

	done   []bool
	doneN  int
}

// NewReassembler opens (creating if needed) path and prepares to receive
// totalChunks chunks of chunkSize bytes (the final chunk may be shorter),
// verifying against either the pre-shared chunk hash vector or, if nil,
// only the final root hash (§4.8: "if the tree's chunk vector is not
// pre-shared, verify at completion using the root").
func NewReassembler(path string, fileSize, chunkSize int64, totalChunks uint64, expectedChunks [][filehash.HashSize]byte, expectedRoot [filehash.HashSize]byte) (*Reassembler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(fileSize); err != nil {
		f.Close()
		return nil, err
	}

	return &Reassembler{
		f:              f,
		chunkSize:      chunkSize,
		fileSize:       fileSize,
		totalChunks:    totalChunks,
		expectedChunks: expectedChunks,
		expectedRoot:   expectedRoot,
		done:           make([]bool, totalChunks),
	}, nil
}

// WriteChunk verifies and writes one chunk at its index, returning
// (complete, error). complete is true once every chunk has been written
// and the recomputed Merkle root matches (§4.8 receive path).
func (r *Reassembler) WriteChunk(index uint64, data []byte) (bool, error) {
	if r.expectedChunks != nil {
		if index >= uint64(len(r.expectedChunks)) {
			return false, errors.New("transfer: chunk index out of range")
		}
		if filehash.HashChunk(data) != r.expectedChunks[index] {
			return false, ErrChunkHashMismatch
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if index >= uint64(len(r.done)) {
		return false, errors.New("transfer: chunk index out of range")
	}
	if r.done[index] {
		return r.doneN == len(r.done), nil
	}

	offset := int64(index) * r.chunkSize
	if _, err := r.f.WriteAt(data, offset); err != nil {
		return false, err
	}
	r.done[index] = true
	r.doneN++

	if r.doneN < len(r.done) {
		return false, nil
	}

	if r.expectedChunks == nil {
		if err := r.verifyRootFromFile(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// verifyRootFromFile recomputes the Merkle root by re-reading and
// re-hashing the completed file, used when no pre-shared chunk vector was
// available (§4.8: "verify at completion using the root").
func (r *Reassembler) verifyRootFromFile() error {
	if err := r.f.Sync(); err != nil {
		return err
	}
	tree, err := filehash.ComputeTreeHash(r.f.Name(), r.chunkSize)
	if err != nil {
		return err
	}
	if tree.Root != r.expectedRoot {
		return ErrRootHashMismatch
	}
	return nil
}

// Bitmap returns a copy of the per-chunk done-set, for resume persistence.
func (r *Reassembler) Bitmap() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.done))
	copy(out, r.done)
	return out
}

// SetBitmap restores a previously persisted done-set (resumable transfers,
// §4.8 resume path).
func (r *Reassembler) SetBitmap(bitmap []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.done, bitmap)
	n := 0
	for _, b := range r.done {
		if b {
			n++
		}
	}
	r.doneN = n
}

// Missing returns every chunk index not yet written, used to resume a
// partial transfer.
func (r *Reassembler) Missing() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var missing []uint64
	for i, b := range r.done {
		if !b {
			missing = append(missing, uint64(i))
		}
	}
	return missing
}

// Close closes the underlying file.
func (r *Reassembler) Close() error {
	return r.f.Close()
}
