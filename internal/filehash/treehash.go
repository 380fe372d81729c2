// Package filehash computes and verifies the BLAKE3 Merkle tree hash used to
// content-address transferred files (§4.7, C7).
package filehash

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"lukechampine.com/blake3"
)

// HashSize is the width of a BLAKE3 digest and Merkle node.
const HashSize = 32

// Tree is a computed or reconstructed FileTreeHash: the Merkle root plus the
// ordered per-chunk leaf hashes it was built from.
type Tree struct {
	Root   [HashSize]byte
	Chunks [][HashSize]byte
}

// HashChunk returns the BLAKE3 hash of a single chunk's bytes.
func HashChunk(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}

// VerifyChunk reports whether BLAKE3(data) equals tree.Chunks[index].
// Returns false (never panics) if index is out of bounds.
func (t *Tree) VerifyChunk(index int, data []byte) bool {
	if index < 0 || index >= len(t.Chunks) {
		return false
	}
	return HashChunk(data) == t.Chunks[index]
}

// ComputeTreeHash reads the file at path sequentially, hashing it in
// chunkSize-byte pieces, and reduces the resulting leaf vector to a Merkle
// root (§4.7).
func ComputeTreeHash(path string, chunkSize int64) (*Tree, error) {
	if chunkSize <= 0 {
		return nil, errors.New("filehash: chunk size must be positive")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filehash: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	buf := make([]byte, chunkSize)

	var chunks [][HashSize]byte
	for {
		n, readErr := readFull(r, buf)
		if n > 0 {
			chunks = append(chunks, HashChunk(buf[:n]))
		}
		if readErr != nil {
			break
		}
	}

	return BuildTree(chunks), nil
}

// readFull reads up to len(buf) bytes, returning io.EOF-style termination
// (non-nil error) only once no further bytes are available.
func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// BuildTree reduces an ordered leaf-hash vector to a Merkle root (§4.7):
// parents combine as BLAKE3(left || right); an odd trailing node is promoted
// unchanged. n=0 yields the degenerate all-zero root; n=1 yields the leaf
// itself.
func BuildTree(chunks [][HashSize]byte) *Tree {
	t := &Tree{Chunks: chunks}
	t.Root = computeMerkleRoot(chunks)
	return t
}

// computeMerkleRoot is the pure reduction function exercised directly by
// property tests (§8: "Merkle reduction is deterministic").
func computeMerkleRoot(leaves [][HashSize]byte) [HashSize]byte {
	if len(leaves) == 0 {
		return [HashSize]byte{}
	}
	level := leaves
	for len(level) > 1 {
		next := make([][HashSize]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				var buf [2 * HashSize]byte
				copy(buf[:HashSize], level[i][:])
				copy(buf[HashSize:], level[i+1][:])
				next = append(next, blake3.Sum256(buf[:]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}

// IncrementalHasher buffers bytes until a full chunk accumulates, so hashing
// can overlap an in-progress transfer instead of requiring the whole file
// up front.
type IncrementalHasher struct {
	chunkSize int
	buf       []byte
	chunks    [][HashSize]byte
}

// NewIncrementalHasher creates a hasher that emits a leaf every chunkSize bytes.
func NewIncrementalHasher(chunkSize int) *IncrementalHasher {
	return &IncrementalHasher{
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize),
	}
}

// Write feeds more file bytes into the hasher, emitting leaf hashes for any
// chunk boundaries crossed.
func (h *IncrementalHasher) Write(p []byte) {
	for len(p) > 0 {
		room := h.chunkSize - len(h.buf)
		n := room
		if n > len(p) {
			n = len(p)
		}
		h.buf = append(h.buf, p[:n]...)
		p = p[n:]
		if len(h.buf) == h.chunkSize {
			h.chunks = append(h.chunks, HashChunk(h.buf))
			h.buf = h.buf[:0]
		}
	}
}

// Finish flushes any partial trailing chunk and returns the completed Tree.
func (h *IncrementalHasher) Finish() *Tree {
	if len(h.buf) > 0 {
		h.chunks = append(h.chunks, HashChunk(h.buf))
		h.buf = h.buf[:0]
	}
	return BuildTree(h.chunks)
}
