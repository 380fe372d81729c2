package filehash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashChunkDeterministic(t *testing.T) {
	a := HashChunk([]byte("chunk-data"))
	b := HashChunk([]byte("chunk-data"))
	if a != b {
		t.Fatalf("expected identical input to hash identically")
	}
}

func TestBuildTreeSingleLeaf(t *testing.T) {
	leaf := HashChunk([]byte("only chunk"))
	tree := BuildTree([][HashSize]byte{leaf})
	if tree.Root != leaf {
		t.Fatalf("single-leaf tree root should equal the leaf itself")
	}
}

func TestBuildTreeOddLeafPromoted(t *testing.T) {
	l1 := HashChunk([]byte("a"))
	l2 := HashChunk([]byte("b"))
	l3 := HashChunk([]byte("c"))

	tree := BuildTree([][HashSize]byte{l1, l2, l3})

	parent := HashChunk(append(append([]byte{}, l1[:]...), l2[:]...))
	want := HashChunk(append(append([]byte{}, parent[:]...), l3[:]...))
	if tree.Root != want {
		t.Fatalf("odd-leaf promotion mismatch")
	}
}

func TestVerifyChunk(t *testing.T) {
	data := []byte("payload")
	tree := BuildTree([][HashSize]byte{HashChunk(data)})

	if !tree.VerifyChunk(0, data) {
		t.Fatalf("expected chunk to verify")
	}
	if tree.VerifyChunk(0, []byte("tampered")) {
		t.Fatalf("expected tampered chunk to fail verification")
	}
	if tree.VerifyChunk(5, data) {
		t.Fatalf("expected out-of-range index to fail verification")
	}
}

func TestComputeTreeHashMatchesIncrementalHasher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	content := make([]byte, 10*3+4)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fromFile, err := ComputeTreeHash(path, 10)
	if err != nil {
		t.Fatalf("ComputeTreeHash: %v", err)
	}

	h := NewIncrementalHasher(10)
	h.Write(content)
	fromIncremental := h.Finish()

	if fromFile.Root != fromIncremental.Root {
		t.Fatalf("root mismatch between ComputeTreeHash and IncrementalHasher")
	}
	if len(fromFile.Chunks) != len(fromIncremental.Chunks) {
		t.Fatalf("chunk count mismatch: %d vs %d", len(fromFile.Chunks), len(fromIncremental.Chunks))
	}
}

func TestBuildTreeEmpty(t *testing.T) {
	tree := BuildTree(nil)
	if tree.Root != ([HashSize]byte{}) {
		t.Fatalf("expected zero root for empty chunk set")
	}
}
