package transfer

import (
	"os"

	"github.com/klauspost/compress/zstd"
)

// Chunker reads a file sequentially in fixed-size pieces for the sender
// side of a transfer (§4.8 send path step 4).
type Chunker struct {
	f         *os.File
	chunkSize int64
	fileSize  int64
}

// NewChunker opens path for chunked reading.
func NewChunker(path string, chunkSize int64) (*Chunker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Chunker{f: f, chunkSize: chunkSize, fileSize: info.Size()}, nil
}

// TotalChunks returns ceil(file_size / chunk_size) (§3 TransferSession).
func (c *Chunker) TotalChunks() uint64 {
	if c.chunkSize <= 0 {
		return 0
	}
	n := c.fileSize / c.chunkSize
	if c.fileSize%c.chunkSize != 0 {
		n++
	}
	return uint64(n)
}

// FileSize returns the source file's total size in bytes.
func (c *Chunker) FileSize() int64 {
	return c.fileSize
}

// ReadChunk reads the index'th chunk (the final chunk may be shorter than
// chunkSize).
func (c *Chunker) ReadChunk(index uint64) ([]byte, error) {
	offset := int64(index) * c.chunkSize
	size := c.chunkSize
	if remaining := c.fileSize - offset; remaining < size {
		size = remaining
	}
	if size <= 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := c.f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the underlying file.
func (c *Chunker) Close() error {
	return c.f.Close()
}

// compressor and decompressor wrap zstd for the optional pre-AEAD chunk
// compression step the teacher applied before encryption (adapted from
// the teacher's crypto package, which compressed payloads with zstd ahead
// of sealing).
var (
	encoderPool, _ = zstd.NewWriter(nil)
	decoderPool, _ = zstd.NewReader(nil)
)

// CompressChunk compresses a chunk's plaintext before AEAD sealing.
// Compression is skipped (the data returned unchanged with ok=false) if it
// does not shrink the payload, since already-compressed/random file data
// is common in this protocol's workload.
func CompressChunk(data []byte) (out []byte, ok bool) {
	compressed := encoderPool.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data, false
	}
	return compressed, true
}

// DecompressChunk reverses CompressChunk.
func DecompressChunk(data []byte) ([]byte, error) {
	return decoderPool.DecodeAll(data, nil)
}
