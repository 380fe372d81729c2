package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// TransferIDSize is the length of a transfer's canonical content-addressed key.
const TransferIDSize = 32

// RootHashSize is the length of a BLAKE3 Merkle root.
const RootHashSize = 32

// StreamOpenMeta is the decoded form of a StreamOpen frame's payload (§4.8):
//
//	32 bytes transfer_id
//	1  byte  file_name length N (N <= 255)
//	N  bytes file_name (UTF-8)
//	8  bytes file_size (big-endian)
//	4  bytes chunk_size
//	8  bytes total_chunks
//	32 bytes root_hash
type StreamOpenMeta struct {
	TransferID  [TransferIDSize]byte
	FileName    string
	FileSize    uint64
	ChunkSize   uint32
	TotalChunks uint64
	RootHash    [RootHashSize]byte
}

// EncodeStreamOpen serializes StreamOpenMeta to its 85+N byte wire form.
func EncodeStreamOpen(m *StreamOpenMeta) ([]byte, error) {
	nameBytes := []byte(m.FileName)
	if len(nameBytes) > 255 {
		return nil, errors.New("protocol: file name exceeds 255 bytes")
	}
	if !utf8.Valid(nameBytes) {
		return nil, errors.New("protocol: file name is not valid UTF-8")
	}

	buf := bytes.NewBuffer(make([]byte, 0, 85+len(nameBytes)))
	buf.Write(m.TransferID[:])
	buf.WriteByte(byte(len(nameBytes)))
	buf.Write(nameBytes)
	if err := binary.Write(buf, binary.BigEndian, m.FileSize); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, m.ChunkSize); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, m.TotalChunks); err != nil {
		return nil, err
	}
	buf.Write(m.RootHash[:])
	return buf.Bytes(), nil
}

// DecodeStreamOpen parses a StreamOpen frame payload, strict on lengths and UTF-8.
func DecodeStreamOpen(payload []byte) (*StreamOpenMeta, error) {
	if len(payload) < TransferIDSize+1 {
		return nil, errors.New("protocol: stream-open payload too short")
	}

	r := bytes.NewReader(payload)

	var m StreamOpenMeta
	if _, err := r.Read(m.TransferID[:]); err != nil {
		return nil, err
	}

	nameLen, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	nameBytes := make([]byte, nameLen)
	if _, err := r.Read(nameBytes); err != nil {
		return nil, errors.New("protocol: stream-open payload truncated in file name")
	}
	if !utf8.Valid(nameBytes) {
		return nil, errors.New("protocol: file name is not valid UTF-8")
	}
	m.FileName = string(nameBytes)

	if err := binary.Read(r, binary.BigEndian, &m.FileSize); err != nil {
		return nil, errors.New("protocol: stream-open payload truncated in file size")
	}
	if err := binary.Read(r, binary.BigEndian, &m.ChunkSize); err != nil {
		return nil, errors.New("protocol: stream-open payload truncated in chunk size")
	}
	if err := binary.Read(r, binary.BigEndian, &m.TotalChunks); err != nil {
		return nil, errors.New("protocol: stream-open payload truncated in total chunks")
	}
	if _, err := r.Read(m.RootHash[:]); err != nil {
		return nil, errors.New("protocol: stream-open payload truncated in root hash")
	}
	if r.Len() != 0 {
		return nil, errors.New("protocol: stream-open payload has trailing bytes")
	}

	return &m, nil
}
