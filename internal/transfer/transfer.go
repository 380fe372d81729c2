package transfer

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deb2000-sudo/wraithgo/internal/congestion"
	"github.com/deb2000-sudo/wraithgo/internal/filehash"
	"github.com/deb2000-sudo/wraithgo/internal/resume"
	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

// Direction is a TransferSession's role (§3 TransferSession).
type Direction int

const (
	DirectionSend Direction = iota
	DirectionReceive
)

// ErrUnknownTransfer is returned for operations against a transfer_id the
// manager does not track.
var ErrUnknownTransfer = errors.New("transfer: unknown transfer id")

// ErrCancelled is returned from operations against a cancelled transfer.
var ErrCancelled = errors.New("transfer: cancelled")

// Session is a per-transfer context (§3 TransferSession).
type Session struct {
	ID          [32]byte
	Direction   Direction
	Path        string
	FileSize    int64
	ChunkSize   int64
	TotalChunks uint64
	StreamID    uint16
	RootHash    [filehash.HashSize]byte

	BytesDone uint64
	StartedAt time.Time

	mu        sync.Mutex
	cancelled bool

	// completed tracks, on the send side only, which chunk indices a prior
	// run already delivered (§4.8 "skip chunks already marked"). Nil means
	// no resume record applies and every chunk must be sent.
	completed []bool

	// shardBuf accumulates erasure shards per chunk index for a multi-peer
	// receive (§4.16), keyed by chunk index.
	shardBuf map[uint64][][]byte

	chunker     *Chunker
	reassembler *Reassembler
	tree        *filehash.Tree
	peer        *session.Session
}

func (t *Session) chunkDone(i uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed != nil && i < uint64(len(t.completed)) && t.completed[i]
}

func (t *Session) markChunkDone(i uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed != nil && i < uint64(len(t.completed)) {
		t.completed[i] = true
	}
}

// Progress returns bytes_sent/bytes_total and bytes_total as defined in
// §4.8 ("Progress and backpressure").
func (t *Session) Progress() (float64, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FileSize == 0 {
		return 0, 0
	}
	return float64(t.BytesDone) / float64(t.FileSize), t.FileSize
}

func (t *Session) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Manager tracks every in-flight TransferSession, keyed by transfer_id, and
// a secondary index by stream_id for dispatching Data frames that only
// carry the routing-hint stream_id (§4.8: "transfer_id remains the
// canonical key").
type Manager struct {
	mu        sync.Mutex
	transfers map[[32]byte]*Session
	byStream  map[uint16]*Session

	// resume, when non-nil, backs every transfer with a persisted
	// ResumeState so an interrupted transfer can pick up where it left off
	// (C15, §4.8, §4.15).
	resume *resume.Store
}

// NewManager constructs an empty transfer manager with no resume support:
// every transfer starts from scratch and progress is not persisted.
func NewManager() *Manager {
	return NewManagerWithResume(nil)
}

// NewManagerWithResume constructs a transfer manager backed by store. Every
// send and receive consults store before starting and persists progress as
// chunks are verified, so a killed and restarted transfer can resume.
func NewManagerWithResume(store *resume.Store) *Manager {
	return &Manager{
		transfers: make(map[[32]byte]*Session),
		byStream:  make(map[uint16]*Session),
		resume:    store,
	}
}

// compatible reports whether a persisted record still matches a freshly
// computed transfer's identity, per §4.8: "If present and compatible (same
// root and chunk size), skip chunks already marked; otherwise start fresh."
func compatible(s *resume.State, root [filehash.HashSize]byte, chunkSize int64, totalChunks uint64) bool {
	return s.RootHash == root && s.ChunkSize == chunkSize && s.TotalChunks == totalChunks
}

// streamIDFromTransferID derives stream_id = (transfer_id[0] << 8) |
// transfer_id[1] (§4.8 send path step 2).
func streamIDFromTransferID(id [32]byte) uint16 {
	return uint16(id[0])<<8 | uint16(id[1])
}

// StartSend begins sending path as a new transfer over peer, generating a
// fresh transfer_id, computing the FileTreeHash, and emitting the
// StreamOpen frame (§4.8 send path steps 1-3).
func (m *Manager) StartSend(path string, peer *session.Session, chunkSize int64) (*Session, error) {
	tree, err := filehash.ComputeTreeHash(path, chunkSize)
	if err != nil {
		return nil, err
	}

	chunker, err := NewChunker(path, chunkSize)
	if err != nil {
		return nil, err
	}

	// transfer_id is the file's own root hash rather than a random value,
	// so a restarted send against the same content finds its prior resume
	// record (§4.8 resumable transfers).
	transferID := tree.Root

	ts := &Session{
		ID:          transferID,
		Direction:   DirectionSend,
		Path:        path,
		FileSize:    chunker.FileSize(),
		ChunkSize:   chunkSize,
		TotalChunks: chunker.TotalChunks(),
		StreamID:    streamIDFromTransferID(transferID),
		RootHash:    tree.Root,
		StartedAt:   time.Now(),
		chunker:     chunker,
		tree:        tree,
		peer:        peer,
	}

	if m.resume != nil {
		if err := m.loadOrInitResumeForSend(ts, peer, chunkSize); err != nil {
			chunker.Close()
			return nil, err
		}
	}

	meta := &protocol.StreamOpenMeta{
		TransferID:  transferID,
		FileName:    filepath.Base(path),
		FileSize:    uint64(ts.FileSize),
		ChunkSize:   uint32(chunkSize),
		TotalChunks: ts.TotalChunks,
		RootHash:    tree.Root,
	}
	payload, err := protocol.EncodeStreamOpen(meta)
	if err != nil {
		chunker.Close()
		return nil, err
	}

	frame := &protocol.Frame{Type: protocol.FrameTypeStreamOpen, StreamID: ts.StreamID, Payload: payload}
	encoded, err := protocol.Encode(frame)
	if err != nil {
		chunker.Close()
		return nil, err
	}
	if err := peer.Send(encoded); err != nil {
		chunker.Close()
		return nil, err
	}

	m.mu.Lock()
	m.transfers[transferID] = ts
	m.byStream[ts.StreamID] = ts
	m.mu.Unlock()

	return ts, nil
}

// loadOrInitResumeForSend consults the resume store for ts's transfer_id
// and either adopts a compatible prior record's completed-chunk bitmap or
// persists a fresh one (§4.8 resumable transfers, §4.15).
func (m *Manager) loadOrInitResumeForSend(ts *Session, peer *session.Session, chunkSize int64) error {
	if prev, err := m.resume.Load(ts.ID); err == nil {
		if compatible(prev, ts.RootHash, chunkSize, ts.TotalChunks) {
			ts.completed = append([]bool(nil), prev.CompletedChunks...)
			return nil
		}
	} else if err != resume.ErrNotFound {
		return err
	}

	ts.completed = make([]bool, ts.TotalChunks)
	return m.resume.Save(&resume.State{
		TransferID:      ts.ID,
		PeerID:          peer.PeerID,
		RootHash:        ts.RootHash,
		FileSize:        ts.FileSize,
		ChunkSize:       chunkSize,
		TotalChunks:     ts.TotalChunks,
		CompletedChunks: ts.completed,
		FilePath:        ts.Path,
		Direction:       resume.DirectionSend,
		CreatedAt:       time.Now(),
		LastActive:      time.Now(),
	})
}

// PumpSend emits Data frames for ts, gated by cc so in-flight bytes never
// exceed cwnd (§4.8 send path step 4, §4.9 pacing), skipping any chunk a
// resume record already marks delivered. It returns once every chunk has
// been sent, the transfer is cancelled, or an error occurs.
func (m *Manager) PumpSend(ts *Session, cc *congestion.Controller) error {
	for i := uint64(0); i < ts.TotalChunks; i++ {
		if ts.isCancelled() {
			return ErrCancelled
		}

		if ts.chunkDone(i) {
			ts.mu.Lock()
			ts.BytesDone += uint64(chunkLen(i, ts.ChunkSize, ts.FileSize))
			ts.mu.Unlock()
			continue
		}

		data, err := ts.chunker.ReadChunk(i)
		if err != nil {
			return err
		}
		if filehash.HashChunk(data) != ts.tree.Chunks[i] {
			return ErrChunkHashMismatch
		}

		for cc != nil && !cc.CanSend(len(data)) {
			time.Sleep(time.Millisecond)
		}

		frame := &protocol.Frame{
			Type:     protocol.FrameTypeData,
			StreamID: ts.StreamID,
			Sequence: uint32(i),
			Offset:   i * uint64(ts.ChunkSize),
			Payload:  data,
		}
		encoded, err := protocol.Encode(frame)
		if err != nil {
			return err
		}
		if cc != nil {
			cc.OnSend(len(encoded))
		}
		if err := ts.peer.Send(encoded); err != nil {
			return err
		}

		ts.mu.Lock()
		ts.BytesDone += uint64(len(data))
		ts.mu.Unlock()

		ts.markChunkDone(i)
		if m.resume != nil {
			if err := m.resume.Update(ts.ID, i); err != nil {
				return err
			}
		}
	}

	closeFrame := &protocol.Frame{Type: protocol.FrameTypeStreamClose, StreamID: ts.StreamID}
	encoded, err := protocol.Encode(closeFrame)
	if err == nil {
		ts.peer.Send(encoded)
	}
	if m.resume != nil {
		m.resume.Delete(ts.ID)
	}
	return nil
}

// chunkLen returns the byte length of chunk index i given a file of
// fileSize split into chunkSize pieces (the final chunk may be shorter).
func chunkLen(i uint64, chunkSize, fileSize int64) int64 {
	offset := int64(i) * chunkSize
	remaining := fileSize - offset
	if remaining < chunkSize {
		return remaining
	}
	return chunkSize
}

// HandleStreamOpen processes a received StreamOpen frame, creating the
// destination file's Reassembler under destDir (§4.8 receive path).
func (m *Manager) HandleStreamOpen(payload []byte, destDir string, peer *session.Session) (*Session, error) {
	meta, err := protocol.DecodeStreamOpen(payload)
	if err != nil {
		return nil, err
	}

	destPath := filepath.Join(destDir, meta.FileName)
	reassembler, err := NewReassembler(destPath, int64(meta.FileSize), int64(meta.ChunkSize), meta.TotalChunks, nil, meta.RootHash)
	if err != nil {
		return nil, err
	}

	ts := &Session{
		ID:          meta.TransferID,
		Direction:   DirectionReceive,
		Path:        destPath,
		FileSize:    int64(meta.FileSize),
		ChunkSize:   int64(meta.ChunkSize),
		TotalChunks: meta.TotalChunks,
		StreamID:    streamIDFromTransferID(meta.TransferID),
		RootHash:    meta.RootHash,
		StartedAt:   time.Now(),
		reassembler: reassembler,
		peer:        peer,
	}

	if m.resume != nil {
		if err := m.loadOrInitResumeForReceive(ts, peer); err != nil {
			reassembler.Close()
			return nil, err
		}
	}

	m.mu.Lock()
	m.transfers[ts.ID] = ts
	m.byStream[ts.StreamID] = ts
	m.mu.Unlock()

	return ts, nil
}

// loadOrInitResumeForReceive mirrors loadOrInitResumeForSend on the
// receive side: a compatible prior record seeds the Reassembler's
// done-bitmap so already-written chunks are neither re-requested nor
// re-verified against the sender (§4.8 resumable transfers).
func (m *Manager) loadOrInitResumeForReceive(ts *Session, peer *session.Session) error {
	if prev, err := m.resume.Load(ts.ID); err == nil {
		if compatible(prev, ts.RootHash, ts.ChunkSize, ts.TotalChunks) {
			ts.reassembler.SetBitmap(prev.CompletedChunks)
			return nil
		}
	} else if err != resume.ErrNotFound {
		return err
	}

	return m.resume.Save(&resume.State{
		TransferID:      ts.ID,
		PeerID:          peer.PeerID,
		RootHash:        ts.RootHash,
		FileSize:        ts.FileSize,
		ChunkSize:       ts.ChunkSize,
		TotalChunks:     ts.TotalChunks,
		CompletedChunks: make([]bool, ts.TotalChunks),
		FilePath:        ts.Path,
		Direction:       resume.DirectionReceive,
		CreatedAt:       time.Now(),
		LastActive:      time.Now(),
	})
}

// HandleData processes a received Data frame against the transfer
// identified by its stream_id, returning (complete, error) once every
// chunk is present and the Merkle root has been verified (§4.8 receive
// path).
func (m *Manager) HandleData(frame *protocol.Frame) (bool, error) {
	m.mu.Lock()
	ts, ok := m.byStream[frame.StreamID]
	m.mu.Unlock()
	if !ok {
		return false, ErrUnknownTransfer
	}
	if ts.isCancelled() {
		return false, ErrCancelled
	}

	complete, err := ts.reassembler.WriteChunk(uint64(frame.Sequence), frame.Payload)
	if err != nil {
		return false, err
	}

	ts.mu.Lock()
	ts.BytesDone += uint64(len(frame.Payload))
	ts.mu.Unlock()

	if m.resume != nil {
		if err := m.resume.Update(ts.ID, uint64(frame.Sequence)); err != nil {
			return false, err
		}
	}

	if complete {
		ts.reassembler.Close()
		if m.resume != nil {
			m.resume.Delete(ts.ID)
		}
	}
	return complete, nil
}

// Get returns the transfer for id.
func (m *Manager) Get(id [32]byte) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.transfers[id]
	return ts, ok
}

// Cancel marks a transfer cancelled, stops any sending loop (via
// ts.isCancelled polled by PumpSend), and removes it from the transfers
// map (§4.8 cancellation). If deleteFile is true and the transfer is a
// receive, the partial file is removed.
func (m *Manager) Cancel(id [32]byte, deleteFile bool) error {
	m.mu.Lock()
	ts, ok := m.transfers[id]
	if ok {
		delete(m.transfers, id)
		delete(m.byStream, ts.StreamID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrUnknownTransfer
	}

	ts.mu.Lock()
	ts.cancelled = true
	ts.mu.Unlock()

	if ts.Direction == DirectionReceive {
		ts.reassembler.Close()
		if deleteFile {
			os.Remove(ts.Path)
		}
	} else if ts.chunker != nil {
		ts.chunker.Close()
	}

	// A resume record survives cancellation unless the caller asked to
	// delete the partial data outright: leaving it lets a later StartSend
	// or HandleStreamOpen for the same content pick up where this left off.
	if m.resume != nil && deleteFile {
		m.resume.Delete(ts.ID)
	}
	return nil
}
