package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/deb2000-sudo/wraithgo/internal/coordinator"
	"github.com/deb2000-sudo/wraithgo/internal/filehash"
	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

// ErrNoShardPeers is returned when a multi-peer send is attempted with no
// registered peers to assign shards to.
var ErrNoShardPeers = errors.New("transfer: no peers registered for multi-peer send")

// shardSpace bounds how many shards a single chunk may be split into, so
// each (chunk, shard) pair maps to a distinct key in the coordinator's flat
// chunk-index space (it assigns one peer per index, not per chunk).
const shardSpace = 64

func shardChunkKey(chunkIndex uint64, shardIndex int) uint64 {
	return chunkIndex*shardSpace + uint64(shardIndex)
}

// PumpSendMultiPeer drives the send side of ts across multiple peers
// instead of one: each chunk is erasure-coded into coord's configured
// shard width (or left as a single shard if coord has no erasure coder
// configured), and every shard is assigned and sent to a peer via coord,
// so a receiver only needs MinShards of ShardCount shards to reconstruct
// the chunk (C16, §4.16).
func (m *Manager) PumpSendMultiPeer(ts *Session, coord *coordinator.Coordinator, peers map[identity.PeerID]*session.Session) error {
	if len(peers) == 0 {
		return ErrNoShardPeers
	}

	for i := uint64(0); i < ts.TotalChunks; i++ {
		if ts.isCancelled() {
			return ErrCancelled
		}
		if ts.chunkDone(i) {
			continue
		}

		data, err := ts.chunker.ReadChunk(i)
		if err != nil {
			return err
		}
		if filehash.HashChunk(data) != ts.tree.Chunks[i] {
			return ErrChunkHashMismatch
		}

		shards, err := coord.EncodeChunk(data)
		if err != nil {
			return err
		}

		for shardIndex, payload := range shards {
			if err := m.sendShard(ts, coord, peers, i, shardIndex, payload); err != nil {
				return err
			}
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
	if encoded, err := protocol.Encode(closeFrame); err == nil {
		for _, peer := range peers {
			peer.Send(encoded)
		}
	}
	if m.resume != nil {
		m.resume.Delete(ts.ID)
	}
	return nil
}

// sendShard assigns one erasure shard of chunkIndex to a peer and sends
// it, falling back to a reassigned peer once if the send itself fails
// (§4.16 reassign_chunk: "a different peer if possible").
func (m *Manager) sendShard(ts *Session, coord *coordinator.Coordinator, peers map[identity.PeerID]*session.Session, chunkIndex uint64, shardIndex int, payload []byte) error {
	key := shardChunkKey(chunkIndex, shardIndex)

	frame := &protocol.Frame{
		Type:     protocol.FrameTypeData,
		StreamID: ts.StreamID,
		Sequence: uint32(shardIndex),
		Offset:   chunkIndex,
		Payload:  payload,
	}
	encoded, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	id, err := coord.AssignChunk(key)
	if err != nil {
		return err
	}

	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		peer, ok := peers[id]
		if !ok {
			return fmt.Errorf("transfer: no session registered for peer %s", id)
		}

		start := time.Now()
		if err := peer.Send(encoded); err != nil {
			lastErr = err
			if id, err = coord.ReassignChunk(key); err != nil {
				return err
			}
			continue
		}
		coord.RecordSuccess(key, int64(len(encoded)), time.Since(start))
		return nil
	}
	return lastErr
}

// HandleMultiPeerData processes one Data frame carrying an erasure shard
// (chunk index in Offset, shard index in Sequence, per PumpSendMultiPeer),
// accumulating shards until coord.MinShards of them are present for that
// chunk, then reconstructing and writing it (C16, §4.16, §4.8).
func (m *Manager) HandleMultiPeerData(frame *protocol.Frame, coord *coordinator.Coordinator) (bool, error) {
	m.mu.Lock()
	ts, ok := m.byStream[frame.StreamID]
	m.mu.Unlock()
	if !ok {
		return false, ErrUnknownTransfer
	}
	if ts.isCancelled() {
		return false, ErrCancelled
	}

	chunkIndex := frame.Offset
	shardIndex := int(frame.Sequence)

	ts.mu.Lock()
	if ts.shardBuf == nil {
		ts.shardBuf = make(map[uint64][][]byte)
	}
	shards, ok := ts.shardBuf[chunkIndex]
	if !ok {
		shards = make([][]byte, coord.ShardCount())
		ts.shardBuf[chunkIndex] = shards
	}
	if shardIndex < 0 || shardIndex >= len(shards) {
		ts.mu.Unlock()
		return false, errors.New("transfer: shard index out of range")
	}
	shards[shardIndex] = frame.Payload

	present := 0
	for _, s := range shards {
		if s != nil {
			present++
		}
	}
	enough := present >= coord.MinShards()
	ts.mu.Unlock()

	if !enough {
		return false, nil
	}

	data, err := coord.DecodeChunk(shards)
	if err != nil {
		return false, err
	}
	if want := chunkLen(chunkIndex, ts.ChunkSize, ts.FileSize); int64(len(data)) > want {
		data = data[:want]
	}

	complete, err := ts.reassembler.WriteChunk(chunkIndex, data)
	if err != nil {
		return false, err
	}

	ts.mu.Lock()
	ts.BytesDone += uint64(len(data))
	delete(ts.shardBuf, chunkIndex)
	ts.mu.Unlock()

	if m.resume != nil {
		if err := m.resume.Update(ts.ID, chunkIndex); err != nil {
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
