// Package coordinator assigns file chunks to peers in a multi-peer
// transfer and tracks each peer's observed performance (C16, §4.16).
package coordinator

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/deb2000-sudo/wraithgo/internal/erasure"
	"github.com/deb2000-sudo/wraithgo/internal/identity"
)

// Strategy selects which peer a chunk is assigned to.
type Strategy int

const (
	StrategyRoundRobin Strategy = iota
	StrategyFastestFirst
	StrategyGeographic
	StrategyAdaptive
)

// Adaptive score weights (§4.16): score = w1*throughput - w2*rtt -
// w3*failure_rate - w4*utilization.
const (
	weightThroughput = 0.4
	weightRTT        = 0.3
	weightFailure    = 0.2
	weightUtil       = 0.1
)

// failureRateReassignThreshold is the point above which a peer's
// max_concurrent is reduced on reassignment (§4.16: "reducing its
// max_concurrent when failure_rate exceeds 50%").
const failureRateReassignThreshold = 0.5

// ErrNoPeerAvailable is returned when every known peer is at capacity.
var ErrNoPeerAvailable = errors.New("coordinator: no peer with spare capacity")

// PeerPerformance tracks one peer's observed behavior across a multi-peer
// transfer (§3/§4.16 PeerPerformance).
type PeerPerformance struct {
	PeerID        identity.PeerID
	Addr          net.Addr
	RTT           time.Duration
	Throughput    float64 // bytes/sec, exponentially smoothed
	Successes     uint64
	Failures      uint64
	InFlight      int
	MaxConcurrent int
}

func (p *PeerPerformance) failureRate() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 0
	}
	return float64(p.Failures) / float64(total)
}

func (p *PeerPerformance) utilization() float64 {
	if p.MaxConcurrent <= 0 {
		return 1
	}
	return float64(p.InFlight) / float64(p.MaxConcurrent)
}

func (p *PeerPerformance) hasCapacity() bool {
	return p.InFlight < p.MaxConcurrent
}

// Coordinator assigns chunk indices to peers and tracks per-peer
// performance across a multi-peer transfer (§4.16).
type Coordinator struct {
	mu       sync.Mutex
	strategy Strategy
	order    []identity.PeerID // insertion order, for RoundRobin
	rrCursor int
	peers    map[identity.PeerID]*PeerPerformance
	assigned map[uint64]identity.PeerID

	// erasureCoder, when non-nil, splits each chunk into data+parity
	// shards so it can be reconstructed even if some assigned peers never
	// deliver their share (adapted from the teacher's erasure package).
	erasureCoder *erasure.ErasureCoder
}

// New builds a Coordinator using strategy for chunk assignment. If
// dataShards and parityShards are both > 0, chunks are erasure-coded across
// peers via Reed-Solomon before assignment.
func New(strategy Strategy, dataShards, parityShards int) (*Coordinator, error) {
	c := &Coordinator{
		strategy: strategy,
		peers:    make(map[identity.PeerID]*PeerPerformance),
		assigned: make(map[uint64]identity.PeerID),
	}
	if dataShards > 0 && parityShards > 0 {
		ec, err := erasure.NewErasureCoder(dataShards, parityShards)
		if err != nil {
			return nil, err
		}
		c.erasureCoder = ec
	}
	return c, nil
}

// AddPeer registers a peer available for chunk assignment.
func (c *Coordinator) AddPeer(id identity.PeerID, addr net.Addr, maxConcurrent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[id]; ok {
		return
	}
	c.peers[id] = &PeerPerformance{PeerID: id, Addr: addr, MaxConcurrent: maxConcurrent}
	c.order = append(c.order, id)
}

// EncodeChunk splits data into the configured number of Reed-Solomon
// data+parity shards (see ShardCount) when erasure coding is configured. If it is not, it
// returns a single shard containing data unchanged.
func (c *Coordinator) EncodeChunk(data []byte) ([][]byte, error) {
	if c.erasureCoder == nil {
		return [][]byte{data}, nil
	}
	return c.erasureCoder.Encode(data)
}

// DecodeChunk reverses EncodeChunk, reconstructing the original chunk from
// the shards collected from peers (some of which may be nil if that peer
// never delivered).
func (c *Coordinator) DecodeChunk(shards [][]byte) ([]byte, error) {
	if c.erasureCoder == nil {
		if len(shards) != 1 {
			return nil, errors.New("coordinator: expected exactly one shard without erasure coding")
		}
		return shards[0], nil
	}
	if err := c.erasureCoder.ValidateShards(shards); err != nil {
		return nil, err
	}
	return c.erasureCoder.Decode(shards)
}

// ShardCount returns how many shards EncodeChunk splits a chunk into: the
// configured data+parity width, or 1 when no erasure coding is configured.
func (c *Coordinator) ShardCount() int {
	if c.erasureCoder == nil {
		return 1
	}
	return c.erasureCoder.DataShards + c.erasureCoder.ParityShards
}

// MinShards returns how many of ShardCount's shards are required to
// reconstruct a chunk: the configured data-shard width, or 1 when no
// erasure coding is configured.
func (c *Coordinator) MinShards() int {
	if c.erasureCoder == nil {
		return 1
	}
	return c.erasureCoder.DataShards
}

// AssignChunk picks a peer for chunkIndex per the configured strategy,
// records the assignment, and increments the peer's in_flight count
// (§4.16: "assign_chunk(i) records the assignment and increments the
// peer's in_flight").
func (c *Coordinator) AssignChunk(chunkIndex uint64) (identity.PeerID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignChunkLocked(chunkIndex, nil)
}

func (c *Coordinator) assignChunkLocked(chunkIndex uint64, exclude *identity.PeerID) (identity.PeerID, error) {
	id, ok := c.pickPeerLocked(exclude)
	if !ok && exclude != nil {
		// No other peer has spare capacity; falling back to the excluded
		// peer is still better than failing the chunk outright (§4.16:
		// "a different peer if possible").
		id, ok = c.pickPeerLocked(nil)
	}
	if !ok {
		var zero identity.PeerID
		return zero, ErrNoPeerAvailable
	}
	c.assigned[chunkIndex] = id
	c.peers[id].InFlight++
	return id, nil
}

func (c *Coordinator) pickPeerLocked(exclude *identity.PeerID) (identity.PeerID, bool) {
	switch c.strategy {
	case StrategyFastestFirst:
		return c.pickByScoreLocked(exclude, func(p *PeerPerformance) float64 { return p.Throughput })
	case StrategyGeographic:
		return c.pickByScoreLocked(exclude, func(p *PeerPerformance) float64 { return -float64(p.RTT) })
	case StrategyAdaptive:
		return c.pickByScoreLocked(exclude, c.adaptiveScoreLocked)
	default:
		return c.pickRoundRobinLocked(exclude)
	}
}

func (c *Coordinator) pickRoundRobinLocked(exclude *identity.PeerID) (identity.PeerID, bool) {
	n := len(c.order)
	if n == 0 {
		return identity.PeerID{}, false
	}
	for i := 0; i < n; i++ {
		idx := (c.rrCursor + i) % n
		id := c.order[idx]
		if exclude != nil && id == *exclude {
			continue
		}
		if p, ok := c.peers[id]; ok && p.hasCapacity() {
			c.rrCursor = (idx + 1) % n
			return id, true
		}
	}
	return identity.PeerID{}, false
}

func (c *Coordinator) pickByScoreLocked(exclude *identity.PeerID, score func(*PeerPerformance) float64) (identity.PeerID, bool) {
	var best identity.PeerID
	bestScore := 0.0
	found := false
	for _, id := range c.order {
		if exclude != nil && id == *exclude {
			continue
		}
		p := c.peers[id]
		if !p.hasCapacity() {
			continue
		}
		s := score(p)
		if !found || s > bestScore {
			best, bestScore, found = id, s, true
		}
	}
	return best, found
}

// adaptiveScoreLocked implements §4.16's weighted score:
// w1*normalized_throughput - w2*normalized_rtt - w3*failure_rate -
// w4*utilization, normalized against the best observed throughput/RTT among
// capacity-bearing peers.
func (c *Coordinator) adaptiveScoreLocked(p *PeerPerformance) float64 {
	maxThroughput, maxRTT := 0.0, time.Duration(0)
	for _, id := range c.order {
		other := c.peers[id]
		if !other.hasCapacity() {
			continue
		}
		if other.Throughput > maxThroughput {
			maxThroughput = other.Throughput
		}
		if other.RTT > maxRTT {
			maxRTT = other.RTT
		}
	}

	normThroughput := 0.0
	if maxThroughput > 0 {
		normThroughput = p.Throughput / maxThroughput
	}
	normRTT := 0.0
	if maxRTT > 0 {
		normRTT = float64(p.RTT) / float64(maxRTT)
	}

	return weightThroughput*normThroughput -
		weightRTT*normRTT -
		weightFailure*p.failureRate() -
		weightUtil*p.utilization()
}

// RecordSuccess updates throughput and clears the assignment for a chunk
// that peer delivered successfully (§4.16 "record_success(i, bytes,
// duration) updates throughput and clears the assignment").
func (c *Coordinator) RecordSuccess(chunkIndex uint64, bytes int64, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.assigned[chunkIndex]
	if !ok {
		return
	}
	delete(c.assigned, chunkIndex)

	p, ok := c.peers[id]
	if !ok {
		return
	}
	p.Successes++
	if p.InFlight > 0 {
		p.InFlight--
	}
	if duration > 0 {
		sample := float64(bytes) / duration.Seconds()
		if p.Throughput == 0 {
			p.Throughput = sample
		} else {
			p.Throughput = 0.7*p.Throughput + 0.3*sample
		}
	}
}

// ReassignChunk records a failure against the current assignee, shrinking
// its max_concurrent once its failure rate exceeds 50%, then assigns
// chunkIndex to a different peer if one has capacity (§4.16). The failed
// peer is only reused as a last resort, when no other peer has spare
// capacity.
func (c *Coordinator) ReassignChunk(chunkIndex uint64) (identity.PeerID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var failed *identity.PeerID
	if id, ok := c.assigned[chunkIndex]; ok {
		delete(c.assigned, chunkIndex)
		if p, ok := c.peers[id]; ok {
			p.Failures++
			if p.InFlight > 0 {
				p.InFlight--
			}
			if p.failureRate() > failureRateReassignThreshold && p.MaxConcurrent > 1 {
				p.MaxConcurrent--
			}
		}
		failed = &id
	}

	return c.assignChunkLocked(chunkIndex, failed)
}

// RecordRTT updates a peer's observed round-trip time.
func (c *Coordinator) RecordRTT(id identity.PeerID, rtt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.peers[id]; ok {
		p.RTT = rtt
	}
}

// Peer returns a copy of id's tracked performance.
func (c *Coordinator) Peer(id identity.PeerID) (PeerPerformance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[id]
	if !ok {
		return PeerPerformance{}, false
	}
	return *p, true
}

// AssignmentOf returns the peer currently assigned to chunkIndex, if any.
func (c *Coordinator) AssignmentOf(chunkIndex uint64) (identity.PeerID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.assigned[chunkIndex]
	return id, ok
}
