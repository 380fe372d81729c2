// Package routing maps connection IDs to live sessions so arriving
// datagrams can be dispatched without a per-packet handshake lookup
// (§4.4, §5, C4).
package routing

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

// Entry is one routed connection: the session it points at plus the stats
// the table tracks for observability and path validation (§4.9, §4.4).
type Entry struct {
	CID         protocol.ConnectionID
	Session     any
	RemoteAddr  net.Addr
	CreatedAt   time.Time
	LastSeen    time.Time
	PacketsIn   uint64
	PacketsOut  uint64
	BytesIn     uint64
	BytesOut    uint64
}

// Table is a concurrency-safe CID -> Entry map. A single table is shared by
// every UDP socket goroutine in the process (§5: "one routing table per
// listening endpoint").
type Table struct {
	mu      sync.RWMutex
	entries map[protocol.ConnectionID]*Entry

	lookupTotal  atomic.Uint64
	lookupHits   atomic.Uint64
	lookupMisses atomic.Uint64
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{
		entries: make(map[protocol.ConnectionID]*Entry),
	}
}

// Stats is a snapshot of the table's cumulative lookup counters.
type Stats struct {
	Total      uint64
	Successful uint64
	Failed     uint64
}

// Stats returns the table's total/successful/failed lookup counters
// (supplemental operational detail from the original routing table).
func (t *Table) Stats() Stats {
	return Stats{
		Total:      t.lookupTotal.Load(),
		Successful: t.lookupHits.Load(),
		Failed:     t.lookupMisses.Load(),
	}
}

// Insert registers a new CID -> session mapping, overwriting any existing
// entry for the same CID.
func (t *Table) Insert(cid protocol.ConnectionID, session any, remote net.Addr) *Entry {
	now := time.Now()
	e := &Entry{
		CID:        cid,
		Session:    session,
		RemoteAddr: remote,
		CreatedAt:  now,
		LastSeen:   now,
	}

	t.mu.Lock()
	t.entries[cid] = e
	t.mu.Unlock()
	return e
}

// Lookup returns the entry for cid, if any, and records the attempt in the
// table's lookup statistics.
func (t *Table) Lookup(cid protocol.ConnectionID) (*Entry, bool) {
	t.mu.RLock()
	e, ok := t.entries[cid]
	t.mu.RUnlock()

	t.lookupTotal.Add(1)
	if ok {
		t.lookupHits.Add(1)
	} else {
		t.lookupMisses.Add(1)
	}
	return e, ok
}

// Remove deletes the mapping for cid, e.g. once a session closes (§4.5).
func (t *Table) Remove(cid protocol.ConnectionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, cid)
}

// Len reports the number of live routed connections.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// RecordIngress updates an entry's last-seen timestamp, packet and byte
// counters, and remote address on every received datagram (§4.9 health
// tracking, §4.10 path migration detection).
func (t *Table) RecordIngress(cid protocol.ConnectionID, remote net.Addr, n int) {
	t.mu.RLock()
	e, ok := t.entries[cid]
	t.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e.LastSeen = time.Now()
	e.PacketsIn++
	e.BytesIn += uint64(n)
	e.RemoteAddr = remote
}

// RecordEgress updates an entry's outbound counters.
func (t *Table) RecordEgress(cid protocol.ConnectionID, n int) {
	t.mu.RLock()
	e, ok := t.entries[cid]
	t.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e.PacketsOut++
	e.BytesOut += uint64(n)
}

// UpdateRemoteAddr rebinds an entry to a new source address, used once a
// PATH_CHALLENGE/PATH_RESPONSE exchange validates a migration (§4.10).
func (t *Table) UpdateRemoteAddr(cid protocol.ConnectionID, remote net.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[cid]
	if !ok {
		return false
	}
	e.RemoteAddr = remote
	return true
}

// Idle returns every CID whose entry has not been seen within ttl, for the
// health monitor's sweep (§4.11, C17).
func (t *Table) Idle(ttl time.Duration) []protocol.ConnectionID {
	cutoff := time.Now().Add(-ttl)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var idle []protocol.ConnectionID
	for cid, e := range t.entries {
		if e.LastSeen.Before(cutoff) {
			idle = append(idle, cid)
		}
	}
	return idle
}

// Snapshot returns a shallow copy of every entry, for diagnostics/stats
// surfaces.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}
