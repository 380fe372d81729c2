package session

import (
	"net"
	"sync"
	"time"

	"github.com/deb2000-sudo/wraithgo/internal/identity"
	"github.com/deb2000-sudo/wraithgo/internal/routing"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

// Manager owns the sessions map and keeps the shared routing table
// consistent with it (§3: "the SessionManager [is] responsible for ensuring
// both the sessions map and the routing table are updated in the same
// critical section at insert and remove time").
type Manager struct {
	mu       sync.Mutex
	sessions map[protocol.ConnectionID]*Session
	table    *routing.Table
}

// NewManager builds a session manager bound to a shared routing table.
func NewManager(table *routing.Table) *Manager {
	return &Manager{
		sessions: make(map[protocol.ConnectionID]*Session),
		table:    table,
	}
}

// Pending tracks a session mid-handshake, before it owns a CID and cannot yet
// be inserted into the routing table.
type Pending struct {
	Addr    net.Addr
	Session *Session
}

// NewPending creates a fresh Idle-state session for an in-progress handshake
// keyed by remote address rather than CID.
func (m *Manager) NewPending(peerID identity.PeerID, addr net.Addr, sender Sender) *Session {
	return New(peerID, addr, sender)
}

// Insert registers an established session's CID in both the sessions map and
// the routing table within a single critical section (§3 ownership summary).
func (m *Manager) Insert(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.CID] = s
	m.table.Insert(s.CID, s, s.RemoteAddr)
}

// Lookup returns the session for cid, if any.
func (m *Manager) Lookup(cid protocol.ConnectionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[cid]
	return s, ok
}

// Remove closes and removes a session from both the map and the routing
// table (§3 ownership summary: lifetime ends when removed from both).
func (m *Manager) Remove(cid protocol.ConnectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[cid]; ok {
		s.Close()
		delete(m.sessions, cid)
	}
	m.table.Remove(cid)
}

// Len reports the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SweepIdle closes and removes every session idle for longer than timeout,
// the session-manager half of the health monitor's garbage collection
// (§4.5, §4.11).
func (m *Manager) SweepIdle(timeout time.Duration) []protocol.ConnectionID {
	m.mu.Lock()
	var stale []protocol.ConnectionID
	for cid, s := range m.sessions {
		if s.Idle(timeout) {
			stale = append(stale, cid)
		}
	}
	m.mu.Unlock()

	for _, cid := range stale {
		m.Remove(cid)
	}
	return stale
}

// All returns a snapshot of every tracked session.
func (m *Manager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
