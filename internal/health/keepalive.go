package health

import (
	"sync"
	"time"

	"github.com/deb2000-sudo/wraithgo/internal/session"
	"github.com/deb2000-sudo/wraithgo/pkg/protocol"
)

// Loop is the keepalive/health maintenance task (C11, §4.11): on each tick
// it sends a PING to every established session that has gone quiet for more
// than half the idle timeout, records a failed ping for any session that
// never answered the previous one, and evicts sessions the health
// classifier calls dead.
type Loop struct {
	Sessions    *session.Manager
	IdleTimeout time.Duration
	Interval    time.Duration

	mu           sync.Mutex
	pingedAtRecv map[protocol.ConnectionID]uint64
}

// NewLoop builds a keepalive loop over sessions, pinging quiet ones and
// evicting dead ones every interval.
func NewLoop(sessions *session.Manager, idleTimeout, interval time.Duration) *Loop {
	return &Loop{
		Sessions:     sessions,
		IdleTimeout:  idleTimeout,
		Interval:     interval,
		pingedAtRecv: make(map[protocol.ConnectionID]uint64),
	}
}

// Run ticks the loop until stop is closed. Meant to be called from its own
// goroutine.
func (l *Loop) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.tick()
		case <-stop:
			return
		}
	}
}

func (l *Loop) tick() {
	for _, s := range l.Sessions.All() {
		if s.State() != session.StateEstablished {
			continue
		}
		l.tickSession(s)
	}
}

func (l *Loop) tickSession(s *session.Session) {
	cid := s.CID
	idle := time.Since(s.LastActivity())
	stats := s.Stats()

	l.mu.Lock()
	recvAtPing, pinged := l.pingedAtRecv[cid]
	l.mu.Unlock()

	if pinged && stats.PacketsReceived <= recvAtPing {
		// No frame (in particular, no PONG) arrived since the ping sent at
		// the last tick: it went unanswered.
		s.RecordFailedPing()
		stats = s.Stats()
	}

	status := ClassifySession(SessionSignals{
		FailedPings: stats.FailedPings,
		Idle:        idle,
		LossRate:    stats.LossRate,
		IdleTimeout: l.IdleTimeout,
	})
	if status == StatusDead {
		l.Sessions.Remove(cid)
		l.mu.Lock()
		delete(l.pingedAtRecv, cid)
		l.mu.Unlock()
		return
	}

	if !ShouldPing(idle, l.IdleTimeout) {
		return
	}

	if err := sendPing(s); err != nil {
		return
	}
	l.mu.Lock()
	l.pingedAtRecv[cid] = s.Stats().PacketsReceived
	l.mu.Unlock()
}

func sendPing(s *session.Session) error {
	encoded, err := protocol.Encode(&protocol.Frame{Type: protocol.FrameTypePing})
	if err != nil {
		return err
	}
	if err := s.Send(encoded); err != nil {
		return err
	}
	s.MarkPingSent()
	return nil
}
