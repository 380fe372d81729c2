// Package session implements the per-peer session state machine and
// manager (C5, §4.5, §3 Session/SessionState).
package session

import "fmt"

// State is one value of the SessionState enum (§3).
type State int

const (
	StateIdle State = iota
	StateHandshakingInitSent
	StateHandshakingRespSent
	StateHandshakingInitComplete
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshakingInitSent:
		return "handshaking:init-sent"
	case StateHandshakingRespSent:
		return "handshaking:resp-sent"
	case StateHandshakingInitComplete:
		return "handshaking:init-complete"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition reports a rejected SessionState transition (§3: "Other
// transitions are rejected and reported as an invalid-state failure.").
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("session: invalid transition %s -> %s", e.From, e.To)
}

// validTransitions enumerates the SessionState graph from §3:
// Idle -> HandshakingInitSent -> InitComplete -> Established -> Closed and
// Idle -> HandshakingRespSent -> Established -> Closed, and Closed is
// reachable from any state. Idle -> Established is also direct:
// the crypto-level handshake (RunInitiator/RunResponder) tracks its own
// message-order state independently, so a freshly constructed Session only
// observes the handshake's outcome and calls Establish once, in one step.
var validTransitions = map[State][]State{
	StateIdle:                    {StateHandshakingInitSent, StateHandshakingRespSent, StateEstablished, StateClosed},
	StateHandshakingInitSent:     {StateHandshakingInitComplete, StateClosed},
	StateHandshakingRespSent:     {StateEstablished, StateClosed},
	StateHandshakingInitComplete: {StateEstablished, StateClosed},
	StateEstablished:             {StateClosed},
	StateClosed:                  {},
}

// canTransition reports whether to is reachable from from in one step.
func canTransition(from, to State) bool {
	if to == StateClosed {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
