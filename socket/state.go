package socket

import "log/slog"

// State is the lifecycle state of a bridge.
type State int32

const (
	StateUnopened State = iota
	StateOpening
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "UNOPENED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var legalTransitions = map[State][]State{
	StateUnopened: {StateOpening, StateClosing},
	StateOpening:  {StateOpen, StateClosing},
	StateOpen:     {StateClosing},
	StateClosing:  {StateClosed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateMachine is not safe for concurrent use; the bridge lock guards it.
type stateMachine struct {
	state     State
	logger    *slog.Logger
	onChanged func(from, to State)
}

func (m *stateMachine) current() State { return m.state }

// setState moves to next if legal. Illegal requests are logged and leave the
// state untouched.
func (m *stateMachine) setState(next State) bool {
	if !CanTransition(m.state, next) {
		m.logger.Debug("illegal socket state transition ignored", "from", m.state, "to", next)
		return false
	}
	prev := m.state
	m.state = next
	if m.onChanged != nil {
		m.onChanged(prev, next)
	}
	return true
}

// assertState reports whether the current state is one of allowed, logging
// when it is not.
func (m *stateMachine) assertState(allowed ...State) bool {
	for _, s := range allowed {
		if m.state == s {
			return true
		}
	}
	m.logger.Debug("unexpected socket state", "state", m.state, "expected", allowed)
	return false
}
