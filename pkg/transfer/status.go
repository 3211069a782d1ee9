package transfer

// State represents the lifecycle position of a transfer session.
//
// Idle -> Sending -> AwaitingAck -> {Completed | TimedOut | Cancelled | Disconnected | Failed}
//
// The right-hand states are terminal and mutually exclusive; exactly one
// Result is produced per session, exactly once.
type State int

const (
	// StateIdle indicates no session has started dispatching yet
	StateIdle State = iota
	// StateSending indicates frames are being dispatched
	StateSending
	// StateAwaitingAck indicates all frames are out and the engine is
	// listening for the completion marker
	StateAwaitingAck
	// StateCompleted indicates the completion marker arrived
	StateCompleted
	// StateTimedOut indicates no marker arrived within the ack timeout
	StateTimedOut
	// StateCancelled indicates the caller cancelled the session
	StateCancelled
	// StateDisconnected indicates the link dropped mid-session
	StateDisconnected
	// StateFailed indicates a link write failed or the session was
	// superseded by a newer transfer
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state is final.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateCancelled, StateDisconnected, StateFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a state transition is valid.
func (s State) CanTransitionTo(next State) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case StateIdle:
		return next == StateSending || next == StateCancelled || next == StateFailed
	case StateSending:
		// The marker may arrive while frames are still queued, so
		// Sending can complete without passing through AwaitingAck.
		return next == StateAwaitingAck || next == StateCompleted ||
			next == StateCancelled || next == StateDisconnected || next == StateFailed
	case StateAwaitingAck:
		return next == StateCompleted || next == StateTimedOut ||
			next == StateCancelled || next == StateDisconnected || next == StateFailed
	default:
		return false
	}
}
