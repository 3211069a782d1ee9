package transfer

// FailKind classifies why a session resolved unsuccessfully.
type FailKind int

const (
	// FailNone is the kind carried by a successful result
	FailNone FailKind = iota
	// FailSuperseded indicates a newer transfer replaced the session
	FailSuperseded
	// FailLink indicates a frame write was rejected by the link
	FailLink
	// FailTimeout indicates the completion marker never arrived
	FailTimeout
	// FailCancelled indicates the caller cancelled the session
	FailCancelled
	// FailDisconnected indicates the link dropped mid-session
	FailDisconnected
)

// String returns a string representation of FailKind.
func (k FailKind) String() string {
	switch k {
	case FailNone:
		return "none"
	case FailSuperseded:
		return "superseded"
	case FailLink:
		return "link_error"
	case FailTimeout:
		return "timeout"
	case FailCancelled:
		return "cancelled"
	case FailDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// terminalState maps a failure kind onto the terminal session state.
func (k FailKind) terminalState() State {
	switch k {
	case FailNone:
		return StateCompleted
	case FailTimeout:
		return StateTimedOut
	case FailCancelled:
		return StateCancelled
	case FailDisconnected:
		return StateDisconnected
	default:
		return StateFailed
	}
}

// Canonical failure details surfaced to callers. The wording is part of
// the reporting contract; UIs display these strings verbatim.
const (
	DetailSuperseded   = "superseded by a new transfer"
	DetailTimeout      = "timed out waiting for completion acknowledgment"
	DetailCancelled    = "cancelled"
	DetailDisconnected = "device disconnected during transfer"
)

// Result is the terminal value of a session, delivered exactly once.
type Result struct {
	Success bool     `json:"success"`
	Kind    FailKind `json:"kind"`
	Detail  string   `json:"detail,omitempty"`
}

func successResult() Result {
	return Result{Success: true, Kind: FailNone}
}

func failureResult(kind FailKind, detail string) Result {
	return Result{Success: false, Kind: kind, Detail: detail}
}
