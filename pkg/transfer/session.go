package transfer

import "time"

// ProgressEvent reports one dispatched frame. Events are observational:
// consumers never mutate session state through them.
type ProgressEvent struct {
	SequenceNo  uint32 `json:"sequence_no"`
	TotalFrames uint32 `json:"total_frames"`
}

// session is the mutable state of one transfer attempt. It is owned
// exclusively by the engine's event goroutine; nothing outside that
// goroutine reads or writes its fields.
type session struct {
	id        string
	gen       uint64
	frames    []Frame
	nextIndex int
	active    bool
	state     State
	startedAt time.Time

	cfg Config
	ch  Channel

	progress chan ProgressEvent
	done     chan Result

	dispatchTimer *time.Timer
	ackTimer      *time.Timer

	unsubInbound    func()
	unsubDisconnect func()
}

func (s *session) totalFrames() uint32 {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[0].TotalFrames
}

// stopTimers cancels both pending timers as a unit so a resolved session
// can never see a stale firing.
func (s *session) stopTimers() {
	if s.dispatchTimer != nil {
		s.dispatchTimer.Stop()
		s.dispatchTimer = nil
	}
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
}

func (s *session) unsubscribe() {
	if s.unsubInbound != nil {
		s.unsubInbound()
		s.unsubInbound = nil
	}
	if s.unsubDisconnect != nil {
		s.unsubDisconnect()
		s.unsubDisconnect = nil
	}
}
