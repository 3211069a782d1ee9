package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotConnected is returned by Begin when the channel is missing
	// or reports itself disconnected.
	ErrNotConnected = errors.New("channel is not connected")
	// ErrEngineClosed is returned by Begin after Close.
	ErrEngineClosed = errors.New("engine is closed")
)

// Engine owns the chunked-send state machine. All session mutation,
// whether triggered by a dispatch timer, inbound data, a disconnect, a
// timeout, a cancel or a superseding Begin, happens as an event on one
// sequential queue drained by a single goroutine. No two handlers run
// concurrently, so sessions need no locks; handlers only have to check
// that their session is still the active one before acting.
type Engine struct {
	queue chan func()
	quit  chan struct{}

	mu     sync.Mutex
	closed bool

	// cur and gen are touched only on the queue goroutine.
	cur *session
	gen uint64
}

// NewEngine creates an engine and starts its event goroutine.
func NewEngine() *Engine {
	e := &Engine{
		queue: make(chan func(), 64),
		quit:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	for {
		select {
		case fn := <-e.queue:
			fn()
		case <-e.quit:
			return
		}
	}
}

// post enqueues fn onto the event queue. Events posted after Close are
// dropped; by then every session has already resolved.
func (e *Engine) post(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	select {
	case e.queue <- fn:
	case <-e.quit:
	}
}

// Handle exposes one session to its caller: an ordered, finite stream of
// progress events, a single-delivery result, and cancellation.
type Handle struct {
	s *session
	e *Engine
}

// ID returns the session identifier, for logging and reporting.
func (h *Handle) ID() string {
	return h.s.id
}

// TotalFrames returns how many frames the session dispatches in total.
// The frame list is fixed at Begin, so this is safe to read while the
// session runs.
func (h *Handle) TotalFrames() uint32 {
	return h.s.totalFrames()
}

// Progress returns the progress stream. One event per dispatched frame,
// in sequence order, at most once each; the channel is closed when the
// session resolves. The channel is buffered for the full frame count, so
// a slow consumer never stalls dispatch.
func (h *Handle) Progress() <-chan ProgressEvent {
	return h.s.progress
}

// Done returns the completion signal. Exactly one Result is delivered,
// then the channel is closed.
func (h *Handle) Done() <-chan Result {
	return h.s.done
}

// Cancel resolves the session as cancelled. Cancelling a session that
// has already resolved is a no-op.
func (h *Handle) Cancel() {
	h.e.post(func() {
		h.e.resolve(h.s, failureResult(FailCancelled, DetailCancelled))
	})
}

// Begin starts transferring payload over ch. It validates its arguments
// synchronously: a bad configuration or a disconnected channel fails
// here, before any session exists. A session already active on this
// engine is resolved as superseded before the new one dispatches its
// first frame.
func (e *Engine) Begin(payload []byte, ch Channel, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ch == nil || !ch.IsConnected() {
		return nil, ErrNotConnected
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	e.mu.Unlock()

	frames, err := SplitPayload(payload, cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	s := &session{
		id:       uuid.New().String(),
		frames:   frames,
		state:    StateIdle,
		cfg:      cfg,
		ch:       ch,
		progress: make(chan ProgressEvent, len(frames)),
		done:     make(chan Result, 1),
	}

	e.post(func() { e.start(s) })

	return &Handle{s: s, e: e}, nil
}

// Close cancels any active session and stops the event goroutine. The
// engine cannot be reused afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	// The event goroutine keeps draining until quit closes below, so
	// this send cannot hang even on a busy queue.
	drained := make(chan struct{})
	e.queue <- func() {
		if e.cur != nil {
			e.resolve(e.cur, failureResult(FailCancelled, DetailCancelled))
		}
		close(drained)
	}
	<-drained
	close(e.quit)
}

// start runs on the queue goroutine. It retires the previous session,
// installs s as current, subscribes to the channel and dispatches the
// first frame immediately; the inter-frame delay separates subsequent
// dispatches only.
func (e *Engine) start(s *session) {
	if e.cur != nil && e.cur.active {
		e.resolve(e.cur, failureResult(FailSuperseded, DetailSuperseded))
	}

	e.gen++
	s.gen = e.gen
	s.active = true
	s.state = StateSending
	s.startedAt = time.Now()
	e.cur = s

	s.unsubInbound = s.ch.SubscribeInbound(func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		e.post(func() { e.handleInbound(s, buf) })
	})
	s.unsubDisconnect = s.ch.OnDisconnected(func() {
		e.post(func() {
			e.resolve(s, failureResult(FailDisconnected, DetailDisconnected))
		})
	})

	slog.Info("Transfer session started",
		"session", s.id,
		"generation", s.gen,
		"frames", len(s.frames),
		"chunk_size", s.cfg.ChunkSize,
		"frame_delay", s.cfg.InterFrameDelay,
		"ack_timeout", s.cfg.AckTimeout)

	e.dispatch(s)
}

// dispatch emits the next frame: write, progress event, index advance.
// Writes are fire-and-forget; acknowledgment is end-to-end, not
// per-frame. A session that resolved while this event was queued
// dispatches nothing.
func (e *Engine) dispatch(s *session) {
	if !s.active {
		return
	}

	frame := s.frames[s.nextIndex]
	if err := s.ch.Write(frame.Data); err != nil {
		e.resolve(s, failureResult(FailLink, fmt.Sprintf("link write failed: %v", err)))
		return
	}

	s.progress <- ProgressEvent{SequenceNo: frame.SequenceNo, TotalFrames: frame.TotalFrames}
	s.nextIndex++

	slog.Debug("Dispatched frame",
		"session", s.id,
		"sequence_no", frame.SequenceNo,
		"total_frames", frame.TotalFrames,
		"bytes", len(frame.Data))

	if s.nextIndex < len(s.frames) {
		s.dispatchTimer = time.AfterFunc(s.cfg.InterFrameDelay, func() {
			e.post(func() { e.dispatch(s) })
		})
		return
	}

	// All frames are out; the ack timeout runs from the last dispatch.
	s.state = StateAwaitingAck
	s.ackTimer = time.AfterFunc(s.cfg.AckTimeout, func() {
		e.post(func() {
			e.resolve(s, failureResult(FailTimeout, DetailTimeout))
		})
	})
}

// handleInbound inspects data from the peripheral for the completion
// marker. The protocol has no per-chunk acknowledgment: anything without
// the marker is noise and is ignored.
func (e *Engine) handleInbound(s *session, data []byte) {
	if !s.active {
		return
	}

	if !bytes.Contains(data, []byte(s.cfg.AckMarker)) {
		slog.Debug("Ignoring inbound data without completion marker",
			"session", s.id, "bytes", len(data))
		return
	}

	e.resolve(s, successResult())
}

// resolve retires s with res. The active flag makes resolution
// exactly-once: every later event for s, stale timers included, sees
// active == false and does nothing.
func (e *Engine) resolve(s *session, res Result) {
	if !s.active {
		return
	}

	s.active = false
	s.state = res.Kind.terminalState()
	s.stopTimers()
	s.unsubscribe()

	close(s.progress)
	s.done <- res
	close(s.done)

	if e.cur == s {
		e.cur = nil
	}

	if res.Success {
		slog.Info("Transfer session completed",
			"session", s.id,
			"frames", s.nextIndex,
			"elapsed", time.Since(s.startedAt))
	} else {
		slog.Warn("Transfer session failed",
			"session", s.id,
			"kind", res.Kind,
			"detail", res.Detail,
			"frames_sent", s.nextIndex,
			"total_frames", len(s.frames))
	}
}
