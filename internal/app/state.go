package app

import (
	"errors"
	"sync"

	"github.com/tmkoval/pillsync/pkg/transfer"
)

// transferState holds all the bookkeeping for a single active transfer.
type transferState struct {
	handle       *transfer.Handle
	transferDone chan struct{}
}

// StateManager tracks the lifecycle of the app's single active transfer
// in a concurrent-safe manner. The engine already enforces one session
// at a time; this layer gives the UI and the controller one place to
// find, cancel and await whatever is currently in flight.
type StateManager struct {
	mu    sync.Mutex
	state *transferState // Holds the state for the *single* active transfer
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// SetActive registers handle as the transfer in flight. It fails when a
// previous transfer has not been closed out yet.
func (m *StateManager) SetActive(handle *transfer.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != nil {
		return errors.New("invalid state: a transfer is already active")
	}
	m.state = &transferState{
		handle:       handle,
		transferDone: make(chan struct{}),
	}
	return nil
}

// Active returns the handle of the transfer in flight, or nil.
func (m *StateManager) Active() *transfer.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return nil
	}
	return m.state.handle
}

// CancelActive cancels the transfer in flight, if any. Cancelling an
// already-resolved session is a no-op at the engine level, so calling
// this during teardown races is harmless.
func (m *StateManager) CancelActive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != nil && m.state.handle != nil {
		m.state.handle.Cancel()
	}
}

// CloseActive cleans up the state of the current transfer.
func (m *StateManager) CloseActive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != nil {
		// Signal that the transfer process is complete.
		close(m.state.transferDone)
	}
	m.state = nil
}

// WaitForTransferDone returns a channel that blocks until the active
// transfer is closed out. With no transfer active it returns a closed
// channel, so callers never block on nothing.
func (m *StateManager) WaitForTransferDone() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.state.transferDone
}
