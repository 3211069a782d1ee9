package sender

import (
	appevents "github.com/tmkoval/pillsync/internal/app_events"
	"github.com/tmkoval/pillsync/pkg/discovery"
	"github.com/tmkoval/pillsync/pkg/transfer"
)

// --- App Events (from TUI to App) ---

// DeviceSelectedMsg is an event sent when the user selects a dispenser from the list.
type DeviceSelectedMsg struct {
	appevents.Event
	Device discovery.DeviceInfo
}

// PushScheduleMsg is an event sent when the user confirms which schedule to push.
// The target dispenser is carried along so the app needs no prior selection state.
type PushScheduleMsg struct {
	appevents.Event
	Device       discovery.DeviceInfo
	SchedulePath string
}

// CancelTransferMsg asks the app to cancel the transfer in flight, if any.
type CancelTransferMsg struct {
	appevents.Event
}

var (
	_ appevents.AppEvent = (*DeviceSelectedMsg)(nil)
	_ appevents.AppEvent = (*PushScheduleMsg)(nil)
	_ appevents.AppEvent = (*CancelTransferMsg)(nil)
)

// --- UI Messages (from App to TUI) ---

// FoundDevicesMsg carries the latest discovery snapshot.
type FoundDevicesMsg struct {
	Devices []discovery.DeviceInfo
}

type StatusUpdateMsg struct {
	Message string
}

// TransferStartedMsg is sent once the engine has accepted the payload.
type TransferStartedMsg struct {
	SessionID    string
	TotalFrames  uint32
	PayloadBytes int64
}

// FrameProgressMsg mirrors one engine ProgressEvent: frame SequenceNo of
// TotalFrames has been dispatched.
type FrameProgressMsg struct {
	SequenceNo  uint32
	TotalFrames uint32
}

// TransferResultMsg carries the terminal result of a session.
type TransferResultMsg struct {
	Result transfer.Result
}
