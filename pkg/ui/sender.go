package ui

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/tmkoval/pillsync/internal/app_events"
	senderEvent "github.com/tmkoval/pillsync/internal/app_events/sender"
	"github.com/tmkoval/pillsync/internal/style"
	"github.com/tmkoval/pillsync/pkg/discovery"
	"github.com/tmkoval/pillsync/pkg/schedulePicker"
	"github.com/tmkoval/pillsync/pkg/ui/components"
)

// senderState defines the different states of the send flow.
type senderState int

const (
	scanningDevices senderState = iota
	selectingDevice
	selectingSchedule
	pushing
	transferComplete
	transferFailed
)

type senderModel struct {
	state   senderState
	opts    Options
	spinner spinner.Model
	table   table.Model
	picker  schedulePicker.Model

	devices        []discovery.DeviceInfo
	selectedDevice discovery.DeviceInfo

	progressBar  *components.ProgressBar
	framesSent   uint32
	totalFrames  uint32
	payloadBytes int64
	resultDetail string
}

var deviceColumns = []table.Column{
	{Title: "Index", Width: 6},
	{Title: "Name", Width: 20},
	{Title: "Transport", Width: 10},
	{Title: "Address", Width: 22},
	{Title: "Signal", Width: 8},
}

func initSenderModel(opts Options) senderModel {
	s := style.NewSpinner()

	t := table.New(
		table.WithColumns(deviceColumns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(0),
	)
	t.SetStyles(style.NewTableStyles())

	return senderModel{
		state:       scanningDevices,
		opts:        opts,
		spinner:     s,
		table:       t,
		picker:      schedulePicker.InitialModel(opts.ScheduleDir),
		progressBar: components.NewProgressBar(components.DefaultProgressConfig()),
	}
}

func (m *model) initSender() tea.Cmd {
	return tea.Batch(m.sender.spinner.Tick, m.listenForAppMessages())
}

func deviceRows(devices []discovery.DeviceInfo) []table.Row {
	rows := []table.Row{}
	for index, d := range devices {
		signal := "-"
		if d.Transport == discovery.TransportBLE {
			signal = fmt.Sprintf("%d dBm", d.RSSI)
		}
		addr := d.Addr
		if d.Transport == discovery.TransportTCP {
			addr = d.DialTarget()
		}
		rows = append(rows, table.Row{
			strconv.Itoa(index), d.Name, d.Transport, addr, signal,
		})
	}
	return rows
}

func (m *model) updateDeviceTable(devices []discovery.DeviceInfo) {
	m.sender.devices = devices
	rows := deviceRows(devices)
	m.sender.table.SetRows(rows)
	m.sender.table.SetHeight(len(rows) + 1)
}

func (m *model) updateSender(msg tea.Msg) (tea.Model, tea.Cmd) {
	if cmd, processed := m.handleSenderAppEvent(msg); processed {
		return m, cmd
	}
	var cmd tea.Cmd
	// Handle UI events
	switch m.sender.state {
	case selectingDevice:
		cmd = m.updateSelectingDeviceState(msg)
	case selectingSchedule:
		cmd = m.updateSelectingScheduleState(msg)
	case pushing:
		if key, ok := msg.(tea.KeyMsg); ok && key.String() == "c" {
			m.appController.AppEvents() <- senderEvent.CancelTransferMsg{}
		}
	case transferComplete, transferFailed:
		if key, ok := msg.(tea.KeyMsg); ok && key.Type == tea.KeyEnter {
			m.sender.reset()
			return m, m.initSender()
		}
	}

	var spinCmd tea.Cmd
	m.sender.spinner, spinCmd = m.sender.spinner.Update(msg)

	return m, tea.Batch(cmd, spinCmd)
}

func (m *model) handleSenderAppEvent(msg tea.Msg) (tea.Cmd, bool) {
	switch msg := msg.(type) {
	case senderEvent.FoundDevicesMsg:
		slog.Info("Discovery update", "device_count", len(msg.Devices))

		if len(msg.Devices) > 0 && m.sender.state == scanningDevices {
			m.sender.state = selectingDevice
		}
		// If the list of devices becomes empty, go back to scanning.
		if len(msg.Devices) == 0 && m.sender.state == selectingDevice {
			m.sender.state = scanningDevices
		}

		m.updateDeviceTable(msg.Devices)
		return m.listenForAppMessages(), true // Continue listening
	case senderEvent.StatusUpdateMsg:
		slog.Info("Status update", "message", msg.Message)
		return m.listenForAppMessages(), true
	case senderEvent.TransferStartedMsg:
		m.sender.state = pushing
		m.sender.framesSent = 0
		m.sender.totalFrames = msg.TotalFrames
		m.sender.payloadBytes = msg.PayloadBytes
		return m.listenForAppMessages(), true
	case senderEvent.FrameProgressMsg:
		m.sender.framesSent = msg.SequenceNo
		m.sender.totalFrames = msg.TotalFrames
		return m.listenForAppMessages(), true
	case senderEvent.TransferResultMsg:
		if msg.Result.Success {
			m.sender.state = transferComplete
		} else {
			m.sender.state = transferFailed
			m.sender.resultDetail = msg.Result.Detail
		}
		return m.listenForAppMessages(), true
	case appevents.AppErrorMsg:
		m.err = msg.Err
		m.sender.state = transferFailed
		m.sender.resultDetail = msg.Err.Error()
		return m.listenForAppMessages(), true
	}
	return nil, false
}

// updateSelectingDeviceState handles UI events for the selectingDevice state.
func (m *model) updateSelectingDeviceState(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyEnter && len(m.sender.devices) > 0 {
			selectedIndex := m.sender.table.Cursor()
			if selectedIndex < 0 || selectedIndex >= len(m.sender.devices) {
				err := fmt.Errorf("internal error: cursor %d is out of sync with device list (len %d)", selectedIndex, len(m.sender.devices))
				slog.Error("Cursor out of sync", "error", err)
				m.err = err
				return nil
			}
			m.err = nil // Reset any previous error
			m.sender.selectedDevice = m.sender.devices[selectedIndex]

			// A schedule given on the command line skips the picker.
			if m.sender.opts.SchedulePath != "" {
				return m.pushSchedule(m.sender.opts.SchedulePath)
			}
			m.sender.state = selectingSchedule
			return nil
		}
	}

	var cmd tea.Cmd
	m.sender.table, cmd = m.sender.table.Update(msg)
	return cmd
}

func (m *model) updateSelectingScheduleState(msg tea.Msg) tea.Cmd {
	if selected, ok := msg.(schedulePicker.SelectedScheduleMsg); ok {
		return m.pushSchedule(selected.Path)
	}
	var cmd tea.Cmd
	m.sender.picker, cmd = m.sender.picker.Update(msg)
	return cmd
}

// pushSchedule hands the push to the app controller and moves the view
// into the pushing state.
func (m *model) pushSchedule(path string) tea.Cmd {
	m.appController.AppEvents() <- senderEvent.PushScheduleMsg{
		Device:       m.sender.selectedDevice,
		SchedulePath: path,
	}
	m.sender.state = pushing
	return nil
}

func (m *model) senderView() string {
	switch m.sender.state {
	case scanningDevices:
		return fmt.Sprintf("\n%s Scanning for dispensers...", m.sender.spinner.View())
	case selectingDevice:
		s := fmt.Sprintf("\n✔  Found %d dispenser(s)\n", len(m.sender.devices))
		s += style.BaseStyle.Render(m.sender.table.View()) + "\n"
		s += "Use arrow keys to navigate, Enter to select."
		if m.err != nil {
			s += "\n" + style.ErrorStyle.Render(m.err.Error())
		}
		return s
	case selectingSchedule:
		return fmt.Sprintf("Dispenser: %s\n\n%s\n", style.HighlightFontStyle.Render(m.sender.selectedDevice.Name), m.sender.picker.View())
	case pushing:
		bar := m.sender.progressBar.Render(components.ProgressData{
			FramesSent:  m.sender.framesSent,
			TotalFrames: m.sender.totalFrames,
			BytesSent:   approxBytesSent(m.sender.framesSent, m.sender.totalFrames, m.sender.payloadBytes),
			TotalBytes:  m.sender.payloadBytes,
		})
		return fmt.Sprintf("\n%s Pushing schedule to %s...\n\n%s\n\n%s",
			m.sender.spinner.View(),
			style.HighlightFontStyle.Render(m.sender.selectedDevice.Name),
			bar,
			style.HelpStyle.Render("Press c to cancel."))
	case transferComplete:
		return "\n" + style.SuccessStyle.Render("Schedule delivered! The dispenser confirmed receipt.") + "\n\nPress Enter to push another schedule."
	case transferFailed:
		return fmt.Sprintf("\n%s\nPress Enter to try again.", style.ErrorStyle.Render("Transfer failed: "+m.sender.resultDetail))
	default:
		return "Internal error: unknown sender state"
	}
}

// approxBytesSent estimates byte progress from frame progress. Exact
// byte counts never reach the UI; frames are the engine's unit.
func approxBytesSent(sent, total uint32, payloadBytes int64) int64 {
	if total == 0 {
		return 0
	}
	if sent >= total {
		return payloadBytes
	}
	return payloadBytes * int64(sent) / int64(total)
}

func (m *senderModel) reset() {
	*m = initSenderModel(m.opts)
}
