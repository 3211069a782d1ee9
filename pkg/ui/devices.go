package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/tmkoval/pillsync/internal/app_events"
	senderEvent "github.com/tmkoval/pillsync/internal/app_events/sender"
	"github.com/tmkoval/pillsync/internal/style"
	"github.com/tmkoval/pillsync/pkg/discovery"
)

// devicesModel is the live discovery monitor: no selection, no push,
// just whatever dispensers the adapters currently see.
type devicesModel struct {
	spinner spinner.Model
	table   table.Model
	devices []discovery.DeviceInfo
}

func initDevicesModel() devicesModel {
	t := table.New(
		table.WithColumns(deviceColumns),
		table.WithRows([]table.Row{}),
		table.WithHeight(0),
	)
	t.SetStyles(style.NewTableStyles())

	return devicesModel{
		spinner: style.NewSpinner(),
		table:   t,
	}
}

func (m *model) initDevices() tea.Cmd {
	return tea.Batch(m.devices.spinner.Tick, m.listenForAppMessages())
}

func (m *model) updateDevices(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case senderEvent.FoundDevicesMsg:
		m.devices.devices = msg.Devices
		rows := deviceRows(msg.Devices)
		m.devices.table.SetRows(rows)
		m.devices.table.SetHeight(len(rows) + 1)
		return m, m.listenForAppMessages()
	case senderEvent.StatusUpdateMsg, appevents.AppErrorMsg:
		// Nothing to render here, but keep the message pump alive.
		return m, m.listenForAppMessages()
	}

	var spinCmd tea.Cmd
	m.devices.spinner, spinCmd = m.devices.spinner.Update(msg)
	return m, spinCmd
}

func (m *model) devicesView() string {
	if len(m.devices.devices) == 0 {
		return fmt.Sprintf("\n%s Watching for dispensers...", m.devices.spinner.View())
	}
	s := fmt.Sprintf("\n%s %d dispenser(s) in range\n", m.devices.spinner.View(), len(m.devices.devices))
	s += style.BaseStyle.Render(m.devices.table.View())
	return s
}
