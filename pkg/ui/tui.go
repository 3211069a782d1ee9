package ui

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/tmkoval/pillsync/internal/app_events"
)

type mode int

const (
	None mode = iota
	// Send walks the user from device discovery through schedule
	// selection to a live push.
	Send
	// Devices just watches the network for dispensers.
	Devices
)

// AppController is the application logic the TUI talks to. The concrete
// implementation lives in pkg/sender; the indirection keeps the views
// free of transfer and discovery details.
type AppController interface {
	Run(ctx context.Context) error
	UIMessages() <-chan tea.Msg
	AppEvents() chan<- appevents.AppEvent
}

// Options carry the command-line choices into the TUI.
type Options struct {
	// ScheduleDir is where the picker looks for schedule files.
	ScheduleDir string
	// SchedulePath, when set, skips the picker entirely.
	SchedulePath string
}

type model struct {
	mode          mode
	appController AppController
	sender        senderModel
	devices       devicesModel
	err           error
}

func InitialModel(m mode, controller AppController, opts Options) model {
	return model{
		mode:          m,
		appController: controller,
		sender:        initSenderModel(opts),
		devices:       initDevicesModel(),
	}
}

func (m model) Init() tea.Cmd {
	go func() {
		if err := m.appController.Run(context.Background()); err != nil {
			slog.Error("App controller stopped", "error", err)
		}
	}()

	switch m.mode {
	case Send:
		return m.initSender()
	case Devices:
		return m.initDevices()
	default:
		return nil
	}
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m *model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		return <-m.appController.UIMessages()
	}
}

func (m model) View() string {
	var s string
	switch m.mode {
	case Send:
		s += m.senderView()
	case Devices:
		s += m.devicesView()
	default:
		return ""
	}
	s += "\nPress ctrl + c to quit"
	return s
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.mode {
	case Send:
		return m.updateSender(msg)
	case Devices:
		return m.updateDevices(msg)
	}

	return m, nil
}
