// Package sender holds the application logic controller behind the
// interactive send TUI: it discovers dispensers, orchestrates a push and
// relays progress to the UI.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	internalapp "github.com/tmkoval/pillsync/internal/app"
	appevents "github.com/tmkoval/pillsync/internal/app_events"
	"github.com/tmkoval/pillsync/internal/app_events/sender"
	"github.com/tmkoval/pillsync/pkg/ble"
	"github.com/tmkoval/pillsync/pkg/concurrency"
	"github.com/tmkoval/pillsync/pkg/discovery"
	"github.com/tmkoval/pillsync/pkg/link"
	"github.com/tmkoval/pillsync/pkg/schedule"
	"github.com/tmkoval/pillsync/pkg/transfer"
)

// connectFunc opens a channel to a dispenser. The returned closer tears
// the link down once the push is over.
type connectFunc func(ctx context.Context, device discovery.DeviceInfo) (transfer.Channel, func() error, error)

// App is the main application logic controller for the sender.
type App struct {
	serviceID   string
	guard       *concurrency.ConcurrencyGuard
	discoverer  discovery.Adapter
	engine      *transfer.Engine
	state       *internalapp.StateManager
	transferCfg transfer.Config
	connect     connectFunc
	uiMessages  chan tea.Msg            // App -> TUI
	appEvents   chan appevents.AppEvent // TUI -> App
	transferWG  sync.WaitGroup          // Track active push goroutines
}

// NewApp creates a new sender application instance.
func NewApp(adapter discovery.Adapter, cfg transfer.Config) *App {
	return &App{
		serviceID:   uuid.New().String(),
		guard:       concurrency.NewConcurrencyGuard(),
		discoverer:  adapter,
		engine:      transfer.NewEngine(),
		state:       internalapp.NewStateManager(),
		transferCfg: cfg,
		connect:     Connect,
		uiMessages:  make(chan tea.Msg, 10),
		appEvents:   make(chan appevents.AppEvent),
	}
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// Run starts the application's main event loop.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runDiscovery(ctx)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				// Let an in-flight push resolve before tearing down the engine.
				a.state.CancelActive()
				a.transferWG.Wait()
				a.engine.Close()
				return nil
			case event := <-a.appEvents:
				switch e := event.(type) {
				case sender.PushScheduleMsg:
					a.StartPushProcess(ctx, e.Device, e.SchedulePath)
				case sender.CancelTransferMsg:
					a.state.CancelActive()
				}
			}
		}
	})
	return g.Wait()
}

// runDiscovery streams dispenser snapshots to the UI until ctx ends.
func (a *App) runDiscovery(ctx context.Context) error {
	updates := a.discoverer.Discover(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-updates:
			if !ok {
				return nil
			}
			if res.Err != nil {
				a.sendAndLogError("Discovery failed", res.Err)
				continue
			}
			a.uiMessages <- sender.FoundDevicesMsg{Devices: res.Devices}
		}
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(baseMessage string, err error) {
	slog.Error(baseMessage, "error", err)
	a.uiMessages <- appevents.AppErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)}
}

// StartPushProcess is the main entry point for pushing a schedule to a
// dispenser. It runs the push on its own goroutine; progress and the
// terminal result arrive as UI messages.
func (a *App) StartPushProcess(ctx context.Context, device discovery.DeviceInfo, schedulePath string) {
	task := func(taskCtx context.Context) error {
		return a.push(taskCtx, device, schedulePath)
	}

	a.transferWG.Add(1)
	go func() {
		defer a.transferWG.Done()
		err := a.guard.ExecuteWithContext(ctx, task)
		if err == concurrency.ErrBusy {
			a.uiMessages <- sender.StatusUpdateMsg{Message: "A push is already in progress"}
			return
		}
		if err != nil {
			a.sendAndLogError("Push failed", err)
		}
	}()
}

// push runs one complete transfer attempt. Failures before the engine
// accepts the payload are returned as errors; once a session exists the
// outcome is always a TransferResultMsg.
func (a *App) push(ctx context.Context, device discovery.DeviceInfo, schedulePath string) error {
	sch, err := schedule.LoadFile(schedulePath)
	if err != nil {
		return fmt.Errorf("loading schedule: %w", err)
	}
	payload, err := schedule.EncodeEnvelope(sch)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	a.uiMessages <- sender.StatusUpdateMsg{
		Message: fmt.Sprintf("Connecting to %s...", device.Name),
	}
	ch, closeLink, err := a.connect(ctx, device)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", device.Name, err)
	}
	defer func() {
		if err := closeLink(); err != nil {
			slog.Warn("Failed to close link", "device", device.Name, "error", err)
		}
	}()

	handle, err := a.engine.Begin(payload, ch, a.transferCfg)
	if err != nil {
		return fmt.Errorf("starting transfer: %w", err)
	}
	if err := a.state.SetActive(handle); err != nil {
		// The guard makes this unreachable; cancel the session rather
		// than leaving it orphaned if it ever happens.
		handle.Cancel()
		return err
	}
	defer a.state.CloseActive()

	// An external cancellation (ctx) must resolve the session too.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			handle.Cancel()
		case <-watchDone:
		}
	}()

	a.uiMessages <- sender.TransferStartedMsg{
		SessionID:    handle.ID(),
		TotalFrames:  handle.TotalFrames(),
		PayloadBytes: int64(len(payload)),
	}

	for ev := range handle.Progress() {
		a.uiMessages <- sender.FrameProgressMsg{
			SequenceNo:  ev.SequenceNo,
			TotalFrames: ev.TotalFrames,
		}
	}

	res := <-handle.Done()
	a.uiMessages <- sender.TransferResultMsg{Result: res}
	return nil
}

// Connect dials a dispenser over whichever link its DeviceInfo
// advertises. The returned closer tears the link down after the push.
func Connect(ctx context.Context, device discovery.DeviceInfo) (transfer.Channel, func() error, error) {
	switch device.Transport {
	case discovery.TransportTCP:
		ch, err := link.Dial(ctx, device.DialTarget())
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Close, nil
	case discovery.TransportBLE:
		client, err := ble.NewClient()
		if err != nil {
			return nil, nil, err
		}
		ch, err := client.Connect(ctx, device.Addr)
		if err != nil {
			return nil, nil, err
		}
		return ch, ch.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", device.Transport)
	}
}
