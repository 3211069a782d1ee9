package sender

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appevents "github.com/tmkoval/pillsync/internal/app_events"
	"github.com/tmkoval/pillsync/internal/app_events/sender"
	"github.com/tmkoval/pillsync/pkg/discovery"
	"github.com/tmkoval/pillsync/pkg/dispenser"
	"github.com/tmkoval/pillsync/pkg/transfer"
)

// stubAdapter emits one fixed snapshot and then idles until ctx ends.
type stubAdapter struct {
	devices []discovery.DeviceInfo
}

func (s *stubAdapter) Announce(ctx context.Context, device discovery.DeviceInfo) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubAdapter) Discover(ctx context.Context) <-chan discovery.Result {
	ch := make(chan discovery.Result, 1)
	ch <- discovery.Result{Devices: s.devices}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func fastConfig() transfer.Config {
	cfg := transfer.DefaultConfig()
	cfg.InterFrameDelay = 2 * time.Millisecond
	cfg.AckTimeout = 3 * time.Second
	return cfg
}

func writeScheduleFile(tb testing.TB) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "morning.json")
	content := `{
		"name": "morning routine",
		"slots": [
			{"compartment": 1, "time": "08:00", "pills": [{"name": "aspirin", "count": 1}]},
			{"compartment": 2, "time": "20:00", "pills": [{"name": "vitamin d", "count": 2}]}
		]
	}`
	require.NoError(tb, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// startDispenser runs a simulator on a free port and waits for it to bind.
func startDispenser(tb testing.TB, ctx context.Context) *dispenser.App {
	tb.Helper()
	cfg := dispenser.DefaultConfig()
	cfg.StateDir = tb.TempDir()
	cfg.ProcessingDelay = 10 * time.Millisecond

	sim := dispenser.NewApp("test-dispenser", 0, cfg, nil)
	go func() {
		if err := sim.Run(ctx); err != nil {
			tb.Errorf("dispenser run: %v", err)
		}
	}()

	require.Eventually(tb, func() bool { return sim.Port() != 0 },
		2*time.Second, 10*time.Millisecond, "dispenser should bind a port")
	return sim
}

func TestPushEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sim := startDispenser(t, ctx)
	device := discovery.DeviceInfo{
		ID:        "test-dispenser",
		Name:      "test-dispenser",
		Transport: discovery.TransportTCP,
		Addr:      "127.0.0.1",
		Port:      sim.Port(),
	}

	app := NewApp(&stubAdapter{devices: []discovery.DeviceInfo{device}}, fastConfig())
	runDone := make(chan error, 1)
	go func() { runDone <- app.Run(ctx) }()

	app.AppEvents() <- sender.PushScheduleMsg{Device: device, SchedulePath: writeScheduleFile(t)}

	var (
		started  bool
		progress []sender.FrameProgressMsg
		result   *transfer.Result
	)
	deadline := time.After(8 * time.Second)
	for result == nil {
		select {
		case msg := <-app.UIMessages():
			switch m := msg.(type) {
			case sender.TransferStartedMsg:
				started = true
				assert.NotEmpty(t, m.SessionID)
				assert.Greater(t, m.TotalFrames, uint32(1), "Envelope should need several frames at 20 bytes each")
			case sender.FrameProgressMsg:
				progress = append(progress, m)
			case sender.TransferResultMsg:
				res := m.Result
				result = &res
			}
		case <-deadline:
			t.Fatal("push did not resolve in time")
		}
	}

	require.True(t, started, "TransferStartedMsg should precede the result")
	require.True(t, result.Success, "push should succeed, got %+v", *result)

	require.NotEmpty(t, progress, "At least one frame should have been dispatched")
	for i, p := range progress {
		assert.Equal(t, uint32(i+1), p.SequenceNo, "Progress should arrive in sequence order")
	}
	assert.Equal(t, progress[0].TotalFrames, uint32(len(progress)),
		"Every frame should have been dispatched before the ack")

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err, "Run should exit cleanly on cancellation")
	case <-time.After(3 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestPushMissingScheduleSurfacesError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	app := NewApp(&stubAdapter{}, fastConfig())
	device := discovery.DeviceInfo{Name: "x", Transport: discovery.TransportTCP, Addr: "127.0.0.1", Port: 1}
	app.StartPushProcess(ctx, device, filepath.Join(t.TempDir(), "nope.json"))

	msg := waitForMessage(t, app, 3*time.Second)
	errMsg, ok := msg.(appevents.AppErrorMsg)
	require.True(t, ok, "expected an AppErrorMsg, got %T", msg)
	assert.ErrorContains(t, errMsg.Err, "loading schedule")
}

func TestPushUnknownTransportFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp(&stubAdapter{}, fastConfig())
	err := app.push(ctx, discovery.DeviceInfo{Name: "x", Transport: "infrared"}, writeScheduleFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}

func waitForMessage(tb testing.TB, app *App, timeout time.Duration) tea.Msg {
	tb.Helper()
	select {
	case msg := <-app.UIMessages():
		return msg
	case <-time.After(timeout):
		tb.Fatal("no UI message arrived")
		return nil
	}
}

func TestGracefulShutdown(t *testing.T) {
	app := NewApp(&stubAdapter{}, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// Drain the initial (empty) discovery snapshot so nothing is stuck
	// on the UI channel.
	select {
	case <-app.UIMessages():
	case <-time.After(time.Second):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "Run should swallow plain cancellation")
	case <-time.After(3 * time.Second):
		t.Error("App did not shut down within 3 seconds")
	}
}
