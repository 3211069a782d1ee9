package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmkoval/pillsync/internal/util"
	"github.com/tmkoval/pillsync/pkg/ble"
	"github.com/tmkoval/pillsync/pkg/discovery"
	"github.com/tmkoval/pillsync/pkg/dispenser"
	"github.com/tmkoval/pillsync/pkg/schedule"
	senderApp "github.com/tmkoval/pillsync/pkg/sender"
	"github.com/tmkoval/pillsync/pkg/transfer"
	"github.com/tmkoval/pillsync/pkg/ui"
)

var cfgFile string

func main() {
	cmd := newRootCmd()
	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pillsync",
		Short: "Push medication schedules to a pill dispenser",
		Long: `pillsync finds pill dispensers nearby (BLE or a simulated one on the
LAN), splits a medication schedule into link-sized frames and pushes it
over, waiting for the device's completion acknowledgment.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pillsync.yaml)")
	cmd.PersistentFlags().Bool("verbose", false, "debug logging")
	cmd.PersistentFlags().Int("chunk-size", transfer.DefaultChunkSize, "payload bytes per frame")
	cmd.PersistentFlags().Duration("frame-delay", transfer.DefaultInterFrameDelay, "pause between frames")
	cmd.PersistentFlags().Duration("ack-timeout", transfer.DefaultAckTimeout, "how long to wait for the completion ack")

	must(viper.BindPFlag("verbose", cmd.PersistentFlags().Lookup("verbose")))
	must(viper.BindPFlag("chunk_size", cmd.PersistentFlags().Lookup("chunk-size")))
	must(viper.BindPFlag("frame_delay", cmd.PersistentFlags().Lookup("frame-delay")))
	must(viper.BindPFlag("ack_timeout", cmd.PersistentFlags().Lookup("ack-timeout")))

	cmd.AddCommand(newSendCmd(), newPushCmd(), newDevicesCmd(), newSimulateCmd())
	return cmd
}

func must(err error) {
	if err != nil {
		log.Fatalf("flag setup: %v", err)
	}
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	viper.SetEnvPrefix("PILLSYNC")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Warn("Could not find home directory", "error", err)
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pillsync")
	}

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("Using config file", "path", viper.ConfigFileUsed())
	}
}

func transferConfig() transfer.Config {
	cfg := transfer.DefaultConfig()
	if v := viper.GetInt("chunk_size"); v > 0 {
		cfg.ChunkSize = v
	}
	if v := viper.GetDuration("frame_delay"); v > 0 {
		cfg.InterFrameDelay = v
	}
	if v := viper.GetDuration("ack_timeout"); v > 0 {
		cfg.AckTimeout = v
	}
	return cfg
}

// logToFile redirects the default logger away from stdout so it cannot
// corrupt the TUI. Used by the interactive commands only.
func logToFile() func() {
	f, err := os.OpenFile("debug.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return func() {}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel()})))
	return func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}
}

func logToStderr() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()})))
}

func logLevel() slog.Level {
	if viper.GetBool("verbose") {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newDiscoveryAdapter merges mDNS with BLE scanning. Machines without a
// usable BlueZ bus fall back to mDNS alone.
func newDiscoveryAdapter() discovery.Adapter {
	mdns := &discovery.MDNSAdapter{}
	client, err := ble.NewClient()
	if err != nil {
		slog.Warn("BLE scanning unavailable, discovering simulated dispensers only", "error", err)
		return mdns
	}
	return discovery.NewMulti(mdns, discovery.NewBLEAdapter(client))
}

func newSendCmd() *cobra.Command {
	var scheduleDir, schedulePath string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Interactively pick a dispenser and push a schedule",
		Run: func(cmd *cobra.Command, args []string) {
			closeLog := logToFile()
			defer closeLog()

			app := senderApp.NewApp(newDiscoveryAdapter(), transferConfig())
			model := ui.InitialModel(ui.Send, app, ui.Options{
				ScheduleDir:  scheduleDir,
				SchedulePath: schedulePath,
			})
			if _, err := tea.NewProgram(model).Run(); err != nil {
				fmt.Printf("Alas, there's been an error: %v", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&scheduleDir, "schedule-dir", ".", "Directory the schedule picker lists")
	cmd.Flags().StringVar(&schedulePath, "schedule", "", "Schedule file to push (skips the picker)")
	return cmd
}

func newPushCmd() *cobra.Command {
	var (
		target       string
		schedulePath string
		findTimeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push a schedule to one dispenser and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logToStderr()
			ctx, cancel := signalContext()
			defer cancel()
			return runPush(ctx, target, schedulePath, findTimeout)
		},
	}
	cmd.Flags().StringVar(&target, "device", "", "Dispenser: host:port, BLE address, or discovered name")
	cmd.Flags().StringVar(&schedulePath, "schedule", "", "Schedule file (json or csv)")
	cmd.Flags().DurationVar(&findTimeout, "find-timeout", 10*time.Second, "How long to search for a named device")
	must(cmd.MarkFlagRequired("device"))
	must(cmd.MarkFlagRequired("schedule"))
	return cmd
}

func runPush(ctx context.Context, target, schedulePath string, findTimeout time.Duration) error {
	sch, err := schedule.LoadFile(schedulePath)
	if err != nil {
		return err
	}
	payload, err := schedule.EncodeEnvelope(sch)
	if err != nil {
		return err
	}

	device, err := resolveDevice(ctx, target, findTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("Pushing %q (%s) to %s [%s]\n",
		sch.Name, util.FormatSize(int64(len(payload))), device.Name, device.Transport)

	ch, closeLink, err := senderApp.Connect(ctx, device)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLink(); err != nil {
			slog.Warn("Failed to close link", "error", err)
		}
	}()

	engine := transfer.NewEngine()
	defer engine.Close()

	handle, err := engine.Begin(payload, ch, transferConfig())
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		handle.Cancel()
	}()

	for ev := range handle.Progress() {
		fmt.Printf("frame %d/%d\n", ev.SequenceNo, ev.TotalFrames)
	}
	res := <-handle.Done()
	if !res.Success {
		return fmt.Errorf("transfer failed: %s", res.Detail)
	}
	fmt.Println("Dispenser acknowledged the schedule.")
	return nil
}

// resolveDevice turns the --device argument into a DeviceInfo. host:port
// dials directly, a BLE MAC connects directly, anything else is matched
// against discovered names.
func resolveDevice(ctx context.Context, target string, findTimeout time.Duration) (discovery.DeviceInfo, error) {
	if looksLikeBLEAddress(target) {
		return discovery.DeviceInfo{
			ID:        target,
			Name:      target,
			Transport: discovery.TransportBLE,
			Addr:      target,
		}, nil
	}
	if host, portStr, err := net.SplitHostPort(target); err == nil {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return discovery.DeviceInfo{}, fmt.Errorf("bad port in %q: %w", target, err)
		}
		return discovery.DeviceInfo{
			ID:        target,
			Name:      target,
			Transport: discovery.TransportTCP,
			Addr:      host,
			Port:      port,
		}, nil
	}

	fmt.Printf("Searching for %q...\n", target)
	ctx, cancel := context.WithTimeout(ctx, findTimeout)
	defer cancel()

	updates := newDiscoveryAdapter().Discover(ctx)
	for {
		select {
		case <-ctx.Done():
			return discovery.DeviceInfo{}, fmt.Errorf("no dispenser named %q found within %s", target, findTimeout)
		case res, ok := <-updates:
			if !ok {
				return discovery.DeviceInfo{}, fmt.Errorf("no dispenser named %q found", target)
			}
			if res.Err != nil {
				return discovery.DeviceInfo{}, res.Err
			}
			for _, d := range res.Devices {
				if d.ID == target || d.Name == target {
					return d, nil
				}
			}
		}
	}
}

// looksLikeBLEAddress matches colon-separated MAC notation, e.g.
// "C4:F3:12:0A:9B:01".
func looksLikeBLEAddress(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
	}
	return true
}

func newDevicesCmd() *cobra.Command {
	var (
		once    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List dispensers in range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !once {
				closeLog := logToFile()
				defer closeLog()

				app := senderApp.NewApp(newDiscoveryAdapter(), transferConfig())
				model := ui.InitialModel(ui.Devices, app, ui.Options{})
				if _, err := tea.NewProgram(model).Run(); err != nil {
					return err
				}
				return nil
			}

			logToStderr()
			ctx, cancel := signalContext()
			defer cancel()
			return listDevicesOnce(ctx, timeout)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Print one listing and exit instead of watching")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to scan with --once")
	return cmd
}

func listDevicesOnce(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	updates := newDiscoveryAdapter().Discover(ctx)
	var latest []discovery.DeviceInfo
	for {
		select {
		case <-ctx.Done():
			if len(latest) == 0 {
				fmt.Println("No dispensers found.")
				return nil
			}
			fmt.Printf("%s%s%s\n", util.PadRight("NAME", 24), util.PadRight("TRANSPORT", 12), "ADDRESS")
			for _, d := range latest {
				addr := d.Addr
				if d.Transport == discovery.TransportTCP {
					addr = d.DialTarget()
				}
				fmt.Printf("%s%s%s\n", util.PadRight(d.Name, 24), util.PadRight(d.Transport, 12), addr)
			}
			return nil
		case res, ok := <-updates:
			if !ok {
				updates = nil // closed; wait out the timeout on the latest snapshot
				continue
			}
			if res.Err != nil {
				slog.Warn("Discovery error", "error", res.Err)
				continue
			}
			latest = res.Devices
		}
	}
}

func newSimulateCmd() *cobra.Command {
	var (
		name     string
		port     int
		stateDir string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated dispenser until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logToStderr()
			ctx, cancel := signalContext()
			defer cancel()

			cfg := dispenser.DefaultConfig()
			cfg.StateDir = stateDir
			sim := dispenser.NewApp(name, port, cfg, &discovery.MDNSAdapter{})
			fmt.Printf("Simulated dispenser %q starting on port %d (schedules land in %s)\n", name, port, stateDir)
			return sim.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&name, "name", "PillSync Simulator", "Advertised device name")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (0 picks one)")
	cmd.Flags().StringVar(&stateDir, "state-dir", ".", "Where accepted schedules are written")
	return cmd
}
