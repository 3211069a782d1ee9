package dispenser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tmkoval/pillsync/pkg/discovery"
	"github.com/tmkoval/pillsync/pkg/link"
)

// App runs a simulated dispenser: a TCP listener speaking the firmware
// protocol, announced over mDNS so senders can find it.
type App struct {
	name      string
	port      int
	cfg       Config
	announcer discovery.Adapter

	mu       sync.Mutex
	listener net.Listener
}

// NewApp configures a simulator. Port 0 picks a free port. A nil
// announcer skips mDNS, which tests use to stay off the network.
func NewApp(name string, port int, cfg Config, announcer discovery.Adapter) *App {
	return &App{
		name:      name,
		port:      port,
		cfg:       cfg,
		announcer: announcer,
	}
}

// Addr returns the bound listen address once Run has started.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Port returns the bound port, or 0 before Run has started.
func (a *App) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return 0
	}
	return a.listener.Addr().(*net.TCPAddr).Port
}

// Run serves until ctx ends. Each connection gets its own firmware
// instance so concurrent senders cannot interleave their streams.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", a.port, err)
	}
	a.mu.Lock()
	a.listener = listener
	a.mu.Unlock()

	port := listener.Addr().(*net.TCPAddr).Port
	slog.Info("Simulated dispenser listening", "name", a.name, "port", port, "stateDir", a.cfg.StateDir)

	g, ctx := errgroup.WithContext(ctx)

	if a.announcer != nil {
		g.Go(func() error {
			return a.announcer.Announce(ctx, discovery.DeviceInfo{
				Name:      a.name,
				Transport: discovery.TransportTCP,
				Port:      port,
			})
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		listener.Close()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accepting connection: %w", err)
			}
			go a.handleConn(ctx, conn)
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	slog.Info("Sender connected", "remote", remote)

	ch := link.NewTCPChannel(conn)
	defer ch.Close()

	firmware := NewFirmware(a.cfg)
	detach := firmware.Attach(ch)
	defer detach()

	gone := make(chan struct{})
	unsubscribe := ch.OnDisconnected(func() {
		close(gone)
	})
	defer unsubscribe()

	select {
	case <-ctx.Done():
	case <-gone:
	}
	slog.Info("Sender disconnected", "remote", remote)
}
