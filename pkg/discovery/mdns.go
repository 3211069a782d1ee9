package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/brutella/dnssd"
)

// MDNSAdapter announces and finds simulated dispensers on the local
// network.
type MDNSAdapter struct{}

func (m *MDNSAdapter) Announce(ctx context.Context, device DeviceInfo) error {
	text := map[string]string{
		"desc":      "Pill dispenser schedule endpoint",
		"transport": TransportTCP,
	}

	cfg := dnssd.Config{
		Name:   device.Name,
		Type:   ServiceType,
		Domain: DefaultDomain,
		// Multicast binds all interfaces when IPs is nil.
		IPs:  nil,
		Text: text,
		Port: device.Port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("creating mdns service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("creating mdns responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("registering mdns service: %w", err)
	}

	slog.Info("Announcing dispenser over mdns", "name", device.Name, "port", device.Port)
	if err = rp.Respond(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("serving mdns announcements: %w", err)
	}
	slog.Info("Mdns announcement stopped", "name", device.Name)
	return nil
}

func (m *MDNSAdapter) Discover(ctx context.Context) <-chan Result {
	var (
		mu      sync.Mutex
		entries = make(map[string]DeviceInfo)
		out     = make(chan Result, 10)
	)

	sendSnapshot := func() {
		mu.Lock()
		snapshot := make([]DeviceInfo, 0, len(entries))
		for _, entry := range entries {
			snapshot = append(snapshot, entry)
		}
		mu.Unlock()
		sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

		select {
		case out <- Result{Devices: snapshot}:
		default:
		}
	}

	sendError := func(err error) {
		select {
		case out <- Result{Err: err}:
		default:
		}
	}

	key := func(e dnssd.BrowseEntry) string {
		return fmt.Sprintf("%s.%s.%s", e.Name, e.Type, e.Domain)
	}

	addFn := func(e dnssd.BrowseEntry) {
		info := DeviceInfo{
			ID:        key(e),
			Name:      e.Name,
			Transport: TransportTCP,
			Port:      e.Port,
		}
		// A browse entry can momentarily carry no address; keep it
		// listed and let the next update fill the gap.
		if len(e.IPs) > 0 {
			info.Addr = e.IPs[0].String()
		}

		mu.Lock()
		entries[key(e)] = info
		mu.Unlock()
		sendSnapshot()
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		mu.Lock()
		delete(entries, key(e))
		mu.Unlock()
		sendSnapshot()
	}

	go func() {
		defer close(out)
		service := fmt.Sprintf("%s.%s.", ServiceType, DefaultDomain)
		if err := dnssd.LookupType(ctx, service, addFn, rmvFn); err != nil && ctx.Err() == nil {
			sendError(fmt.Errorf("mdns lookup failed: %w", err))
		}
	}()

	return out
}
