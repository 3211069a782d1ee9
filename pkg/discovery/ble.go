package discovery

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/tmkoval/pillsync/pkg/ble"
)

const blePollInterval = time.Second

// BLEAdapter turns the BlueZ scan into discovery snapshots. Only devices
// that look like dispensers make it into a snapshot.
type BLEAdapter struct {
	client *ble.Client
}

func NewBLEAdapter(client *ble.Client) *BLEAdapter {
	return &BLEAdapter{client: client}
}

// Announce is not possible for a central role.
func (a *BLEAdapter) Announce(ctx context.Context, device DeviceInfo) error {
	return ErrAnnounceUnsupported
}

func (a *BLEAdapter) Discover(ctx context.Context) <-chan Result {
	out := make(chan Result, 10)

	go func() {
		defer close(out)

		if err := a.client.StartDiscovery(); err != nil {
			out <- Result{Err: err}
			return
		}
		defer a.client.StopDiscovery()

		ticker := time.NewTicker(blePollInterval)
		defer ticker.Stop()

		var last []DeviceInfo
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				devices, err := a.client.Devices()
				if err != nil {
					slog.Warn("Ble device poll failed", "err", err)
					continue
				}

				snapshot := dispenserSnapshot(devices)
				if snapshotsEqual(last, snapshot) {
					continue
				}
				last = snapshot

				select {
				case out <- Result{Devices: snapshot}:
				default:
				}
			}
		}
	}()

	return out
}

func dispenserSnapshot(devices []ble.Device) []DeviceInfo {
	var snapshot []DeviceInfo
	for _, d := range devices {
		if !d.IsDispenser() {
			continue
		}
		name := d.Name
		if name == "" {
			name = d.Address
		}
		snapshot = append(snapshot, DeviceInfo{
			ID:        d.Address,
			Name:      name,
			Transport: TransportBLE,
			Addr:      d.Address,
			RSSI:      d.RSSI,
		})
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return snapshot
}

func snapshotsEqual(a, b []DeviceInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
