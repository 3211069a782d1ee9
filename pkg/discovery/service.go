package discovery

import (
	"context"
	"errors"
	"fmt"
)

const (
	// ServiceType is the mDNS service simulated dispensers register.
	ServiceType   = "_pillsync._tcp"
	DefaultDomain = "local"
)

// Transports a dispenser can be reached over.
const (
	TransportTCP = "tcp"
	TransportBLE = "ble"
)

// ErrAnnounceUnsupported is returned by adapters that can only listen.
// A BLE central scans; it does not advertise.
var ErrAnnounceUnsupported = errors.New("adapter cannot announce")

// DeviceInfo identifies one reachable dispenser.
type DeviceInfo struct {
	ID        string // stable identity: mDNS instance name or BLE address
	Name      string
	Transport string // TransportTCP or TransportBLE
	Addr      string
	Port      int
	RSSI      int16 // BLE only, 0 otherwise
}

// DialTarget is the address to hand the TCP link.
func (d DeviceInfo) DialTarget() string {
	return fmt.Sprintf("%s:%d", d.Addr, d.Port)
}

// Result is one discovery update: a full snapshot of everything the
// adapter currently sees, or an error.
type Result struct {
	Devices []DeviceInfo
	Err     error
}

type Adapter interface {
	// Announce registers the device until ctx ends.
	Announce(ctx context.Context, device DeviceInfo) error
	// Discover emits snapshot updates until ctx ends, then closes the
	// channel. Sends are lossy: a slow reader sees the freshest state,
	// not every intermediate one.
	Discover(ctx context.Context) <-chan Result
}
