package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

var (
	ErrNoAdapter      = errors.New("no bluetooth adapter found")
	ErrDeviceNotFound = errors.New("dispenser not found")
	ErrServiceMissing = errors.New("dispenser gatt service not found")
)

// managedObjects is the shape GetManagedObjects returns: object path →
// interface name → property name → value.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Client drives one BlueZ adapter.
type Client struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
}

// NewClient connects to the system bus and binds the first available
// adapter.
func NewClient() (*Client, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	c := &Client{conn: conn}

	adapter, err := c.findAdapter()
	if err != nil {
		return nil, err
	}
	c.adapter = adapter
	slog.Info("Bluetooth adapter ready", "adapter", adapter)
	return c, nil
}

func (c *Client) objects() (managedObjects, error) {
	objects := make(managedObjects)
	obj := c.conn.Object(bluezBusName, "/")
	if err := obj.Call(getManagedObjectsMethod, 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("getting managed objects: %w", err)
	}
	return objects, nil
}

func (c *Client) findAdapter() (dbus.ObjectPath, error) {
	objects, err := c.objects()
	if err != nil {
		return "", err
	}
	for path, interfaces := range objects {
		if _, ok := interfaces[bluezAdapterInterface]; ok {
			return path, nil
		}
	}
	return "", ErrNoAdapter
}

// Device is a peripheral seen by the adapter.
type Device struct {
	Path    dbus.ObjectPath
	Address string
	Name    string
	RSSI    int16
	UUIDs   []string
}

// IsDispenser reports whether the device looks like a pill dispenser,
// either by advertised service UUID or by name prefix.
func (d Device) IsDispenser() bool {
	for _, uuid := range d.UUIDs {
		if strings.EqualFold(uuid, ServiceUUID) {
			return true
		}
	}
	return strings.HasPrefix(d.Name, DeviceNamePrefix)
}

// devicePath derives the BlueZ object path for a device address under
// the given adapter.
func devicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.ReplaceAll(address, ":", "_")))
}

// deviceFromProperties builds a Device from a Device1 property map.
func deviceFromProperties(path dbus.ObjectPath, props map[string]dbus.Variant) Device {
	d := Device{Path: path}
	if v, ok := props["Address"]; ok {
		if addr, ok := v.Value().(string); ok {
			d.Address = addr
		}
	}
	if v, ok := props["Name"]; ok {
		if name, ok := v.Value().(string); ok {
			d.Name = name
		}
	}
	if v, ok := props["RSSI"]; ok {
		if rssi, ok := v.Value().(int16); ok {
			d.RSSI = rssi
		}
	}
	if v, ok := props["UUIDs"]; ok {
		if uuids, ok := v.Value().([]string); ok {
			d.UUIDs = uuids
		}
	}
	return d
}

// StartDiscovery begins an LE-only scan. Filter errors are logged and
// tolerated since not every adapter supports discovery filters.
func (c *Client) StartDiscovery() error {
	adapter := c.conn.Object(bluezBusName, c.adapter)

	filter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": false,
	}
	if err := adapter.Call(bluezAdapterInterface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		slog.Warn("Discovery filter not applied", "err", err)
	}

	if err := adapter.Call(bluezAdapterInterface+".StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}
	return nil
}

func (c *Client) StopDiscovery() {
	adapter := c.conn.Object(bluezBusName, c.adapter)
	if err := adapter.Call(bluezAdapterInterface+".StopDiscovery", 0).Err; err != nil {
		slog.Warn("Stopping discovery failed", "err", err)
	}
}

// Devices lists every Device1 object currently known under the adapter.
// During an active scan the list grows as advertisements come in.
func (c *Client) Devices() ([]Device, error) {
	objects, err := c.objects()
	if err != nil {
		return nil, err
	}

	prefix := string(c.adapter) + "/dev_"
	var devices []Device
	for path, interfaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := interfaces[bluezDeviceInterface]
		if !ok {
			continue
		}
		devices = append(devices, deviceFromProperties(path, props))
	}
	return devices, nil
}

// FindDispenser scans until a dispenser shows up or ctx ends.
func (c *Client) FindDispenser(ctx context.Context) (Device, error) {
	if err := c.StartDiscovery(); err != nil {
		return Device{}, err
	}
	defer c.StopDiscovery()

	ticker := time.NewTicker(scanPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Device{}, fmt.Errorf("%w: %v", ErrDeviceNotFound, ctx.Err())
		case <-ticker.C:
			devices, err := c.Devices()
			if err != nil {
				slog.Warn("Device poll failed during scan", "err", err)
				continue
			}
			for _, d := range devices {
				if d.IsDispenser() {
					slog.Info("Dispenser discovered", "name", d.Name, "address", d.Address, "rssi", d.RSSI)
					return d, nil
				}
			}
		}
	}
}

// Connect establishes a GATT connection to the dispenser at address,
// waits for service resolution and locates the schedule characteristics.
// The returned Channel is ready for a transfer.
func (c *Client) Connect(ctx context.Context, address string) (*Channel, error) {
	path := devicePath(c.adapter, address)
	device := c.conn.Object(bluezBusName, path)

	connected, err := c.deviceBool(path, "Connected")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}

	if !connected {
		slog.Info("Connecting to dispenser", "address", address)
		if err := device.Call(bluezDeviceInterface+".Connect", 0).Err; err != nil {
			// InProgress means another caller already started it; the
			// poll below picks the result up either way.
			if !strings.Contains(err.Error(), "InProgress") {
				return nil, fmt.Errorf("connecting to %s: %w", address, err)
			}
		}
		if err := c.waitDeviceBool(ctx, path, "Connected"); err != nil {
			return nil, fmt.Errorf("waiting for connection to %s: %w", address, err)
		}
	}

	if err := c.waitDeviceBool(ctx, path, "ServicesResolved"); err != nil {
		return nil, fmt.Errorf("waiting for service resolution on %s: %w", address, err)
	}

	rxChar, txChar, err := c.findCharacteristics(path)
	if err != nil {
		return nil, err
	}

	slog.Info("Dispenser connected", "address", address, "rx", rxChar, "tx", txChar)
	return newChannel(c.conn, path, rxChar, txChar)
}

func (c *Client) deviceBool(path dbus.ObjectPath, prop string) (bool, error) {
	var variant dbus.Variant
	obj := c.conn.Object(bluezBusName, path)
	if err := obj.Call(propertiesInterface+".Get", 0, bluezDeviceInterface, prop).Store(&variant); err != nil {
		return false, err
	}
	value, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not a bool", prop)
	}
	return value, nil
}

func (c *Client) waitDeviceBool(ctx context.Context, path dbus.ObjectPath, prop string) error {
	ticker := time.NewTicker(connectPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			value, err := c.deviceBool(path, prop)
			if err == nil && value {
				return nil
			}
		}
	}
}

// findCharacteristics walks the object tree under the device looking for
// the dispenser service and its RX/TX characteristics.
func (c *Client) findCharacteristics(device dbus.ObjectPath) (rx, tx dbus.ObjectPath, err error) {
	objects, err := c.objects()
	if err != nil {
		return "", "", err
	}

	var servicePath dbus.ObjectPath
	devicePrefix := string(device) + "/service"
	for path, interfaces := range objects {
		if !strings.HasPrefix(string(path), devicePrefix) {
			continue
		}
		svc, ok := interfaces[bluezGattServiceInterface]
		if !ok {
			continue
		}
		if v, ok := svc["UUID"]; ok {
			if uuid, ok := v.Value().(string); ok && strings.EqualFold(uuid, ServiceUUID) {
				servicePath = path
				break
			}
		}
	}
	if servicePath == "" {
		return "", "", ErrServiceMissing
	}

	servicePrefix := string(servicePath) + "/char"
	for path, interfaces := range objects {
		if !strings.HasPrefix(string(path), servicePrefix) {
			continue
		}
		char, ok := interfaces[bluezGattCharInterface]
		if !ok {
			continue
		}
		v, ok := char["UUID"]
		if !ok {
			continue
		}
		uuid, ok := v.Value().(string)
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(uuid, ScheduleRxCharUUID):
			rx = path
		case strings.EqualFold(uuid, StatusTxCharUUID):
			tx = path
		}
	}

	if rx == "" {
		return "", "", fmt.Errorf("%w: schedule rx characteristic missing", ErrServiceMissing)
	}
	if tx == "" {
		return "", "", fmt.Errorf("%w: status tx characteristic missing", ErrServiceMissing)
	}
	return rx, tx, nil
}
