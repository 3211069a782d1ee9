// Package ble talks to a pill dispenser's GATT service through BlueZ on
// the system D-Bus. No CGo and no HCI socket access: scanning,
// connecting and characteristic I/O all go through org.bluez objects.
package ble

import "time"

// BlueZ bus and interface names.
const (
	bluezBusName              = "org.bluez"
	bluezAdapterInterface     = "org.bluez.Adapter1"
	bluezDeviceInterface      = "org.bluez.Device1"
	bluezGattServiceInterface = "org.bluez.GattService1"
	bluezGattCharInterface    = "org.bluez.GattCharacteristic1"

	propertiesInterface       = "org.freedesktop.DBus.Properties"
	propertiesChangedMember   = "org.freedesktop.DBus.Properties.PropertiesChanged"
	getManagedObjectsMethod   = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	addMatchMethod            = "org.freedesktop.DBus.AddMatch"
	removeMatchMethod         = "org.freedesktop.DBus.RemoveMatch"
)

// Dispenser GATT profile. The firmware advertises ServiceUUID and exposes
// two characteristics under it: the central writes schedule frames to RX
// and receives status notifications (the ack marker among them) from TX.
const (
	ServiceUUID        = "4f8a0001-9c2d-45e1-b7f3-8d1e6a5c9b20"
	ScheduleRxCharUUID = "4f8a0002-9c2d-45e1-b7f3-8d1e6a5c9b20"
	StatusTxCharUUID   = "4f8a0003-9c2d-45e1-b7f3-8d1e6a5c9b20"
)

// DeviceNamePrefix matches the advertised local name of dispensers that
// predate service-UUID advertising.
const DeviceNamePrefix = "PillSync"

const (
	// DefaultMTU is the ATT minimum; usable payload per write is MTU
	// minus the 3-byte ATT header. The default 20-byte chunk size fits
	// unnegotiated links.
	DefaultMTU    = uint16(23)
	TargetMTU     = uint16(512)
	attHeaderSize = uint16(3)

	DefaultScanTimeout   = 30 * time.Second
	connectPollInterval  = 250 * time.Millisecond
	resolvePollInterval  = 250 * time.Millisecond
	scanPollInterval     = time.Second
)

// UsableChunkSize returns the largest frame payload a single
// write-without-response can carry at the given MTU.
func UsableChunkSize(mtu uint16) int {
	if mtu <= attHeaderSize {
		return 0
	}
	return int(mtu - attHeaderSize)
}
