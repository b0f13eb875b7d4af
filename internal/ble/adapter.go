// Package ble provides the BLE driver for the WHOOP strap. It owns the
// session lifecycle, routes notifications from the strap's three inbound
// characteristics, and runs the history download and clock handshakes.
package ble

import "context"

// WHOOP strap BLE UUIDs
const (
	ServiceUUID         = "61080001-8d6d-82b8-614a-1c8cb0f8dcc6"
	CmdToStrapUUID      = "61080002-8d6d-82b8-614a-1c8cb0f8dcc6"
	CmdFromStrapUUID    = "61080003-8d6d-82b8-614a-1c8cb0f8dcc6"
	EventsFromStrapUUID = "61080004-8d6d-82b8-614a-1c8cb0f8dcc6"
	DataFromStrapUUID   = "61080005-8d6d-82b8-614a-1c8cb0f8dcc6"
)

// DefaultNamePrefix is the advertised name prefix of WHOOP straps.
const DefaultNamePrefix = "WHOOP"

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic and returns once the
	// transport has accepted it.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// CanNotify reports whether the characteristic supports notifications.
	CanNotify() bool
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals whose advertised name starts with namePrefix.
	// Returns discovered devices once ctx is done.
	Scan(ctx context.Context, namePrefix string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
