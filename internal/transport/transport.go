package transport

import (
	"context"
	"time"
)

// Handle identifies a discovered device for the lifetime of a Session.
//
// ID is the session-scoped identity token (a BlueZ object path such as
// /org/bluez/hci0/dev_4C_65_A8_AA_BB_CC); Address is the hardware address.
type Handle struct {
	id      string
	address string
	name    string
}

// NewHandle creates a device handle.
func NewHandle(id, address, name string) Handle {
	return Handle{id: id, address: address, name: name}
}

// ID returns the session-scoped identity token of the device.
func (h Handle) ID() string { return h.id }

// Address returns the hardware address of the device.
func (h Handle) Address() string { return h.address }

// Name returns the advertised local name, empty if the device never advertised one.
func (h Handle) Name() string { return h.name }

func (h Handle) String() string {
	if h.name == "" {
		return h.address
	}
	return h.address + " (" + h.name + ")"
}

// Characteristic addresses a GATT characteristic on a connected device.
//
// Suffix is the object path fragment appended to the device path
// (e.g. /service0021/char0035), UUID is used by backends that look
// characteristics up by UUID instead of by path.
type Characteristic struct {
	Suffix string
	UUID   string
}

// Path returns the full object path of the characteristic on the given device.
func (c Characteristic) Path(h Handle) string {
	return h.ID() + c.Suffix
}

// Session is a connection to a local Bluetooth adapter.
//
// A Session is driven from a single goroutine: discovery, connect and event
// polling never overlap.
type Session interface {
	// PowerOn ensures the adapter is powered.
	PowerOn(ctx context.Context) error
	// StartDiscovery starts an active scan.
	StartDiscovery(ctx context.Context) error
	// StopDiscovery stops a scan started by StartDiscovery.
	StopDiscovery(ctx context.Context) error
	// Devices returns every device the adapter currently knows about.
	Devices(ctx context.Context) ([]Handle, error)
	// Resolve builds a handle from a device identity token.
	Resolve(id string) (Handle, error)

	// Connect opens a link to the device, giving up after timeout.
	Connect(ctx context.Context, h Handle, timeout time.Duration) error
	// Disconnect drops the link to the device.
	Disconnect(ctx context.Context, h Handle) error
	// Subscribe enables value notifications on the characteristic.
	Subscribe(ctx context.Context, h Handle, c Characteristic) error
	// Write writes value to the characteristic.
	Write(ctx context.Context, h Handle, c Characteristic, value []byte) error

	// NextEvent blocks until an event is available, returning ErrTimeout when
	// none arrives within timeout.
	NextEvent(ctx context.Context, timeout time.Duration) (Event, error)

	Close() error
}
