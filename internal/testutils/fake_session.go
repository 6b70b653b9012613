package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/srg/mijiabridge/internal/transport"
)

// FakeSession is a scriptable transport.Session.
//
// Connect, Subscribe and Write outcomes are scripted per device address; events
// are queued with Emit and handed out by NextEvent in order.
type FakeSession struct {
	mu sync.Mutex

	known   []transport.Handle
	calls   []string
	linked  map[string]bool
	connect map[string][]error

	connectAlways map[string]error

	PowerOnErr        error
	StartDiscoveryErr error
	StopDiscoveryErr  error
	DevicesErr        error
	NextEventErr      error
	SubscribeErr      map[string]error
	WriteErr          map[string]error
	DisconnectErr     error

	// OnConnect runs before the scripted connect outcome is returned.
	OnConnect func(h transport.Handle)

	events chan transport.Event
	closed bool
}

// NewFakeSession creates a session that reports the given devices once discovery ran.
func NewFakeSession(known ...transport.Handle) *FakeSession {
	return &FakeSession{
		known:         known,
		linked:        make(map[string]bool),
		connect:       make(map[string][]error),
		connectAlways: make(map[string]error),
		SubscribeErr:  make(map[string]error),
		WriteErr:      make(map[string]error),
		events:        make(chan transport.Event, 1024),
	}
}

// Handle builds a BlueZ-shaped handle on hci0 for address.
func Handle(address string) transport.Handle {
	return transport.NewHandle(transport.DevicePath("hci0", address), address, "")
}

// NamedHandle is Handle with an advertised name.
func NamedHandle(address, name string) transport.Handle {
	return transport.NewHandle(transport.DevicePath("hci0", address), address, name)
}

// FailConnect scripts the outcome of successive connects to address.
// Once the script is exhausted connects succeed.
func (f *FakeSession) FailConnect(address string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connect[address] = append(f.connect[address], errs...)
}

// FailConnectAlways makes every connect to address fail with err once the
// script for address is exhausted.
func (f *FakeSession) FailConnectAlways(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectAlways[address] = err
}

// Emit queues an event for NextEvent.
func (f *FakeSession) Emit(events ...transport.Event) {
	for _, ev := range events {
		f.events <- ev
	}
}

// EmitValue queues a value notification on characteristic c of h.
func (f *FakeSession) EmitValue(h transport.Handle, c transport.Characteristic, payload []byte) {
	f.Emit(transport.ValueNotification{Path: c.Path(h), Value: payload})
}

// EmitDisconnect queues a disconnect of h and marks its link down.
func (f *FakeSession) EmitDisconnect(h transport.Handle) {
	f.mu.Lock()
	delete(f.linked, h.ID())
	f.mu.Unlock()
	f.Emit(transport.ConnectionStateChange{Path: h.ID(), Connected: false})
}

// Calls returns the recorded session calls, e.g. "connect 4C:65:A8:AA:BB:CC".
func (f *FakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsOf returns the recorded calls with the given verb, as addresses.
func (f *FakeSession) CallsOf(verb string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		var v, arg string
		if _, err := fmt.Sscan(c, &v, &arg); err == nil && v == verb {
			out = append(out, arg)
		}
	}
	return out
}

// Linked reports whether the fake believes h is connected.
func (f *FakeSession) Linked(h transport.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linked[h.ID()]
}

func (f *FakeSession) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *FakeSession) PowerOn(context.Context) error {
	f.record("power-on")
	return f.PowerOnErr
}

func (f *FakeSession) StartDiscovery(context.Context) error {
	f.record("start-discovery")
	return f.StartDiscoveryErr
}

func (f *FakeSession) StopDiscovery(context.Context) error {
	f.record("stop-discovery")
	return f.StopDiscoveryErr
}

func (f *FakeSession) Devices(context.Context) ([]transport.Handle, error) {
	f.record("devices")
	if f.DevicesErr != nil {
		return nil, f.DevicesErr
	}
	return append([]transport.Handle(nil), f.known...), nil
}

func (f *FakeSession) Resolve(id string) (transport.Handle, error) {
	for _, h := range f.known {
		if h.ID() == id {
			return h, nil
		}
	}
	return transport.HandleFromPath(id)
}

func (f *FakeSession) Connect(ctx context.Context, h transport.Handle, _ time.Duration) error {
	f.record("connect %s", h.Address())
	if f.OnConnect != nil {
		f.OnConnect(h)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if script := f.connect[h.Address()]; len(script) > 0 {
		f.connect[h.Address()] = script[1:]
		if script[0] != nil {
			return script[0]
		}
	} else if err := f.connectAlways[h.Address()]; err != nil {
		return err
	}
	f.linked[h.ID()] = true
	return nil
}

func (f *FakeSession) Disconnect(_ context.Context, h transport.Handle) error {
	f.record("disconnect %s", h.Address())
	f.mu.Lock()
	delete(f.linked, h.ID())
	f.mu.Unlock()
	return f.DisconnectErr
}

func (f *FakeSession) Subscribe(_ context.Context, h transport.Handle, c transport.Characteristic) error {
	f.record("subscribe %s %s", h.Address(), c.Suffix)
	return f.SubscribeErr[h.Address()]
}

func (f *FakeSession) Write(_ context.Context, h transport.Handle, c transport.Characteristic, value []byte) error {
	f.record("write %s %s %x", h.Address(), c.Suffix, value)
	return f.WriteErr[h.Address()]
}

func (f *FakeSession) NextEvent(ctx context.Context, timeout time.Duration) (transport.Event, error) {
	if f.NextEventErr != nil {
		return nil, f.NextEventErr
	}
	return transport.Poll(ctx, f.events, timeout)
}

func (f *FakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

var _ transport.Session = (*FakeSession)(nil)
