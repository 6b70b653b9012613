// Package bluez implements transport.Session on top of the BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/groutine"
	"github.com/srg/mijiabridge/internal/transport"
)

const (
	bluezBus          = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	gattCharIface     = "org.bluez.GattCharacteristic1"
	propertiesIface   = "org.freedesktop.DBus.Properties"
	objectManagerPath = "/"
	objectManager     = "org.freedesktop.DBus.ObjectManager"

	propertiesChanged = propertiesIface + ".PropertiesChanged"

	// DefaultEventBuffer is the number of undelivered events kept before the oldest is dropped.
	DefaultEventBuffer = 1024

	servicesResolvedPoll = 100 * time.Millisecond
)

// ManagedObjects is the reply shape of ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Session talks to one BlueZ adapter over the system bus.
type Session struct {
	conn        *dbus.Conn
	adapter     string
	adapterPath dbus.ObjectPath
	signals     chan *dbus.Signal
	events      *transport.RingChannel[transport.Event]
	cancel      context.CancelFunc
	logger      *logrus.Logger
}

// NewSession connects to the system bus and starts listening for BlueZ signals
// on the given adapter (e.g. "hci0").
func NewSession(adapter string, logger *logrus.Logger) (*Session, error) {
	if logger == nil {
		logger = logrus.New()
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(bluezBus),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to subscribe to BlueZ signals: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:        conn,
		adapter:     adapter,
		adapterPath: dbus.ObjectPath(transport.BluezRoot + "/" + adapter),
		signals:     make(chan *dbus.Signal, 64),
		events:      transport.NewRingChannel[transport.Event](DefaultEventBuffer),
		cancel:      cancel,
		logger:      logger,
	}
	conn.Signal(s.signals)

	groutine.Go(ctx, "bluez-signals", s.forwardSignals)

	return s, nil
}

func (s *Session) forwardSignals(ctx context.Context) {
	defer s.events.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			ev := Classify(sig)
			if s.events.Send(ev) {
				s.logger.WithField("path", ev.Source()).Warn("Event buffer full, dropped oldest event")
			}
		}
	}
}

func (s *Session) PowerOn(ctx context.Context) error {
	err := s.conn.Object(bluezBus, s.adapterPath).
		CallWithContext(ctx, propertiesIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true)).Err
	if err != nil {
		return fmt.Errorf("failed to power on adapter %s: %w", s.adapter, err)
	}
	return nil
}

func (s *Session) StartDiscovery(ctx context.Context) error {
	if err := s.adapterCall(ctx, "StartDiscovery"); err != nil {
		return fmt.Errorf("failed to start discovery on %s: %w", s.adapter, err)
	}
	return nil
}

func (s *Session) StopDiscovery(ctx context.Context) error {
	if err := s.adapterCall(ctx, "StopDiscovery"); err != nil {
		return fmt.Errorf("failed to stop discovery on %s: %w", s.adapter, err)
	}
	return nil
}

func (s *Session) adapterCall(ctx context.Context, method string) error {
	return s.conn.Object(bluezBus, s.adapterPath).CallWithContext(ctx, adapterIface+"."+method, 0).Err
}

func (s *Session) Devices(ctx context.Context) ([]transport.Handle, error) {
	var objects ManagedObjects
	err := s.conn.Object(bluezBus, objectManagerPath).
		CallWithContext(ctx, objectManager+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("failed to list BlueZ objects: %w", err)
	}
	return DevicesFromObjects(s.adapterPath, objects), nil
}

func (s *Session) Resolve(id string) (transport.Handle, error) {
	return transport.HandleFromPath(id)
}

func (s *Session) Connect(ctx context.Context, h transport.Handle, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := dbus.ObjectPath(h.ID())
	if err := s.conn.Object(bluezBus, path).CallWithContext(cctx, deviceIface+".Connect", 0).Err; err != nil {
		return connectError(cctx, h, timeout, err)
	}

	ticker := time.NewTicker(servicesResolvedPoll)
	defer ticker.Stop()
	for {
		v, err := s.property(cctx, path, deviceIface, "ServicesResolved")
		if err != nil {
			return connectError(cctx, h, timeout, err)
		}
		if resolved, _ := v.Value().(bool); resolved {
			return nil
		}
		select {
		case <-cctx.Done():
			return connectError(cctx, h, timeout, cctx.Err())
		case <-ticker.C:
		}
	}
}

func connectError(ctx context.Context, h transport.Handle, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("connect to %s: %w after %s", h.Address(), transport.ErrTimeout, timeout)
	}
	return fmt.Errorf("connect to %s: %w", h.Address(), transport.NormalizeError(err))
}

func (s *Session) Disconnect(ctx context.Context, h transport.Handle) error {
	err := s.conn.Object(bluezBus, dbus.ObjectPath(h.ID())).CallWithContext(ctx, deviceIface+".Disconnect", 0).Err
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", h.Address(), transport.NormalizeError(err))
	}
	return nil
}

func (s *Session) Subscribe(ctx context.Context, h transport.Handle, c transport.Characteristic) error {
	path := dbus.ObjectPath(c.Path(h))
	if err := s.conn.Object(bluezBus, path).CallWithContext(ctx, gattCharIface+".StartNotify", 0).Err; err != nil {
		return fmt.Errorf("start notify on %s: %w", path, characteristicError(path, err))
	}
	return nil
}

func (s *Session) Write(ctx context.Context, h transport.Handle, c transport.Characteristic, value []byte) error {
	path := dbus.ObjectPath(c.Path(h))
	err := s.conn.Object(bluezBus, path).
		CallWithContext(ctx, gattCharIface+".WriteValue", 0, value, map[string]dbus.Variant{}).Err
	if err != nil {
		return fmt.Errorf("write %s: %w", path, characteristicError(path, err))
	}
	return nil
}

func characteristicError(path dbus.ObjectPath, err error) error {
	if strings.HasSuffix(errorName(err), "UnknownObject") {
		return &transport.NotFoundError{Resource: "characteristic", ID: string(path)}
	}
	return transport.NormalizeError(err)
}

func errorName(err error) string {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return pderr.Name
	}
	return ""
}

func (s *Session) NextEvent(ctx context.Context, timeout time.Duration) (transport.Event, error) {
	return transport.Poll(ctx, s.events.C(), timeout)
}

func (s *Session) property(ctx context.Context, path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := s.conn.Object(bluezBus, path).CallWithContext(ctx, propertiesIface+".Get", 0, iface, name).Store(&v)
	return v, err
}

func (s *Session) Close() error {
	s.cancel()
	s.conn.RemoveSignal(s.signals)
	return s.conn.Close()
}

// DevicesFromObjects extracts the devices that belong to the adapter from a
// GetManagedObjects reply, ordered by object path.
func DevicesFromObjects(adapterPath dbus.ObjectPath, objects ManagedObjects) []transport.Handle {
	prefix := string(adapterPath) + "/"

	var handles []transport.Handle
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		address, _ := props["Address"].Value().(string)
		if address == "" {
			continue
		}
		name, _ := props["Name"].Value().(string)
		handles = append(handles, transport.NewHandle(string(path), address, name))
	}

	sort.Slice(handles, func(i, j int) bool { return handles[i].ID() < handles[j].ID() })
	return handles
}

// Classify converts a D-Bus signal into a transport event.
func Classify(sig *dbus.Signal) transport.Event {
	path := string(sig.Path)
	if sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return transport.OtherEvent{Path: path, Kind: sig.Name}
	}

	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)

	switch iface {
	case gattCharIface:
		if v, ok := changed["Value"]; ok {
			if value, ok := v.Value().([]byte); ok {
				return transport.ValueNotification{Path: path, Value: value}
			}
		}
	case deviceIface:
		if v, ok := changed["Connected"]; ok {
			if connected, ok := v.Value().(bool); ok {
				return transport.ConnectionStateChange{Path: path, Connected: connected}
			}
		}
	}
	return transport.OtherEvent{Path: path, Kind: "PropertiesChanged " + iface}
}
