// Package goble implements transport.Session directly on an HCI socket using go-ble.
//
// Devices are exposed under BlueZ-shaped object paths so that value
// notifications can be routed the same way regardless of backend.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/groutine"
	"github.com/srg/mijiabridge/internal/transport"
)

// DefaultEventBuffer is the number of undelivered events kept before the oldest is dropped.
const DefaultEventBuffer = 1024

// peripheral is the subset of ble.Client the session drives.
type peripheral interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

type (
	scanFunc func(ctx context.Context, observe func(address, name string)) error
	dialFunc func(ctx context.Context, address string) (peripheral, error)
)

type link struct {
	client  peripheral
	profile *ble.Profile
	cancel  context.CancelFunc
}

// Session drives one HCI adapter.
type Session struct {
	adapter string
	logger  *logrus.Logger

	dev  ble.Device
	scan scanFunc
	dial dialFunc

	devices *hashmap.Map[string, transport.Handle] // by address
	links   *hashmap.Map[string, *link]            // by device id
	events  *transport.RingChannel[transport.Event]

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan error
}

// NewSession creates a session for the adapter (e.g. "hci0"). The HCI device
// is opened by PowerOn.
func NewSession(adapter string, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		adapter: adapter,
		logger:  logger,
		devices: hashmap.New[string, transport.Handle](),
		links:   hashmap.New[string, *link](),
		events:  transport.NewRingChannel[transport.Event](DefaultEventBuffer),
	}
}

func (s *Session) PowerOn(ctx context.Context) error {
	if s.scan != nil && s.dial != nil {
		return nil
	}

	dev, err := DeviceFactory(s.adapter)
	if err != nil {
		return fmt.Errorf("failed to open BLE device %s: %w", s.adapter, transport.NormalizeError(err))
	}
	s.dev = dev
	s.scan = func(ctx context.Context, observe func(address, name string)) error {
		return dev.Scan(ctx, false, func(adv ble.Advertisement) {
			observe(adv.Addr().String(), adv.LocalName())
		})
	}
	s.dial = func(ctx context.Context, address string) (peripheral, error) {
		client, err := dev.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil
}

func (s *Session) StartDiscovery(ctx context.Context) error {
	if s.scan == nil {
		return transport.ErrNotInitialized
	}

	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scanCancel != nil {
		return nil
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	s.scanCancel = cancel
	s.scanDone = done

	groutine.Go(scanCtx, "goble-scan", func(ctx context.Context) {
		done <- s.scan(ctx, s.observe)
	})
	return nil
}

func (s *Session) StopDiscovery(ctx context.Context) error {
	s.scanMu.Lock()
	cancel, done := s.scanCancel, s.scanDone
	s.scanCancel, s.scanDone = nil, nil
	s.scanMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scan on %s failed: %w", s.adapter, transport.NormalizeError(err))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) observe(address, name string) {
	address = strings.ToUpper(address)
	if prev, ok := s.devices.Get(address); ok && name == "" {
		name = prev.Name()
	}
	s.devices.Set(address, transport.NewHandle(transport.DevicePath(s.adapter, address), address, name))
}

func (s *Session) Devices(ctx context.Context) ([]transport.Handle, error) {
	handles := make([]transport.Handle, 0, s.devices.Len())
	s.devices.Range(func(_ string, h transport.Handle) bool {
		handles = append(handles, h)
		return true
	})
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID() < handles[j].ID() })
	return handles, nil
}

func (s *Session) Resolve(id string) (transport.Handle, error) {
	h, err := transport.HandleFromPath(id)
	if err != nil {
		return transport.Handle{}, err
	}
	if known, ok := s.devices.Get(h.Address()); ok {
		return known, nil
	}
	return h, nil
}

func (s *Session) Connect(ctx context.Context, h transport.Handle, timeout time.Duration) error {
	if s.dial == nil {
		return transport.ErrNotInitialized
	}
	if _, ok := s.links.Get(h.ID()); ok {
		return fmt.Errorf("connect to %s: %w", h.Address(), transport.ErrAlreadyConnected)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := s.dial(dialCtx, h.Address())
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("connect to %s: %w after %s", h.Address(), transport.ErrTimeout, timeout)
		}
		return fmt.Errorf("connect to %s: %w", h.Address(), transport.NormalizeError(err))
	}

	profile, err := s.discoverProfile(dialCtx, client)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			s.logger.WithFields(logrus.Fields{
				"address": h.Address(),
				"error":   cancelErr,
			}).Warn("Failed to cancel connection after profile discovery failure")
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("discover profile of %s: %w after %s", h.Address(), transport.ErrTimeout, timeout)
		}
		return fmt.Errorf("discover profile of %s: %w", h.Address(), transport.NormalizeError(err))
	}

	linkCtx, linkCancel := context.WithCancel(context.Background())
	s.links.Set(h.ID(), &link{client: client, profile: profile, cancel: linkCancel})
	s.events.Send(transport.ConnectionStateChange{Path: h.ID(), Connected: true})

	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(linkCtx, "goble-link-"+h.Address(), func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				s.links.Del(h.ID())
				s.events.Send(transport.ConnectionStateChange{Path: h.ID(), Connected: false})
			case <-ctx.Done():
			}
		})
	} else {
		s.logger.WithField("address", h.Address()).Debug("Client does not report disconnects")
	}
	return nil
}

// discoverProfile runs GATT discovery within the connect deadline. On expiry
// the discovery goroutine is left to finish once the link is cancelled.
func (s *Session) discoverProfile(ctx context.Context, client peripheral) (*ble.Profile, error) {
	type result struct {
		profile *ble.Profile
		err     error
	}
	done := make(chan result, 1)
	groutine.Go(ctx, "goble-discover", func(context.Context) {
		p, err := client.DiscoverProfile(true)
		done <- result{p, err}
	})

	select {
	case r := <-done:
		return r.profile, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) Disconnect(ctx context.Context, h transport.Handle) error {
	l, ok := s.links.Get(h.ID())
	if !ok {
		return fmt.Errorf("disconnect %s: %w", h.Address(), transport.ErrNotConnected)
	}
	if err := l.client.CancelConnection(); err != nil {
		return fmt.Errorf("disconnect %s: %w", h.Address(), transport.NormalizeError(err))
	}
	return nil
}

func (s *Session) characteristic(h transport.Handle, c transport.Characteristic) (*link, *ble.Characteristic, error) {
	l, ok := s.links.Get(h.ID())
	if !ok {
		return nil, nil, transport.ErrNotConnected
	}
	u, err := ble.Parse(c.UUID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid characteristic UUID %q: %w", c.UUID, err)
	}
	char := l.profile.FindCharacteristic(ble.NewCharacteristic(u))
	if char == nil {
		return nil, nil, &transport.NotFoundError{Resource: "characteristic", ID: c.UUID}
	}
	return l, char, nil
}

func (s *Session) Subscribe(ctx context.Context, h transport.Handle, c transport.Characteristic) error {
	l, char, err := s.characteristic(h, c)
	if err != nil {
		return fmt.Errorf("subscribe %s on %s: %w", c.UUID, h.Address(), err)
	}

	path := c.Path(h)
	err = l.client.Subscribe(char, false, func(data []byte) {
		value := make([]byte, len(data))
		copy(value, data)
		s.events.Send(transport.ValueNotification{Path: path, Value: value})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s on %s: %w", c.UUID, h.Address(), transport.NormalizeError(err))
	}
	return nil
}

func (s *Session) Write(ctx context.Context, h transport.Handle, c transport.Characteristic, value []byte) error {
	l, char, err := s.characteristic(h, c)
	if err != nil {
		return fmt.Errorf("write %s on %s: %w", c.UUID, h.Address(), err)
	}
	if err := l.client.WriteCharacteristic(char, value, false); err != nil {
		return fmt.Errorf("write %s on %s: %w", c.UUID, h.Address(), transport.NormalizeError(err))
	}
	return nil
}

func (s *Session) NextEvent(ctx context.Context, timeout time.Duration) (transport.Event, error) {
	return transport.Poll(ctx, s.events.C(), timeout)
}

func (s *Session) Close() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.StopDiscovery(stopCtx)

	s.links.Range(func(id string, l *link) bool {
		l.cancel()
		if cerr := l.client.CancelConnection(); cerr != nil {
			s.logger.WithFields(logrus.Fields{"path": id, "error": cerr}).Debug("Failed to cancel connection on close")
		}
		s.links.Del(id)
		return true
	})
	s.events.Close()

	if s.dev != nil {
		err = errors.Join(err, s.dev.Stop())
	}
	return err
}
