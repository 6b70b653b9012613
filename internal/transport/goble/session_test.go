package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mijiabridge/internal/transport"
	"github.com/stretchr/testify/suite"
)

const (
	dataUUID     = "ebe0ccc1-7a0a-4b0c-8a1a-6ff2997da3a6"
	intervalUUID = "ebe0ccd8-7a0a-4b0c-8a1a-6ff2997da3a6"
)

var dataChar = transport.Characteristic{Suffix: "/service0021/char0035", UUID: dataUUID}

type fakePeripheral struct {
	mu           sync.Mutex
	profile      *ble.Profile
	profileErr   error
	discovering  chan struct{}
	handler      ble.NotificationHandler
	written      [][]byte
	cancelled    int
	disconnected chan struct{}
}

func newFakePeripheral() *fakePeripheral {
	svc := ble.NewService(ble.MustParse("ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6"))
	svc.AddCharacteristic(ble.NewCharacteristic(ble.MustParse(dataUUID)))
	svc.AddCharacteristic(ble.NewCharacteristic(ble.MustParse(intervalUUID)))
	return &fakePeripheral{
		profile:      &ble.Profile{Services: []*ble.Service{svc}},
		disconnected: make(chan struct{}),
	}
}

func (p *fakePeripheral) DiscoverProfile(bool) (*ble.Profile, error) {
	if p.discovering != nil {
		<-p.discovering
	}
	return p.profile, p.profileErr
}

func (p *fakePeripheral) Subscribe(_ *ble.Characteristic, _ bool, h ble.NotificationHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
	return nil
}

func (p *fakePeripheral) WriteCharacteristic(_ *ble.Characteristic, value []byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, value)
	return nil
}

func (p *fakePeripheral) CancelConnection() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled++
	return nil
}

func (p *fakePeripheral) Disconnected() <-chan struct{} { return p.disconnected }

func (p *fakePeripheral) notify(data []byte) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	h(data)
}

type SessionTestSuite struct {
	suite.Suite

	session     *Session
	peripherals map[string]*fakePeripheral
	dialErr     error
	scanned     [][2]string
}

func (s *SessionTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	s.peripherals = map[string]*fakePeripheral{}
	s.dialErr = nil
	s.scanned = nil

	s.session = NewSession("hci0", logger)
	s.session.scan = func(ctx context.Context, observe func(address, name string)) error {
		for _, adv := range s.scanned {
			observe(adv[0], adv[1])
		}
		<-ctx.Done()
		return ctx.Err()
	}
	s.session.dial = func(ctx context.Context, address string) (peripheral, error) {
		if s.dialErr != nil {
			return nil, s.dialErr
		}
		p, ok := s.peripherals[address]
		if !ok {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return p, nil
	}
}

func (s *SessionTestSuite) TearDownTest() {
	s.Require().NoError(s.session.Close())
}

func (s *SessionTestSuite) nextEvent() transport.Event {
	ev, err := s.session.NextEvent(context.Background(), time.Second)
	s.Require().NoError(err)
	return ev
}

func (s *SessionTestSuite) TestDiscovery() {
	s.scanned = [][2]string{
		{"a4:c1:38:00:00:02", "LYWSD03MMC"},
		{"a4:c1:38:00:00:01", ""},
		{"a4:c1:38:00:00:02", ""},
	}
	ctx := context.Background()

	s.Require().NoError(s.session.PowerOn(ctx))
	s.Require().NoError(s.session.StartDiscovery(ctx))
	s.Eventually(func() bool { return s.session.devices.Len() == 2 }, time.Second, 5*time.Millisecond)
	s.Require().NoError(s.session.StopDiscovery(ctx))

	devices, err := s.session.Devices(ctx)
	s.Require().NoError(err)
	s.Equal([]transport.Handle{
		transport.NewHandle("/org/bluez/hci0/dev_A4_C1_38_00_00_01", "A4:C1:38:00:00:01", ""),
		transport.NewHandle("/org/bluez/hci0/dev_A4_C1_38_00_00_02", "A4:C1:38:00:00:02", "LYWSD03MMC"),
	}, devices, "names MUST survive later advertisements without a local name")
}

func (s *SessionTestSuite) TestStartDiscoveryRequiresPowerOn() {
	s.session.scan = nil
	s.ErrorIs(s.session.StartDiscovery(context.Background()), transport.ErrNotInitialized)
}

func (s *SessionTestSuite) TestConnect() {
	h := transport.NewHandle(transport.DevicePath("hci0", "A4:C1:38:00:00:01"), "A4:C1:38:00:00:01", "")
	ctx := context.Background()

	s.Run("timeout", func() {
		err := s.session.Connect(ctx, h, 20*time.Millisecond)
		s.ErrorIs(err, transport.ErrTimeout)
	})

	s.Run("dial failure is normalized", func() {
		s.dialErr = errors.New("device already connected")
		defer func() { s.dialErr = nil }()

		err := s.session.Connect(ctx, h, time.Second)
		s.ErrorIs(err, transport.ErrAlreadyConnected)
	})

	s.Run("profile failure cancels the link", func() {
		p := newFakePeripheral()
		p.profileErr = errors.New("att: read failed")
		s.peripherals[h.Address()] = p
		defer delete(s.peripherals, h.Address())

		s.Error(s.session.Connect(ctx, h, time.Second))
		s.Equal(1, p.cancelled)
		_, linked := s.session.links.Get(h.ID())
		s.False(linked)
	})

	s.Run("stalled profile discovery times out", func() {
		p := newFakePeripheral()
		p.discovering = make(chan struct{})
		defer close(p.discovering)
		s.peripherals[h.Address()] = p
		defer delete(s.peripherals, h.Address())

		start := time.Now()
		err := s.session.Connect(ctx, h, 30*time.Millisecond)

		s.ErrorIs(err, transport.ErrTimeout)
		s.Less(time.Since(start), time.Second)
		p.mu.Lock()
		s.Equal(1, p.cancelled)
		p.mu.Unlock()
		_, linked := s.session.links.Get(h.ID())
		s.False(linked)
	})

	s.Run("success then disconnect", func() {
		p := newFakePeripheral()
		s.peripherals[h.Address()] = p

		s.Require().NoError(s.session.Connect(ctx, h, time.Second))
		s.Equal(transport.ConnectionStateChange{Path: h.ID(), Connected: true}, s.nextEvent())
		s.ErrorIs(s.session.Connect(ctx, h, time.Second), transport.ErrAlreadyConnected)

		close(p.disconnected)
		s.Equal(transport.ConnectionStateChange{Path: h.ID(), Connected: false}, s.nextEvent())
		s.Eventually(func() bool {
			_, linked := s.session.links.Get(h.ID())
			return !linked
		}, time.Second, 5*time.Millisecond)
	})
}

func (s *SessionTestSuite) TestNotificationsAndWrites() {
	h := transport.NewHandle(transport.DevicePath("hci0", "A4:C1:38:00:00:01"), "A4:C1:38:00:00:01", "")
	ctx := context.Background()
	p := newFakePeripheral()
	s.peripherals[h.Address()] = p

	s.Require().ErrorIs(s.session.Subscribe(ctx, h, dataChar), transport.ErrNotConnected)

	s.Require().NoError(s.session.Connect(ctx, h, time.Second))
	s.nextEvent()

	s.Require().NoError(s.session.Subscribe(ctx, h, dataChar))
	payload := []byte{0x1a, 0x08, 0x2d, 0x2c, 0x0b}
	p.notify(payload)
	payload[0] = 0xff

	s.Equal(transport.ValueNotification{
		Path:  "/org/bluez/hci0/dev_A4_C1_38_00_00_01/service0021/char0035",
		Value: []byte{0x1a, 0x08, 0x2d, 0x2c, 0x0b},
	}, s.nextEvent(), "payload MUST be copied out of the backend buffer")

	interval := transport.Characteristic{Suffix: "/service0021/char0045", UUID: intervalUUID}
	s.Require().NoError(s.session.Write(ctx, h, interval, []byte{0xf4, 0x01}))
	s.Equal([][]byte{{0xf4, 0x01}}, p.written)

	var nf *transport.NotFoundError
	s.ErrorAs(s.session.Write(ctx, h, transport.Characteristic{UUID: "2a19"}, []byte{1}), &nf)

	_, err := s.session.NextEvent(ctx, 10*time.Millisecond)
	s.ErrorIs(err, transport.ErrTimeout)
}

func (s *SessionTestSuite) TestResolve() {
	s.session.observe("a4:c1:38:00:00:02", "LYWSD03MMC")

	h, err := s.session.Resolve("/org/bluez/hci0/dev_A4_C1_38_00_00_02")
	s.Require().NoError(err)
	s.Equal("LYWSD03MMC", h.Name())

	h, err = s.session.Resolve("/org/bluez/hci0/dev_A4_C1_38_00_00_03")
	s.Require().NoError(err)
	s.Equal("A4:C1:38:00:00:03", h.Address())

	_, err = s.session.Resolve("/org/bluez/hci0")
	s.ErrorIs(err, transport.ErrInvalidPath)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
