package testutils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/mijiabridge/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSessionConnectScript(t *testing.T) {
	ctx := context.Background()
	h := Handle("4C:65:A8:AA:BB:CC")
	errFirst := errors.New("first")
	s := NewFakeSession(h)
	s.FailConnect(h.Address(), errFirst, nil)
	s.FailConnectAlways(h.Address(), transport.ErrTimeout)

	assert.ErrorIs(t, s.Connect(ctx, h, time.Second), errFirst)
	assert.NoError(t, s.Connect(ctx, h, time.Second))
	assert.True(t, s.Linked(h))
	assert.ErrorIs(t, s.Connect(ctx, h, time.Second), transport.ErrTimeout)

	assert.Equal(t, []string{h.Address(), h.Address(), h.Address()}, s.CallsOf("connect"))
}

func TestFakeSessionEvents(t *testing.T) {
	ctx := context.Background()
	h := Handle("4C:65:A8:AA:BB:CC")
	s := NewFakeSession()
	c := transport.Characteristic{Suffix: "/service0021/char0035"}

	s.EmitValue(h, c, []byte{1})
	s.EmitDisconnect(h)

	ev, err := s.NextEvent(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, transport.ValueNotification{Path: h.ID() + c.Suffix, Value: []byte{1}}, ev)

	ev, err = s.NextEvent(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, transport.ConnectionStateChange{Path: h.ID()}, ev)

	_, err = s.NextEvent(ctx, time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.NextEvent(ctx, time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrSessionClosed)
}

func TestFakeSessionResolve(t *testing.T) {
	named := NamedHandle("4C:65:A8:AA:BB:CC", "LYWSD03MMC")
	s := NewFakeSession(named)

	h, err := s.Resolve(named.ID())
	require.NoError(t, err)
	assert.Equal(t, named, h)

	h, err = s.Resolve("/org/bluez/hci0/dev_A4_C1_38_00_00_01")
	require.NoError(t, err)
	assert.Equal(t, "A4:C1:38:00:00:01", h.Address())

	_, err = s.Resolve("/org/bluez/hci0")
	assert.Error(t, err)
}
