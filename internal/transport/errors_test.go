package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{"not connected", errors.New("org.bluez.Error.NotConnected: Not Connected"), ErrNotConnected},
		{"already connected", errors.New("Device already connected"), ErrAlreadyConnected},
		{"not ready", errors.New("org.bluez.Error.NotReady: Resource Not Ready"), ErrNotInitialized},
		{"timeout", errors.New("org.bluez.Error.Failed: Operation timed out"), ErrTimeout},
		{"deadline", errors.New("context deadline exceeded"), ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.input.Error())
		})
	}

	t.Run("passes unknown errors through", func(t *testing.T) {
		orig := errors.New("le-connection-abort-by-local")
		assert.Same(t, orig, NormalizeError(orig))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})
}

func TestIsConnectionState(t *testing.T) {
	err := NormalizeError(errors.New("not connected"))
	assert.True(t, IsConnectionState(err, NotConnected))
	assert.False(t, IsConnectionState(err, AlreadyConnected))
	assert.False(t, IsConnectionState(errors.New("boom"), NotConnected))
}
