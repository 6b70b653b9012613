package main

import (
	"errors"
	"io/fs"

	"github.com/srg/mijiabridge/internal/homie"
	"github.com/srg/mijiabridge/internal/transport"
)

// FormatUserError turns well known failures into actionable messages.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return err.Error() + " (create it with one \"address = name\" line per sensor, or point --sensor-names at it)"
	case errors.Is(err, transport.ErrNotInitialized):
		return err.Error() + " (is the Bluetooth adapter present and is bluetoothd running?)"
	case errors.Is(err, homie.ErrConnectionLost), errors.Is(err, homie.ErrQueueFull):
		return err.Error() + " (check the broker address and credentials)"
	default:
		return err.Error()
	}
}
