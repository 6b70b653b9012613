package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory opens the HCI device for an adapter name such as "hci0" (can be overridden in tests).
var DeviceFactory = func(adapter string) (ble.Device, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
	if err != nil {
		return nil, fmt.Errorf("invalid adapter name %q", adapter)
	}
	dev, err := linux.NewDevice(ble.OptDeviceID(id))
	if err != nil {
		return nil, err
	}
	return dev, nil
}
