//go:build !linux && !darwin

package goble

import (
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/mijiabridge/internal/transport"
)

// DeviceFactory always fails on platforms without an HCI or CoreBluetooth backend.
var DeviceFactory = func(string) (ble.Device, error) {
	return nil, &transport.ConnectionError{State: transport.NotInitialized, Msg: "no BLE backend for " + runtime.GOOS}
}
