package transport

import (
	"fmt"
	"path"
	"strings"
)

const (
	// BluezRoot is the object path prefix of BlueZ adapters.
	BluezRoot = "/org/bluez"

	devicePrefix = "dev_"
)

// DevicePath returns the BlueZ object path of the device with the given
// address on the given adapter, e.g. /org/bluez/hci0/dev_4C_65_A8_AA_BB_CC.
func DevicePath(adapter, address string) string {
	return BluezRoot + "/" + adapter + "/" + devicePrefix + strings.ReplaceAll(strings.ToUpper(address), ":", "_")
}

// AddressFromDevicePath recovers the hardware address from a device object path.
func AddressFromDevicePath(p string) (string, error) {
	if !strings.HasPrefix(p, BluezRoot+"/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	base := path.Base(p)
	if !strings.HasPrefix(base, devicePrefix) || path.Dir(path.Dir(p)) != BluezRoot {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	parts := strings.Split(strings.TrimPrefix(base, devicePrefix), "_")
	if len(parts) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, part := range parts {
		if len(part) != 2 {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return strings.Join(parts, ":"), nil
}

// HandleFromPath builds a handle from a device object path.
func HandleFromPath(p string) (Handle, error) {
	addr, err := AddressFromDevicePath(p)
	if err != nil {
		return Handle{}, err
	}
	return NewHandle(p, addr, ""), nil
}
