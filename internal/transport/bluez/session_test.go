package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/srg/mijiabridge/internal/transport"
	"github.com/stretchr/testify/assert"
)

func propertiesChangedSignal(path, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Sender: ":1.4",
		Path:   dbus.ObjectPath(path),
		Name:   propertiesChanged,
		Body:   []interface{}{iface, changed, []string{}},
	}
}

func TestClassify(t *testing.T) {
	const dev = "/org/bluez/hci0/dev_4C_65_A8_AA_BB_CC"

	t.Run("characteristic value", func(t *testing.T) {
		ev := Classify(propertiesChangedSignal(dev+"/service0021/char0035", gattCharIface, map[string]dbus.Variant{
			"Value": dbus.MakeVariant([]byte{0x1a, 0x08, 0x2d, 0x2c, 0x0b}),
		}))

		assert.Equal(t, transport.ValueNotification{
			Path:  dev + "/service0021/char0035",
			Value: []byte{0x1a, 0x08, 0x2d, 0x2c, 0x0b},
		}, ev)
	})

	t.Run("device disconnected", func(t *testing.T) {
		ev := Classify(propertiesChangedSignal(dev, deviceIface, map[string]dbus.Variant{
			"Connected":        dbus.MakeVariant(false),
			"ServicesResolved": dbus.MakeVariant(false),
		}))

		assert.Equal(t, transport.ConnectionStateChange{Path: dev, Connected: false}, ev)
	})

	t.Run("device connected", func(t *testing.T) {
		ev := Classify(propertiesChangedSignal(dev, deviceIface, map[string]dbus.Variant{
			"Connected": dbus.MakeVariant(true),
		}))

		assert.Equal(t, transport.ConnectionStateChange{Path: dev, Connected: true}, ev)
	})

	t.Run("unrelated device property", func(t *testing.T) {
		ev := Classify(propertiesChangedSignal(dev, deviceIface, map[string]dbus.Variant{
			"RSSI": dbus.MakeVariant(int16(-70)),
		}))

		assert.Equal(t, transport.OtherEvent{Path: dev, Kind: "PropertiesChanged " + deviceIface}, ev)
	})

	t.Run("other signal", func(t *testing.T) {
		ev := Classify(&dbus.Signal{
			Path: "/",
			Name: objectManager + ".InterfacesAdded",
			Body: []interface{}{dbus.ObjectPath(dev)},
		})

		assert.Equal(t, transport.OtherEvent{Path: "/", Kind: objectManager + ".InterfacesAdded"}, ev)
	})

	t.Run("malformed body", func(t *testing.T) {
		ev := Classify(&dbus.Signal{Path: dbus.ObjectPath(dev), Name: propertiesChanged})

		assert.IsType(t, transport.OtherEvent{}, ev)
	})
}

func TestDevicesFromObjects(t *testing.T) {
	objects := ManagedObjects{
		"/org/bluez/hci0": {
			adapterIface: {"Address": dbus.MakeVariant("00:1A:7D:DA:71:13")},
		},
		"/org/bluez/hci0/dev_A4_C1_38_00_00_02": {
			deviceIface: {
				"Address": dbus.MakeVariant("A4:C1:38:00:00:02"),
				"Name":    dbus.MakeVariant("LYWSD03MMC"),
			},
		},
		"/org/bluez/hci0/dev_A4_C1_38_00_00_01": {
			deviceIface: {
				"Address": dbus.MakeVariant("A4:C1:38:00:00:01"),
			},
		},
		"/org/bluez/hci0/dev_A4_C1_38_00_00_01/service0021": {
			"org.bluez.GattService1": {"UUID": dbus.MakeVariant("ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6")},
		},
		"/org/bluez/hci1/dev_11_22_33_44_55_66": {
			deviceIface: {"Address": dbus.MakeVariant("11:22:33:44:55:66")},
		},
	}

	handles := DevicesFromObjects("/org/bluez/hci0", objects)

	assert.Equal(t, []transport.Handle{
		transport.NewHandle("/org/bluez/hci0/dev_A4_C1_38_00_00_01", "A4:C1:38:00:00:01", ""),
		transport.NewHandle("/org/bluez/hci0/dev_A4_C1_38_00_00_02", "A4:C1:38:00:00:02", "LYWSD03MMC"),
	}, handles)
}
