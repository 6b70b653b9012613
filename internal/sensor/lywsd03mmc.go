package sensor

import (
	"encoding/binary"

	"github.com/srg/mijiabridge/internal/transport"
)

const (
	// LYWSD03MMCModel is the name advertised by Xiaomi Mijia LYWSD03MMC thermometers.
	LYWSD03MMCModel = "LYWSD03MMC"

	lywsd03mmcPayloadLen   = 5
	batteryEmptyMillivolts = 2100
)

var (
	// LYWSD03MMCData notifies temperature, humidity and battery voltage.
	LYWSD03MMCData = transport.Characteristic{
		Suffix: "/service0021/char0035",
		UUID:   "ebe0ccc1-7a0a-4b0c-8a1a-6ff2997da3a6",
	}

	// LYWSD03MMCConnectionInterval takes the connection interval in milliseconds, uint16 LE.
	LYWSD03MMCConnectionInterval = transport.Characteristic{
		Suffix: "/service0021/char0045",
		UUID:   "ebe0ccd8-7a0a-4b0c-8a1a-6ff2997da3a6",
	}
)

// LYWSD03MMC is the profile of the Xiaomi Mijia Bluetooth thermometer 2.
var LYWSD03MMC = Profile{
	Model:    LYWSD03MMCModel,
	NodeType: "Mijia sensor",
	Data:     LYWSD03MMCData,
	Setup: []Write{
		// 500 ms; the sensor's default drains the coin cell quickly.
		{Characteristic: LYWSD03MMCConnectionInterval, Value: []byte{0xf4, 0x01}},
	},
	Decode: DecodeLYWSD03MMC,
}

// DecodeLYWSD03MMC decodes a 5 byte LYWSD03MMC notification:
// int16 LE temperature in hundredths of a degree, uint8 humidity,
// uint16 LE battery voltage in millivolts.
func DecodeLYWSD03MMC(payload []byte) (Reading, bool) {
	if len(payload) != lywsd03mmcPayloadLen {
		return Reading{}, false
	}

	temperature := float64(int16(binary.LittleEndian.Uint16(payload[0:2]))) * 0.01
	humidity := int(payload[2])
	millivolts := int(binary.LittleEndian.Uint16(payload[3:5]))

	return Reading{
		Temperature:    temperature,
		Humidity:       humidity,
		BatteryPercent: batteryPercent(millivolts),
	}, true
}

// batteryPercent maps 2.1 V to 0% and every further 10 mV to one percent.
func batteryPercent(millivolts int) int {
	return min((max(millivolts, batteryEmptyMillivolts)-batteryEmptyMillivolts)/10, 100)
}
