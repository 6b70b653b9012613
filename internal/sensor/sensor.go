// Package sensor describes the environmental sensors the bridge understands:
// how their telemetry is decoded and which characteristics carry it.
package sensor

import (
	"fmt"

	"github.com/srg/mijiabridge/internal/transport"
)

// Reading is one decoded telemetry sample.
type Reading struct {
	Temperature    float64 // degrees Celsius
	Humidity       int     // percent
	BatteryPercent int
}

func (r Reading) String() string {
	return fmt.Sprintf("Temperature: %.2fºC Humidity: %d%% Battery: %d%%", r.Temperature, r.Humidity, r.BatteryPercent)
}

// Decoder turns a notification payload into a Reading. It reports false for
// payloads it cannot decode. Decoders must be pure.
type Decoder func(payload []byte) (Reading, bool)

// Write is a characteristic write performed once after subscribing.
type Write struct {
	Characteristic transport.Characteristic
	Value          []byte
}

// Profile describes one sensor model.
type Profile struct {
	// Model is the advertised local name of the model.
	Model string
	// NodeType is the Homie node type published for the model.
	NodeType string
	// Data is the characteristic that notifies telemetry.
	Data transport.Characteristic
	// Setup holds writes applied after subscribing to Data, in order.
	Setup []Write
	// Decode decodes payloads received on Data.
	Decode Decoder
}

// IsModel reports whether the device advertises this profile's model name.
func (p Profile) IsModel(h transport.Handle) bool {
	return p.Model != "" && h.Name() == p.Model
}
