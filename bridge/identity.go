package bridge

import (
	"strings"

	"github.com/srg/mijiabridge/pkg/config"
)

var addressSeparators = strings.NewReplacer(":", "", "-", "")

// NodeIdentity is the registry-side identity of a sensor.
type NodeIdentity struct {
	NodeID      string
	DisplayName string
}

// NodeID derives a registry node id from a hardware address by dropping separators.
func NodeID(address string) string {
	return addressSeparators.Replace(address)
}

// Identify derives the identity of the sensor at address. The display name
// falls back to the address when the sensor has no configured name.
func Identify(address string, names *config.SensorNames) NodeIdentity {
	id := NodeIdentity{NodeID: NodeID(address), DisplayName: address}
	if names != nil {
		if name, ok := names.Lookup(address); ok {
			id.DisplayName = name
		}
	}
	return id
}
