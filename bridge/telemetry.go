package bridge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/srg/mijiabridge/internal/homie"
	"github.com/srg/mijiabridge/internal/sensor"
)

// Node property ids.
const (
	PropertyTemperature = "temperature"
	PropertyHumidity    = "humidity"
	PropertyBattery     = "battery"
)

// SensorNode describes the registry node of a connected sensor.
func SensorNode(id NodeIdentity, nodeType string) homie.Node {
	return homie.Node{
		ID:   id.NodeID,
		Name: id.DisplayName,
		Type: nodeType,
		Properties: []homie.Property{
			{ID: PropertyTemperature, Name: "Temperature", Datatype: homie.Float, Unit: "ºC"},
			{ID: PropertyHumidity, Name: "Humidity", Datatype: homie.Integer, Unit: "%"},
			{ID: PropertyBattery, Name: "Battery level", Datatype: homie.Integer, Unit: "%"},
		},
	}
}

// publishReading publishes temperature, humidity and battery, in that order.
// The first failure is returned without trying the remaining values.
func publishReading(ctx context.Context, registry Registry, nodeID string, r sensor.Reading) error {
	values := []struct{ property, value string }{
		{PropertyTemperature, fmt.Sprintf("%.2f", r.Temperature)},
		{PropertyHumidity, strconv.Itoa(r.Humidity)},
		{PropertyBattery, strconv.Itoa(r.BatteryPercent)},
	}
	for _, v := range values {
		if err := registry.PublishValue(ctx, nodeID, v.property, v.value); err != nil {
			return fmt.Errorf("failed to publish %s of %s: %w", v.property, nodeID, err)
		}
	}
	return nil
}
