package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by medtwin.
const (
	MeasurementEnvironment = "dispenser_environment"
	MeasurementDoor        = "dispenser_door"
	MeasurementEmergency   = "dispenser_emergency"
)

// WriteReading records one temperature or humidity sample.
func (c *Client) WriteReading(deviceID, kind string, value float64, unit string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(deviceID, kind, value, unit, ts))
}

// WriteDoorEvent records a door transition and its schedule classification.
func (c *Client) WriteDoorEvent(deviceID, state string, regular bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(doorPoint(deviceID, state, regular, ts))
}

// WriteEmergency records an emergency button press.
func (c *Client) WriteEmergency(deviceID string, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementEmergency,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"pressed": 1},
		ts,
	))
}

func readingPoint(deviceID, kind string, value float64, unit string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEnvironment,
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
			"unit":      unit,
		},
		map[string]interface{}{"value": value},
		ts,
	)
}

func doorPoint(deviceID, state string, regular bool, ts time.Time) *write.Point {
	open := 0
	if state == "open" {
		open = 1
	}
	return write.NewPoint(
		MeasurementDoor,
		map[string]string{
			"device_id": deviceID,
			"state":     state,
		},
		map[string]interface{}{
			"open":    open,
			"regular": regular,
		},
		ts,
	)
}
