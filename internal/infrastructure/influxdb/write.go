package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementDiscovery = "ble_discovery"
	measurementSelection = "ble_selection"
)

// RecordDiscovery writes one advertisement seen during a selection.
// accepted is false when the advertisement was a duplicate or failed the
// active filters.
//
// The peripheral ID is the radio's own identifier and is kept as a tag so
// signal strength can be charted per peripheral.
func (c *Client) RecordDiscovery(peripheralID string, rssi int, accepted bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(discoveryPoint(peripheralID, rssi, accepted, c.now()))
}

// RecordSelection writes the outcome of a finished selection: "granted"
// or "no_devices", the number of candidates, and how long the discovery
// window stayed open.
func (c *Client) RecordSelection(outcome string, candidates int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(selectionPoint(outcome, candidates, duration, c.now()))
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}

func discoveryPoint(peripheralID string, rssi int, accepted bool, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementDiscovery,
		map[string]string{
			"peripheral": peripheralID,
		},
		map[string]interface{}{
			"rssi":     rssi,
			"accepted": accepted,
		},
		ts,
	)
}

func selectionPoint(outcome string, candidates int, duration time.Duration, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementSelection,
		map[string]string{
			"outcome": outcome,
		},
		map[string]interface{}{
			"candidates":  candidates,
			"duration_ms": duration.Milliseconds(),
		},
		ts,
	)
}
