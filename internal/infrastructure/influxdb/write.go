package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementActivity    = "relay_activity"
	MeasurementConnections = "relay_connections"
)

// ConnectionCounts is one sample of the relay's connection table.
type ConnectionCounts struct {
	Connections int
	Devices     int
	WebClients  int
	Anonymous   int
}

// WriteActivity records one relay lifecycle event.
//
// Tags stay low-cardinality: the event kind, the relay instance and whether
// the event concerned a device. Device IDs go in a field so they can be
// inspected without creating a series per device.
func (c *Client) WriteActivity(relayID, kind, deviceID string, at time.Time) {
	fields := map[string]any{"count": 1}
	if deviceID != "" {
		fields["device_id"] = deviceID
	}
	c.writePoint(MeasurementActivity, map[string]string{
		"relay_id": relayID,
		"kind":     kind,
	}, fields, at)
}

// WriteConnectionCounts records a gauge sample of the connection table.
func (c *Client) WriteConnectionCounts(relayID string, counts ConnectionCounts, at time.Time) {
	c.writePoint(MeasurementConnections, map[string]string{
		"relay_id": relayID,
	}, map[string]any{
		"connections": counts.Connections,
		"devices":     counts.Devices,
		"web_clients": counts.WebClients,
		"anonymous":   counts.Anonymous,
	}, at)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(measurement, tags, fields, time.Now())
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
