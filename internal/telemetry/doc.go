// Package telemetry turns relay activity into outside signals.
//
// Each type here is a relay.Observer:
//
//   - PresenceMirror publishes device presence and activity to MQTT
//   - Metrics writes activity points and connection gauges to InfluxDB
//   - Counters keeps in-process totals for the /api/v1/metrics endpoint
//
// Observers are called on connection goroutines, so anything that touches
// the network goes through a bounded queue and a Run loop.
package telemetry
