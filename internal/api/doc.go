// Package api implements the HTTP and WebSocket front of the relay.
//
// This package provides:
//   - The relay socket (default /ws, aliased at /socket) where devices and
//     web clients connect and exchange {"event", "data"} envelopes
//   - Read-only REST endpoints for health, metrics, online devices and the
//     audit trail
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// Each upgraded socket becomes a wsConn, the relay.Conn implementation.
// A read pump feeds frames to the broker in arrival order and a write pump
// drains a bounded send queue, so Send never blocks the broker. A client
// that cannot keep up with its queue is disconnected.
//
// # Graceful Degradation
//
// The audit store, MQTT and InfluxDB are optional. Endpoints that need a
// missing component answer 503; the socket keeps working regardless.
package api
