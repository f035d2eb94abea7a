// Package relay implements the connection registry and routing core of the
// Gray Logic Relay.
//
// The relay mediates between two classes of long-lived connections: devices,
// which register under a caller-chosen device ID and receive commands, and
// web clients, which discover online devices, send commands and receive the
// asynchronous results.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────┐
//	│                              Broker                               │
//	│                                                                   │
//	│  ┌──────────────┐  ┌──────────────┐  ┌──────────────┐             │
//	│  │   Session    │  │    Router    │  │   Presence   │             │
//	│  │ (session.go) │  │ (router.go)  │  │(presence.go) │             │
//	│  │ device/web   │  │ dispatch +   │  │ snapshot,    │             │
//	│  │ login        │  │ result relay │  │ broadcast    │             │
//	│  └──────┬───────┘  └──────┬───────┘  └──────┬───────┘             │
//	│         └─────────────────┼─────────────────┘                     │
//	│                           ▼                                       │
//	│                 ┌────────────────────┐                            │
//	│                 │      Registry      │  one mutex, four maps      │
//	│                 │   (registry.go)    │                            │
//	│                 └────────────────────┘                            │
//	└───────────────────────────────────────────────────────────────────┘
//
// # Invariants
//
//   - A connection is a device, a web client, or anonymous. Never both.
//   - The device map and its inverse always agree.
//   - Every identity refers to a registered connection.
//   - Unregister purges every mapping under the same lock used for routing,
//     so nothing is routed to or attributed to a departed connection.
//
// # Transport contract
//
// The transport owns the sockets. It calls Broker.Connect when a session
// opens, Broker.HandleRaw (or Handle) for every inbound frame in order, and
// Broker.Disconnect exactly once when the session ends, including when the
// relay itself closed it through Conn.Close. Conn.Send must not block.
//
// # Usage
//
//	broker := relay.NewBroker(relay.BrokerOptions{Logger: log})
//	broker.Connect(conn)
//	broker.HandleRaw(conn.ID(), frame)
//	broker.Disconnect(conn.ID())
package relay
