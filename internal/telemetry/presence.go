package telemetry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// Publisher is the MQTT surface the mirror needs. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the logging surface used by telemetry observers.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// PresenceMessage is the retained payload on {prefix}/presence/{deviceId}.
type PresenceMessage struct {
	DeviceID  string `json:"device_id"`
	Online    bool   `json:"online"`
	ConnID    string `json:"conn_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RelayID   string `json:"relay_id"`
	Timestamp int64  `json:"timestamp"`
}

// EventMessage is the payload on {prefix}/events/{kind}.
type EventMessage struct {
	Kind      string `json:"kind"`
	ConnID    string `json:"conn_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Command   string `json:"command,omitempty"`
	Target    string `json:"target,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RelayID   string `json:"relay_id"`
	Timestamp int64  `json:"timestamp"`
}

// PresenceOptions configures a PresenceMirror.
type PresenceOptions struct {
	RelayID string
	Topics  mqtt.Topics
	QoS     byte

	// Events also publishes every activity on the events topics.
	Events bool

	// QueueSize bounds pending publishes; 0 means 256.
	QueueSize int

	Logger Logger
}

type publication struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// PresenceMirror mirrors device presence onto retained MQTT topics so late
// subscribers see the current set of devices, and optionally streams every
// relay activity as an event.
type PresenceMirror struct {
	pub     Publisher
	opts    PresenceOptions
	queue   chan publication
	dropped atomic.Int64
}

// NewPresenceMirror creates a mirror. Call Run to start publishing.
func NewPresenceMirror(pub Publisher, opts PresenceOptions) *PresenceMirror {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &PresenceMirror{
		pub:   pub,
		opts:  opts,
		queue: make(chan publication, opts.QueueSize),
	}
}

// Observe implements relay.Observer.
func (m *PresenceMirror) Observe(a relay.Activity) {
	switch a.Kind {
	case relay.ActivityDeviceOnline:
		m.presence(a.DeviceID, true, a.ConnID, "", a.At)
	case relay.ActivityDeviceOffline:
		m.presence(a.DeviceID, false, a.ConnID, a.Reason, a.At)
	}

	if m.opts.Events {
		m.enqueue(publication{
			topic: m.opts.Topics.Event(string(a.Kind)),
			payload: mustJSON(EventMessage{
				Kind:      string(a.Kind),
				ConnID:    a.ConnID,
				DeviceID:  a.DeviceID,
				Username:  a.Username,
				Command:   a.Command,
				Target:    a.Target,
				Reason:    a.Reason,
				RelayID:   m.opts.RelayID,
				Timestamp: a.At.UnixMilli(),
			}),
		})
	}
}

// Resync republishes online presence for every listed device. It is meant
// to run after an MQTT reconnect with the broker's current snapshot.
func (m *PresenceMirror) Resync(deviceIDs []string) {
	now := time.Now()
	for _, id := range deviceIDs {
		m.presence(id, true, "", "resync", now)
	}
}

// Dropped returns how many publications were discarded on a full queue.
func (m *PresenceMirror) Dropped() int64 {
	return m.dropped.Load()
}

// Run publishes queued messages until ctx is cancelled. Pending presence
// updates are flushed on the way out; the broker may still be reachable.
func (m *PresenceMirror) Run(ctx context.Context) {
	for {
		select {
		case p := <-m.queue:
			m.publish(p)
		case <-ctx.Done():
			for {
				select {
				case p := <-m.queue:
					m.publish(p)
				default:
					return
				}
			}
		}
	}
}

func (m *PresenceMirror) presence(deviceID string, online bool, connID, reason string, at time.Time) {
	if deviceID == "" {
		return
	}
	m.enqueue(publication{
		topic: m.opts.Topics.Presence(deviceID),
		payload: mustJSON(PresenceMessage{
			DeviceID:  deviceID,
			Online:    online,
			ConnID:    connID,
			Reason:    reason,
			RelayID:   m.opts.RelayID,
			Timestamp: at.UnixMilli(),
		}),
		qos:      m.opts.QoS,
		retained: true,
	})
}

func (m *PresenceMirror) enqueue(p publication) {
	select {
	case m.queue <- p:
	default:
		m.dropped.Add(1)
		m.opts.Logger.Warn("mqtt mirror queue full, dropping message", "topic", p.topic)
	}
}

func (m *PresenceMirror) publish(p publication) {
	if err := m.pub.Publish(p.topic, p.payload, p.qos, p.retained); err != nil {
		m.opts.Logger.Debug("mqtt mirror publish failed", "topic", p.topic, "error", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // only plain structs of strings and ints reach here
	}
	return b
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
