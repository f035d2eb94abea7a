package relay

import "time"

// Logger defines the logging interface used by the Broker.
// logging.Logger and slog.Logger both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ActivityKind names a relay lifecycle event reported to observers.
type ActivityKind string

// Activity kinds.
const (
	ActivityConnectionOpened ActivityKind = "connection_opened"
	ActivityConnectionClosed ActivityKind = "connection_closed"
	ActivityDeviceOnline     ActivityKind = "device_online"
	ActivityDeviceOffline    ActivityKind = "device_offline"
	ActivityDeviceEvicted    ActivityKind = "device_evicted"
	ActivityDeviceRejected   ActivityKind = "device_login_rejected"
	ActivityWebLogin         ActivityKind = "web_login"
	ActivityWebRejected      ActivityKind = "web_login_rejected"
	ActivityCommandSent      ActivityKind = "command_dispatched"
	ActivityCommandRejected  ActivityKind = "command_rejected"
	ActivityResultForwarded  ActivityKind = "result_forwarded"
	ActivityResultDropped    ActivityKind = "result_dropped"
)

// Activity is one lifecycle event. Fields not relevant to Kind are empty.
type Activity struct {
	Kind     ActivityKind
	ConnID   string
	DeviceID string
	Username string
	Command  string
	Target   string // peer connection ID (command origin or result destination)
	Reason   string
	At       time.Time
}

// Observer receives relay activity. Observe is called synchronously from
// connection goroutines and must not block; queue work if it is slow.
// Presence activities (device_online, device_offline) are delivered with the
// registry lock held, so Observe must not call back into the Broker or Registry.
type Observer interface {
	Observe(Activity)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Activity)

// Observe implements Observer.
func (f ObserverFunc) Observe(a Activity) { f(a) }

// BrokerOptions configures a Broker.
type BrokerOptions struct {
	Logger    Logger
	Observers []Observer
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// BrokerStats is a point-in-time view of the broker.
type BrokerStats struct {
	RegistryStats
	StartedAt time.Time `json:"started_at"`
}

// Broker owns the registry for one relay process and routes every inbound
// message. It is created at startup, torn down with Close, and keeps no state
// across restarts.
//
// All public methods are thread-safe.
type Broker struct {
	reg       *Registry
	logger    Logger
	observers []Observer
	now       func() time.Time
	startedAt time.Time
}

// NewBroker creates a broker with an empty registry.
func NewBroker(opts BrokerOptions) *Broker {
	b := &Broker{
		reg:       NewRegistry(),
		logger:    opts.Logger,
		observers: opts.Observers,
		now:       opts.Clock,
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.startedAt = b.now()
	return b
}

// AddObserver registers an observer. Call before traffic starts.
func (b *Broker) AddObserver(o Observer) {
	b.observers = append(b.observers, o)
}

// Registry exposes the underlying registry for read-only queries.
func (b *Broker) Registry() *Registry {
	return b.reg
}

// Stats returns current registry counts.
func (b *Broker) Stats() BrokerStats {
	return BrokerStats{RegistryStats: b.reg.Stats(), StartedAt: b.startedAt}
}

// Connect registers a new connection and greets it.
func (b *Broker) Connect(conn Conn) {
	b.reg.Register(conn)
	b.logger.Info("connection opened", "conn_id", conn.ID())

	b.send(conn, EventSystemMessage, SystemMessage{
		Type:      SystemMessageConnect,
		Message:   "connected: " + conn.ID(),
		Timestamp: b.stamp(),
	})
	b.observe(Activity{Kind: ActivityConnectionOpened, ConnID: conn.ID()})
}

// Disconnect processes the end of a session. Identity cleanup and removal
// from the connection table happen under one lock. If the connection was a
// device, the remaining web clients get the updated device list.
func (b *Broker) Disconnect(connID string) {
	b.reg.mu.Lock()
	dep := b.reg.unregisterLocked(connID)
	if dep.Known {
		b.observe(Activity{Kind: ActivityConnectionClosed, ConnID: connID, DeviceID: dep.DeviceID})
		if dep.DeviceID != "" {
			b.observe(Activity{Kind: ActivityDeviceOffline, ConnID: connID, DeviceID: dep.DeviceID})
		}
	}
	b.reg.mu.Unlock()

	if !dep.Known {
		return
	}

	b.logger.Info("connection closed",
		"conn_id", connID,
		"device_id", dep.DeviceID,
		"web", dep.WasWeb,
		"evicted", dep.Evicted,
	)
	if dep.DeviceID != "" {
		b.BroadcastAll()
	}
}

// HandleRaw decodes one raw frame and handles it.
func (b *Broker) HandleRaw(connID string, frame []byte) {
	env, err := ParseEnvelope(frame)
	if err != nil {
		if conn, ok := b.reg.Get(connID); ok {
			b.sendError(conn, "invalid message: expected {\"event\": ..., \"data\": ...}")
		}
		b.logger.Debug("dropping unparseable frame", "conn_id", connID, "error", err)
		return
	}
	b.Handle(connID, env)
}

// Handle routes one inbound message from connID.
// Messages from unknown or evicted connections are dropped.
func (b *Broker) Handle(connID string, env Envelope) {
	conn, ok := b.reg.Get(connID)
	if !ok {
		b.logger.Debug("dropping message from unknown connection", "conn_id", connID, "event", env.Event)
		return
	}
	if b.reg.IsEvicted(connID) {
		b.logger.Debug("dropping message from evicted connection", "conn_id", connID, "event", env.Event)
		return
	}

	msg, err := Decode(env)
	if err != nil {
		b.logger.Debug("unknown event", "conn_id", connID, "event", env.Event)
		b.sendError(conn, "unknown event: "+env.Event)
		return
	}

	switch m := msg.(type) {
	case DeviceLogin:
		b.handleDeviceLogin(conn, m)
	case WebLogin:
		b.handleWebLogin(conn, m)
	case WebGetDeviceList:
		b.PushTo(connID)
	case WebDeviceCommand:
		b.handleWebDeviceCommand(conn, m)
	case DeviceCommandResult:
		b.ForwardResult(connID, m)
	case Ping:
		b.send(conn, EventPong, Pong{Type: EventPong, Timestamp: b.stamp()})
	}
}

// Close closes every registered connection. Each transport reports its
// closure through Disconnect as usual.
func (b *Broker) Close() {
	conns := b.reg.Conns()
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			b.logger.Debug("closing connection", "conn_id", conn.ID(), "error", err)
		}
	}
	b.logger.Info("broker closed", "connections", len(conns))
}

func (b *Broker) send(conn Conn, event string, payload any) bool {
	if err := conn.Send(event, payload); err != nil {
		b.logger.Warn("send failed", "conn_id", conn.ID(), "event", event, "error", err)
		return false
	}
	return true
}

func (b *Broker) sendError(conn Conn, message string) {
	b.send(conn, EventSystemMessage, SystemMessage{
		Type:      SystemMessageError,
		Message:   message,
		Timestamp: b.stamp(),
	})
}

func (b *Broker) observe(a Activity) {
	if len(b.observers) == 0 {
		return
	}
	if a.At.IsZero() {
		a.At = b.now()
	}
	for _, o := range b.observers {
		o.Observe(a)
	}
}

// stamp returns the outbound timestamp in Unix milliseconds.
func (b *Broker) stamp() int64 {
	return b.now().UnixMilli()
}
