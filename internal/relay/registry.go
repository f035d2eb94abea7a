package relay

import (
	"slices"
	"sync"
)

// Conn is one live transport session as seen by the relay.
type Conn interface {
	// ID returns the opaque connection identifier, unique among live sessions.
	ID() string

	// Send queues a named event for this connection only.
	// It must not block: the registry calls it while holding its lock.
	Send(event string, payload any) error

	// Close forces the session shut. The transport reports the closure back
	// through Broker.Disconnect like any other disconnect.
	Close() error
}

// Role is the identity class of a connection.
type Role string

// Identity classes. A connection starts anonymous and may become a device or
// a web client once; it never switches class.
const (
	RoleAnonymous Role = "anonymous"
	RoleDevice    Role = "device"
	RoleWeb       Role = "web"
)

// Departure describes what a connection was at the moment it was removed.
type Departure struct {
	ConnID   string
	Known    bool   // false when the ID was not registered
	DeviceID string // device identity released by the departure, if any
	WasWeb   bool
	Evicted  bool
}

// LoginOutcome describes the side effects of a device login.
type LoginOutcome struct {
	// Evicted is the connection that held the device ID before this login.
	// Its mapping is already gone; the caller notifies and closes it.
	Evicted Conn

	// Released is the device ID this connection held before rebinding to a
	// new one, or "" when it was not a device yet.
	Released string

	// Renewed is true when the connection already held this exact device ID.
	Renewed bool
}

// RegistryStats summarises registry contents.
type RegistryStats struct {
	Connections int `json:"connections"`
	Devices     int `json:"devices"`
	WebClients  int `json:"web_clients"`
	Anonymous   int `json:"anonymous"`
}

// Registry holds the connection table and both identity mappings.
//
// One mutex covers all four maps so cross-map invariants are never observed
// half-applied. Methods with a Locked suffix expect the caller to hold mu.
//
// All public methods are thread-safe.
type Registry struct {
	mu sync.Mutex

	conns       map[string]Conn     // conn ID -> connection
	devices     map[string]string   // device ID -> conn ID
	deviceOrder []string            // device IDs in registration order
	owners      map[string]string   // conn ID -> device ID
	webs        map[string]struct{} // conn IDs logged in as web clients
	evicted     map[string]struct{} // conn IDs awaiting close after takeover
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[string]Conn),
		devices: make(map[string]string),
		owners:  make(map[string]string),
		webs:    make(map[string]struct{}),
		evicted: make(map[string]struct{}),
	}
}

// Register adds a live connection. It is visible to lookups immediately.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
}

// Unregister removes a connection and purges every identity it held.
// Safe to call more than once; later calls report Known=false.
func (r *Registry) Unregister(connID string) Departure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(connID)
}

func (r *Registry) unregisterLocked(connID string) Departure {
	_, known := r.conns[connID]
	delete(r.conns, connID)

	dep := r.cleanupLocked(connID)
	dep.Known = known
	return dep
}

// Get returns the connection registered under connID.
func (r *Registry) Get(connID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// Cleanup removes connID from every identity mapping without unregistering
// the connection itself. Idempotent; unknown IDs are ignored.
func (r *Registry) Cleanup(connID string) Departure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupLocked(connID)
}

func (r *Registry) cleanupLocked(connID string) Departure {
	dep := Departure{ConnID: connID}

	if deviceID, ok := r.owners[connID]; ok {
		delete(r.owners, connID)
		if r.devices[deviceID] == connID {
			r.removeDeviceLocked(deviceID)
		}
		dep.DeviceID = deviceID
	}
	if _, ok := r.webs[connID]; ok {
		delete(r.webs, connID)
		dep.WasWeb = true
	}
	if _, ok := r.evicted[connID]; ok {
		delete(r.evicted, connID)
		dep.Evicted = true
	}
	return dep
}

func (r *Registry) removeDeviceLocked(deviceID string) {
	delete(r.devices, deviceID)
	if i := slices.Index(r.deviceOrder, deviceID); i >= 0 {
		r.deviceOrder = slices.Delete(r.deviceOrder, i, i+1)
	}
}

// LoginDevice binds connID to deviceID.
//
// If another connection holds deviceID it loses the mapping before the new
// one is installed and is returned in LoginOutcome.Evicted. Last writer wins.
// A device connection logging in under a new ID releases its old one.
func (r *Registry) LoginDevice(connID, deviceID string) (LoginOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loginDeviceLocked(connID, deviceID)
}

func (r *Registry) loginDeviceLocked(connID, deviceID string) (LoginOutcome, error) {
	var out LoginOutcome

	if deviceID == "" {
		return out, ErrMissingDeviceID
	}
	if err := r.checkLoginLocked(connID); err != nil {
		return out, err
	}
	if _, isWeb := r.webs[connID]; isWeb {
		return out, ErrIdentityClassLocked
	}

	if prev, ok := r.owners[connID]; ok {
		if prev == deviceID {
			out.Renewed = true
			return out, nil
		}
		r.removeDeviceLocked(prev)
		delete(r.owners, connID)
		out.Released = prev
	}

	holder, held := r.devices[deviceID]
	if held && holder != connID {
		delete(r.owners, holder)
		r.evicted[holder] = struct{}{}
		out.Evicted = r.conns[holder]
	}
	if !held {
		r.deviceOrder = append(r.deviceOrder, deviceID)
	}

	r.devices[deviceID] = connID
	r.owners[connID] = deviceID
	return out, nil
}

// LoginWeb marks connID as a web client. Credentials are only checked for
// presence. Repeating a web login is harmless.
func (r *Registry) LoginWeb(connID, username, password string) error {
	if username == "" || password == "" {
		return ErrMissingCredentials
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkLoginLocked(connID); err != nil {
		return err
	}
	if _, isDevice := r.owners[connID]; isDevice {
		return ErrIdentityClassLocked
	}
	r.webs[connID] = struct{}{}
	return nil
}

func (r *Registry) checkLoginLocked(connID string) error {
	if _, ok := r.conns[connID]; !ok {
		return ErrUnknownConnection
	}
	if _, ok := r.evicted[connID]; ok {
		return ErrConnectionEvicted
	}
	return nil
}

// IsDeviceOnline reports whether deviceID is held by a live connection.
func (r *Registry) IsDeviceOnline(deviceID string) bool {
	_, ok := r.ResolveDevice(deviceID)
	return ok
}

// ResolveDevice returns the connection ID holding deviceID.
func (r *Registry) ResolveDevice(deviceID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.devices[deviceID]
	return connID, ok
}

// ResolveDeviceID returns the device ID held by connID.
func (r *Registry) ResolveDeviceID(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deviceID, ok := r.owners[connID]
	return deviceID, ok
}

// deviceConnLocked resolves a device ID all the way to its connection.
func (r *Registry) deviceConnLocked(deviceID string) (Conn, bool) {
	connID, ok := r.devices[deviceID]
	if !ok {
		return nil, false
	}
	conn, ok := r.conns[connID]
	return conn, ok
}

// Role reports the identity class of connID.
func (r *Registry) Role(connID string) Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roleLocked(connID)
}

func (r *Registry) roleLocked(connID string) Role {
	if _, ok := r.owners[connID]; ok {
		return RoleDevice
	}
	if _, ok := r.webs[connID]; ok {
		return RoleWeb
	}
	return RoleAnonymous
}

// IsEvicted reports whether connID lost its device identity and awaits close.
func (r *Registry) IsEvicted(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.evicted[connID]
	return ok
}

// DeviceIDs returns online device IDs in registration order.
// The order is stable within one call and otherwise unspecified.
func (r *Registry) DeviceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceIDsLocked()
}

func (r *Registry) deviceIDsLocked() []string {
	ids := make([]string, len(r.deviceOrder))
	copy(ids, r.deviceOrder)
	return ids
}

// webConnsLocked returns every registered web connection.
func (r *Registry) webConnsLocked() []Conn {
	out := make([]Conn, 0, len(r.webs))
	for connID := range r.webs {
		if conn, ok := r.conns[connID]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// Conns returns a snapshot of all registered connections.
func (r *Registry) Conns() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Stats returns counts per identity class.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegistryStats{
		Connections: len(r.conns),
		Devices:     len(r.devices),
		WebClients:  len(r.webs),
		Anonymous:   len(r.conns) - len(r.owners) - len(r.webs),
	}
}
