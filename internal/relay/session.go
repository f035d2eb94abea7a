package relay

import "errors"

// Acknowledgement texts.
const (
	msgDeviceLoginOK     = "device login successful"
	msgDeviceIDRequired  = "device id must not be empty"
	msgWebLoginOK        = "login successful"
	msgCredentialsNeeded = "username and password must not be empty"
	msgAlreadyWeb        = "connection is already logged in as a web client"
	msgAlreadyDevice     = "connection is already logged in as a device"
	msgEvictionNotice    = "device logged in from another location"
)

// handleDeviceLogin moves conn from anonymous to device.
//
// A previous holder of the same device ID is evicted: its mapping is dropped
// before the new one is installed, then it is notified and closed. The close
// comes back through Disconnect, which finds no identity left to clean.
// Renewing the current ID is acknowledged without a broadcast.
func (b *Broker) handleDeviceLogin(conn Conn, m DeviceLogin) {
	connID := conn.ID()

	// Presence activities are observed under the registry lock so observers
	// see them in the order the registry applied them.
	b.reg.mu.Lock()
	outcome, err := b.reg.loginDeviceLocked(connID, m.DeviceID)
	if err == nil {
		if outcome.Released != "" {
			b.observe(Activity{Kind: ActivityDeviceOffline, ConnID: connID, DeviceID: outcome.Released, Reason: "rebound"})
		}
		if !outcome.Renewed {
			b.observe(Activity{Kind: ActivityDeviceOnline, ConnID: connID, DeviceID: m.DeviceID})
		}
	}
	b.reg.mu.Unlock()

	if err != nil {
		message := msgDeviceIDRequired
		if errors.Is(err, ErrIdentityClassLocked) {
			message = msgAlreadyWeb
		}
		b.send(conn, EventDeviceLoginResult, DeviceLoginResult{
			Success:   false,
			Message:   message,
			Timestamp: b.stamp(),
		})
		b.logger.Info("device login rejected", "conn_id", connID, "error", err)
		b.observe(Activity{Kind: ActivityDeviceRejected, ConnID: connID, DeviceID: m.DeviceID, Reason: err.Error()})
		return
	}

	if outcome.Evicted != nil {
		b.evict(outcome.Evicted, m.DeviceID, connID)
	}
	if outcome.Released != "" {
		b.logger.Info("device rebound", "conn_id", connID, "from", outcome.Released, "to", m.DeviceID)
	}

	b.send(conn, EventDeviceLoginResult, DeviceLoginResult{
		Success:   true,
		Message:   msgDeviceLoginOK,
		DeviceID:  m.DeviceID,
		Timestamp: b.stamp(),
	})
	b.logger.Info("device online", "conn_id", connID, "device_id", m.DeviceID, "renewed", outcome.Renewed)

	if !outcome.Renewed {
		b.BroadcastAll()
	}
}

// evict notifies the superseded device connection and closes it.
func (b *Broker) evict(victim Conn, deviceID, by string) {
	b.logger.Warn("device identity taken over",
		"device_id", deviceID,
		"evicted_conn_id", victim.ID(),
		"new_conn_id", by,
	)
	b.sendError(victim, msgEvictionNotice)
	if err := victim.Close(); err != nil {
		b.logger.Debug("closing evicted connection", "conn_id", victim.ID(), "error", err)
	}
	b.observe(Activity{Kind: ActivityDeviceEvicted, ConnID: victim.ID(), DeviceID: deviceID, Target: by})
}

// handleWebLogin moves conn from anonymous to web and pushes it the device list.
func (b *Broker) handleWebLogin(conn Conn, m WebLogin) {
	connID := conn.ID()

	if err := b.reg.LoginWeb(connID, m.Username, m.Password); err != nil {
		message := msgCredentialsNeeded
		if errors.Is(err, ErrIdentityClassLocked) {
			message = msgAlreadyDevice
		}
		b.send(conn, EventWebLoginResult, WebLoginResult{
			Success:   false,
			Message:   message,
			Timestamp: b.stamp(),
		})
		b.logger.Info("web login rejected", "conn_id", connID, "error", err)
		b.observe(Activity{Kind: ActivityWebRejected, ConnID: connID, Username: m.Username, Reason: err.Error()})
		return
	}

	b.send(conn, EventWebLoginResult, WebLoginResult{
		Success:   true,
		Message:   msgWebLoginOK,
		User:      &WebUser{Username: m.Username},
		Timestamp: b.stamp(),
	})
	b.logger.Info("web client logged in", "conn_id", connID, "username", m.Username)
	b.observe(Activity{Kind: ActivityWebLogin, ConnID: connID, Username: m.Username})

	b.PushTo(connID)
}
