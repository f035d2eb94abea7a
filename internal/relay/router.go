package relay

import "fmt"

// DispatchResult is the outcome of routing one command.
// Reason is nil when Accepted is true.
type DispatchResult struct {
	Accepted bool
	Reason   error
	Message  string
}

// Dispatch forwards a command from fromConnID to the addressed device.
//
// Checks run in order and the first failure wins:
//  1. device ID, command and params must be present (ErrMalformedCommand)
//  2. the device must hold a live connection (ErrDeviceOffline)
//
// The device receives {command, params, from}. Dispatch does not wait for the
// device's answer. Resolution and delivery happen under the registry lock, so
// a command is never routed to a connection whose cleanup has started.
//
// Results are correlated only by the originating connection ID: two
// concurrent commands from one caller to one device cannot be told apart
// except by arrival order.
func (b *Broker) Dispatch(fromConnID string, cmd WebDeviceCommand) DispatchResult {
	if err := cmd.Validate(); err != nil {
		return DispatchResult{Reason: err, Message: "malformed command"}
	}

	offline := DispatchResult{
		Reason:  ErrDeviceOffline,
		Message: fmt.Sprintf("device %s is offline", cmd.DeviceID),
	}

	b.reg.mu.Lock()
	target, ok := b.reg.deviceConnLocked(cmd.DeviceID)
	var sendErr error
	if ok {
		sendErr = target.Send(EventDeviceCommand, DeviceCommand{
			Command:   cmd.Command,
			Params:    cmd.Params,
			From:      fromConnID,
			Timestamp: b.stamp(),
		})
	}
	b.reg.mu.Unlock()

	if !ok {
		return offline
	}
	if sendErr != nil {
		b.logger.Warn("command delivery failed", "device_id", cmd.DeviceID, "conn_id", target.ID(), "error", sendErr)
		return offline
	}

	return DispatchResult{
		Accepted: true,
		Message:  fmt.Sprintf("command sent to device %s", cmd.DeviceID),
	}
}

// handleWebDeviceCommand dispatches and acknowledges to the caller.
func (b *Broker) handleWebDeviceCommand(conn Conn, cmd WebDeviceCommand) {
	res := b.Dispatch(conn.ID(), cmd)

	b.send(conn, EventWebCommandResult, CommandAck{
		Success:   res.Accepted,
		Message:   res.Message,
		Timestamp: b.stamp(),
	})

	a := Activity{ConnID: conn.ID(), DeviceID: cmd.DeviceID, Command: cmd.Command}
	if res.Accepted {
		a.Kind = ActivityCommandSent
		b.logger.Debug("command dispatched", "from", conn.ID(), "device_id", cmd.DeviceID, "command", cmd.Command)
	} else {
		a.Kind = ActivityCommandRejected
		a.Reason = res.Reason.Error()
		b.logger.Info("command rejected", "from", conn.ID(), "device_id", cmd.DeviceID, "error", res.Reason)
	}
	b.observe(a)
}

// ForwardResult relays a device's answer to the web connection named in
// res.To, tagged with the sender's device ID. If that connection is gone the
// result is dropped: no queue, no retry, no error to anyone.
func (b *Broker) ForwardResult(fromConnID string, res DeviceCommandResult) bool {
	b.reg.mu.Lock()
	target, ok := b.reg.conns[res.To]
	deviceID := b.reg.owners[fromConnID]
	var sendErr error
	if ok && res.To != "" {
		sendErr = target.Send(EventWebDeviceCommandResult, DeviceCommandReply{
			DeviceID:  deviceID,
			Command:   res.Command,
			Success:   res.Success,
			Result:    res.Result,
			Message:   res.Message,
			Timestamp: b.stamp(),
		})
	}
	b.reg.mu.Unlock()

	a := Activity{ConnID: fromConnID, DeviceID: deviceID, Command: res.CommandName(), Target: res.To}
	if !ok || res.To == "" || sendErr != nil {
		a.Kind = ActivityResultDropped
		b.logger.Debug("command result dropped", "from", fromConnID, "to", res.To, "device_id", deviceID)
		b.observe(a)
		return false
	}

	a.Kind = ActivityResultForwarded
	b.observe(a)
	return true
}
