package relay

// Snapshot returns the online device IDs and their count.
func (b *Broker) Snapshot() DeviceList {
	ids := b.reg.DeviceIDs()
	return DeviceList{Devices: ids, Count: len(ids), Timestamp: b.stamp()}
}

// PushTo sends the device list to one connection.
// It reports false when the connection is gone or the send failed.
func (b *Broker) PushTo(connID string) bool {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()

	conn, ok := b.reg.conns[connID]
	if !ok {
		return false
	}
	return b.send(conn, EventDeviceList, b.deviceListLocked())
}

// BroadcastAll sends the device list to every web client registered when
// the call starts, one copy each. It returns the number of recipients.
func (b *Broker) BroadcastAll() int {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()

	list := b.deviceListLocked()
	sent := 0
	for _, conn := range b.reg.webConnsLocked() {
		if b.send(conn, EventDeviceList, list) {
			sent++
		}
	}
	b.logger.Debug("device list broadcast", "devices", list.Count, "recipients", sent)
	return sent
}

func (b *Broker) deviceListLocked() DeviceList {
	ids := b.reg.deviceIDsLocked()
	return DeviceList{Devices: ids, Count: len(ids), Timestamp: b.stamp()}
}
