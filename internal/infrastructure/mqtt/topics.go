package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix roots every relay topic when no prefix is configured.
const DefaultTopicPrefix = "relay"

// Topics builds the relay's MQTT topic tree:
//
//	{prefix}/system/status          relay online/offline (retained, LWT)
//	{prefix}/presence/{deviceId}    device online/offline (retained)
//	{prefix}/events/{kind}          relay activity stream
type Topics struct {
	Prefix string
}

// NewTopics returns a builder rooted at prefix, trimming stray slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus returns the retained relay status topic.
//
// Example: relay/system/status
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// Presence returns the retained presence topic for one device.
// MQTT wildcard characters in the device ID are replaced with "_".
//
// Example: relay/presence/pump-01
func (t Topics) Presence(deviceID string) string {
	return fmt.Sprintf("%s/presence/%s", t.root(), escapeLevel(deviceID))
}

// AllPresence matches every presence topic.
//
// Example: relay/presence/+
func (t Topics) AllPresence() string {
	return t.root() + "/presence/+"
}

// Event returns the topic for one kind of relay activity.
//
// Example: relay/events/device_evicted
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/events/%s", t.root(), escapeLevel(kind))
}

// AllEvents matches every activity topic.
//
// Example: relay/events/#
func (t Topics) AllEvents() string {
	return t.root() + "/events/#"
}

// escapeLevel makes s usable as a single topic level. Device IDs are chosen
// by devices, so they may contain separators or wildcards.
func escapeLevel(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return '_'
		}
		return r
	}, s)
}
