package relay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Wire event names. Inbound and outbound names share one namespace.
const (
	EventDeviceLogin         = "device:login"
	EventDeviceLoginResult   = "device:login_result"
	EventDeviceCommand       = "device:cmd"
	EventDeviceCommandResult = "device:cmd_result"

	EventWebLogin               = "web:login"
	EventWebLoginResult         = "web:login_result"
	EventWebGetDeviceList       = "web:get_device_list"
	EventWebDeviceCommand       = "web:device_cmd"
	EventWebCommandResult       = "web:cmd_result"
	EventWebDeviceCommandResult = "web:device_cmd_result"

	EventSystemMessage = "sys:message"
	EventDeviceList    = "sys:device_list"

	EventPing = "ping"
	EventPong = "pong"
)

// System message types carried in sys:message payloads.
const (
	SystemMessageConnect = "connect"
	SystemMessageError   = "error"
)

// Envelope is the frame exchanged on the wire: an event name and its data.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw frame into an Envelope.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: event name is empty", ErrInvalidEnvelope)
	}
	return env, nil
}

// Inbound is the closed set of messages a connection may send.
// Decode returns one of the variant types below; nothing else implements it.
type Inbound interface {
	inbound()
}

// DeviceLogin registers the sending connection as a device.
type DeviceLogin struct {
	DeviceID string `json:"deviceId"`
}

// DeviceCommandResult carries a device's answer to an earlier command.
// To is the connection ID of the web client that issued the command.
// The other fields are passed through as the device sent them.
type DeviceCommandResult struct {
	To      string          `json:"to"`
	Command json.RawMessage `json:"command,omitempty"`
	Success json.RawMessage `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// WebLogin registers the sending connection as a web client.
type WebLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// WebGetDeviceList asks for the current device list.
type WebGetDeviceList struct{}

// WebDeviceCommand asks the relay to forward a command to one device.
type WebDeviceCommand struct {
	DeviceID string          `json:"deviceId"`
	Command  string          `json:"command"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// Ping is the application-level heartbeat.
type Ping struct{}

func (DeviceLogin) inbound()         {}
func (DeviceCommandResult) inbound() {}
func (WebLogin) inbound()            {}
func (WebGetDeviceList) inbound()    {}
func (WebDeviceCommand) inbound()    {}
func (Ping) inbound()                {}

// Decode maps an envelope onto its inbound variant.
//
// Data that fails to parse yields the zero value of the variant, so the
// message fails that variant's own validation and the sender gets the
// matching failure response instead of a generic error.
func Decode(env Envelope) (Inbound, error) {
	switch env.Event {
	case EventDeviceLogin:
		return decodeData[DeviceLogin](env.Data), nil
	case EventDeviceCommandResult:
		return decodeData[DeviceCommandResult](env.Data), nil
	case EventWebLogin:
		return decodeData[WebLogin](env.Data), nil
	case EventWebGetDeviceList:
		return WebGetDeviceList{}, nil
	case EventWebDeviceCommand:
		return decodeData[WebDeviceCommand](env.Data), nil
	case EventPing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeData[T any](data json.RawMessage) T {
	var v T
	if len(data) == 0 {
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero
	}
	return v
}

// CommandName returns the command as text: the string itself when the
// device sent a JSON string, otherwise the raw JSON.
func (m DeviceCommandResult) CommandName() string {
	var name string
	if err := json.Unmarshal(m.Command, &name); err == nil {
		return name
	}
	return string(m.Command)
}

// Validate reports ErrMissingDeviceID when no device ID was supplied.
func (m DeviceLogin) Validate() error {
	if m.DeviceID == "" {
		return ErrMissingDeviceID
	}
	return nil
}

// Validate reports ErrMissingCredentials when either credential is empty.
// This is a presence check only; credentials are never verified.
func (m WebLogin) Validate() error {
	if m.Username == "" || m.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Validate reports ErrMalformedCommand unless device ID, command and params are all present.
func (m WebDeviceCommand) Validate() error {
	if m.DeviceID == "" || m.Command == "" || !present(m.Params) {
		return ErrMalformedCommand
	}
	return nil
}

// present reports whether a raw JSON value counts as supplied. Absent, null,
// false, zero and the empty string do not; an empty object does.
func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "false", `""`:
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == 0 {
		return false
	}
	return true
}

// Outbound payloads. Every one carries a server timestamp in Unix milliseconds.

// SystemMessage is sent on connect and for out-of-band notices such as eviction.
type SystemMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// DeviceLoginResult acknowledges a device login.
type DeviceLoginResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// WebUser identifies the asserted web user in a login acknowledgement.
type WebUser struct {
	Username string `json:"username"`
}

// WebLoginResult acknowledges a web login.
type WebLoginResult struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	User      *WebUser `json:"user,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// DeviceList is the presence snapshot pushed to web clients.
// Devices follow the registration order of the device map.
type DeviceList struct {
	Devices   []string `json:"devices"`
	Count     int      `json:"count"`
	Timestamp int64    `json:"timestamp"`
}

// CommandAck tells a web client whether its command was forwarded.
type CommandAck struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// DeviceCommand is the command as delivered to a device.
// From is the connection ID the device must echo back in its result.
type DeviceCommand struct {
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params"`
	From      string          `json:"from"`
	Timestamp int64           `json:"timestamp"`
}

// DeviceCommandReply is a device result as delivered to the web client,
// tagged with the ID of the device that answered.
type DeviceCommandReply struct {
	DeviceID  string          `json:"deviceId,omitempty"`
	Command   json.RawMessage `json:"command,omitempty"`
	Success   json.RawMessage `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Pong answers a ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
