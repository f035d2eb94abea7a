package relay

import "errors"

// Domain errors for the relay package.
//
// Every error is scoped to a single connection; none of them is fatal to the
// process. Check with errors.Is:
//
//	if errors.Is(err, relay.ErrMissingCredentials) {
//	    // tell the caller to retry
//	}
var (
	// ErrMissingDeviceID is returned when a device login carries no device ID.
	ErrMissingDeviceID = errors.New("relay: device id is required")

	// ErrMissingCredentials is returned when a web login lacks a username or password.
	ErrMissingCredentials = errors.New("relay: username and password are required")

	// ErrIdentityClassLocked is returned when a connection that already logged
	// in as one identity class tries to log in as the other.
	ErrIdentityClassLocked = errors.New("relay: connection already bound to another identity class")

	// ErrUnknownConnection is returned when a connection ID is not registered.
	ErrUnknownConnection = errors.New("relay: unknown connection")

	// ErrConnectionEvicted is returned for a connection whose device identity
	// was taken over and which is waiting to be closed.
	ErrConnectionEvicted = errors.New("relay: connection evicted")

	// ErrMalformedCommand is returned when a command lacks device ID, command or params.
	ErrMalformedCommand = errors.New("relay: malformed command")

	// ErrDeviceOffline is returned when a command addresses a device with no live connection.
	ErrDeviceOffline = errors.New("relay: device offline")

	// ErrUnknownEvent is returned when an inbound frame names an event outside the catalogue.
	ErrUnknownEvent = errors.New("relay: unknown event")

	// ErrInvalidEnvelope is returned when an inbound frame is not a JSON envelope.
	ErrInvalidEnvelope = errors.New("relay: invalid envelope")
)
