package lwrp

import "errors"

// Domain errors for the LWRP client.
var (
	// ErrConnectionFailed is returned when the TCP session to a device
	// cannot be established.
	ErrConnectionFailed = errors.New("lwrp: connection failed")

	// ErrAuthFailed is returned when the device rejects the login.
	ErrAuthFailed = errors.New("lwrp: authentication failed")

	// ErrNotConnected is returned when an operation requires a live session.
	ErrNotConnected = errors.New("lwrp: not connected")

	// ErrInvalidLine is returned when a device line cannot be parsed.
	ErrInvalidLine = errors.New("lwrp: invalid line")

	// ErrUnsupportedClass is returned when subscribing to an unknown event class.
	ErrUnsupportedClass = errors.New("lwrp: unsupported event class")
)
