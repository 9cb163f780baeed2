package device

import "errors"

// Domain errors for the device package.
var (
	// ErrInvalidDescriptor is returned when a device list line cannot be parsed.
	ErrInvalidDescriptor = errors.New("device: invalid descriptor")

	// ErrUnknownPortType is returned when a port type name is not recognised.
	ErrUnknownPortType = errors.New("device: unknown port type")
)
