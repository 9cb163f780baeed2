package monitor

import "errors"

// Domain errors for the monitor package.
var (
	// ErrMissingAttribute is returned when a change record cannot be built
	// because the port lacks an attribute the message needs.
	ErrMissingAttribute = errors.New("monitor: missing port attribute")

	// ErrUnknownPortType is returned for ports of a type the detector does
	// not track.
	ErrUnknownPortType = errors.New("monitor: unknown port type")

	// ErrRegistryStopped is returned by Start once Stop has been called.
	ErrRegistryStopped = errors.New("monitor: registry stopped")
)
