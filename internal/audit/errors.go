package audit

import "errors"

// Domain errors for the audit package.
var (
	// ErrNilDestination is returned when a nil destination is added to a sink.
	ErrNilDestination = errors.New("audit: nil destination")

	// ErrDestinationPanic wraps a panic raised by a destination.
	ErrDestinationPanic = errors.New("audit: destination panicked")

	// ErrInvalidLevel is returned when a level name is not INFO, WARNING or ERROR.
	ErrInvalidLevel = errors.New("audit: invalid level")

	// ErrQueueFull is returned when an asynchronous destination cannot
	// accept another record.
	ErrQueueFull = errors.New("audit: destination queue full")

	// ErrDestinationClosed is returned for records written after Close.
	ErrDestinationClosed = errors.New("audit: destination closed")
)
