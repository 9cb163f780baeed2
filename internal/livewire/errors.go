package livewire

import "errors"

// Domain errors for the livewire package.
var (
	// ErrInvalidAddress is returned when a route indicator is neither an
	// IPv4 address nor a channel number.
	ErrInvalidAddress = errors.New("livewire: invalid address")

	// ErrNotLivewire is returned when an address is valid IPv4 but outside
	// the Livewire multicast blocks.
	ErrNotLivewire = errors.New("livewire: address is not a livewire stream")

	// ErrInvalidChannel is returned when a channel number is out of range.
	ErrInvalidChannel = errors.New("livewire: channel out of range")
)
