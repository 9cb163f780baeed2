package device

import (
	"fmt"
	"strings"
)

// PortType classifies a device port. It doubles as the LWRP event class a
// connection subscribes to.
type PortType string

// Port types reported by Livewire devices.
const (
	PortGPI         PortType = "GPI"
	PortGPO         PortType = "GPO"
	PortSource      PortType = "SOURCE"
	PortDestination PortType = "DESTINATION"
)

// AllPortTypes lists every port type in subscription order.
var AllPortTypes = []PortType{PortGPI, PortGPO, PortSource, PortDestination}

// ParsePortType converts a port type name (case-insensitive) to a PortType.
func ParsePortType(s string) (PortType, error) {
	switch PortType(strings.ToUpper(strings.TrimSpace(s))) {
	case PortGPI:
		return PortGPI, nil
	case PortGPO:
		return PortGPO, nil
	case PortSource, "SRC":
		return PortSource, nil
	case PortDestination, "DST":
		return PortDestination, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPortType, s)
	}
}

// IsGPIO reports whether the port carries pin states rather than a route.
func (t PortType) IsGPIO() bool {
	return t == PortGPI || t == PortGPO
}

// String returns the port type name.
func (t PortType) String() string {
	return string(t)
}

// Port attribute keys.
const (
	AttrName           = "name"
	AttrAddress        = "address"
	AttrRTPDestination = "rtp_destination"
)

// PinLow is the pin state value of a low pin. Any other value is high.
const PinLow = "low"

// PinHigh is the pin state value the LWRP parser uses for high pins.
const PinHigh = "high"

// PinState is the state of a single GPIO pin.
type PinState struct {
	State string `json:"state"`

	// Changing is set when the device reports the pin mid-transition.
	Changing bool `json:"changing,omitempty"`
}

// IsLow reports whether the pin is at the low sentinel.
func (p PinState) IsLow() bool {
	return p.State == PinLow
}

// Port is one port record delivered by a device connection.
//
// SOURCE and DESTINATION ports carry Attributes (name, address,
// rtp_destination). GPI and GPO ports carry PinStates in pin order and may
// also carry attributes such as a name.
type Port struct {
	Num        int               `json:"num"`
	Type       PortType          `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	PinStates  []PinState        `json:"pin_states,omitempty"`
}

// Attribute returns the named attribute and whether it was present.
func (p Port) Attribute(key string) (string, bool) {
	if p.Attributes == nil {
		return "", false
	}
	v, ok := p.Attributes[key]
	return v, ok
}

// BatchHandler receives an ordered batch of ports of one class from a device.
type BatchHandler func(batch []Port)
