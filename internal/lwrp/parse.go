package lwrp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/lwaudit/internal/device"
)

// Line verbs used by the protocol.
const (
	verbGPI   = "GPI"
	verbGPO   = "GPO"
	verbSRC   = "SRC"
	verbDST   = "DST"
	verbVER   = "VER"
	verbError = "ERROR"
)

// attributeKeys maps LWRP field names onto port attribute keys.
// Fields not listed are ignored.
var attributeKeys = map[string]map[string]string{
	verbSRC: {
		"PSNM": device.AttrName,
		"RTPA": device.AttrRTPDestination,
	},
	verbDST: {
		"NAME": device.AttrName,
		"ADDR": device.AttrAddress,
	},
	verbGPO: {
		"NAME": device.AttrName,
	},
}

// lineVerb returns the first token of a line, upper-cased.
func lineVerb(line string) string {
	verb, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	return strings.ToUpper(verb)
}

// ParseLine parses a SRC, DST, GPI or GPO indication into a port.
func ParseLine(line string) (device.Port, error) {
	fields, err := splitFields(strings.TrimSpace(line))
	if err != nil {
		return device.Port{}, fmt.Errorf("%w: %w", ErrInvalidLine, err)
	}
	if len(fields) < 2 {
		return device.Port{}, fmt.Errorf("%w: %q", ErrInvalidLine, line)
	}

	verb := strings.ToUpper(fields[0])
	switch verb {
	case verbGPI, verbGPO, verbSRC, verbDST:
	default:
		return device.Port{}, fmt.Errorf("%w: unknown verb %q", ErrInvalidLine, fields[0])
	}
	portType, err := device.ParsePortType(verb)
	if err != nil {
		return device.Port{}, fmt.Errorf("%w: %w", ErrInvalidLine, err)
	}

	num, err := strconv.Atoi(fields[1])
	if err != nil {
		return device.Port{}, fmt.Errorf("%w: port number %q", ErrInvalidLine, fields[1])
	}

	port := device.Port{
		Num:        num,
		Type:       portType,
		Attributes: make(map[string]string),
	}

	rest := fields[2:]
	if portType.IsGPIO() {
		if len(rest) == 0 {
			return device.Port{}, fmt.Errorf("%w: %s %d has no pin states", ErrInvalidLine, verb, num)
		}
		pins, err := parsePins(rest[0])
		if err != nil {
			return device.Port{}, fmt.Errorf("%w: %s %d: %w", ErrInvalidLine, verb, num, err)
		}
		port.PinStates = pins
		rest = rest[1:]
	}

	keys := attributeKeys[verb]
	for _, f := range rest {
		key, value, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		if attr, known := keys[strings.ToUpper(key)]; known {
			port.Attributes[attr] = unquote(value)
		}
	}

	return port, nil
}

// parsePins decodes a pin string such as "hlHL".
func parsePins(s string) ([]device.PinState, error) {
	pins := make([]device.PinState, 0, len(s))
	for _, r := range s {
		switch r {
		case 'l':
			pins = append(pins, device.PinState{State: device.PinLow})
		case 'L':
			pins = append(pins, device.PinState{State: device.PinLow, Changing: true})
		case 'h':
			pins = append(pins, device.PinState{State: device.PinHigh})
		case 'H':
			pins = append(pins, device.PinState{State: device.PinHigh, Changing: true})
		default:
			return nil, fmt.Errorf("invalid pin state %q", r)
		}
	}
	return pins, nil
}

// splitFields splits a line on spaces, keeping quoted values together.
// `PSNM:"Mic 1" RTPA:"239.192.0.1"` yields two fields.
func splitFields(line string) ([]string, error) {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case r == ' ' && !quoted:
			if current.Len() > 0 {
				fields = append(fields, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in %q", line)
	}
	if current.Len() > 0 {
		fields = append(fields, current.String())
	}
	return fields, nil
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
