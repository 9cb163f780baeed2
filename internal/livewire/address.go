package livewire

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// StreamType is the Livewire stream format implied by a multicast block.
type StreamType string

// Stream types.
const (
	StreamStandard StreamType = "STANDARD"
	StreamSurround StreamType = "SURROUND"
)

// Channel limits and multicast blocks.
const (
	MinChannel = 1
	MaxChannel = 32767

	multicastFirstOctet = 239
	standardSecondOctet = 192
	surroundSecondOctet = 193

	// channelHighMask keeps the third octet within the 15-bit channel space.
	channelHighMask = 0x7F
)

// StreamAddress is a resolved Livewire route.
type StreamAddress struct {
	Channel int
	Type    StreamType
}

// String returns the multicast group of the stream, e.g. "239.192.0.21".
func (a StreamAddress) String() string {
	second := standardSecondOctet
	if a.Type == StreamSurround {
		second = surroundSecondOctet
	}
	return fmt.Sprintf("%d.%d.%d.%d", multicastFirstOctet, second, a.Channel>>8, a.Channel&0xFF)
}

// ForChannel returns the stream address of a channel.
func ForChannel(channel int, t StreamType) (StreamAddress, error) {
	if channel < MinChannel || channel > MaxChannel {
		return StreamAddress{}, fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidChannel, channel, MinChannel, MaxChannel)
	}
	if t != StreamStandard && t != StreamSurround {
		return StreamAddress{}, fmt.Errorf("%w: unknown stream type %q", ErrInvalidAddress, t)
	}
	return StreamAddress{Channel: channel, Type: t}, nil
}

// Resolve converts a route indicator into a stream address.
//
// Accepts:
//   - "239.192.0.21": multicast group
//   - "239.192.0.21:5004": multicast group with port
//   - "21": bare channel number (standard stream)
//
// Returns ErrInvalidAddress for unparseable input, ErrNotLivewire for IPv4
// addresses outside the Livewire blocks and ErrInvalidChannel for channel 0
// or numbers above MaxChannel.
func Resolve(route string) (StreamAddress, error) {
	route = strings.TrimSpace(route)
	if route == "" {
		return StreamAddress{}, fmt.Errorf("%w: empty route", ErrInvalidAddress)
	}

	if n, err := strconv.Atoi(route); err == nil {
		return ForChannel(n, StreamStandard)
	}

	host := route
	if h, _, ok := strings.Cut(route, ":"); ok {
		host = h
	}

	ip, err := netip.ParseAddr(host)
	if err != nil || !ip.Is4() {
		return StreamAddress{}, fmt.Errorf("%w: %q", ErrInvalidAddress, route)
	}

	octets := ip.As4()
	if octets[0] != multicastFirstOctet {
		return StreamAddress{}, fmt.Errorf("%w: %s", ErrNotLivewire, host)
	}

	var t StreamType
	switch octets[1] {
	case standardSecondOctet:
		t = StreamStandard
	case surroundSecondOctet:
		t = StreamSurround
	default:
		return StreamAddress{}, fmt.Errorf("%w: %s", ErrNotLivewire, host)
	}

	if octets[2] > channelHighMask {
		return StreamAddress{}, fmt.Errorf("%w: %s", ErrNotLivewire, host)
	}

	return ForChannel(int(octets[2])<<8|int(octets[3]), t)
}

// StreamTypeOf returns the stream type of a route indicator.
func StreamTypeOf(route string) (StreamType, error) {
	a, err := Resolve(route)
	if err != nil {
		return "", err
	}
	return a.Type, nil
}

// ChannelNumberOf returns the Livewire channel number of a route indicator.
func ChannelNumberOf(route string) (int, error) {
	a, err := Resolve(route)
	if err != nil {
		return 0, err
	}
	return a.Channel, nil
}
