// Package device defines the Livewire device model shared by the LWRP
// client, the change detector and the registry.
//
// A device is identified by its network address and may carry an LWRP
// password. Each device exposes numbered ports of four kinds:
//
//   - SOURCE: an audio stream the device transmits (name + RTP multicast address)
//   - DESTINATION: an audio output fed from a route (name + address)
//   - GPI / GPO: general-purpose input/output ports with an ordered set of pins
//
// The device list is read from a plain text file, one device per line:
//
//	# comment
//	192.168.2.10
//	192.168.2.11|secret
//
// Blank lines and lines starting with '#' are ignored. Later duplicates of an
// address are dropped by the registry, not by the parser.
//
// # Thread Safety
//
// Port and Descriptor are plain values. Batches handed to a BatchHandler are
// owned by the handler for the duration of the call.
package device
