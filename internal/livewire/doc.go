// Package livewire resolves Livewire stream addresses.
//
// Livewire audio streams are carried on IPv4 multicast groups derived from a
// channel number. A channel N (1-32767) of a standard stream lives at
//
//	239.192.(N >> 8).(N & 0xFF)
//
// and surround streams use the same layout in 239.193.0.0/16. Route
// indicators reported by devices may carry a ":port" suffix, and some
// destinations report the bare channel number instead of an address; both
// forms are accepted.
//
// Example:
//
//	addr, err := livewire.Resolve("239.192.0.21")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(addr.Channel, addr.Type) // 21 STANDARD
//
// All functions are pure and safe for concurrent use.
package livewire
