// Package lwrp implements a client for the Livewire Routing Protocol.
//
// LWRP is a line-oriented TCP protocol (port 93) spoken by Livewire audio
// nodes. The client opens one session per device, optionally logs in, and
// subscribes to four event classes:
//
//	ADD GPI    -> "GPI <n> <pins>" indications
//	ADD GPO    -> "GPO <n> <pins> ..." indications
//	SRC        -> "SRC <n> PSNM:\"<name>\" RTPA:\"<addr>\" ..." lines
//	DST        -> "DST <n> NAME:\"<name>\" ADDR:\"<addr>\" ..." lines
//
// Pin strings use one character per pin: 'l'/'L' low, 'h'/'H' high, upper
// case meaning the pin is changing.
//
// # Batching and ordering
//
// Consecutive lines of the same class that arrive in one read are grouped
// into a batch of device.Port values. Batches are handed to the subscribed
// handlers by a single dispatcher goroutine, so handlers for one client are
// never invoked concurrently and always see batches in arrival order. When
// the dispatch queue is full the reader waits; batches are never dropped.
//
// The client does not reconnect. When the device closes the session the
// client stays disconnected until Stop is called.
package lwrp
