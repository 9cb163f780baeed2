// Package monitor turns LWRP event batches into audit records.
//
// A Registry connects to every configured device once, logs each device in
// and wires the device's event classes to a Detector. The Detector keeps one
// StateStore per device and emits an audit record only when a port's value
// differs from the last one seen:
//
//	Unseen    -> Known(v)   first observation, silent baseline
//	Known(v)  -> Known(v)   repeat, silent
//	Known(v)  -> Known(v')  change, exactly one record
//
// SOURCE and DESTINATION ports are compared on (route, name), GPI and GPO
// ports on their pin string ("LHHL").
//
// # Thread Safety
//
// Batches for one device are processed under that device's lock, so they
// never overlap. Batches for different devices run in parallel. Registry
// methods are safe for concurrent use; Stop may race with a Start that is
// still bootstrapping.
//
// Devices that fail to connect or log in are not retried.
package monitor
