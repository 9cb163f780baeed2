package monitor

import (
	"github.com/nerrad567/lwaudit/internal/device"
)

// PortKey identifies one port of one device.
type PortKey struct {
	Device string
	Type   device.PortType
	Index  int
}

// PortValue is the last observed value of a port. Route and Name are set
// for SOURCE and DESTINATION ports, Pins for GPI and GPO ports.
type PortValue struct {
	Route string `json:"route,omitempty"`
	Name  string `json:"name,omitempty"`
	Pins  string `json:"pins,omitempty"`
}

// StateStore holds the last observed value of every port of a device.
// It is not safe for concurrent use; the Detector serializes access.
type StateStore struct {
	values map[PortKey]PortValue
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{values: make(map[PortKey]PortValue)}
}

// Observe stores v for key. It reports true only when key was already
// known with a different value; first observations and repeats report false.
func (s *StateStore) Observe(key PortKey, v PortValue) bool {
	old, known := s.values[key]
	if known && old == v {
		return false
	}
	s.values[key] = v
	return known
}

// Value returns the stored value for key.
func (s *StateStore) Value(key PortKey) (PortValue, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of known ports.
func (s *StateStore) Len() int {
	return len(s.values)
}
