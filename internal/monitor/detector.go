package monitor

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/nerrad567/lwaudit/internal/device"
	"github.com/nerrad567/lwaudit/internal/livewire"
)

// Route and resolution sentinels.
const (
	// UnknownRoute is used when a port reports neither an RTP destination
	// nor an address.
	UnknownRoute = "UNKNOWN"

	// Unresolved replaces the channel number and stream type when a route
	// cannot be resolved.
	Unresolved = "?"
)

// tracker owns the state of one device.
type tracker struct {
	mu    sync.Mutex
	store *StateStore
}

// Detector converts port batches into audit records, one StateStore per
// device.
type Detector struct {
	recorder Recorder
	logger   Logger

	mu       sync.RWMutex
	trackers map[string]*tracker
}

// NewDetector creates a detector that reports changes to rec.
// A nil logger discards diagnostics.
func NewDetector(rec Recorder, logger Logger) *Detector {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Detector{
		recorder: rec,
		logger:   logger,
		trackers: make(map[string]*tracker),
	}
}

// Track starts tracking a device with an empty store. Tracking an already
// tracked device keeps its store.
func (d *Detector) Track(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.trackers[addr]; !ok {
		d.trackers[addr] = &tracker{store: NewStateStore()}
	}
}

// HandlerFor returns a batch handler bound to addr.
func (d *Detector) HandlerFor(addr string) device.BatchHandler {
	return func(batch []device.Port) {
		d.OnPortEvent(addr, batch)
	}
}

// Snapshot returns a copy of a device's stored values.
func (d *Detector) Snapshot(addr string) (map[PortKey]PortValue, bool) {
	t := d.tracker(addr)
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[PortKey]PortValue, t.store.Len())
	for k, v := range t.store.values {
		out[k] = v
	}
	return out, true
}

func (d *Detector) tracker(addr string) *tracker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trackers[addr]
}

// OnPortEvent processes one batch from a device. The device's lock is held
// for the whole batch. A port that fails to produce a record is reported to
// the logger and the rest of the batch is still processed.
func (d *Detector) OnPortEvent(addr string, batch []device.Port) {
	t := d.tracker(addr)
	if t == nil {
		d.logger.Warn("batch for untracked device ignored", "device", addr, "ports", len(batch))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, port := range batch {
		msg, err := d.observe(t.store, addr, port)
		if err != nil {
			d.logger.Error("building change record failed",
				"device", addr,
				"type", port.Type,
				"port", port.Num,
				"error", err,
			)
			continue
		}
		if msg != "" {
			d.recorder.Info(addr, msg)
		}
	}
}

// observe updates the store and returns the change message, or "" when the
// port did not change.
func (d *Detector) observe(store *StateStore, addr string, port device.Port) (string, error) {
	key := PortKey{Device: addr, Type: port.Type, Index: port.Num}

	switch port.Type {
	case device.PortGPI, device.PortGPO:
		pins := PinString(port.PinStates)
		if !store.Observe(key, PortValue{Pins: pins}) {
			return "", nil
		}
		return fmt.Sprintf("%s Port %d State Change: %s", port.Type, port.Num, pins), nil

	case device.PortSource, device.PortDestination:
		route := RouteOf(port)
		name, hasName := port.Attribute(device.AttrName)
		if !store.Observe(key, PortValue{Route: route, Name: name}) {
			return "", nil
		}
		if !hasName {
			return "", fmt.Errorf("%w: %s", ErrMissingAttribute, device.AttrName)
		}
		channel, streamType := ResolveRoute(route)
		return fmt.Sprintf("%s Port %d Route Change: %s (Name: %s; LW #%s; Type: %s)",
			port.Type, port.Num, route, name, channel, streamType), nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPortType, port.Type)
	}
}

// RouteOf returns the route indicator of a port: the RTP destination if
// present, else the address, else UnknownRoute.
func RouteOf(port device.Port) string {
	if v, ok := port.Attribute(device.AttrRTPDestination); ok {
		return v
	}
	if v, ok := port.Attribute(device.AttrAddress); ok {
		return v
	}
	return UnknownRoute
}

// ResolveRoute returns the channel number and stream type of a route, or
// Unresolved for both when the route is not a Livewire stream.
func ResolveRoute(route string) (channel, streamType string) {
	a, err := livewire.Resolve(route)
	if err != nil {
		return Unresolved, Unresolved
	}
	return strconv.Itoa(a.Channel), string(a.Type)
}

// PinString maps pins to 'L' (low) or 'H' (any other state), in order.
func PinString(pins []device.PinState) string {
	out := make([]byte, len(pins))
	for i, p := range pins {
		if p.IsLow() {
			out[i] = 'L'
		} else {
			out[i] = 'H'
		}
	}
	return string(out)
}
