package audit

import "sync"

const (
	// DefaultLiveViewSize is the number of records a live view keeps.
	DefaultLiveViewSize = 100

	subscriberBuffer = 64
)

// LiveView keeps the most recent records in a ring buffer and forwards new
// records to subscribers.
type LiveView struct {
	mu    sync.RWMutex
	ring  []Record
	start int
	count int

	subs map[chan Record]struct{}
}

// NewLiveView creates a live view holding up to size records.
func NewLiveView(size int) *LiveView {
	if size <= 0 {
		size = DefaultLiveViewSize
	}
	return &LiveView{
		ring: make([]Record, size),
		subs: make(map[chan Record]struct{}),
	}
}

// WriteRecord stores the record, evicting the oldest when full, and
// forwards it to subscribers. A subscriber whose buffer is full misses the
// record.
func (v *LiveView) WriteRecord(rec Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	size := len(v.ring)
	if v.count < size {
		v.ring[(v.start+v.count)%size] = rec
		v.count++
	} else {
		v.ring[v.start] = rec
		v.start = (v.start + 1) % size
	}

	for ch := range v.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	return nil
}

// Records returns the retained records, oldest first.
func (v *LiveView) Records() []Record {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snapshotLocked()
}

func (v *LiveView) snapshotLocked() []Record {
	out := make([]Record, v.count)
	for i := range v.count {
		out[i] = v.ring[(v.start+i)%len(v.ring)]
	}
	return out
}

// Len returns the number of retained records.
func (v *LiveView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.count
}

// Cap returns the maximum number of retained records.
func (v *LiveView) Cap() int {
	return len(v.ring)
}

// Subscribe returns the retained records and a channel of records written
// afterwards, with no gap or overlap between the two. The cancel function
// unsubscribes and closes the channel.
func (v *LiveView) Subscribe() (snapshot []Record, ch <-chan Record, cancel func()) {
	c := make(chan Record, subscriberBuffer)

	v.mu.Lock()
	out := v.snapshotLocked()
	v.subs[c] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	return out, c, func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, c)
			v.mu.Unlock()
			close(c)
		})
	}
}
