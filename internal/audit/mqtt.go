package audit

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultPublishQueueSize is the number of records an MQTTPublisher buffers
// while the broker is slow.
const DefaultPublishQueueSize = 256

// Publisher publishes MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

type mqttMessage struct {
	topic   string
	payload []byte
}

// MQTTPublisher publishes each record as JSON on a per-device topic.
//
// WriteRecord only queues the message; a single worker publishes in record
// order, so a slow broker never holds up the sink. When the queue is full
// the record is rejected with ErrQueueFull. Publish failures go to the
// callback set with SetOnError.
type MQTTPublisher struct {
	pub      Publisher
	topicFor func(device string) string
	qos      byte

	queue chan mqttMessage
	done  chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	onError   func(err error)
}

// NewMQTTPublisher creates an MQTT destination and starts its worker.
// topicFor maps a device label to its topic.
func NewMQTTPublisher(pub Publisher, topicFor func(device string) string, qos byte) *MQTTPublisher {
	return newMQTTPublisher(pub, topicFor, qos, DefaultPublishQueueSize)
}

func newMQTTPublisher(pub Publisher, topicFor func(device string) string, qos byte, queueSize int) *MQTTPublisher {
	m := &MQTTPublisher{
		pub:      pub,
		topicFor: topicFor,
		qos:      qos,
		queue:    make(chan mqttMessage, queueSize),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

// SetOnError sets the callback for asynchronous publish failures.
func (m *MQTTPublisher) SetOnError(callback func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = callback
}

// WriteRecord queues the record. Records are events and are not retained.
func (m *MQTTPublisher) WriteRecord(rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling audit record: %w", err)
	}
	msg := mqttMessage{topic: m.topicFor(rec.Device), payload: payload}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrDestinationClosed
	}
	select {
	case m.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, msg.topic)
	}
}

// Close publishes what is still queued and stops the worker. It is
// idempotent.
func (m *MQTTPublisher) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
	})
	<-m.done
	return nil
}

func (m *MQTTPublisher) run() {
	defer close(m.done)
	for msg := range m.queue {
		if err := m.pub.Publish(msg.topic, msg.payload, m.qos, false); err != nil {
			m.reportError(fmt.Errorf("publishing audit record to %s: %w", msg.topic, err))
		}
	}
}

func (m *MQTTPublisher) reportError(err error) {
	m.mu.RLock()
	callback := m.onError
	m.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}
