package audit

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger interface for optional diagnostic logging.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Sink fans records out to its destinations.
//
// Record holds the sink lock while every destination is written, so all
// destinations see records in the same order and no destination is ever
// written concurrently.
type Sink struct {
	mu     sync.Mutex
	dests  []Destination
	closed bool

	logger Logger
	now    func() time.Time
}

// NewSink creates a sink writing to dests. A nil logger discards
// diagnostics.
func NewSink(logger Logger, dests ...Destination) (*Sink, error) {
	s := &Sink{logger: logger, now: time.Now}
	for _, d := range dests {
		if err := s.Add(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a destination. It only affects records emitted afterwards.
func (s *Sink) Add(d Destination) error {
	if d == nil {
		return ErrNilDestination
	}
	s.mu.Lock()
	s.dests = append(s.dests, d)
	s.mu.Unlock()
	return nil
}

// Record stamps and delivers one record. It never fails: destination
// errors and panics go to the diagnostic logger.
func (s *Sink) Record(level Level, device, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Time:    s.now(),
		Level:   level,
		Device:  device,
		Message: message,
	}

	if s.closed {
		s.logWarn("record dropped after close", "device", device, "message", message)
		return
	}

	for _, d := range s.dests {
		if err := deliver(d, rec); err != nil {
			s.logError("audit destination failed",
				"destination", fmt.Sprintf("%T", d),
				"device", device,
				"error", err,
			)
		}
	}
}

// Info records an INFO entry.
func (s *Sink) Info(device, message string) {
	s.Record(LevelInfo, device, message)
}

// Warn records a WARNING entry.
func (s *Sink) Warn(device, message string) {
	s.Record(LevelWarning, device, message)
}

// Error records an ERROR entry.
func (s *Sink) Error(device, message string) {
	s.Record(LevelError, device, message)
}

// Close closes every destination that implements io.Closer. Records
// emitted afterwards are dropped.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, d := range s.dests {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %T: %w", d, err))
			}
		}
	}
	return errors.Join(errs...)
}

func deliver(d Destination, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDestinationPanic, r)
		}
	}()
	return d.WriteRecord(rec)
}

func (s *Sink) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

func (s *Sink) logError(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Error(msg, keysAndValues...)
	}
}
