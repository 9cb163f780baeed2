package audit

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of an audit record.
type Level string

// Audit levels.
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch level := Level(strings.ToUpper(s)); level {
	case LevelInfo, LevelWarning, LevelError:
		return level, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

// SystemLabel is the device label of process-level records.
const SystemLabel = "SYSTEM"

// TimeLayout is the timestamp layout of formatted records.
const TimeLayout = "2006-01-02 15:04:05,000"

// Record is one audit trail entry. Records are values and are never
// modified after the sink creates them.
type Record struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Device  string    `json:"device"`
	Message string    `json:"message"`
}

// Format renders the record as a fixed-layout line without a newline:
// timestamp, level padded to 8, device padded to 18, message.
func (r Record) Format() string {
	return fmt.Sprintf("%s %-8s %-18s %s", r.Time.Local().Format(TimeLayout), r.Level, r.Device, r.Message)
}

// Destination receives every record a sink emits.
type Destination interface {
	WriteRecord(rec Record) error
}

// DestinationFunc adapts a function to a Destination.
type DestinationFunc func(rec Record) error

// WriteRecord calls f(rec).
func (f DestinationFunc) WriteRecord(rec Record) error {
	return f(rec)
}
