package audit

import "time"

// MeasurementAuditEvents is the InfluxDB measurement for audit records.
const MeasurementAuditEvents = "audit_events"

// PointWriter writes time-series points. Writes are asynchronous.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// InfluxWriter records every audit record as an audit_events point tagged
// by device and level, so change rates can be graphed per device.
type InfluxWriter struct {
	w PointWriter
}

// NewInfluxWriter creates an InfluxDB destination.
func NewInfluxWriter(w PointWriter) *InfluxWriter {
	return &InfluxWriter{w: w}
}

// WriteRecord queues one point.
func (i *InfluxWriter) WriteRecord(rec Record) error {
	i.w.WritePointWithTime(MeasurementAuditEvents,
		map[string]string{
			"device": rec.Device,
			"level":  string(rec.Level),
		},
		map[string]interface{}{
			"message": rec.Message,
			"count":   1,
		},
		rec.Time,
	)
	return nil
}
