// Package audit delivers audit records to their destinations.
//
// An audit record is one immutable line of the audit trail:
//
//	2026-03-01 14:02:11,507 INFO     10.0.0.5           GPI Port 1 State Change: LL
//
// The Sink stamps each record and fans it out, synchronously and in one
// global order, to every configured Destination:
//
//   - Console: plain lines on an io.Writer (stdout)
//   - RotatingFile: daily-rotated log file with bounded backups
//   - LiveView: the most recent records in memory, with live subscribers
//   - SQLiteRepository: queryable history in the audit_records table
//   - MQTTPublisher: JSON records on <prefix>/audit/<device>
//   - InfluxWriter: audit_events points for dashboards
//
// A failing or panicking destination is reported to the diagnostic logger;
// the caller and the other destinations are unaffected.
package audit
