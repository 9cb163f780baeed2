// Package api implements the read-only HTTP API and WebSocket live tail for
// the audit logger.
//
// This package provides:
//   - REST endpoints for the live view, persisted history and device status
//   - A WebSocket endpoint that streams the retained records followed by
//     every new record
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - Runtime metrics for monitoring
//
// # Graceful Degradation
//
// The server runs without a database: /history answers 503 and every other
// endpoint keeps working. MQTT status is reported when a client is supplied.
package api
