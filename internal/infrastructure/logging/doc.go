// Package logging provides the diagnostic logger.
//
// Diagnostics are separate from the audit trail: they describe the
// process (connection errors, destination failures, formatting problems)
// and go to stderr by default so stdout stays free for audit lines.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stderr, stdout
//
// Every entry carries service=lwaudit and the build version.
package logging
