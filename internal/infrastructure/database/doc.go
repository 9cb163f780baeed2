// Package database provides the SQLite store behind the audit history.
//
// The database is optional: the logger runs without it, and the history
// API reports itself unavailable. When enabled, the file is opened in WAL
// mode so the history API can read while the sink writes, and the schema
// is brought up to date by the embedded migrations at startup.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "data/lwaudit.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are files named YYYYMMDD_HHMMSS_name.up.sql with an optional
// matching .down.sql. Each one runs in its own transaction and is recorded
// in the schema_migrations table.
package database
