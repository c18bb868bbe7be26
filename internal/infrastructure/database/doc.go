// Package database provides the SQLite connection used for the persisted
// device cache.
//
// It manages:
//   - A single-connection pool with busy timeout and optional WAL mode
//   - Embedded, versioned schema migrations tracked in schema_migrations
//   - Health checks for the status endpoint
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// The database file is created with 0600 permissions. All queries use
// parameterised statements.
package database
