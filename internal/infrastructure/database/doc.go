// Package database provides the SQLite connection shared by the telemetry
// gateway, the settings store and the audit trail.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Versioned schema migrations read from an fs.FS (normally the embedded
//     migrations package)
//   - The fixed-width UTC timestamp format used by every table
//
// All queries use parameterised statements. The file is created with 0600
// permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
