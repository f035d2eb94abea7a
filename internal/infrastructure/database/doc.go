// Package database provides SQLite connectivity for the relay's audit trail.
//
// This package manages:
//   - Opening the database file (or an in-memory database for tests)
//   - WAL mode and busy timeout pragmas
//   - Schema migrations read from an fs.FS
//
// All queries use parameterised statements.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default.
// Each migration has an .up.sql and a .down.sql file.
package database
