// Package database provides the SQLite connection used by medtwin.
//
// The same file backs the default document store (twins and replicas),
// the audit trail and the schema_migrations bookkeeping table.
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
