package main

import "database/sql"

// probeAuditTable checks that the tick_audit table exists. Ticks still
// dispatch without it, but every audit append fails, so a missing migration
// should be called out at startup rather than discovered in the logs later.
// Returns sql.ErrNoRows when the table is absent, nil when present, and a
// connection error when the database cannot be reached.
func probeAuditTable(db *sql.DB) error {
	var one int
	return db.QueryRow(
		`SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'tick_audit'`,
	).Scan(&one)
}
