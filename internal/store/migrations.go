package store

import (
	"database/sql"
	"fmt"

	"vitalis/internal/logging"
)

// Migration adds a column to an existing table. The schema statements are
// idempotent for fresh databases; these handle databases created before a
// column existed.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all column migrations to apply.
var pendingMigrations = []Migration{
	// Baseline freeze state (added with the disconnect control)
	{"baselines", "frozen", "INTEGER NOT NULL DEFAULT 0"},
	// Evaluation window bounds (added for explanation edges)
	{"evaluation_results", "baseline_start", "TEXT NOT NULL DEFAULT ''"},
	{"evaluation_results", "baseline_end", "TEXT NOT NULL DEFAULT ''"},
	// Insight suppression reason (added with fatigue control)
	{"insights", "suppression_reason", "TEXT NOT NULL DEFAULT ''"},
}

// RunMigrations applies column migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	log := logging.Get(logging.CategoryStore)
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			// Column may already exist in a different form; don't fail startup.
			log.Warn("migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		applied++
	}
	if applied > 0 {
		log.Info("schema migrations applied: %d", applied)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&count)
	return err == nil && count > 0
}
