package migrations

import (
	"fmt"

	"github.com/lumenshell/lumen/internal/dbengine/migrate"
)

// MigrateHistoryVisitSource adds a visit_source column to history
// (defaulting to "typed") so callers can distinguish typed navigation from
// link clicks and restored sessions.
func MigrateHistoryVisitSource(h migrate.Handle) error {
	db := h.DB()
	has, err := hasColumn(db, "history", "visit_source")
	if err != nil {
		return fmt.Errorf("migrations: check history.visit_source: %w", err)
	}
	if has {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE history ADD COLUMN visit_source TEXT NOT NULL DEFAULT 'typed'`); err != nil {
		return fmt.Errorf("migrations: add history.visit_source: %w", err)
	}
	return nil
}

// RollbackHistoryVisitSource drops the column added by
// MigrateHistoryVisitSource.
func RollbackHistoryVisitSource(h migrate.Handle) error {
	db := h.DB()
	has, err := hasColumn(db, "history", "visit_source")
	if err != nil {
		return fmt.Errorf("migrations: check history.visit_source: %w", err)
	}
	if !has {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE history DROP COLUMN visit_source`); err != nil {
		return fmt.Errorf("migrations: drop history.visit_source: %w", err)
	}
	return nil
}
