package migrations

import (
	"database/sql"
	"fmt"

	"github.com/lumenshell/lumen/internal/dbengine/migrate"
)

// hasColumn reports whether table has a column named col, using
// PRAGMA table_info the way the rest of this codebase checks for a
// column's existence before an idempotent ALTER TABLE.
func hasColumn(db *sql.DB, table, col string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}

// MigrateSessionDeviceID adds a device_id column to sessions, letting a
// caller associate a saved session with the device that produced it
// (useful once cross-device sync lands). It is idempotent: if device_id
// already exists, Up is a no-op.
func MigrateSessionDeviceID(h migrate.Handle) error {
	db := h.DB()
	has, err := hasColumn(db, "sessions", "device_id")
	if err != nil {
		return fmt.Errorf("migrations: check sessions.device_id: %w", err)
	}
	if has {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE sessions ADD COLUMN device_id TEXT`); err != nil {
		return fmt.Errorf("migrations: add sessions.device_id: %w", err)
	}
	return nil
}

// RollbackSessionDeviceID drops the column added by MigrateSessionDeviceID.
func RollbackSessionDeviceID(h migrate.Handle) error {
	db := h.DB()
	has, err := hasColumn(db, "sessions", "device_id")
	if err != nil {
		return fmt.Errorf("migrations: check sessions.device_id: %w", err)
	}
	if !has {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE sessions DROP COLUMN device_id`); err != nil {
		return fmt.Errorf("migrations: drop sessions.device_id: %w", err)
	}
	return nil
}
