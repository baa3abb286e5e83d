package migrations

import (
	"fmt"

	"github.com/lumenshell/lumen/internal/dbengine/migrate"
)

// MigrateBookmarkFolder adds a folder column to bookmarks plus an index on
// it, so bookmark organization UI can group by folder without scanning the
// whole table.
func MigrateBookmarkFolder(h migrate.Handle) error {
	db := h.DB()
	has, err := hasColumn(db, "bookmarks", "folder")
	if err != nil {
		return fmt.Errorf("migrations: check bookmarks.folder: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE bookmarks ADD COLUMN folder TEXT`); err != nil {
			return fmt.Errorf("migrations: add bookmarks.folder: %w", err)
		}
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_bookmarks_folder ON bookmarks (folder)`); err != nil {
		return fmt.Errorf("migrations: create idx_bookmarks_folder: %w", err)
	}
	return nil
}

// RollbackBookmarkFolder drops the index and column MigrateBookmarkFolder
// added.
func RollbackBookmarkFolder(h migrate.Handle) error {
	db := h.DB()
	if _, err := db.Exec(`DROP INDEX IF EXISTS idx_bookmarks_folder`); err != nil {
		return fmt.Errorf("migrations: drop idx_bookmarks_folder: %w", err)
	}
	has, err := hasColumn(db, "bookmarks", "folder")
	if err != nil {
		return fmt.Errorf("migrations: check bookmarks.folder: %w", err)
	}
	if has {
		if _, err := db.Exec(`ALTER TABLE bookmarks DROP COLUMN folder`); err != nil {
			return fmt.Errorf("migrations: drop bookmarks.folder: %w", err)
		}
	}
	return nil
}
