package migrations

import "github.com/lumenshell/lumen/internal/dbengine/migrate"

// RegisterAll registers every migration this package ships with m, in the
// order a fresh deployment should apply them. Callers that only want a
// subset can register individual migrate.Migration values themselves
// instead of calling this.
func RegisterAll(m *migrate.Manager) {
	m.Register(migrate.Migration{
		Version: 1,
		Name:    "session_device_id",
		Up:      MigrateSessionDeviceID,
		Down:    RollbackSessionDeviceID,
	})
	m.Register(migrate.Migration{
		Version: 2,
		Name:    "bookmark_folder",
		Up:      MigrateBookmarkFolder,
		Down:    RollbackBookmarkFolder,
	})
	m.Register(migrate.Migration{
		Version: 3,
		Name:    "history_visit_source",
		Up:      MigrateHistoryVisitSource,
		Down:    RollbackHistoryVisitSource,
	})
}
