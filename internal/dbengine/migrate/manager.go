// Package migrate implements the engine's version-tracked schema migration
// manager: ordered migrations, schema_version bookkeeping, pre-migration
// backup, and rollback on failure.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Handle is the narrow view of the engine a migration needs: direct
// database access for DDL plus the file-path/WAL facts the backup step
// requires. Up/down functions receive a Handle rather than the whole
// engine, so their DDL runs directly on the database rather than through
// the engine's write queue. The manager does not pause that queue or
// otherwise take exclusive use of the engine while migrations run.
type Handle interface {
	DB() *sql.DB
	Path() string
	WALEnabled() bool
}

// UpFunc applies a migration. DownFunc reverses it. Neither is
// automatically wrapped in a transaction: some DDL (adding columns, FTS
// setup) must commit before subsequent statements can see it, so
// per-migration atomicity is the migration author's responsibility.
type UpFunc func(h Handle) error
type DownFunc func(h Handle) error

// Migration is one registered schema change.
type Migration struct {
	Version int
	Name    string
	Up      UpFunc
	Down    DownFunc
}

// Result reports the outcome of a Migrate call.
type Result struct {
	Applied int
	Failed  *Migration
}

// Manager tracks registered migrations and applies them against a Handle.
type Manager struct {
	mu         sync.Mutex
	migrations []Migration
	handle     Handle
}

// NewManager constructs a Manager bound to h.
func NewManager(h Handle) *Manager {
	return &Manager{handle: h}
}

// Register appends mg and keeps the migration list sorted ascending by
// version. Registering two migrations with the same version is a
// programming error and panics, matching the spec's "duplicates are a
// programming error" contract.
func (m *Manager) Register(mg Migration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.migrations {
		if existing.Version == mg.Version {
			panic(fmt.Sprintf("migrate: duplicate migration version %d (%q and %q)", mg.Version, existing.Name, mg.Name))
		}
	}
	m.migrations = append(m.migrations, mg)
	sort.Slice(m.migrations, func(i, j int) bool { return m.migrations[i].Version < m.migrations[j].Version })
}

// CurrentVersion returns MAX(version) from schema_version, or 0 if empty.
func (m *Manager) CurrentVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := m.handle.DB().QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&v)
	if err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// Pending returns registered migrations with version > current_version(),
// in ascending order.
func (m *Manager) Pending(ctx context.Context) ([]Migration, error) {
	cur, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []Migration
	for _, mg := range m.migrations {
		if mg.Version > cur {
			pending = append(pending, mg)
		}
	}
	return pending, nil
}

// Migrate applies every pending migration in version order. If there is
// nothing pending it returns {Applied: 0} without taking a backup. On
// failure at migration k, it runs down() for migrations 0..k-1 in reverse
// order (rollback errors are logged, not fatal — the reverse sweep always
// runs to completion) and returns {Applied: 0, Failed: &migration_k}.
func (m *Manager) Migrate(ctx context.Context) (Result, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(pending) == 0 {
		return Result{Applied: 0}, nil
	}

	backups, err := m.backup(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: backup failed: %w", err)
	}
	if len(backups) > 0 {
		log.Printf("migrate: backed up database to %v before applying %d migration(s)", backups, len(pending))
	}

	for i, mg := range pending {
		if err := mg.Up(m.handle); err != nil {
			log.Printf("migrate: migration %d (%s) failed: %v; rolling back %d applied migration(s)", mg.Version, mg.Name, err, i)
			for j := i - 1; j >= 0; j-- {
				prev := pending[j]
				if prev.Down == nil {
					continue
				}
				if derr := prev.Down(m.handle); derr != nil {
					log.Printf("migrate: rollback of migration %d (%s) failed: %v", prev.Version, prev.Name, derr)
					continue
				}
				if _, derr := m.handle.DB().ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", prev.Version); derr != nil {
					log.Printf("migrate: clearing schema_version row for %d after rollback failed: %v", prev.Version, derr)
				}
			}
			failed := mg
			return Result{Applied: 0, Failed: &failed}, fmt.Errorf("migrate: migration %d (%s) failed: %w", mg.Version, mg.Name, err)
		}

		if _, err := m.handle.DB().ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)", mg.Version, nowMillis()); err != nil {
			return Result{Applied: i}, fmt.Errorf("migrate: recording version %d: %w", mg.Version, err)
		}
	}

	return Result{Applied: len(pending)}, nil
}

// RollbackTo rolls back every applied migration with version > target, in
// descending version order, deleting its schema_version row after a
// successful down(). A migration with no down is a fatal configuration
// error: rollback stops and returns the count completed so far.
func (m *Manager) RollbackTo(ctx context.Context, target int) (int, error) {
	m.mu.Lock()
	all := append([]Migration(nil), m.migrations...)
	m.mu.Unlock()

	byVersion := make(map[int]Migration, len(all))
	for _, mg := range all {
		byVersion[mg.Version] = mg
	}

	rows, err := m.handle.DB().QueryContext(ctx, "SELECT version FROM schema_version WHERE version > ? ORDER BY version DESC", target)
	if err != nil {
		return 0, err
	}
	var applied []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, err
		}
		applied = append(applied, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, v := range applied {
		mg, ok := byVersion[v]
		if !ok || mg.Down == nil {
			return count, fmt.Errorf("migrate: rollback to %d requires a down migration for version %d", target, v)
		}
		if err := mg.Down(m.handle); err != nil {
			return count, fmt.Errorf("migrate: rollback of version %d failed: %w", v, err)
		}
		if _, err := m.handle.DB().ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", v); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
