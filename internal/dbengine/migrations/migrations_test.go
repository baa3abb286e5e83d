package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenshell/lumen/internal/dbengine"
	"github.com/lumenshell/lumen/internal/dbengine/migrate"
)

func TestRegisterAllAppliesCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrations.db")
	e := dbengine.New(dbengine.TestConfig(path))
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx))
	t.Cleanup(func() { _ = e.Close() })

	mgr := migrate.NewManager(e)
	RegisterAll(mgr)

	result, err := mgr.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, result.Applied)

	cur, err := mgr.CurrentVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, cur)

	rows, err := e.Query(ctx, "PRAGMA table_info(sessions)", nil, 0)
	require.NoError(t, err)
	found := false
	for _, r := range rows {
		if r["name"] == "device_id" {
			found = true
		}
	}
	require.True(t, found)
}

func TestRegisterAllRollsBackCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrations.db")
	e := dbengine.New(dbengine.TestConfig(path))
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx))
	t.Cleanup(func() { _ = e.Close() })

	mgr := migrate.NewManager(e)
	RegisterAll(mgr)
	_, err := mgr.Migrate(ctx)
	require.NoError(t, err)

	count, err := mgr.RollbackTo(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	cur, err := mgr.CurrentVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, cur)
}
