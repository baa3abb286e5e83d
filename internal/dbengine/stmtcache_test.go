package dbengine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStmtCachePreparesOnceAndReuses(t *testing.T) {
	db := openTestDB(t)
	c := newStmtCache()
	ctx := context.Background()

	s1, err := c.prepare(ctx, db, "SELECT v FROM t")
	require.NoError(t, err)
	s2, err := c.prepare(ctx, db, "SELECT v FROM t")
	require.NoError(t, err)

	require.Same(t, s1, s2)
	require.Equal(t, 1, c.size())
}

func TestStmtCacheClearEmptiesAndClosesStatements(t *testing.T) {
	db := openTestDB(t)
	c := newStmtCache()
	ctx := context.Background()

	s, err := c.prepare(ctx, db, "SELECT v FROM t")
	require.NoError(t, err)
	require.Equal(t, 1, c.size())

	c.clear()
	require.Equal(t, 0, c.size())

	_, err = s.ExecContext(ctx)
	require.Error(t, err, "statement should be closed by clear()")
}
