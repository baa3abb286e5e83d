package dbengine

import (
	"context"
	"database/sql"
	"sync"
)

// stmtCache memoizes prepared statements keyed by their SQL text. It has no
// eviction policy: a connection's lifetime is short relative to the SQL
// churn this workload produces, so unbounded growth per connection is
// acceptable. The cache must be cleared before the connection it was
// prepared against is destroyed (I3); clear() does not close the
// statements' underlying connection, only the *sql.Stmt handles.
type stmtCache struct {
	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

func newStmtCache() *stmtCache {
	return &stmtCache{stmts: make(map[string]*sql.Stmt)}
}

// prepare returns the cached statement for query, preparing and caching it
// against db on first miss.
func (c *stmtCache) prepare(ctx context.Context, db *sql.DB, query string) (*sql.Stmt, error) {
	c.mu.RLock()
	stmt, ok := c.stmts[query]
	c.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.stmts[query] = stmt
	return stmt, nil
}

// size reports the number of cached statements; used by tests asserting the
// cache is empty immediately after reconnect (P4).
func (c *stmtCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stmts)
}

// clear closes and drops every cached statement.
func (c *stmtCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stmt := range c.stmts {
		_ = stmt.Close()
	}
	c.stmts = make(map[string]*sql.Stmt)
}
