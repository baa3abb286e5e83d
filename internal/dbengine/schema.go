package dbengine

// requiredIndices is the fixed set verify_indices() checks for. Order
// matters only for deterministic output; presence is what is tested.
var requiredIndices = []string{
	"idx_sessions_timestamp",
	"idx_tab_groups_createdAt",
	"idx_history_url",
	"idx_history_visited_at",
	"idx_bookmarks_url",
	"idx_bookmarks_createdAt",
	"idx_workspaces_name",
	"idx_workspaces_updatedAt",
}

// baselineSchema creates every table, index, and the FTS5 virtual table the
// engine enforces on initialize(). Every statement is IF NOT EXISTS so that
// re-running it against an already-initialized file is a no-op.
const baselineSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tabs        TEXT    NOT NULL,
	activeTabId TEXT,
	timestamp   INTEGER NOT NULL,
	version     TEXT    NOT NULL,
	created_at  INTEGER NOT NULL DEFAULT (strftime('%s','now')*1000)
);
CREATE INDEX IF NOT EXISTS idx_sessions_timestamp ON sessions (timestamp DESC);

CREATE TABLE IF NOT EXISTS tab_groups (
	id          TEXT    PRIMARY KEY,
	name        TEXT    NOT NULL,
	color       TEXT    NOT NULL,
	tabIds      TEXT    NOT NULL,
	isCollapsed INTEGER NOT NULL DEFAULT 0,
	createdAt   INTEGER NOT NULL,
	created_at  INTEGER NOT NULL DEFAULT (strftime('%s','now')*1000)
);
CREATE INDEX IF NOT EXISTS idx_tab_groups_createdAt ON tab_groups (createdAt DESC);

CREATE TABLE IF NOT EXISTS history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	url         TEXT    NOT NULL,
	title       TEXT,
	visited_at  INTEGER NOT NULL,
	visit_count INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL DEFAULT (strftime('%s','now')*1000)
);
CREATE INDEX IF NOT EXISTS idx_history_url ON history (url);
CREATE INDEX IF NOT EXISTS idx_history_visited_at ON history (visited_at DESC);

CREATE TABLE IF NOT EXISTS bookmarks (
	id         TEXT    PRIMARY KEY,
	url        TEXT    NOT NULL,
	title      TEXT    NOT NULL,
	tags       TEXT,
	favicon    TEXT,
	createdAt  INTEGER NOT NULL,
	updatedAt  INTEGER NOT NULL,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s','now')*1000)
);
CREATE INDEX IF NOT EXISTS idx_bookmarks_url ON bookmarks (url);
CREATE INDEX IF NOT EXISTS idx_bookmarks_createdAt ON bookmarks (createdAt DESC);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT    PRIMARY KEY,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now')*1000)
);

CREATE TABLE IF NOT EXISTS workspaces (
	id              TEXT    PRIMARY KEY,
	name            TEXT    NOT NULL UNIQUE,
	description     TEXT,
	createdAt       INTEGER NOT NULL,
	updatedAt       INTEGER NOT NULL,
	sessionSnapshot TEXT    NOT NULL,
	tags            TEXT,
	created_at      INTEGER NOT NULL DEFAULT (strftime('%s','now')*1000)
);
CREATE INDEX IF NOT EXISTS idx_workspaces_name ON workspaces (name);
CREATE INDEX IF NOT EXISTS idx_workspaces_updatedAt ON workspaces (updatedAt DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS history_fts USING fts5(
	url, title, content='history', content_rowid='id'
);
`
