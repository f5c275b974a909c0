// Package metaindex provides the SQLite-backed metadata index over the
// revision store, with optional FTS5 full-text search.
package metaindex

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	itemid       TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	namespace    TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
	size         INTEGER NOT NULL DEFAULT 0,
	rev_no       INTEGER NOT NULL,
	rev_count    INTEGER NOT NULL DEFAULT 1,
	tags         TEXT NOT NULL DEFAULT '[]',
	acl          TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	comment      TEXT NOT NULL DEFAULT '',
	tombstone    INTEGER NOT NULL DEFAULT 0,
	mtime        DATETIME NOT NULL,
	body         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS item_names (
	namespace TEXT NOT NULL DEFAULT '',
	name      TEXT NOT NULL,
	itemid    TEXT NOT NULL,
	alias     INTEGER NOT NULL DEFAULT 0,
	UNIQUE(namespace, name)
);

CREATE TABLE IF NOT EXISTS all_revs (
	itemid       TEXT NOT NULL,
	rev_no       INTEGER NOT NULL,
	name         TEXT NOT NULL,
	namespace    TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	acl          TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	comment      TEXT NOT NULL DEFAULT '',
	tombstone    INTEGER NOT NULL DEFAULT 0,
	mtime        DATETIME NOT NULL,
	body         TEXT NOT NULL DEFAULT '',
	UNIQUE(itemid, rev_no)
);

CREATE TABLE IF NOT EXISTS transclusions (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(source, target)
);

CREATE INDEX IF NOT EXISTS idx_items_mtime ON items(mtime);
CREATE INDEX IF NOT EXISTS idx_names_itemid ON item_names(itemid);
CREATE INDEX IF NOT EXISTS idx_transclusions_target ON transclusions(target);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
