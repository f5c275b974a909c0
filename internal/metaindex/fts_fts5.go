//go:build sqlite_fts5

package metaindex

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
			itemid UNINDEXED,
			name,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id models.ItemID, name, body string, tags []string) error {
	_, _ = tx.Exec(`DELETE FROM items_fts WHERE itemid = ?`, id)
	_, err := tx.Exec(`INSERT INTO items_fts (itemid, name, body, tags) VALUES (?, ?, ?, ?)`,
		id, name, body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id models.ItemID) {
	_, _ = tx.Exec(`DELETE FROM items_fts WHERE itemid = ?`, id)
}

// searchCurrent performs an FTS5 search over latest entries. The bm25
// rank is negative-is-better; it is negated so callers see higher
// scores as more relevant.
func (db *DB) searchCurrent(query string, limit int) ([]SearchHit, error) {
	rows, err := db.conn.Query(`
		SELECT `+entryColumns+`, -items_fts.rank
		FROM items_fts
		JOIN items ON items.itemid = items_fts.itemid
		WHERE items_fts MATCH ?
		ORDER BY items_fts.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		var tagsJSON string
		err := rows.Scan(&h.Entry.ItemID, &h.Entry.Name, &h.Entry.Namespace, &h.Entry.ContentType,
			&h.Entry.Size, &h.Entry.RevNumber, &h.Entry.RevCount, &tagsJSON, &h.Entry.ACL,
			&h.Entry.Author, &h.Entry.Comment, &h.Entry.Tombstone, &h.Entry.ModifiedAt, &h.Score)
		if err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &h.Entry.Tags)
		out = append(out, h)
	}
	return out, rows.Err()
}
