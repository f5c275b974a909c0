//go:build !sqlite_fts5

package metaindex

import (
	"database/sql"
	"fmt"

	"github.com/starford/ansuz/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses a LIKE fallback on the items table.
	return nil
}

func ftsUpsert(_ *sql.Tx, _ models.ItemID, _, _ string, _ []string) error {
	// Body is already stored in the items table; nothing extra to do.
	return nil
}

func ftsDelete(_ *sql.Tx, _ models.ItemID) {}

// searchCurrent performs a LIKE-based search over latest entries
// (fallback when FTS5 is not compiled in). All hits score 1.0.
func (db *DB) searchCurrent(query string, limit int) ([]SearchHit, error) {
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT `+entryColumns+`
		FROM items
		WHERE name LIKE ? OR body LIKE ? OR tags LIKE ?
		ORDER BY mtime DESC, itemid ASC
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, SearchHit{Entry: e, Score: 1.0})
	}
	return out, rows.Err()
}
