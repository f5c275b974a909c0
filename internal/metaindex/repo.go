package metaindex

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Filter selects and orders index entries for listing.
type Filter struct {
	// ContentTypes restricts to a set of content types; empty means all.
	ContentTypes []string
	// Namespace restricts to one namespace; empty means all.
	Namespace string
	// Tag restricts to entries carrying the tag.
	Tag string
	// Trashed includes tombstoned (deleted) items; the default is the
	// live view.
	Trashed bool
	// SortAsc orders by modification time ascending instead of the
	// default descending. Ties always break by ItemID ascending.
	SortAsc bool

	Limit  int
	Offset int
}

// SearchHit is one search result with its relevance score.
type SearchHit struct {
	Entry models.IndexEntry `json:"entry"`
	Score float64           `json:"score"`
}

// historyScore is the flat score assigned to all_revs scan hits, which
// have no rank of their own.
const historyScore = 1.0

const entryColumns = `itemid, name, namespace, content_type, size, rev_no, rev_count, tags, acl, author, comment, tombstone, mtime`

func scanEntry(row interface{ Scan(...any) error }) (models.IndexEntry, error) {
	var e models.IndexEntry
	var tagsJSON string
	err := row.Scan(&e.ItemID, &e.Name, &e.Namespace, &e.ContentType, &e.Size,
		&e.RevNumber, &e.RevCount, &tagsJSON, &e.ACL, &e.Author, &e.Comment,
		&e.Tombstone, &e.ModifiedAt)
	if err != nil {
		return e, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
	return e, nil
}

// UpsertEntry inserts or replaces the latest-revision projection of an
// item, its FTS entry, and its transclusion edges within a transaction.
func (db *DB) UpsertEntry(e models.IndexEntry, body string, transclusions []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tagsJSON, _ := json.Marshal(e.Tags)

	_, err = tx.Exec(`
		INSERT INTO items (itemid, name, namespace, content_type, size, rev_no, rev_count, tags, acl, author, comment, tombstone, mtime, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(itemid) DO UPDATE SET
			name         = excluded.name,
			namespace    = excluded.namespace,
			content_type = excluded.content_type,
			size         = excluded.size,
			rev_no       = excluded.rev_no,
			rev_count    = excluded.rev_count,
			tags         = excluded.tags,
			acl          = excluded.acl,
			author       = excluded.author,
			comment      = excluded.comment,
			tombstone    = excluded.tombstone,
			mtime        = excluded.mtime,
			body         = excluded.body
	`, e.ItemID, e.Name, e.Namespace, e.ContentType, e.Size, e.RevNumber, e.RevCount,
		string(tagsJSON), e.ACL, e.Author, e.Comment, e.Tombstone, e.ModifiedAt, body)
	if err != nil {
		return fmt.Errorf("index: upsert entry: %w", err)
	}

	if err := ftsUpsert(tx, e.ItemID, e.Name, body, e.Tags); err != nil {
		return err
	}

	// Replace transclusion edges: delete old then bulk insert.
	_, _ = tx.Exec(`DELETE FROM transclusions WHERE source = ?`, e.ItemID)
	if len(transclusions) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO transclusions (source, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare transclusion insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range transclusions {
			if _, err := stmt.Exec(e.ItemID, target); err != nil {
				return fmt.Errorf("index: insert transclusion: %w", err)
			}
		}
	}

	return tx.Commit()
}

// AppendRev records one revision in the all-revisions projection used
// by history search. The revision's ACL travels with the row so
// history hits can be filtered with the same rights as live entries.
func (db *DB) AppendRev(e models.IndexEntry, body string) error {
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO all_revs (itemid, rev_no, name, namespace, content_type, size, acl, author, comment, tombstone, mtime, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ItemID, e.RevNumber, e.Name, e.Namespace, e.ContentType, e.Size, e.ACL, e.Author, e.Comment, e.Tombstone, e.ModifiedAt, body)
	if err != nil {
		return fmt.Errorf("index: append rev: %w", err)
	}
	return nil
}

// RemoveRev drops one destroyed revision from the history projection.
func (db *DB) RemoveRev(id models.ItemID, number int) error {
	_, err := db.conn.Exec(`DELETE FROM all_revs WHERE itemid = ? AND rev_no = ?`, id, number)
	if err != nil {
		return fmt.Errorf("index: remove rev: %w", err)
	}
	return nil
}

// Remove drops an item from every projection: latest entry, names,
// history rows, transclusion edges, and the FTS table.
func (db *DB) Remove(id models.ItemID) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	_, _ = tx.Exec(`DELETE FROM transclusions WHERE source = ?`, id)
	_, _ = tx.Exec(`DELETE FROM item_names WHERE itemid = ?`, id)
	_, _ = tx.Exec(`DELETE FROM all_revs WHERE itemid = ?`, id)
	_, _ = tx.Exec(`DELETE FROM items WHERE itemid = ?`, id)

	return tx.Commit()
}

// SetNames replaces the name registrations of an item: one canonical
// name plus any aliases, unique per namespace.
func (db *DB) SetNames(id models.ItemID, namespace, canonical string, aliases []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM item_names WHERE itemid = ?`, id)
	if _, err := tx.Exec(`INSERT INTO item_names (namespace, name, itemid, alias) VALUES (?, ?, ?, 0)`, namespace, canonical, id); err != nil {
		return fmt.Errorf("index: register name: %w", err)
	}
	for _, a := range aliases {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO item_names (namespace, name, itemid, alias) VALUES (?, ?, ?, 1)`, namespace, a, id); err != nil {
			return fmt.Errorf("index: register alias: %w", err)
		}
	}
	return tx.Commit()
}

// Lookup resolves a name (canonical or alias) to its ItemID.
func (db *DB) Lookup(namespace, name string) (models.ItemID, error) {
	var id models.ItemID
	err := db.conn.QueryRow(`SELECT itemid FROM item_names WHERE namespace = ? AND name = ?`, namespace, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("index: name %q: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("index: lookup: %w", err)
	}
	return id, nil
}

// Entry returns the latest-revision projection for an item.
func (db *DB) Entry(id models.ItemID) (*models.IndexEntry, error) {
	row := db.conn.QueryRow(`SELECT `+entryColumns+` FROM items WHERE itemid = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: item %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: entry: %w", err)
	}
	return &e, nil
}

// List returns entries matching the filter plus the total match count.
// Ordering is by modification time (descending unless SortAsc), ties
// broken by ItemID ascending for determinism.
func (db *DB) List(f Filter) ([]models.IndexEntry, int, error) {
	var where []string
	var args []any

	if !f.Trashed {
		where = append(where, "tombstone = 0")
	}
	if len(f.ContentTypes) > 0 {
		ph := strings.Repeat("?,", len(f.ContentTypes))
		where = append(where, "content_type IN ("+ph[:len(ph)-1]+")")
		for _, ct := range f.ContentTypes {
			args = append(args, ct)
		}
	}
	if f.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.Tag != "" {
		where = append(where, "tags LIKE ?")
		args = append(args, `%"`+f.Tag+`"%`)
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM items`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count: %w", err)
	}

	order := " ORDER BY mtime DESC, itemid ASC"
	if f.SortAsc {
		order = " ORDER BY mtime ASC, itemid ASC"
	}
	// Limit 0 means the default page size; negative means no limit
	// (SQLite treats LIMIT -1 as unbounded).
	limit := f.Limit
	if limit == 0 {
		limit = 100
	}

	rows, err := db.conn.Query(`SELECT `+entryColumns+` FROM items`+cond+order+` LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []models.IndexEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Search finds items matching query. With includeHistory it also scans
// prior and tombstoned revisions through the all_revs projection;
// history hits carry the matching revision's metadata.
func (db *DB) Search(query string, includeHistory bool, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	hits, err := db.searchCurrent(query, limit)
	if err != nil {
		return nil, err
	}
	if !includeHistory {
		return hits, nil
	}

	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		seen[fmt.Sprintf("%s@%d", h.Entry.ItemID, h.Entry.RevNumber)] = struct{}{}
	}

	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT itemid, rev_no, name, namespace, content_type, size, acl, author, comment, tombstone, mtime
		FROM all_revs
		WHERE name LIKE ? OR body LIKE ? OR comment LIKE ?
		ORDER BY mtime DESC
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: history search: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.IndexEntry
		if err := rows.Scan(&e.ItemID, &e.RevNumber, &e.Name, &e.Namespace, &e.ContentType,
			&e.Size, &e.ACL, &e.Author, &e.Comment, &e.Tombstone, &e.ModifiedAt); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%s@%d", e.ItemID, e.RevNumber)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		hits = append(hits, SearchHit{Entry: e, Score: historyScore})
	}
	return hits, rows.Err()
}

// Backrefs returns the ItemIDs of items whose latest content
// transcludes the given target name.
func (db *DB) Backrefs(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT source FROM transclusions WHERE target = ?`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backrefs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AllIDs returns every indexed ItemID.
func (db *DB) AllIDs() (map[models.ItemID]struct{}, error) {
	rows, err := db.conn.Query(`SELECT itemid FROM items`)
	if err != nil {
		return nil, fmt.Errorf("index: all ids: %w", err)
	}
	defer rows.Close()
	out := make(map[models.ItemID]struct{})
	for rows.Next() {
		var id models.ItemID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
