package metaindex

import (
	"log/slog"
	"strings"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/revstore"
	"github.com/starford/ansuz/internal/transclude"
)

// ProjectEntry builds the index projection of one revision.
func ProjectEntry(item models.Item, rev models.Revision, revCount int) models.IndexEntry {
	return models.IndexEntry{
		ItemID:      item.ID,
		Name:        item.Name,
		Namespace:   item.Namespace,
		ContentType: rev.ContentType,
		Size:        rev.Size,
		RevNumber:   rev.Number,
		RevCount:    revCount,
		Tags:        rev.Tags,
		ACL:         rev.ACL,
		Author:      rev.Author,
		Comment:     rev.Comment,
		Tombstone:   rev.Tombstone,
		ModifiedAt:  rev.Timestamp,
	}
}

// TextBody returns the searchable text of content, empty for binary
// content types.
func TextBody(contentType string, content []byte) string {
	if strings.HasPrefix(contentType, "text/") {
		return string(content)
	}
	return ""
}

// Sync rebuilds the index from the revision store:
//   - every stored item is re-projected (latest entry, names, history rows)
//   - index entries whose item no longer exists in the store are removed
//
// It is run at startup and after out-of-band store changes; normal
// lifecycle operations keep the index current synchronously.
func Sync(db *DB, store revstore.Store, logger *slog.Logger) error {
	items, err := store.Items()
	if err != nil {
		return err
	}
	known, err := db.AllIDs()
	if err != nil {
		return err
	}

	alive := make(map[models.ItemID]struct{}, len(items))
	for _, item := range items {
		hist, err := store.History(item.ID)
		if err != nil || len(hist) == 0 {
			continue
		}
		alive[item.ID] = struct{}{}

		// Re-project history from scratch so rows for revisions destroyed
		// out of band do not linger.
		_, _ = db.conn.Exec(`DELETE FROM all_revs WHERE itemid = ?`, item.ID)
		for _, rev := range hist {
			body := ""
			if !rev.Tombstone {
				content, err := store.Content(item.ID, rev.Number)
				if err == nil {
					body = TextBody(rev.ContentType, content)
				}
			}
			if err := db.AppendRev(ProjectEntry(item, rev, len(hist)), body); err != nil {
				logger.Warn("sync: history row failed", slog.String("item", string(item.ID)), slog.String("error", err.Error()))
			}
		}

		latest := hist[len(hist)-1]
		body := ""
		if !latest.Tombstone {
			content, err := store.Content(item.ID, latest.Number)
			if err != nil {
				logger.Warn("sync: read failed", slog.String("item", string(item.ID)), slog.String("error", err.Error()))
				continue
			}
			body = TextBody(latest.ContentType, content)
		}
		if err := db.SetNames(item.ID, item.Namespace, item.Name, item.Aliases); err != nil {
			logger.Warn("sync: names failed", slog.String("item", string(item.ID)), slog.String("error", err.Error()))
			continue
		}
		if err := db.UpsertEntry(ProjectEntry(item, latest, len(hist)), body, transclude.Targets(body)); err != nil {
			logger.Warn("sync: upsert failed", slog.String("item", string(item.ID)), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("item", string(item.ID)), slog.String("name", item.Name))
		}
	}

	// Remove stale entries.
	for id := range known {
		if _, ok := alive[id]; !ok {
			if err := db.Remove(id); err != nil {
				logger.Warn("sync: remove failed", slog.String("item", string(id)), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("item", string(id)))
			}
		}
	}

	return nil
}
