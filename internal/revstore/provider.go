// Package revstore defines the append-only revision store abstraction.
package revstore

import "github.com/starford/ansuz/internal/models"

// Store is the interface for item and revision persistence. Revisions
// are immutable once appended; the only data-removing operation is
// Destroy, which is irreversible.
type Store interface {
	// CreateItem allocates a new item with a fresh ItemID and no revisions.
	CreateItem(name, namespace string) (*models.Item, error)
	// Item returns the item record for id.
	Item(id models.ItemID) (*models.Item, error)
	// SaveItem persists name/alias changes to the item record.
	SaveItem(item *models.Item) error
	// Items enumerates every item record in the store.
	Items() ([]models.Item, error)

	// Append adds a revision. expected must be the revision number of the
	// latest surviving revision (0 when none); a mismatch or a concurrent
	// winner yields apperr.ErrConflict and no revision is created.
	Append(id models.ItemID, expected int, content []byte, meta models.RevisionMeta) (*models.Revision, error)
	// Get returns one revision's metadata.
	Get(id models.ItemID, number int) (*models.Revision, error)
	// Content returns the content bytes of a revision. Tombstones have
	// empty content.
	Content(id models.ItemID, number int) ([]byte, error)
	// Latest returns the highest-numbered surviving revision, tombstones
	// included.
	Latest(id models.ItemID) (*models.Revision, error)
	// History returns all surviving revisions ascending by number,
	// tombstones included, destroyed revisions excluded.
	History(id models.ItemID) ([]models.Revision, error)

	// Destroy permanently removes one revision. Idempotent: destroying a
	// revision that is already gone is a no-op. Destroying the last
	// remaining revision removes the item record as well.
	Destroy(id models.ItemID, number int) error
	// DestroyAll permanently removes the item and every revision.
	DestroyAll(id models.ItemID) error
}
