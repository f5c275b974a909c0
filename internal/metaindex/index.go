package metaindex

import "github.com/starford/ansuz/internal/models"

// ItemIndex defines the interface for metadata index operations.
// Consumers should depend on this interface rather than the concrete
// *DB type to facilitate testing with mocks.
type ItemIndex interface {
	UpsertEntry(e models.IndexEntry, body string, transclusions []string) error
	AppendRev(e models.IndexEntry, body string) error
	RemoveRev(id models.ItemID, number int) error
	Remove(id models.ItemID) error
	SetNames(id models.ItemID, namespace, canonical string, aliases []string) error
	Lookup(namespace, name string) (models.ItemID, error)
	Entry(id models.ItemID) (*models.IndexEntry, error)
	List(f Filter) ([]models.IndexEntry, int, error)
	Search(query string, includeHistory bool, limit int) ([]SearchHit, error)
	Backrefs(target string) ([]string, error)
	AllIDs() (map[models.ItemID]struct{}, error)
	Close() error
}

// Verify *DB satisfies ItemIndex at compile time.
var _ ItemIndex = (*DB)(nil)
