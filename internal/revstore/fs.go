package revstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/models"
)

const (
	itemsDir = "items"
	revsDir  = "revs"
	dataDir  = "data"
	itemFile = "item.json"
)

// FS implements Store backed by the local file system.
//
// Layout under root:
//
//	items/<itemid>/item.json      item record, monotonic LastRev counter
//	items/<itemid>/revs/<n>.json  revision metadata, one file per revision
//	items/<itemid>/data/<sha256>  content blobs, addressed by digest
//
// Blobs are scoped per item so destroying revisions can reclaim them
// without cross-item reference counting.
type FS struct {
	root string
}

// NewFS creates a store rooted at the given directory, which must
// already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("revstore: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("revstore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("revstore: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute store root directory.
func (f *FS) Root() string {
	return f.root
}

// itemDir validates the id and returns the item's directory. IDs come
// from our own UUID generator, but records can arrive over the wire, so
// traversal is rejected here the same way item names are elsewhere.
func (f *FS) itemDir(id models.ItemID) (string, error) {
	s := string(id)
	if s == "" || s != filepath.Base(filepath.Clean(s)) || strings.Contains(s, "..") {
		return "", fmt.Errorf("revstore: invalid item id: %q", s)
	}
	return filepath.Join(f.root, itemsDir, s), nil
}

func revPath(dir string, number int) string {
	return filepath.Join(dir, revsDir, strconv.Itoa(number)+".json")
}

// writeFileAtomic writes content via tmp file, fsync, rename.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("revstore: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ansuz-tmp-*")
	if err != nil {
		return fmt.Errorf("revstore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("revstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("revstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("revstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("revstore: rename: %w", err)
	}
	success = true
	return nil
}

// CreateItem allocates a new item directory with a fresh ItemID.
func (f *FS) CreateItem(name, namespace string) (*models.Item, error) {
	item := &models.Item{
		ID:        models.NewItemID(),
		Name:      name,
		Namespace: namespace,
	}
	dir, err := f.itemDir(item.ID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, revsDir), 0o755); err != nil {
		return nil, fmt.Errorf("revstore: create item dirs: %w", err)
	}
	if err := f.SaveItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Item reads the item record for id.
func (f *FS) Item(id models.ItemID) (*models.Item, error) {
	dir, err := f.itemDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, itemFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("revstore: item %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("revstore: read item %s: %w", id, err)
	}
	var item models.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("revstore: decode item %s: %w", id, err)
	}
	return &item, nil
}

// SaveItem persists the item record atomically.
func (f *FS) SaveItem(item *models.Item) error {
	dir, err := f.itemDir(item.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("revstore: encode item %s: %w", item.ID, err)
	}
	return writeFileAtomic(filepath.Join(dir, itemFile), data)
}

// Items enumerates every item record.
func (f *FS) Items() ([]models.Item, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, itemsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("revstore: list items: %w", err)
	}
	var out []models.Item
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		item, err := f.Item(models.ItemID(e.Name()))
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *item)
	}
	return out, nil
}

// revNumbers returns the surviving revision numbers ascending.
func (f *FS) revNumbers(dir string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(dir, revsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("revstore: list revisions: %w", err)
	}
	var nums []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(name)
		if err != nil || n < 1 {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// Append adds a revision using optimistic concurrency. The revision
// file is created with O_EXCL, so of two concurrent writers racing on
// the same expected number exactly one wins; the loser gets ErrConflict
// and no revision.
func (f *FS) Append(id models.ItemID, expected int, content []byte, meta models.RevisionMeta) (*models.Revision, error) {
	item, err := f.Item(id)
	if err != nil {
		return nil, err
	}
	dir, err := f.itemDir(id)
	if err != nil {
		return nil, err
	}
	nums, err := f.revNumbers(dir)
	if err != nil {
		return nil, err
	}
	latest := 0
	if len(nums) > 0 {
		latest = nums[len(nums)-1]
	}
	if expected != latest {
		return nil, fmt.Errorf("revstore: expected rev %d, latest is %d: %w", expected, latest, apperr.ErrConflict)
	}

	// A crash between writing a revision file and persisting the bumped
	// counter leaves the file ahead of LastRev; deriving the next number
	// from both keeps such an item appendable.
	next := item.LastRev + 1
	if latest >= next {
		next = latest + 1
	}

	rev := &models.Revision{
		ItemID:      id,
		Number:      next,
		Size:        int64(len(content)),
		ContentType: meta.ContentType,
		Author:      meta.Author,
		Comment:     meta.Comment,
		ACL:         meta.ACL,
		Tags:        meta.Tags,
		Tombstone:   meta.Tombstone,
		Timestamp:   time.Now().UTC(),
	}
	if !meta.Tombstone {
		rev.ContentHash = checksum.Sum(content)
		blob := filepath.Join(dir, dataDir, rev.ContentHash)
		if _, err := os.Stat(blob); errors.Is(err, os.ErrNotExist) {
			if err := writeFileAtomic(blob, content); err != nil {
				return nil, err
			}
		}
	}

	data, err := json.Marshal(rev)
	if err != nil {
		return nil, fmt.Errorf("revstore: encode revision: %w", err)
	}
	rf, err := os.OpenFile(revPath(dir, rev.Number), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("revstore: rev %d already written: %w", rev.Number, apperr.ErrConflict)
		}
		return nil, fmt.Errorf("revstore: create revision file: %w", err)
	}
	if _, err := rf.Write(data); err != nil {
		rf.Close()
		return nil, fmt.Errorf("revstore: write revision file: %w", err)
	}
	if err := rf.Sync(); err != nil {
		rf.Close()
		return nil, fmt.Errorf("revstore: fsync revision file: %w", err)
	}
	if err := rf.Close(); err != nil {
		return nil, fmt.Errorf("revstore: close revision file: %w", err)
	}

	item.LastRev = rev.Number
	if err := f.SaveItem(item); err != nil {
		return nil, err
	}
	return rev, nil
}

// Get reads one revision's metadata.
func (f *FS) Get(id models.ItemID, number int) (*models.Revision, error) {
	dir, err := f.itemDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(revPath(dir, number))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("revstore: item %s rev %d: %w", id, number, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("revstore: read revision: %w", err)
	}
	var rev models.Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return nil, fmt.Errorf("revstore: decode revision: %w", err)
	}
	return &rev, nil
}

// Content returns the content bytes of a revision.
func (f *FS) Content(id models.ItemID, number int) ([]byte, error) {
	rev, err := f.Get(id, number)
	if err != nil {
		return nil, err
	}
	if rev.Tombstone {
		return nil, nil
	}
	dir, err := f.itemDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, dataDir, rev.ContentHash))
	if err != nil {
		return nil, fmt.Errorf("revstore: read content %s rev %d: %w", id, number, err)
	}
	return data, nil
}

// Latest returns the highest-numbered surviving revision.
func (f *FS) Latest(id models.ItemID) (*models.Revision, error) {
	dir, err := f.itemDir(id)
	if err != nil {
		return nil, err
	}
	nums, err := f.revNumbers(dir)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("revstore: item %s has no revisions: %w", id, apperr.ErrNotFound)
	}
	return f.Get(id, nums[len(nums)-1])
}

// History returns all surviving revisions ascending by number.
func (f *FS) History(id models.ItemID) ([]models.Revision, error) {
	if _, err := f.Item(id); err != nil {
		return nil, err
	}
	dir, err := f.itemDir(id)
	if err != nil {
		return nil, err
	}
	nums, err := f.revNumbers(dir)
	if err != nil {
		return nil, err
	}
	out := make([]models.Revision, 0, len(nums))
	for _, n := range nums {
		rev, err := f.Get(id, n)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *rev)
	}
	return out, nil
}

// Destroy permanently removes one revision. Idempotent.
func (f *FS) Destroy(id models.ItemID, number int) error {
	dir, err := f.itemDir(id)
	if err != nil {
		return err
	}
	rev, err := f.Get(id, number)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := os.Remove(revPath(dir, number)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("revstore: destroy rev %d: %w", number, err)
	}

	nums, err := f.revNumbers(dir)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return f.DestroyAll(id)
	}

	// Reclaim the blob unless another surviving revision shares it.
	if rev.ContentHash != "" {
		shared := false
		for _, n := range nums {
			other, err := f.Get(id, n)
			if err != nil {
				continue
			}
			if other.ContentHash == rev.ContentHash {
				shared = true
				break
			}
		}
		if !shared {
			_ = os.Remove(filepath.Join(dir, dataDir, rev.ContentHash))
		}
	}
	return nil
}

// DestroyAll permanently removes the item and every revision. Idempotent.
func (f *FS) DestroyAll(id models.ItemID) error {
	dir, err := f.itemDir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("revstore: destroy item %s: %w", id, err)
	}
	return nil
}

var _ Store = (*FS)(nil)
