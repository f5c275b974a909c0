// Package itemservice orchestrates item lifecycle transitions over the
// revision store and metadata index, enforcing ACLs.
//
// Item states: absent -> active -> deleted -> active (undelete), with
// destroy as the terminal, irreversible exit from active or deleted.
package itemservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/ansuz/internal/acl"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/metaindex"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/naming"
	"github.com/starford/ansuz/internal/revstore"
	"github.com/starford/ansuz/internal/transclude"
)

// defaultListLimit is the page size when the caller does not set one.
const defaultListLimit = 100

// EventFunc is notified after successful mutations. kind is one of
// "created", "updated", "deleted", "destroyed".
type EventFunc func(kind, name string)

// Service coordinates store, index, and ACL checks.
type Service struct {
	store  revstore.Store
	idx    metaindex.ItemIndex
	eval   *acl.Evaluator
	events EventFunc
}

// NewService creates a lifecycle service.
func NewService(store revstore.Store, idx metaindex.ItemIndex, eval *acl.Evaluator) *Service {
	return &Service{store: store, idx: idx, eval: eval}
}

// OnEvent registers the mutation notification hook.
func (s *Service) OnEvent(fn EventFunc) {
	s.events = fn
}

func (s *Service) notify(kind, name string) {
	if s.events != nil {
		s.events(kind, name)
	}
}

// ItemDetail is the full representation of an item's latest revision.
type ItemDetail struct {
	models.IndexEntry
	Content  string   `json:"content,omitempty"`
	Backrefs []string `json:"backrefs,omitempty"`
}

// CreateRequest carries the inputs of a create operation.
type CreateRequest struct {
	Name        string
	Namespace   string
	ContentType string
	Content     []byte
	Comment     string
	ACL         string
	Tags        []string
}

// ModifyMeta carries the optional metadata of a modify. Empty fields
// carry the previous revision's values forward.
type ModifyMeta struct {
	ContentType string
	Comment     string
	ACL         string
	Tags        []string
}

func (s *Service) check(user, aclString, right, name string) error {
	if s.eval.May(user, aclString, right) {
		return nil
	}
	return fmt.Errorf("itemservice: %s on %q denied for %q: %w", right, name, userLabel(user), apperr.ErrForbidden)
}

func userLabel(user string) string {
	if user == acl.Anonymous {
		return "anonymous"
	}
	return user
}

// resolve maps a name (canonical or alias) to its item record and
// latest surviving revision, which may be a tombstone.
func (s *Service) resolve(namespace, name string) (*models.Item, *models.Revision, error) {
	id, err := s.idx.Lookup(namespace, name)
	if err != nil {
		return nil, nil, err
	}
	item, err := s.store.Item(id)
	if err != nil {
		return nil, nil, err
	}
	latest, err := s.store.Latest(id)
	if err != nil {
		return nil, nil, err
	}
	return item, latest, nil
}

// indexAppend records rev in both index projections: the history row
// and, as the new latest, the denormalized entry. Runs synchronously
// with the store mutation so the index is never observably stale for
// the calling client.
func (s *Service) indexAppend(item *models.Item, rev *models.Revision, content []byte) error {
	hist, err := s.store.History(item.ID)
	if err != nil {
		return err
	}
	body := ""
	if !rev.Tombstone {
		body = metaindex.TextBody(rev.ContentType, content)
	}
	entry := metaindex.ProjectEntry(*item, *rev, len(hist))
	if err := s.idx.AppendRev(entry, body); err != nil {
		return err
	}
	if err := s.idx.SetNames(item.ID, item.Namespace, item.Name, item.Aliases); err != nil {
		return err
	}
	return s.idx.UpsertEntry(entry, body, transclude.Targets(body))
}

// Create brings a new item into existence with revision 1.
func (s *Service) Create(_ context.Context, user string, req CreateRequest) (*ItemDetail, error) {
	if err := naming.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if err := naming.ValidateContentType(req.ContentType); err != nil {
		return nil, err
	}
	// Create is gated by the configured default ACL; the request ACL
	// only governs the item once it exists.
	if err := s.check(user, "", acl.Create, req.Name); err != nil {
		return nil, err
	}
	if _, err := s.idx.Lookup(req.Namespace, req.Name); err == nil {
		return nil, fmt.Errorf("itemservice: item %q: %w", req.Name, apperr.ErrAlreadyExists)
	}

	item, err := s.store.CreateItem(req.Name, req.Namespace)
	if err != nil {
		return nil, err
	}
	rev, err := s.store.Append(item.ID, 0, req.Content, models.RevisionMeta{
		ContentType: req.ContentType,
		Author:      user,
		Comment:     req.Comment,
		ACL:         req.ACL,
		Tags:        req.Tags,
	})
	if err != nil {
		// First append failed; reclaim the empty item record.
		_ = s.store.DestroyAll(item.ID)
		return nil, err
	}
	item.LastRev = rev.Number
	if err := s.indexAppend(item, rev, req.Content); err != nil {
		return nil, err
	}
	s.notify("created", req.Name)
	return s.detail(item, rev, req.Content)
}

// Modify appends a new revision to an active item. expectedRev is the
// revision number the caller believes is current; a mismatch means
// another writer won the race and surfaces as ErrConflict.
func (s *Service) Modify(_ context.Context, user, namespace, name string, content []byte, expectedRev int, meta ModifyMeta) (*ItemDetail, error) {
	item, latest, err := s.resolve(namespace, name)
	if err != nil {
		return nil, err
	}
	if latest.Tombstone {
		return nil, fmt.Errorf("itemservice: item %q is deleted: %w", name, apperr.ErrNotFound)
	}
	if err := s.check(user, latest.ACL, acl.Write, name); err != nil {
		return nil, err
	}

	rev, err := s.store.Append(item.ID, expectedRev, content, nextMeta(user, latest, meta))
	if err != nil {
		return nil, err
	}
	if err := s.indexAppend(item, rev, content); err != nil {
		return nil, err
	}
	s.notify("updated", name)
	return s.detail(item, rev, content)
}

// nextMeta merges caller metadata with values carried forward from the
// previous revision.
func nextMeta(user string, prev *models.Revision, meta ModifyMeta) models.RevisionMeta {
	m := models.RevisionMeta{
		ContentType: meta.ContentType,
		Author:      user,
		Comment:     meta.Comment,
		ACL:         meta.ACL,
		Tags:        meta.Tags,
	}
	if m.ContentType == "" {
		m.ContentType = prev.ContentType
	}
	if m.ACL == "" {
		m.ACL = prev.ACL
	}
	if m.Tags == nil {
		m.Tags = prev.Tags
	}
	return m
}

// Append atomically appends suffix to the item's current content. This
// is the pure-append edit path (comment posts): losing the optimistic
// race is resolved by re-reading and retrying exactly once; a second
// conflict surfaces to the caller.
func (s *Service) Append(ctx context.Context, user, namespace, name string, suffix []byte, comment string) (*ItemDetail, error) {
	for attempt := 0; ; attempt++ {
		item, latest, err := s.resolve(namespace, name)
		if err != nil {
			return nil, err
		}
		if latest.Tombstone {
			return nil, fmt.Errorf("itemservice: item %q is deleted: %w", name, apperr.ErrNotFound)
		}
		if err := s.check(user, latest.ACL, acl.Write, name); err != nil {
			return nil, err
		}
		current, err := s.store.Content(item.ID, latest.Number)
		if err != nil {
			return nil, err
		}

		content := append(append([]byte{}, current...), suffix...)
		rev, err := s.store.Append(item.ID, latest.Number, content, nextMeta(user, latest, ModifyMeta{Comment: comment}))
		if errors.Is(err, apperr.ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := s.indexAppend(item, rev, content); err != nil {
			return nil, err
		}
		s.notify("updated", name)
		return s.detail(item, rev, content)
	}
}

// Rename changes the canonical name. The old name remains as an alias,
// the ItemID and all revisions are preserved.
func (s *Service) Rename(_ context.Context, user, namespace, oldName, newName string) (*ItemDetail, error) {
	if err := naming.ValidateName(newName); err != nil {
		return nil, err
	}
	item, latest, err := s.resolve(namespace, oldName)
	if err != nil {
		return nil, err
	}
	if err := s.check(user, latest.ACL, acl.Write, oldName); err != nil {
		return nil, err
	}
	if id, err := s.idx.Lookup(namespace, newName); err == nil && id != item.ID {
		return nil, fmt.Errorf("itemservice: name %q: %w", newName, apperr.ErrAlreadyExists)
	}

	if item.Name != newName {
		aliases := []string{item.Name}
		for _, a := range item.Aliases {
			if a != newName && a != item.Name {
				aliases = append(aliases, a)
			}
		}
		item.Name = newName
		item.Aliases = aliases
		if err := s.store.SaveItem(item); err != nil {
			return nil, err
		}
	}

	var content []byte
	if !latest.Tombstone {
		content, err = s.store.Content(item.ID, latest.Number)
		if err != nil {
			return nil, err
		}
	}
	if err := s.indexAppend(item, latest, content); err != nil {
		return nil, err
	}
	s.notify("updated", newName)
	return s.detail(item, latest, content)
}

// Delete soft-deletes an item by appending a tombstone revision.
// History is preserved; a later Undelete reverses it. Deleting an item
// that is already deleted is a no-op.
func (s *Service) Delete(_ context.Context, user, namespace, name, comment string) error {
	item, latest, err := s.resolve(namespace, name)
	if err != nil {
		return err
	}
	if latest.Tombstone {
		return nil
	}
	if err := s.check(user, latest.ACL, acl.Delete, name); err != nil {
		return err
	}

	meta := nextMeta(user, latest, ModifyMeta{Comment: comment})
	meta.Tombstone = true
	rev, err := s.store.Append(item.ID, latest.Number, nil, meta)
	if err != nil {
		return err
	}
	if err := s.indexAppend(item, rev, nil); err != nil {
		return err
	}
	s.notify("deleted", name)
	return nil
}

// Undelete reactivates a deleted item by appending a normal revision
// carrying the content of the newest pre-tombstone revision.
func (s *Service) Undelete(_ context.Context, user, namespace, name, comment string) (*ItemDetail, error) {
	item, latest, err := s.resolve(namespace, name)
	if err != nil {
		return nil, err
	}
	if !latest.Tombstone {
		return nil, fmt.Errorf("itemservice: item %q is not deleted: %w", name, apperr.ErrValidation)
	}
	if err := s.check(user, latest.ACL, acl.Write, name); err != nil {
		return nil, err
	}

	hist, err := s.store.History(item.ID)
	if err != nil {
		return nil, err
	}
	var prior *models.Revision
	for i := len(hist) - 1; i >= 0; i-- {
		if !hist[i].Tombstone {
			prior = &hist[i]
			break
		}
	}
	if prior == nil {
		return nil, fmt.Errorf("itemservice: item %q has no restorable revision: %w", name, apperr.ErrNotFound)
	}
	content, err := s.store.Content(item.ID, prior.Number)
	if err != nil {
		return nil, err
	}

	meta := nextMeta(user, prior, ModifyMeta{Comment: comment})
	rev, err := s.store.Append(item.ID, latest.Number, content, meta)
	if err != nil {
		return nil, err
	}
	if err := s.indexAppend(item, rev, content); err != nil {
		return nil, err
	}
	s.notify("updated", name)
	return s.detail(item, rev, content)
}

// Destroy permanently removes one revision, or the whole item when all
// is set. Irreversible: there is no undo, and interrupted batches leave
// completed destroys in place.
func (s *Service) Destroy(_ context.Context, user, namespace, name string, revNumber int, all bool) error {
	item, latest, err := s.resolve(namespace, name)
	if err != nil {
		return err
	}
	if err := s.check(user, latest.ACL, acl.Destroy, name); err != nil {
		return err
	}

	if all {
		if err := s.store.DestroyAll(item.ID); err != nil {
			return err
		}
		if err := s.idx.Remove(item.ID); err != nil {
			return err
		}
		s.notify("destroyed", name)
		return nil
	}

	if err := s.store.Destroy(item.ID, revNumber); err != nil {
		return err
	}
	if err := s.idx.RemoveRev(item.ID, revNumber); err != nil {
		return err
	}

	// Destroying the last revision removed the item entirely; otherwise
	// the latest projection may have changed and must be recomputed.
	if _, err := s.store.Item(item.ID); errors.Is(err, apperr.ErrNotFound) {
		if err := s.idx.Remove(item.ID); err != nil {
			return err
		}
		s.notify("destroyed", name)
		return nil
	}
	newLatest, err := s.store.Latest(item.ID)
	if err != nil {
		return err
	}
	var content []byte
	if !newLatest.Tombstone {
		content, err = s.store.Content(item.ID, newLatest.Number)
		if err != nil {
			return err
		}
	}
	if err := s.indexAppend(item, newLatest, content); err != nil {
		return err
	}
	s.notify("destroyed", name)
	return nil
}

// Undestroy always fails: destroy is irreversible by contract.
func (s *Service) Undestroy(_ context.Context, _, _, name string) error {
	return fmt.Errorf("itemservice: cannot undo destroy of %q: %w", name, apperr.ErrIrreversible)
}

// Get returns the item's detail at its latest surviving revision, or at
// revNumber when > 0.
func (s *Service) Get(_ context.Context, user, namespace, name string, revNumber int) (*ItemDetail, error) {
	item, latest, err := s.resolve(namespace, name)
	if err != nil {
		return nil, err
	}
	if err := s.check(user, latest.ACL, acl.Read, name); err != nil {
		return nil, err
	}
	rev := latest
	if revNumber > 0 {
		rev, err = s.store.Get(item.ID, revNumber)
		if err != nil {
			return nil, err
		}
	}
	var content []byte
	if !rev.Tombstone {
		content, err = s.store.Content(item.ID, rev.Number)
		if err != nil {
			return nil, err
		}
	}
	return s.detail(item, rev, content)
}

// History returns all surviving revisions ascending, tombstones included.
func (s *Service) History(_ context.Context, user, namespace, name string) ([]models.Revision, error) {
	item, latest, err := s.resolve(namespace, name)
	if err != nil {
		return nil, err
	}
	if err := s.check(user, latest.ACL, acl.Read, name); err != nil {
		return nil, err
	}
	return s.store.History(item.ID)
}

// List returns index entries matching the filter, restricted to items
// the user may read. Pagination is applied after the ACL filter so
// pages stay full and the total counts only visible items.
func (s *Service) List(_ context.Context, user string, f metaindex.Filter) ([]models.IndexEntry, int, error) {
	limit, offset := f.Limit, f.Offset
	if limit == 0 {
		limit = defaultListLimit
	}
	f.Limit, f.Offset = -1, 0

	entries, _, err := s.idx.List(f)
	if err != nil {
		return nil, 0, err
	}
	readable := entries[:0]
	for _, e := range entries {
		if s.eval.May(user, e.ACL, acl.Read) {
			readable = append(readable, e)
		}
	}
	total := len(readable)

	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	page := readable[offset:]
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}
	return page, total, nil
}

// Search delegates to the index, restricted to readable items.
func (s *Service) Search(_ context.Context, user, query string, includeHistory bool, limit int) ([]metaindex.SearchHit, error) {
	hits, err := s.idx.Search(query, includeHistory, limit)
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if s.eval.May(user, h.Entry.ACL, acl.Read) {
			out = append(out, h)
		}
	}
	return out, nil
}

// LatestContent implements transclude.Source. Deleted and destroyed
// items report ErrNotFound so transclusions of them render as broken;
// items the user may not read report ErrForbidden so resolution cannot
// bypass the read gate that Get enforces.
func (s *Service) LatestContent(_ context.Context, user, namespace, name string) ([]byte, string, error) {
	item, latest, err := s.resolve(namespace, name)
	if err != nil {
		return nil, "", err
	}
	if err := s.check(user, latest.ACL, acl.Read, name); err != nil {
		return nil, "", err
	}
	if latest.Tombstone {
		return nil, "", fmt.Errorf("itemservice: item %q is deleted: %w", name, apperr.ErrNotFound)
	}
	content, err := s.store.Content(item.ID, latest.Number)
	if err != nil {
		return nil, "", err
	}
	return content, latest.ContentType, nil
}

// Upload creates the named item or appends a revision to it, whichever
// applies. This backs the single-item upload boundary.
func (s *Service) Upload(ctx context.Context, user, namespace, name, contentType string, content []byte) (*ItemDetail, error) {
	_, latest, err := s.resolve(namespace, name)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return s.Create(ctx, user, CreateRequest{
			Name:        name,
			Namespace:   namespace,
			ContentType: contentType,
			Content:     content,
			Comment:     "uploaded",
		})
	case err != nil:
		return nil, err
	case latest.Tombstone:
		return nil, fmt.Errorf("itemservice: item %q is deleted: %w", name, apperr.ErrNotFound)
	}
	return s.Modify(ctx, user, namespace, name, content, latest.Number, ModifyMeta{
		ContentType: contentType,
		Comment:     "uploaded",
	})
}

func (s *Service) detail(item *models.Item, rev *models.Revision, content []byte) (*ItemDetail, error) {
	hist, err := s.store.History(item.ID)
	if err != nil {
		return nil, err
	}
	d := &ItemDetail{
		IndexEntry: metaindex.ProjectEntry(*item, *rev, len(hist)),
	}
	if !rev.Tombstone {
		d.Content = string(content)
	}
	sources, err := s.idx.Backrefs(item.Name)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if e, err := s.idx.Entry(models.ItemID(src)); err == nil {
			d.Backrefs = append(d.Backrefs, e.Name)
		}
	}
	return d, nil
}
