package revstore

import (
	"errors"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func mustAppend(t *testing.T, s *FS, id models.ItemID, expected int, content string) *models.Revision {
	t.Helper()
	rev, err := s.Append(id, expected, []byte(content), models.RevisionMeta{ContentType: "text/plain", Author: "alice"})
	if err != nil {
		t.Fatalf("Append(expected=%d): %v", expected, err)
	}
	return rev
}

func TestAppendNumbersAreGapless(t *testing.T) {
	s := tempStore(t)
	item, err := s.CreateItem("Home", "")
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	for i := 0; i < 4; i++ {
		rev := mustAppend(t, s, item.ID, i, "v")
		if rev.Number != i+1 {
			t.Fatalf("rev number = %d, want %d", rev.Number, i+1)
		}
	}

	hist, err := s.History(item.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want 4", len(hist))
	}
	for i, rev := range hist {
		if rev.Number != i+1 {
			t.Errorf("history[%d].Number = %d, want %d", i, rev.Number, i+1)
		}
	}
}

func TestAppendStaleExpectedConflicts(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	mustAppend(t, s, item.ID, 0, "one")

	_, err := s.Append(item.ID, 0, []byte("racer"), models.RevisionMeta{ContentType: "text/plain"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale append error = %v, want ErrConflict", err)
	}

	// The losing append must not have created a revision.
	hist, _ := s.History(item.ID)
	if len(hist) != 1 {
		t.Errorf("history length = %d after lost race, want 1", len(hist))
	}
}

func TestAppendRecoversFromStaleCounter(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	mustAppend(t, s, item.ID, 0, "one")

	// Roll the counter back behind the revision on disk, as a crash
	// between the revision write and the counter save would leave it.
	stale, err := s.Item(item.ID)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	stale.LastRev = 0
	if err := s.SaveItem(stale); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	rev := mustAppend(t, s, item.ID, 1, "two")
	if rev.Number != 2 {
		t.Fatalf("recovered append number = %d, want 2", rev.Number)
	}

	latest, err := s.Latest(item.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Number != 2 {
		t.Errorf("latest = %d, want 2", latest.Number)
	}
}

func TestContentRoundTrip(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	rev := mustAppend(t, s, item.ID, 0, "hello wiki")

	got, err := s.Content(item.ID, rev.Number)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(got) != "hello wiki" {
		t.Errorf("content = %q", got)
	}
	if rev.Size != int64(len("hello wiki")) {
		t.Errorf("size = %d", rev.Size)
	}
}

func TestTombstoneHasNoContent(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	mustAppend(t, s, item.ID, 0, "body")

	ts, err := s.Append(item.ID, 1, nil, models.RevisionMeta{ContentType: "text/plain", Tombstone: true})
	if err != nil {
		t.Fatalf("Append tombstone: %v", err)
	}
	if !ts.Tombstone || ts.ContentHash != "" {
		t.Errorf("tombstone = %+v", ts)
	}

	// Latest still returns the tombstone; the item "exists".
	latest, err := s.Latest(item.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Number != 2 || !latest.Tombstone {
		t.Errorf("latest = %+v", latest)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	mustAppend(t, s, item.ID, 0, "one")
	mustAppend(t, s, item.ID, 1, "two")

	if err := s.Destroy(item.ID, 1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := s.Destroy(item.ID, 1); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}

	if _, err := s.Get(item.ID, 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get destroyed rev error = %v, want ErrNotFound", err)
	}
	latest, err := s.Latest(item.ID)
	if err != nil || latest.Number != 2 {
		t.Errorf("latest = %+v, %v", latest, err)
	}
}

func TestDestroyLastRevisionRemovesItem(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	mustAppend(t, s, item.ID, 0, "only")

	if err := s.Destroy(item.ID, 1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := s.Item(item.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Item error = %v, want ErrNotFound", err)
	}
	if _, err := s.Latest(item.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Latest error = %v, want ErrNotFound", err)
	}
}

func TestNoNumberReuseAfterTopDestroy(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	mustAppend(t, s, item.ID, 0, "one")
	mustAppend(t, s, item.ID, 1, "two")
	mustAppend(t, s, item.ID, 2, "three")

	if err := s.Destroy(item.ID, 3); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	// Latest surviving is now 2; the next append continues from the
	// monotonic counter instead of reissuing 3.
	rev := mustAppend(t, s, item.ID, 2, "four")
	if rev.Number != 4 {
		t.Errorf("rev number after top destroy = %d, want 4", rev.Number)
	}
}

func TestSharedBlobSurvivesSingleDestroy(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	mustAppend(t, s, item.ID, 0, "same bytes")
	mustAppend(t, s, item.ID, 1, "same bytes")

	if err := s.Destroy(item.ID, 1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	got, err := s.Content(item.ID, 2)
	if err != nil {
		t.Fatalf("Content after sibling destroy: %v", err)
	}
	if string(got) != "same bytes" {
		t.Errorf("content = %q", got)
	}
}

func TestDestroyAll(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Home", "")
	mustAppend(t, s, item.ID, 0, "one")
	mustAppend(t, s, item.ID, 1, "two")

	if err := s.DestroyAll(item.ID); err != nil {
		t.Fatalf("DestroyAll: %v", err)
	}
	if err := s.DestroyAll(item.ID); err != nil {
		t.Fatalf("repeat DestroyAll: %v", err)
	}
	if _, err := s.History(item.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("History error = %v, want ErrNotFound", err)
	}
}

func TestRenamePreservesIdentityAndHistory(t *testing.T) {
	s := tempStore(t)
	item, _ := s.CreateItem("Old", "")
	mustAppend(t, s, item.ID, 0, "content")

	item.Name = "New"
	item.Aliases = []string{"Old"}
	if err := s.SaveItem(item); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	got, err := s.Item(item.ID)
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if got.Name != "New" || len(got.Aliases) != 1 || got.Aliases[0] != "Old" {
		t.Errorf("item = %+v", got)
	}
	hist, _ := s.History(item.ID)
	if len(hist) != 1 {
		t.Errorf("history length = %d after rename, want 1", len(hist))
	}
}
