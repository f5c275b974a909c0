// Package testutil provides shared test helpers for setting up stores and databases.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/ansuz/internal/metaindex"
	"github.com/starford/ansuz/internal/revstore"
)

// TestDB creates a temporary SQLite metadata index that is automatically
// cleaned up.
func TestDB(t *testing.T) *metaindex.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := metaindex.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary revision store rooted in a fresh temp dir.
func TestStore(t *testing.T) (string, *revstore.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := revstore.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}
