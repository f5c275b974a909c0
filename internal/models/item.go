// Package models defines the domain types for Ansuz.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemID is the stable internal identity of an item. Names can change
// over the item's lifetime; the ItemID never does.
type ItemID string

// NewItemID returns a fresh random ItemID.
func NewItemID() ItemID {
	return ItemID(uuid.NewString())
}

// Item is a named, versioned storage unit.
type Item struct {
	ID        ItemID   `json:"id"`
	Name      string   `json:"name"`
	Namespace string   `json:"namespace,omitempty"`
	Aliases   []string `json:"aliases,omitempty"`
	// LastRev is the highest revision number ever assigned. It never
	// decreases, so revision numbers are not reused after a destroy.
	LastRev int `json:"last_rev"`
}

// Revision is one immutable version of an item's content plus metadata.
// Corrections always create a new revision.
type Revision struct {
	ItemID      ItemID    `json:"item_id"`
	Number      int       `json:"number"`
	ContentHash string    `json:"content_hash,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Author      string    `json:"author,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	ACL         string    `json:"acl,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Tombstone   bool      `json:"tombstone,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RevisionMeta carries the caller-supplied metadata for an append.
type RevisionMeta struct {
	ContentType string
	Author      string
	Comment     string
	ACL         string
	Tags        []string
	Tombstone   bool
}

// IndexEntry is the denormalized projection of an item's latest
// surviving revision held in the metadata index.
type IndexEntry struct {
	ItemID      ItemID    `json:"item_id"`
	Name        string    `json:"name"`
	Namespace   string    `json:"namespace,omitempty"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	RevNumber   int       `json:"rev_number"`
	RevCount    int       `json:"rev_count"`
	Tags        []string  `json:"tags,omitempty"`
	ACL         string    `json:"acl,omitempty"`
	Author      string    `json:"author,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	Tombstone   bool      `json:"tombstone,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// TransclusionEdge is a directed transclusion relation discovered at
// render time. It is recomputed per render, never persisted as truth.
type TransclusionEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Exists bool   `json:"exists"`
	Cyclic bool   `json:"cyclic"`
}
