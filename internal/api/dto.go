package api

import (
	"github.com/starford/ansuz/internal/itemservice"
	"github.com/starford/ansuz/internal/metaindex"
	"github.com/starford/ansuz/internal/models"
)

// CreateItemRequest is the request body for POST /items. A body that
// carries no ACL, tags, or comment behaves as an upload: it creates the
// item or appends a revision to it. A body with any of those set is a
// strict create and conflicts when the name is taken.
type CreateItemRequest struct {
	Name        string   `json:"name"`
	Namespace   string   `json:"namespace,omitempty"`
	ContentType string   `json:"content_type"`
	Content     string   `json:"content"`
	Comment     string   `json:"comment,omitempty"`
	ACL         string   `json:"acl,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ModifyItemRequest is the request body for PUT /items/*.
type ModifyItemRequest struct {
	Content     string   `json:"content"`
	ContentType string   `json:"content_type,omitempty"`
	Comment     string   `json:"comment,omitempty"`
	ACL         string   `json:"acl,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// RenameRequest is the request body for POST /items/*/+rename.
type RenameRequest struct {
	To string `json:"to"`
}

// UndeleteRequest is the request body for POST /items/*/+undelete.
type UndeleteRequest struct {
	Comment string `json:"comment,omitempty"`
}

// DestroyRequest is the request body for POST /items/*/+destroy.
// Exactly one of Rev or All selects the scope.
type DestroyRequest struct {
	Rev int  `json:"rev,omitempty"`
	All bool `json:"all,omitempty"`
}

// BatchRequest is the request body for POST /batch.
type BatchRequest struct {
	Action          string   `json:"action"`
	ItemNames       []string `json:"item_names"`
	Namespace       string   `json:"namespace,omitempty"`
	Comment         string   `json:"comment,omitempty"`
	IncludeSubitems bool     `json:"include_subitems,omitempty"`
}

// BatchResponse reports one status per affected item.
type BatchResponse struct {
	PerItemStatus []itemservice.ItemStatus `json:"per_item_status"`
}

// ItemDetail is the full item response type (aliased from the domain layer).
type ItemDetail = itemservice.ItemDetail

// ItemListResponse wraps paginated item listings.
type ItemListResponse struct {
	Items []models.IndexEntry `json:"items"`
	Total int                 `json:"total"`
}

// HistoryResponse wraps an item's revision history, tombstones included.
type HistoryResponse struct {
	Name      string            `json:"name"`
	Revisions []models.Revision `json:"revisions"`
}

// TransclusionsResponse wraps the resolved transclusion edges of an item.
type TransclusionsResponse struct {
	Name  string                    `json:"name"`
	Edges []models.TransclusionEdge `json:"edges"`
}

// SearchResponse wraps search hits.
type SearchResponse struct {
	Results []metaindex.SearchHit `json:"results"`
}
