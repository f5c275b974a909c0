package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/itemservice"
	"github.com/starford/ansuz/internal/metaindex"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/transclude"
)

// Handler holds API route handlers.
type Handler struct {
	svc      *itemservice.Service
	resolver *transclude.Resolver
}

// NewHandler creates a new Handler.
func NewHandler(svc *itemservice.Service, resolver *transclude.Resolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

// itemName extracts the item name from the URL (everything after /items/).
// Supports encoded slashes from OpenAPI clients (e.g. Proj%2FSub).
func itemName(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// splitVerb peels a trailing "+verb" segment off an item path. Item
// names cannot contain "+"-prefixed segments, so the split is exact.
func splitVerb(path string) (name, verb string) {
	i := strings.LastIndex(path, "/")
	if i >= 0 && strings.HasPrefix(path[i+1:], "+") {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// writeError maps domain errors onto HTTP statuses. Unclassified errors
// log and surface as 500 without leaking internals.
func writeError(w http.ResponseWriter, err error, op, name string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody("forbidden"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("revision conflict"))
	case errors.Is(err, apperr.ErrIrreversible):
		writeJSON(w, http.StatusGone, errorBody("destroyed revisions cannot be restored"))
	default:
		slog.Error(op+" failed", slog.String("item", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListItems handles GET /api/items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	f := metaindex.Filter{
		Namespace: q.Get("ns"),
		Tag:       q.Get("tag"),
		Trashed:   q.Get("trashed") == "1" || q.Get("trashed") == "true",
		SortAsc:   q.Get("sort") == "mtime",
		Limit:     limit,
		Offset:    offset,
	}
	if cts := q.Get("content_type"); cts != "" {
		for _, ct := range strings.Split(cts, ",") {
			if ct = strings.TrimSpace(ct); ct != "" {
				f.ContentTypes = append(f.ContentTypes, ct)
			}
		}
	}

	items, total, err := h.svc.List(r.Context(), Principal(r.Context()), f)
	if err != nil {
		writeError(w, err, "list items", "")
		return
	}
	if items == nil {
		items = []models.IndexEntry{}
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items, Total: total})
}

// CreateItem handles POST /api/items. Bodies without ACL, tags, or
// comment upload: create the item or append to it. Bodies with any of
// those are a strict create.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" || req.ContentType == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name and content_type are required"))
		return
	}

	user := Principal(r.Context())
	var (
		detail *ItemDetail
		err    error
	)
	if req.ACL == "" && req.Comment == "" && len(req.Tags) == 0 {
		detail, err = h.svc.Upload(r.Context(), user, req.Namespace, req.Name, req.ContentType, []byte(req.Content))
	} else {
		detail, err = h.svc.Create(r.Context(), user, itemservice.CreateRequest{
			Name:        req.Name,
			Namespace:   req.Namespace,
			ContentType: req.ContentType,
			Content:     []byte(req.Content),
			Comment:     req.Comment,
			ACL:         req.ACL,
			Tags:        req.Tags,
		})
	}
	if err != nil {
		writeError(w, err, "create item", req.Name)
		return
	}
	status := http.StatusOK
	if detail.RevNumber == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, detail)
}

// GetItem handles GET /api/items/* including the +history and
// +transclusions sub-resources.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	path := itemName(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("item name is required"))
		return
	}
	name, verb := splitVerb(path)
	switch verb {
	case "":
		h.getItem(w, r, name)
	case "+history":
		h.history(w, r, name)
	case "+transclusions":
		h.transclusions(w, r, name)
	default:
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	}
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request, name string) {
	q := r.URL.Query()
	ns := q.Get("ns")
	rev, _ := strconv.Atoi(q.Get("rev"))

	detail, err := h.svc.Get(r.Context(), Principal(r.Context()), ns, name, rev)
	if err != nil {
		writeError(w, err, "get item", name)
		return
	}

	if rev == 0 && (q.Get("resolved") == "1" || q.Get("resolved") == "true") {
		body, err := h.resolver.Resolve(r.Context(), Principal(r.Context()), ns, name)
		if err != nil {
			writeError(w, err, "resolve transclusions", name)
			return
		}
		detail.Content = body
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, name string) {
	revs, err := h.svc.History(r.Context(), Principal(r.Context()), r.URL.Query().Get("ns"), name)
	if err != nil {
		writeError(w, err, "item history", name)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Name: name, Revisions: revs})
}

func (h *Handler) transclusions(w http.ResponseWriter, r *http.Request, name string) {
	ns := r.URL.Query().Get("ns")
	edges, err := h.resolver.Edges(r.Context(), Principal(r.Context()), ns, name)
	if err != nil {
		writeError(w, err, "item transclusions", name)
		return
	}
	writeJSON(w, http.StatusOK, TransclusionsResponse{Name: name, Edges: edges})
}

// ModifyItem handles PUT /api/items/* with If-Match revision numbers for
// optimistic concurrency. Without If-Match the write lands on whatever
// revision is current (last write wins).
func (h *Handler) ModifyItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	path := itemName(r)
	name, verb := splitVerb(path)
	if name == "" || verb != "" {
		writeJSON(w, http.StatusBadRequest, errorBody("item name is required"))
		return
	}

	var req ModifyItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	user := Principal(r.Context())
	ns := r.URL.Query().Get("ns")

	expected := 0
	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		n, err := strconv.Atoi(ifMatch)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("If-Match must be a revision number"))
			return
		}
		expected = n
	} else {
		current, err := h.svc.Get(r.Context(), user, ns, name, 0)
		if err != nil {
			writeError(w, err, "modify item", name)
			return
		}
		expected = current.RevNumber
	}

	detail, err := h.svc.Modify(r.Context(), user, ns, name, []byte(req.Content), expected, itemservice.ModifyMeta{
		ContentType: req.ContentType,
		Comment:     req.Comment,
		ACL:         req.ACL,
		Tags:        req.Tags,
	})
	if err != nil {
		writeError(w, err, "modify item", name)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeleteItem handles DELETE /api/items/*: a soft delete that appends a
// tombstone revision.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	path := itemName(r)
	name, verb := splitVerb(path)
	if name == "" || verb != "" {
		writeJSON(w, http.StatusBadRequest, errorBody("item name is required"))
		return
	}
	q := r.URL.Query()
	err := h.svc.Delete(r.Context(), Principal(r.Context()), q.Get("ns"), name, q.Get("comment"))
	if err != nil {
		writeError(w, err, "delete item", name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ItemAction handles POST /api/items/*/+verb sub-resources: +rename,
// +undelete, and +destroy.
func (h *Handler) ItemAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	path := itemName(r)
	name, verb := splitVerb(path)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("item name is required"))
		return
	}

	user := Principal(r.Context())
	ns := r.URL.Query().Get("ns")

	switch verb {
	case "+rename":
		var req RenameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
			writeJSON(w, http.StatusBadRequest, errorBody("rename target 'to' is required"))
			return
		}
		detail, err := h.svc.Rename(r.Context(), user, ns, name, req.To)
		if err != nil {
			writeError(w, err, "rename item", name)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case "+undelete":
		var req UndeleteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		detail, err := h.svc.Undelete(r.Context(), user, ns, name, req.Comment)
		if err != nil {
			writeError(w, err, "undelete item", name)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case "+destroy":
		var req DestroyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
		if !req.All && req.Rev <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("either 'rev' or 'all' is required"))
			return
		}
		if err := h.svc.Destroy(r.Context(), user, ns, name, req.Rev, req.All); err != nil {
			writeError(w, err, "destroy item", name)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	}
}

// Batch handles POST /api/batch: bulk delete or destroy with per-item
// outcomes instead of all-or-nothing failure.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.ItemNames) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("item_names is required"))
		return
	}

	statuses, err := h.svc.Batch(r.Context(), Principal(r.Context()), req.Action,
		req.ItemNames, req.Namespace, req.Comment, req.IncludeSubitems)
	if err != nil {
		writeError(w, err, "batch "+req.Action, "")
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{PerItemStatus: statuses})
}

// Search handles GET /api/search. history=1 extends the scan to
// non-latest revisions.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	history := r.URL.Query().Get("history") == "1" || r.URL.Query().Get("history") == "true"
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	hits, err := h.svc.Search(r.Context(), Principal(r.Context()), q, history, limit)
	if err != nil {
		writeError(w, err, "search", "")
		return
	}
	if hits == nil {
		hits = []metaindex.SearchHit{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: hits})
}
