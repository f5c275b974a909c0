package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/ansuz/internal/itemservice"
	"github.com/starford/ansuz/internal/transclude"
)

// NewRouter creates a chi router with all API routes mounted.
// tokens maps bearer tokens to principal names; nil or empty means all
// requests are anonymous. sseHandler, if non-nil, is mounted at
// GET /events inside the auth group.
func NewRouter(svc *itemservice.Service, resolver *transclude.Resolver, tokens map[string]string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, resolver)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(tokens))

	// Item CRUD plus +verb sub-resources.
	r.Get("/items", h.ListItems)
	r.Post("/items", h.CreateItem)
	r.Get("/items/*", h.GetItem)
	r.Put("/items/*", h.ModifyItem)
	r.Delete("/items/*", h.DeleteItem)
	r.Post("/items/*", h.ItemAction)

	// Bulk lifecycle.
	r.Post("/batch", h.Batch)

	// Search.
	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
