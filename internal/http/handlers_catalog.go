package http

import (
	"net/http"
	"strings"

	"moneymanager/internal/core"
)

// handleListCatalog serves one of the catalog views selected by ?view=:
// mine (default), all, available, or a transaction type for the caller's
// categories of that type.
func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := principal(r)
	ctx := r.Context()

	var entries []core.CatalogEntry
	switch view := strings.ToLower(r.URL.Query().Get("view")); view {
	case "", "mine":
		entries, err = s.catalog.ListMine(ctx, p, kind)
	case "all":
		entries, err = s.catalog.ListAll(ctx, kind)
	case "available":
		entries, err = s.catalog.AvailableToAdd(ctx, p, kind)
	default:
		typ := core.TransactionType(view)
		if kind != core.KindCategory || !typ.Valid() {
			err = &core.ValidationError{Field: "view", Reason: "must be mine, all, available, expense, income or transfer"}
			break
		}
		entries, err = s.catalog.CategoriesOfType(ctx, p, typ)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.CatalogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddCatalog(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Name string               `json:"name"`
		Type core.TransactionType `json:"type,omitempty"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.catalog.Add(r.Context(), principal(r), kind, sanitizeInput(req.Name), req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// handleSubscribeCatalog re-attaches the caller to an existing entry.
func (s *Server) handleSubscribeCatalog(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.catalog.AttachExisting(r.Context(), principal(r), kind, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleUnsubscribeCatalog detaches the caller. The entry itself stays.
func (s *Server) handleUnsubscribeCatalog(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.catalog.Remove(r.Context(), principal(r), kind, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
