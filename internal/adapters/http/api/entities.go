package api

import (
	"context"
	"net/http"
	"strings"
)

// LookupFunc loads one entity by id.
type LookupFunc func(ctx context.Context, id string) (any, error)

// EntityHandler serves GET {prefix}{id} for a single entity kind.
type EntityHandler struct {
	prefix string
	lookup LookupFunc
}

// NewEntityHandler creates a handler for ids under prefix.
func NewEntityHandler(prefix string, lookup LookupFunc) *EntityHandler {
	return &EntityHandler{prefix: prefix, lookup: lookup}
}

// HandleGet handles GET /sessions/{id} and GET /workers/{id} requests.
func (h *EntityHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, h.prefix)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	v, err := h.lookup(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
