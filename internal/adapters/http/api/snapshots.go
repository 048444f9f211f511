package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/domain/model"
)

const defaultSnapshotLimit = 1000

// StateDependencies defines the interface for reading the aggregates row.
type StateDependencies interface {
	GlobalState(ctx context.Context) (*model.GlobalState, error)
}

// StateHandler handles global state requests.
type StateHandler struct {
	deps StateDependencies
}

// NewStateHandler creates a new global state handler.
func NewStateHandler(deps StateDependencies) *StateHandler {
	return &StateHandler{deps: deps}
}

// HandleGetGlobalState handles GET /global-state requests.
func (h *StateHandler) HandleGetGlobalState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	g, err := h.deps.GlobalState(r.Context())
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// SnapshotsDependencies defines the interface for reading the series.
type SnapshotsDependencies interface {
	Snapshots(ctx context.Context, from, to time.Time, limit int) ([]model.SharesSnapshot, error)
}

// SnapshotsHandler handles snapshot series requests.
type SnapshotsHandler struct {
	deps         SnapshotsDependencies
	defaultLimit int
}

// NewSnapshotsHandler creates a new snapshots handler.
func NewSnapshotsHandler(deps SnapshotsDependencies, defaultLimit int) *SnapshotsHandler {
	return &SnapshotsHandler{deps: deps, defaultLimit: defaultLimit}
}

// HandleGetSnapshots handles GET /snapshots?from=&to=&limit= requests. from
// and to are RFC3339 and optional.
func (h *SnapshotsHandler) HandleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: from: %w", ErrBadRequest, err))
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: to: %w", ErrBadRequest, err))
		return
	}
	if !to.IsZero() && !from.Before(to) {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: from must be before to", ErrBadRequest))
		return
	}

	limit := h.defaultLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit", ErrBadRequest))
			return
		}
		if n > repository.MaxSnapshotLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", fmt.Errorf("%w: limit above %d", ErrBadRequest, repository.MaxSnapshotLimit))
			return
		}
		limit = n
	}

	rows, err := h.deps.Snapshots(r.Context(), from, to, limit)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if rows == nil {
		rows = []model.SharesSnapshot{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
