// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/shareview/internal/adapters/codec"
	"github.com/okian/shareview/internal/adapters/mq/queue"
	"github.com/okian/shareview/internal/adapters/repository"
	"github.com/okian/shareview/internal/app"
	"github.com/okian/shareview/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Ingest submits raw blocks for processing and returns the batch id.
	Ingest(ctx context.Context, blocks []codec.RawBlock) (string, error)

	// Read operations expose the materialized view.
	GlobalState(ctx context.Context) (*model.GlobalState, error)
	Session(ctx context.Context, id string) (*model.Session, error)
	Worker(ctx context.Context, id string) (*model.Worker, error)
	Snapshots(ctx context.Context, from, to time.Time, limit int) ([]model.SharesSnapshot, error)
}

// Server wires HTTP routes for the read API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	blocksHandler    *BlocksHandler
	stateHandler     *StateHandler
	snapshotsHandler *SnapshotsHandler
	sessionHandler   *EntityHandler
	workerHandler    *EntityHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		blocksHandler:    NewBlocksHandler(deps),
		stateHandler:     NewStateHandler(deps),
		snapshotsHandler: NewSnapshotsHandler(deps, defaultSnapshotLimit),
		sessionHandler: NewEntityHandler("/sessions/", func(ctx context.Context, id string) (any, error) {
			return deps.Session(ctx, id)
		}),
		workerHandler: NewEntityHandler("/workers/", func(ctx context.Context, id string) (any, error) {
			return deps.Worker(ctx, id)
		}),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/blocks", MetricsMiddleware(s.blocksHandler.HandlePostBlocks, "blocks"))
	mux.HandleFunc("/global-state", MetricsMiddleware(s.stateHandler.HandleGetGlobalState, "global_state"))
	mux.HandleFunc("/snapshots", MetricsMiddleware(s.snapshotsHandler.HandleGetSnapshots, "snapshots"))
	mux.HandleFunc("/sessions/", MetricsMiddleware(s.sessionHandler.HandleGet, "sessions"))
	mux.HandleFunc("/workers/", MetricsMiddleware(s.workerHandler.HandleGet, "workers"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeUpstreamError translates service errors to status codes.
func writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, app.ErrInvalidID), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, app.ErrNotStarted), errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusTooManyRequests, "backpressure", ErrBackpressure)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
