package view

import (
	"context"
	"fmt"

	"github.com/okian/shareview/internal/domain/event"
	"github.com/okian/shareview/internal/domain/model"
)

// Reader is the read side of the entity store needed to build a working set.
type Reader interface {
	LoadGlobalState(ctx context.Context) (*model.GlobalState, error)
	// FindSessions returns sessions whose id is in ids or whose bound worker
	// is in boundTo.
	FindSessions(ctx context.Context, ids, boundTo []string) ([]*model.Session, error)
	FindWorkers(ctx context.Context, ids []string) ([]*model.Worker, error)
	AllSessions(ctx context.Context) ([]*model.Session, error)
	AllWorkers(ctx context.Context) ([]*model.Worker, error)
}

// Load builds the working set for batch. With full set, every session and
// worker is loaded; otherwise only the touched sessions, the sessions bound
// to touched workers, and the workers those sessions reference.
func Load(ctx context.Context, r Reader, batch event.Batch, full bool) (*WorkingSet, error) {
	global, err := r.LoadGlobalState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global state: %w", err)
	}
	if full {
		sessions, err := r.AllSessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("load sessions: %w", err)
		}
		workers, err := r.AllWorkers(ctx)
		if err != nil {
			return nil, fmt.Errorf("load workers: %w", err)
		}
		return New(global, sessions, workers, true), nil
	}

	sessionIDs, workerIDs := batch.Touched()
	var sessions []*model.Session
	if len(sessionIDs) > 0 || len(workerIDs) > 0 {
		sessions, err = r.FindSessions(ctx, sessionIDs, workerIDs)
		if err != nil {
			return nil, fmt.Errorf("load sessions: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(workerIDs))
	for _, id := range workerIDs {
		seen[id] = struct{}{}
	}
	for _, s := range sessions {
		if !s.Bound() {
			continue
		}
		if _, ok := seen[s.BoundWorker]; !ok {
			seen[s.BoundWorker] = struct{}{}
			workerIDs = append(workerIDs, s.BoundWorker)
		}
	}
	var workers []*model.Worker
	if len(workerIDs) > 0 {
		workers, err = r.FindWorkers(ctx, workerIDs)
		if err != nil {
			return nil, fmt.Errorf("load workers: %w", err)
		}
	}
	return New(global, sessions, workers, false), nil
}
