package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/shareview/internal/domain/model"
)

// MemoryStore is an in-process Store for tests and ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	global    *model.GlobalState
	sessions  map[string]*model.Session
	workers   map[string]*model.Worker
	snapshots map[int64]model.SharesSnapshot
	height    uint64
	hasHeight bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*model.Session),
		workers:   make(map[string]*model.Worker),
		snapshots: make(map[int64]model.SharesSnapshot),
	}
}

// LoadGlobalState implements view.Reader.
func (s *MemoryStore) LoadGlobalState(context.Context) (*model.GlobalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global == nil {
		return nil, fmt.Errorf("global state: %w", ErrNotFound)
	}
	return s.global.Clone(), nil
}

// FindSessions implements view.Reader.
func (s *MemoryStore) FindSessions(_ context.Context, ids, boundTo []string) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	workers := make(map[string]struct{}, len(boundTo))
	for _, id := range boundTo {
		workers[id] = struct{}{}
	}
	var out []*model.Session
	for _, sess := range s.sessions {
		_, byID := want[sess.ID]
		_, byWorker := workers[sess.BoundWorker]
		if byID || (sess.Bound() && byWorker) {
			out = append(out, sess.Clone())
		}
	}
	sortSessions(out)
	return out, nil
}

// FindWorkers implements view.Reader.
func (s *MemoryStore) FindWorkers(_ context.Context, ids []string) ([]*model.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Worker
	for _, id := range ids {
		if w, ok := s.workers[id]; ok {
			out = append(out, w.Clone())
		}
	}
	sortWorkers(out)
	return out, nil
}

// AllSessions implements view.Reader.
func (s *MemoryStore) AllSessions(context.Context) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sortSessions(out)
	return out, nil
}

// AllWorkers implements view.Reader.
func (s *MemoryStore) AllWorkers(context.Context) ([]*model.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Clone())
	}
	sortWorkers(out)
	return out, nil
}

// Session implements Store.
func (s *MemoryStore) Session(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess.Clone(), nil
}

// Worker implements Store.
func (s *MemoryStore) Worker(_ context.Context, id string) (*model.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	c := w.Clone()
	for _, sess := range s.sessions {
		if sess.BoundWorker == id {
			shares := sess.Shares
			c.CurrentShares = &shares
			break
		}
	}
	return c, nil
}

// Snapshots implements Store.
func (s *MemoryStore) Snapshots(_ context.Context, from, to time.Time, limit int) ([]model.SharesSnapshot, error) {
	if limit <= 0 || limit > MaxSnapshotLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SharesSnapshot, 0)
	for _, snap := range s.snapshots {
		if snap.BucketStart.Before(from) || (!to.IsZero() && !snap.BucketStart.Before(to)) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestSnapshot implements Store.
func (s *MemoryStore) LatestSnapshot(context.Context) (model.SharesSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest model.SharesSnapshot
	found := false
	for _, snap := range s.snapshots {
		if !found || snap.BucketStart.After(latest.BucketStart) {
			latest, found = snap, true
		}
	}
	if !found {
		return model.SharesSnapshot{}, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	return latest, nil
}

// Cursor implements Store.
func (s *MemoryStore) Cursor(context.Context) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, s.hasHeight, nil
}

// Commit implements Store. The write is validated in full before any of it
// becomes visible.
func (s *MemoryStore) Commit(_ context.Context, c Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBindings(c); err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	if c.Global != nil {
		s.global = c.Global.Clone()
	}
	for _, w := range c.Workers {
		cw := w.Clone()
		cw.CurrentShares = nil
		s.workers[w.ID] = cw
	}
	for _, sess := range c.Sessions {
		s.sessions[sess.ID] = sess.Clone()
	}
	for _, snap := range c.Snapshots {
		key := snap.BucketStart.UnixMilli()
		if _, exists := s.snapshots[key]; exists {
			continue
		}
		s.snapshots[key] = model.SharesSnapshot{BucketStart: snap.BucketStart.UTC(), Shares: snap.Shares}
	}
	if c.Height != nil {
		s.height, s.hasHeight = *c.Height, true
	}
	return nil
}

// checkBindings enforces the same constraints the SQL schema does: a bound
// worker must exist and may back at most one session.
func (s *MemoryStore) checkBindings(c Changes) error {
	workers := make(map[string]struct{}, len(s.workers)+len(c.Workers))
	for id := range s.workers {
		workers[id] = struct{}{}
	}
	for _, w := range c.Workers {
		workers[w.ID] = struct{}{}
	}
	owner := make(map[string]string)
	for _, sess := range s.sessions {
		if sess.Bound() {
			owner[sess.BoundWorker] = sess.ID
		}
	}
	for _, sess := range c.Sessions {
		if old, ok := s.sessions[sess.ID]; ok && old.Bound() && owner[old.BoundWorker] == sess.ID {
			delete(owner, old.BoundWorker)
		}
	}
	for _, sess := range c.Sessions {
		if !sess.Bound() {
			continue
		}
		if _, ok := workers[sess.BoundWorker]; !ok {
			return fmt.Errorf("session %s references unknown worker %s", sess.ID, sess.BoundWorker)
		}
		if other, ok := owner[sess.BoundWorker]; ok && other != sess.ID {
			return fmt.Errorf("worker %s already bound to session %s", sess.BoundWorker, other)
		}
		owner[sess.BoundWorker] = sess.ID
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func sortSessions(out []*model.Session) {
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
}

func sortWorkers(out []*model.Worker) {
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
}
