// Package view holds the in-memory working set of entities touched by a
// batch. Entities live in an arena keyed by id; the worker/session relation
// is expressed through id fields and resolved by map lookup.
package view

import (
	"sort"

	"github.com/okian/shareview/internal/domain/model"
)

// WorkingSet is exclusively owned by one reduction pass.
type WorkingSet struct {
	global   *model.GlobalState
	sessions map[string]*model.Session
	workers  map[string]*model.Worker
	// bound maps worker id -> session id for the loaded bindings.
	bound map[string]string

	dirtySessions map[string]struct{}
	dirtyWorkers  map[string]struct{}
	complete      bool
}

// New returns a working set over the given entities. Entities are copied;
// complete marks that sessions and workers hold the full store.
func New(global *model.GlobalState, sessions []*model.Session, workers []*model.Worker, complete bool) *WorkingSet {
	ws := &WorkingSet{
		global:        global.Clone(),
		sessions:      make(map[string]*model.Session, len(sessions)),
		workers:       make(map[string]*model.Worker, len(workers)),
		bound:         make(map[string]string),
		dirtySessions: make(map[string]struct{}),
		dirtyWorkers:  make(map[string]struct{}),
		complete:      complete,
	}
	for _, w := range workers {
		c := w.Clone()
		c.CurrentShares = nil
		ws.workers[c.ID] = c
	}
	for _, s := range sessions {
		c := s.Clone()
		ws.sessions[c.ID] = c
		if !c.Bound() {
			continue
		}
		ws.bound[c.BoundWorker] = c.ID
		if w, ok := ws.workers[c.BoundWorker]; ok {
			shares := c.Shares
			w.CurrentShares = &shares
		}
	}
	return ws
}

// Global returns the mutable singleton aggregate row.
func (ws *WorkingSet) Global() *model.GlobalState { return ws.global }

// Complete reports whether the set holds every session and worker.
func (ws *WorkingSet) Complete() bool { return ws.complete }

// Session looks up a session. A miss is a legitimate first sighting.
func (ws *WorkingSet) Session(id string) (*model.Session, bool) {
	s, ok := ws.sessions[id]
	return s, ok
}

// Worker looks up a worker. A miss is a legitimate first sighting.
func (ws *WorkingSet) Worker(id string) (*model.Worker, bool) {
	w, ok := ws.workers[id]
	return w, ok
}

// RequireSession returns the session or an ErrInconsistent error.
func (ws *WorkingSet) RequireSession(id string) (*model.Session, error) {
	s, ok := ws.sessions[id]
	if !ok {
		return nil, Inconsistent("session", id, "not found")
	}
	return s, nil
}

// RequireWorker returns the worker or an ErrInconsistent error.
func (ws *WorkingSet) RequireWorker(id string) (*model.Worker, error) {
	w, ok := ws.workers[id]
	if !ok {
		return nil, Inconsistent("worker", id, "not found")
	}
	return w, nil
}

// RequireBound returns the session together with its bound worker.
func (ws *WorkingSet) RequireBound(id string) (*model.Session, *model.Worker, error) {
	s, err := ws.RequireSession(id)
	if err != nil {
		return nil, nil, err
	}
	if !s.Bound() {
		return nil, nil, Inconsistent("session", id, "no worker bound")
	}
	w, err := ws.RequireWorker(s.BoundWorker)
	if err != nil {
		return nil, nil, err
	}
	return s, w, nil
}

// SessionOf returns the id of the session bound to worker id, if loaded.
func (ws *WorkingSet) SessionOf(workerID string) (string, bool) {
	id, ok := ws.bound[workerID]
	return id, ok
}

// AddSession inserts a new session and marks it dirty.
func (ws *WorkingSet) AddSession(s *model.Session) {
	ws.sessions[s.ID] = s
	ws.TouchSession(s.ID)
}

// AddWorker inserts a new worker and marks it dirty.
func (ws *WorkingSet) AddWorker(w *model.Worker) {
	ws.workers[w.ID] = w
	ws.TouchWorker(w.ID)
}

// Bind links session and worker on both sides and mirrors the shares.
func (ws *WorkingSet) Bind(s *model.Session, w *model.Worker) {
	s.BoundWorker = w.ID
	ws.bound[w.ID] = s.ID
	shares := s.Shares
	w.CurrentShares = &shares
	ws.TouchSession(s.ID)
	ws.TouchWorker(w.ID)
}

// Unbind clears the link on both sides.
func (ws *WorkingSet) Unbind(s *model.Session, w *model.Worker) {
	delete(ws.bound, w.ID)
	s.BoundWorker = ""
	w.CurrentShares = nil
	ws.TouchSession(s.ID)
	ws.TouchWorker(w.ID)
}

// MirrorShares copies the session's shares onto its bound worker.
func (ws *WorkingSet) MirrorShares(s *model.Session, w *model.Worker) {
	shares := s.Shares
	w.CurrentShares = &shares
	ws.TouchSession(s.ID)
	ws.TouchWorker(w.ID)
}

// TouchSession marks a session for write-back.
func (ws *WorkingSet) TouchSession(id string) { ws.dirtySessions[id] = struct{}{} }

// TouchWorker marks a worker for write-back.
func (ws *WorkingSet) TouchWorker(id string) { ws.dirtyWorkers[id] = struct{}{} }

// Sessions returns all loaded sessions ordered by id.
func (ws *WorkingSet) Sessions() []*model.Session {
	out := make([]*model.Session, 0, len(ws.sessions))
	for _, s := range ws.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Size returns the number of loaded sessions and workers.
func (ws *WorkingSet) Size() (sessions, workers int) {
	return len(ws.sessions), len(ws.workers)
}

// Changes returns copies of the dirty entities. Sessions without a bound
// worker come first so a worker moving between sessions never violates the
// one-session-per-worker constraint mid-write.
func (ws *WorkingSet) Changes() (sessions []*model.Session, workers []*model.Worker) {
	for id := range ws.dirtyWorkers {
		workers = append(workers, ws.workers[id].Clone())
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	for id := range ws.dirtySessions {
		sessions = append(sessions, ws.sessions[id].Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Bound() != sessions[j].Bound() {
			return !sessions[i].Bound()
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, workers
}
