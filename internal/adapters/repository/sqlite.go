package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/shareview/internal/domain/model"
	"github.com/okian/shareview/pkg/logger"
	"github.com/okian/shareview/pkg/metrics"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const (
	defaultBusyTimeout = 5 * time.Second
	// maxInParams keeps IN lists well below the SQLite variable limit.
	maxInParams = 500
)

// SQLiteStore is the durable Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db          *sql.DB
	busyTimeout time.Duration
	log         logger.Logger
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("repository")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps ":memory:" on one connection
	s.db = db

	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		fmt.Sprintf(`PRAGMA busy_timeout=%d`, s.busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	s.log.Info(ctx, "sqlite store opened", logger.String("path", path))
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS global_state (
			id                     TEXT PRIMARY KEY,
			idle_worker_shares     TEXT NOT NULL,
			idle_worker_p_init     INTEGER NOT NULL,
			idle_worker_p_instant  INTEGER NOT NULL,
			worker_count           INTEGER NOT NULL,
			idle_worker_count      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS worker (
			id                TEXT PRIMARY KEY,
			confidence_level  INTEGER NOT NULL,
			initial_score     INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS session (
			id                       TEXT PRIMARY KEY,
			bound_worker_id          TEXT UNIQUE REFERENCES worker(id),
			state                    TEXT NOT NULL,
			v                        TEXT NOT NULL,
			ve                       TEXT NOT NULL,
			p_init                   INTEGER NOT NULL,
			p_instant                INTEGER NOT NULL,
			total_reward             TEXT NOT NULL,
			stake                    TEXT NOT NULL,
			cooling_down_start_time  INTEGER,
			shares                   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS worker_shares_snapshot (
			id            TEXT PRIMARY KEY,
			updated_time  INTEGER NOT NULL UNIQUE,
			shares        TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS indexer_cursor (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			height  INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
}

// LoadGlobalState implements view.Reader.
func (s *SQLiteStore) LoadGlobalState(ctx context.Context) (*model.GlobalState, error) {
	defer observeQuery(time.Now())
	row := s.db.QueryRowContext(ctx, `
		SELECT id, idle_worker_shares, idle_worker_p_init, idle_worker_p_instant, worker_count, idle_worker_count
		FROM global_state WHERE id = ?`, model.GlobalStateID)
	var (
		g      model.GlobalState
		shares string
	)
	err := row.Scan(&g.ID, &shares, &g.IdleWorkerPInit, &g.IdleWorkerPInstant, &g.WorkerCount, &g.IdleWorkerCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("global state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global state: %w", err)
	}
	if g.IdleWorkerShares, err = decimal.NewFromString(shares); err != nil {
		return nil, fmt.Errorf("global state shares %q: %w", shares, err)
	}
	return &g, nil
}

const sessionCols = `id, bound_worker_id, state, v, ve, p_init, p_instant, total_reward, stake, cooling_down_start_time, shares`

func scanSession(scan func(...any) error) (*model.Session, error) {
	var (
		sess                         model.Session
		bound                        sql.NullString
		state                        string
		v, ve, reward, stake, shares string
		coolingDown                  sql.NullInt64
	)
	if err := scan(&sess.ID, &bound, &state, &v, &ve, &sess.PInit, &sess.PInstant, &reward, &stake, &coolingDown, &shares); err != nil {
		return nil, err
	}
	st, err := model.ParseWorkerState(state)
	if err != nil {
		return nil, err
	}
	sess.State = st
	sess.BoundWorker = bound.String
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&sess.V, v}, {&sess.VE, ve}, {&sess.TotalReward, reward}, {&sess.Stake, stake}, {&sess.Shares, shares}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("session %s decimal %q: %w", sess.ID, f.src, err)
		}
		*f.dst = d
	}
	if coolingDown.Valid {
		t := time.UnixMilli(coolingDown.Int64).UTC()
		sess.CoolingDownStartTime = &t
	}
	return &sess, nil
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()
	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanWorker(scan func(...any) error) (*model.Worker, error) {
	var (
		w     model.Worker
		score sql.NullInt64
	)
	if err := scan(&w.ID, &w.ConfidenceLevel, &score); err != nil {
		return nil, err
	}
	if score.Valid {
		v := score.Int64
		w.InitialScore = &v
	}
	return &w, nil
}

func (s *SQLiteStore) queryWorkers(ctx context.Context, query string, args ...any) ([]*model.Worker, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()
	var out []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > maxInParams {
		out = append(out, ids[:maxInParams])
		ids = ids[maxInParams:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// FindSessions implements view.Reader.
func (s *SQLiteStore) FindSessions(ctx context.Context, ids, boundTo []string) ([]*model.Session, error) {
	defer observeQuery(time.Now())
	seen := make(map[string]struct{})
	var out []*model.Session
	collect := func(column string, keys []string) error {
		for _, chunk := range chunks(keys) {
			found, err := s.querySessions(ctx,
				`SELECT `+sessionCols+` FROM session WHERE `+column+` IN (`+placeholders(len(chunk))+`) ORDER BY id`,
				toArgs(chunk)...)
			if err != nil {
				return err
			}
			for _, sess := range found {
				if _, dup := seen[sess.ID]; !dup {
					seen[sess.ID] = struct{}{}
					out = append(out, sess)
				}
			}
		}
		return nil
	}
	if err := collect("id", ids); err != nil {
		return nil, err
	}
	if err := collect("bound_worker_id", boundTo); err != nil {
		return nil, err
	}
	sortSessions(out)
	return out, nil
}

// FindWorkers implements view.Reader.
func (s *SQLiteStore) FindWorkers(ctx context.Context, ids []string) ([]*model.Worker, error) {
	defer observeQuery(time.Now())
	var out []*model.Worker
	for _, chunk := range chunks(ids) {
		found, err := s.queryWorkers(ctx,
			`SELECT id, confidence_level, initial_score FROM worker WHERE id IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	sortWorkers(out)
	return out, nil
}

// AllSessions implements view.Reader.
func (s *SQLiteStore) AllSessions(ctx context.Context) ([]*model.Session, error) {
	defer observeQuery(time.Now())
	return s.querySessions(ctx, `SELECT `+sessionCols+` FROM session ORDER BY id`)
}

// AllWorkers implements view.Reader.
func (s *SQLiteStore) AllWorkers(ctx context.Context) ([]*model.Worker, error) {
	defer observeQuery(time.Now())
	return s.queryWorkers(ctx, `SELECT id, confidence_level, initial_score FROM worker ORDER BY id`)
}

// Session implements Store.
func (s *SQLiteStore) Session(ctx context.Context, id string) (*model.Session, error) {
	defer observeQuery(time.Now())
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM session WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// Worker implements Store.
func (s *SQLiteStore) Worker(ctx context.Context, id string) (*model.Worker, error) {
	defer observeQuery(time.Now())
	w, err := scanWorker(s.db.QueryRowContext(ctx, `SELECT id, confidence_level, initial_score FROM worker WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	var shares string
	err = s.db.QueryRowContext(ctx, `SELECT shares FROM session WHERE bound_worker_id = ?`, id).Scan(&shares)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get worker shares: %w", err)
	default:
		d, err := decimal.NewFromString(shares)
		if err != nil {
			return nil, fmt.Errorf("worker %s shares %q: %w", id, shares, err)
		}
		w.CurrentShares = &d
	}
	return w, nil
}

// Snapshots implements Store.
func (s *SQLiteStore) Snapshots(ctx context.Context, from, to time.Time, limit int) ([]model.SharesSnapshot, error) {
	if limit <= 0 || limit > MaxSnapshotLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	defer observeQuery(time.Now())
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = to.UnixMilli()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT updated_time, shares FROM worker_shares_snapshot
		WHERE updated_time >= ? AND updated_time < ?
		ORDER BY updated_time ASC LIMIT ?`, from.UnixMilli(), upper, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()
	out := make([]model.SharesSnapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanSnapshot(scan func(...any) error) (model.SharesSnapshot, error) {
	var (
		ms     int64
		shares string
	)
	if err := scan(&ms, &shares); err != nil {
		return model.SharesSnapshot{}, err
	}
	d, err := decimal.NewFromString(shares)
	if err != nil {
		return model.SharesSnapshot{}, fmt.Errorf("snapshot shares %q: %w", shares, err)
	}
	return model.SharesSnapshot{BucketStart: time.UnixMilli(ms).UTC(), Shares: d}, nil
}

// LatestSnapshot implements Store.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (model.SharesSnapshot, error) {
	defer observeQuery(time.Now())
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT updated_time, shares FROM worker_shares_snapshot ORDER BY updated_time DESC LIMIT 1`).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SharesSnapshot{}, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return model.SharesSnapshot{}, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

// Cursor implements Store.
func (s *SQLiteStore) Cursor(ctx context.Context) (uint64, bool, error) {
	var height int64
	err := s.db.QueryRowContext(ctx, `SELECT height FROM indexer_cursor WHERE id = 1`).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor: %w", err)
	}
	return uint64(height), true, nil
}

// Commit implements Store.
func (s *SQLiteStore) Commit(ctx context.Context, c Changes) error {
	start := time.Now()
	if err := s.commit(ctx, c); err != nil {
		metrics.RecordErrorByComponent("repository", "commit")
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	metrics.RecordRepositoryCommitLatency(float64(time.Since(start).Microseconds()) / 1000)
	return nil
}

func (s *SQLiteStore) commit(ctx context.Context, c Changes) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if c.Global != nil {
		g := c.Global
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO global_state (id, idle_worker_shares, idle_worker_p_init, idle_worker_p_instant, worker_count, idle_worker_count)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				idle_worker_shares=excluded.idle_worker_shares,
				idle_worker_p_init=excluded.idle_worker_p_init,
				idle_worker_p_instant=excluded.idle_worker_p_instant,
				worker_count=excluded.worker_count,
				idle_worker_count=excluded.idle_worker_count`,
			model.GlobalStateID, g.IdleWorkerShares.String(), g.IdleWorkerPInit, g.IdleWorkerPInstant, g.WorkerCount, g.IdleWorkerCount,
		); err != nil {
			return fmt.Errorf("failed to write global state: %w", err)
		}
	}

	for _, w := range c.Workers {
		var score any
		if w.InitialScore != nil {
			score = *w.InitialScore
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO worker (id, confidence_level, initial_score) VALUES (?,?,?)
			ON CONFLICT(id) DO UPDATE SET confidence_level=excluded.confidence_level, initial_score=excluded.initial_score`,
			w.ID, w.ConfidenceLevel, score,
		); err != nil {
			return fmt.Errorf("failed to write worker %s: %w", w.ID, err)
		}
	}

	// Release every binding held by a changed session first so bindings
	// that move between sessions never collide on the unique column.
	for _, chunk := range chunks(sessionIDs(c.Sessions)) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session SET bound_worker_id = NULL WHERE id IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...); err != nil {
			return fmt.Errorf("failed to release bindings: %w", err)
		}
	}
	for _, sess := range c.Sessions {
		var bound, cooling any
		if sess.Bound() {
			bound = sess.BoundWorker
		}
		if sess.CoolingDownStartTime != nil {
			cooling = sess.CoolingDownStartTime.UnixMilli()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session (`+sessionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				bound_worker_id=excluded.bound_worker_id,
				state=excluded.state,
				v=excluded.v,
				ve=excluded.ve,
				p_init=excluded.p_init,
				p_instant=excluded.p_instant,
				total_reward=excluded.total_reward,
				stake=excluded.stake,
				cooling_down_start_time=excluded.cooling_down_start_time,
				shares=excluded.shares`,
			sess.ID, bound, string(sess.State), sess.V.String(), sess.VE.String(), sess.PInit, sess.PInstant,
			sess.TotalReward.String(), sess.Stake.String(), cooling, sess.Shares.String(),
		); err != nil {
			return fmt.Errorf("failed to write session %s: %w", sess.ID, err)
		}
	}

	for _, snap := range c.Snapshots {
		bucket := snap.BucketStart.UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO worker_shares_snapshot (id, updated_time, shares) VALUES (?,?,?)
			ON CONFLICT DO NOTHING`,
			bucket.Format(time.RFC3339), bucket.UnixMilli(), snap.Shares.String(),
		); err != nil {
			return fmt.Errorf("failed to write snapshot %s: %w", bucket, err)
		}
	}

	if c.Height != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO indexer_cursor (id, height) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET height=excluded.height`, int64(*c.Height),
		); err != nil {
			return fmt.Errorf("failed to write cursor: %w", err)
		}
	}

	return tx.Commit()
}

func sessionIDs(sessions []*model.Session) []string {
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	return ids
}
