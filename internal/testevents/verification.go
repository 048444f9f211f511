package testevents

import (
	"context"
	"fmt"
	"log"

	"github.com/okian/shareview/internal/domain/model"
)

// verifyGlobalState checks the share independent aggregates reported by the
// indexer against the simulator.
func verifyGlobalState(ctx context.Context, want *model.GlobalState, got GlobalState) error {
	log.Println("🔍 Verifying global state...")

	type pair struct {
		name      string
		want, got int64
	}
	checks := []pair{
		{"worker_count", want.WorkerCount, got.WorkerCount},
		{"idle_worker_count", want.IdleWorkerCount, got.IdleWorkerCount},
		{"idle_worker_p_init", want.IdleWorkerPInit, got.IdleWorkerPInit},
		{"idle_worker_p_instant", want.IdleWorkerPInstant, got.IdleWorkerPInstant},
	}
	for _, c := range checks {
		if c.want != c.got {
			return fmt.Errorf("%s: indexer reports %d, stream implies %d", c.name, c.got, c.want)
		}
	}
	log.Printf("✅ Global state verified (workers: %d, idle: %d, idle shares: %s)",
		got.WorkerCount, got.IdleWorkerCount, got.IdleWorkerShares)
	return nil
}

// verifySession compares one session with the simulator's view of it.
func verifySession(want SessionState, got Session) error {
	if got.State != string(want.State) {
		return fmt.Errorf("session %s: state %s, want %s", want.ID, got.State, want.State)
	}
	if got.BoundWorker != want.Worker {
		return fmt.Errorf("session %s: bound to %q, want %q", want.ID, got.BoundWorker, want.Worker)
	}
	return nil
}
