package registry

import (
	"context"
	"testing"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/worker"
	"github.com/oddurs/prime-coordinator/internal/app/storage/memory"
)

func newTestService() *Service {
	return New(memory.New(), 100*time.Millisecond, nil)
}

func TestRegisterAndHeartbeatRoundTrip(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, worker.Worker{WorkerID: "w1", Hostname: "box", Cores: 4}); err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := svc.Heartbeat(ctx, "w1", 1000, 2, []byte(`"123"`), nil, nil)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if updated.Tested != 1000 {
		t.Fatalf("expected tested=1000, got %d", updated.Tested)
	}
}

func TestHeartbeatUnknownWorkerIsNotFound(t *testing.T) {
	svc := newTestService()
	_, err := svc.Heartbeat(context.Background(), "ghost", 1, 0, nil, nil, nil)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found error for unknown worker, got %v", err)
	}
}

func TestCommandDeliveredAtMostOnce(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, worker.Worker{WorkerID: "w1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.SetCommand(ctx, "w1", worker.CommandStop); err != nil {
		t.Fatalf("set command: %v", err)
	}

	cmd, err := svc.TakeCommand(ctx, "w1")
	if err != nil || cmd != worker.CommandStop {
		t.Fatalf("expected stop command, got %q err=%v", cmd, err)
	}

	cmd, err = svc.TakeCommand(ctx, "w1")
	if err != nil || cmd != "" {
		t.Fatalf("expected command cleared after first take, got %q", cmd)
	}
}

func TestActiveWorkersExcludesStale(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, worker.Worker{WorkerID: "fresh"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, worker.Worker{WorkerID: "stale", LastHeartbeat: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("register: %v", err)
	}

	active, err := svc.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("active workers: %v", err)
	}
	if len(active) != 1 || active[0].WorkerID != "fresh" {
		t.Fatalf("expected only fresh worker active, got %+v", active)
	}
}

func TestPruneStaleRemovesWorker(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, worker.Worker{WorkerID: "stale", LastHeartbeat: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("register: %v", err)
	}

	pruned, err := svc.PruneStale(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != "stale" {
		t.Fatalf("expected stale worker pruned, got %v", pruned)
	}

	if _, err := svc.GetWorker(ctx, "stale"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found after prune, got %v", err)
	}
}
