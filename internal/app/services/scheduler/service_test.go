package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/block"
	"github.com/oddurs/prime-coordinator/internal/app/domain/job"
	"github.com/oddurs/prime-coordinator/internal/app/storage/memory"
)

func newTestService() *Service {
	return New(memory.New(), nil, nil)
}

func TestCreateJobPartitionsBlocks(t *testing.T) {
	svc := newTestService()
	created, err := svc.CreateJob(context.Background(), job.Job{Form: "kbn", RangeStart: 0, RangeEnd: 2500, BlockSize: 1000})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected job id to be assigned")
	}

	blocks, err := svc.ListBlocks(context.Background(), created.ID, "")
	if err != nil {
		t.Fatalf("list blocks: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks (1000,1000,500), got %d", len(blocks))
	}
}

// TestConcurrentClaimsAreExclusive fires more concurrent claimants than
// available blocks at a job with k blocks and checks that exactly k
// succeed, each getting a distinct block id, and every loser sees no
// block available.
func TestConcurrentClaimsAreExclusive(t *testing.T) {
	svc := newTestService()
	const blockCount = 5
	const workerCount = 20

	created, err := svc.CreateJob(context.Background(), job.Job{
		Form: "kbn", RangeStart: 0, RangeEnd: int64(blockCount * 100), BlockSize: 100,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]block.Block, workerCount)
	oks := make([]bool, workerCount)
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, ok, err := svc.ClaimBlock(context.Background(), created.ID, "worker", 0)
			if err != nil {
				t.Errorf("claim %d: %v", i, err)
				return
			}
			results[i], oks[i] = b, ok
		}(i)
	}
	wg.Wait()

	succeeded := 0
	seen := map[string]bool{}
	for i, ok := range oks {
		if !ok {
			continue
		}
		succeeded++
		if seen[results[i].ID] {
			t.Fatalf("block %s claimed more than once", results[i].ID)
		}
		seen[results[i].ID] = true
	}
	if succeeded != blockCount {
		t.Fatalf("expected exactly %d successful claims, got %d", blockCount, succeeded)
	}

	if _, ok, err := svc.ClaimBlock(context.Background(), created.ID, "worker-extra", 0); err != nil || ok {
		t.Fatalf("expected no blocks left to claim, got ok=%v err=%v", ok, err)
	}
}

func TestCreateJobRejectsInvalid(t *testing.T) {
	svc := newTestService()
	_, err := svc.CreateJob(context.Background(), job.Job{Form: "", RangeStart: 0, RangeEnd: 10, BlockSize: 1})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClaimCompleteAndSummary(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, err := svc.CreateJob(ctx, job.Job{Form: "kbn", RangeStart: 0, RangeEnd: 1000, BlockSize: 1000})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	claimed, ok, err := svc.ClaimBlock(ctx, created.ID, "worker-1", 500)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	_, ok, err = svc.ClaimBlock(ctx, created.ID, "worker-2", 500)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("expected no block available for second claim")
	}

	completed, err := svc.CompleteBlock(ctx, claimed.ID, "worker-1", 1000, 3, 12.5, 4)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != block.StatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}

	summary, err := svc.BlockSummary(ctx, created.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("expected 1 completed block, got %+v", summary)
	}
}

func TestCompleteBlockRejectsUnclaimed(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, _ := svc.CreateJob(ctx, job.Job{Form: "kbn", RangeStart: 0, RangeEnd: 10, BlockSize: 10})
	blocks, _ := svc.ListBlocks(ctx, created.ID, "")

	_, err := svc.CompleteBlock(ctx, blocks[0].ID, "worker-1", 10, 0, 1, 1)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict error completing an unclaimed block, got %v", err)
	}
}

func TestCompleteBlockRejectsWrongWorker(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, _ := svc.CreateJob(ctx, job.Job{Form: "kbn", RangeStart: 0, RangeEnd: 10, BlockSize: 10})

	claimed, ok, err := svc.ClaimBlock(ctx, created.ID, "worker-1", 100)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	if _, err := svc.CompleteBlock(ctx, claimed.ID, "worker-2", 10, 0, 1, 1); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict completing another worker's claim, got %v", err)
	}
}

func TestCreateJobStartsRunning(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, err := svc.CreateJob(ctx, job.Job{Form: "kbn", RangeStart: 0, RangeEnd: 10, BlockSize: 10})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if created.Status != job.StatusRunning {
		t.Fatalf("expected job to be created running, got %s", created.Status)
	}
	if created.StartedAt.IsZero() {
		t.Fatal("expected started_at to be set on creation")
	}
}

func TestSetStatusEnforcesStateMachine(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, _ := svc.CreateJob(ctx, job.Job{Form: "kbn", RangeStart: 0, RangeEnd: 10, BlockSize: 10})

	if _, err := svc.SetStatus(ctx, created.ID, job.StatusCompleted); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict completing a job with outstanding blocks, got %v", err)
	}

	paused, err := svc.SetStatus(ctx, created.ID, job.StatusPaused)
	if err != nil || paused.Status != job.StatusPaused {
		t.Fatalf("expected pause to succeed, got %+v err=%v", paused, err)
	}

	if _, ok, err := svc.ClaimBlock(ctx, created.ID, "worker-1", 100); err != nil || ok {
		t.Fatalf("expected no claim while paused, got ok=%v err=%v", ok, err)
	}

	resumed, err := svc.SetStatus(ctx, created.ID, job.StatusRunning)
	if err != nil || resumed.Status != job.StatusRunning {
		t.Fatalf("expected resume to succeed, got %+v err=%v", resumed, err)
	}
}

func TestCompleteBlockAutoCompletesJob(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, _ := svc.CreateJob(ctx, job.Job{Form: "kbn", RangeStart: 0, RangeEnd: 10, BlockSize: 10})

	claimed, ok, err := svc.ClaimBlock(ctx, created.ID, "worker-1", 100)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if _, err := svc.CompleteBlock(ctx, claimed.ID, "worker-1", 10, 0, 1, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}

	finished, err := svc.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if finished.Status != job.StatusCompleted {
		t.Fatalf("expected job to auto-complete, got %s", finished.Status)
	}
}

func TestReclaimStaleReturnsBlockToPool(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, _ := svc.CreateJob(ctx, job.Job{Form: "kbn", RangeStart: 0, RangeEnd: 10, BlockSize: 10})

	claimed, ok, err := svc.ClaimBlock(ctx, created.ID, "worker-1", 100)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	_ = claimed

	time.Sleep(5 * time.Millisecond)
	reclaimed, err := svc.ReclaimStale(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected 1 reclaimed block, got %d", len(reclaimed))
	}

	again, ok, err := svc.ClaimBlock(ctx, created.ID, "worker-2", 100)
	if err != nil || !ok || again.ID != claimed.ID {
		t.Fatalf("expected reclaimed block re-claimable, got %+v ok=%v err=%v", again, ok, err)
	}
}
