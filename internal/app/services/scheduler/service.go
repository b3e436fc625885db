// Package scheduler implements the Work Block Scheduler: job creation,
// atomic block claiming, completion/failure reporting, and reclaim of
// blocks abandoned by their claiming worker.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	core "github.com/oddurs/prime-coordinator/internal/app/core/service"
	"github.com/oddurs/prime-coordinator/internal/app/domain/block"
	"github.com/oddurs/prime-coordinator/internal/app/domain/job"
	"github.com/oddurs/prime-coordinator/internal/app/metrics"
	"github.com/oddurs/prime-coordinator/internal/app/storage"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

// CostEstimator estimates per-candidate search cost for a form, used to set
// a block's estimated duration at claim time.
type CostEstimator interface {
	EstimateBlockSeconds(form string, digits int64, width int64) float64
}

// Service implements the scheduling operations over a SchedulerStore.
type Service struct {
	store     storage.SchedulerStore
	estimator CostEstimator
	log       *logger.Logger
}

// New constructs a scheduler Service. estimator may be nil, in which case
// claimed blocks carry a zero estimated duration and fall back to the
// configured reclaim grace alone.
func New(store storage.SchedulerStore, estimator CostEstimator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Service{store: store, estimator: estimator, log: log}
}

// CreateJob validates and partitions a job into fixed-size blocks, then
// persists the job and its blocks together.
func (s *Service) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if err := j.Validate(); err != nil {
		return job.Job{}, apperr.Validationf("Scheduler.CreateJob", "%v", err)
	}
	j.ID = uuid.NewString()
	j.Status = job.StatusRunning
	j.CreatedAt = time.Now().UTC()
	j.StartedAt = j.CreatedAt

	count := j.BlockCount()
	blocks := make([]block.Block, 0, count)
	for i := int64(0); i < count; i++ {
		start := j.RangeStart + i*j.BlockSize
		end := start + j.BlockSize
		if end > j.RangeEnd {
			end = j.RangeEnd
		}
		blocks = append(blocks, block.Block{
			BlockStart: start,
			BlockEnd:   end,
			Status:     block.StatusAvailable,
		})
	}

	created, err := s.store.CreateJob(ctx, j, blocks)
	if err != nil {
		return job.Job{}, apperr.Wrap("Scheduler.CreateJob", err)
	}
	return created, nil
}

// GetJob fetches a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (job.Job, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return job.Job{}, apperr.Wrap("Scheduler.GetJob", err)
	}
	return j, nil
}

// ListJobs returns jobs with the given status (empty status matches all),
// clamped to limit.
func (s *Service) ListJobs(ctx context.Context, status job.Status, limit int) ([]job.Job, error) {
	limit = core.ClampLimit(limit, core.DefaultListLimit, core.MaxListLimit)
	jobs, err := s.store.ListJobs(ctx, status, limit)
	if err != nil {
		return nil, apperr.Wrap("Scheduler.ListJobs", err)
	}
	return jobs, nil
}

// SetStatus transitions a job's status, enforcing the job state machine.
func (s *Service) SetStatus(ctx context.Context, id string, target job.Status) (job.Job, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return job.Job{}, apperr.Wrap("Scheduler.SetStatus", err)
	}
	if !j.CanTransitionTo(target) {
		return job.Job{}, apperr.Conflictf("Scheduler.SetStatus", "cannot transition job %s from %s to %s", id, j.Status, target)
	}
	if target == job.StatusCompleted {
		summary, err := s.store.Summary(ctx, id)
		if err != nil {
			return job.Job{}, apperr.Wrap("Scheduler.SetStatus", err)
		}
		if summary.Available > 0 || summary.Claimed > 0 {
			return job.Job{}, apperr.Conflictf("Scheduler.SetStatus", "job %s still has %d available and %d claimed blocks", id, summary.Available, summary.Claimed)
		}
	}
	j.Status = target
	now := time.Now().UTC()
	switch target {
	case job.StatusRunning:
		if j.StartedAt.IsZero() {
			j.StartedAt = now
		}
	case job.StatusCompleted, job.StatusCancelled, job.StatusFailed:
		j.StoppedAt = now
	}

	updated, err := s.store.UpdateJob(ctx, j)
	if err != nil {
		return job.Job{}, apperr.Wrap("Scheduler.SetStatus", err)
	}
	return updated, nil
}

// ClaimBlock atomically claims the next available block for jobID on
// behalf of workerID. ok is false when no block is currently available,
// including when the job is not running (e.g. paused).
func (s *Service) ClaimBlock(ctx context.Context, jobID, workerID string, digitsHint int64) (block.Block, bool, error) {
	if workerID == "" {
		return block.Block{}, false, apperr.Validationf("Scheduler.ClaimBlock", "worker id must not be empty")
	}
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return block.Block{}, false, apperr.Wrap("Scheduler.ClaimBlock", err)
	}
	if j.Status != job.StatusRunning {
		return block.Block{}, false, nil
	}

	var estimated float64
	if s.estimator != nil {
		estimated = s.estimator.EstimateBlockSeconds(j.Form, digitsHint, j.BlockSize)
	}

	claimed, ok, err := s.store.ClaimNextBlock(ctx, jobID, workerID, estimated)
	if err != nil {
		return block.Block{}, false, apperr.Wrap("Scheduler.ClaimBlock", err)
	}
	if ok {
		metrics.RecordBlockClaimed(jobID)
	}
	return claimed, ok, nil
}

// CompleteBlock records a block's results and marks it completed, on
// behalf of workerID. The claim check (status=claimed AND
// claimed_by=workerID) is re-asserted at the store layer in the same
// update, so a stale worker's late completion on a block that has since
// been reclaimed and re-claimed by someone else is rejected rather than
// overwriting the new claimant's work.
func (s *Service) CompleteBlock(ctx context.Context, id, workerID string, tested, found int64, durationSecs float64, coresUsed int) (block.Block, error) {
	if workerID == "" {
		return block.Block{}, apperr.Validationf("Scheduler.CompleteBlock", "worker id must not be empty")
	}
	b, err := s.store.GetBlock(ctx, id)
	if err != nil {
		return block.Block{}, apperr.Wrap("Scheduler.CompleteBlock", err)
	}
	if !b.IsClaimedBy(workerID) {
		return block.Block{}, apperr.Conflictf("Scheduler.CompleteBlock", "block %s is not claimed by worker %s (status=%s, claimed_by=%s)", id, workerID, b.Status, b.ClaimedBy)
	}
	b.Status = block.StatusCompleted
	b.Tested = tested
	b.Found = found
	b.DurationSecs = durationSecs
	b.CoresUsed = coresUsed
	b.CompletedAt = time.Now().UTC()

	completed, err := s.store.CompleteBlock(ctx, b, workerID)
	if err != nil {
		return block.Block{}, apperr.Wrap("Scheduler.CompleteBlock", err)
	}
	metrics.RecordBlockCompleted(b.JobID, "completed")
	s.maybeCompleteJob(ctx, b.JobID)
	return completed, nil
}

// FailBlock marks a block failed and records the failure reason.
func (s *Service) FailBlock(ctx context.Context, id, reason string) (block.Block, error) {
	failed, err := s.store.FailBlock(ctx, id, reason)
	if err != nil {
		return block.Block{}, apperr.Wrap("Scheduler.FailBlock", err)
	}
	metrics.RecordBlockCompleted(failed.JobID, "failed")
	s.maybeCompleteJob(ctx, failed.JobID)
	return failed, nil
}

// maybeCompleteJob transitions jobID to completed once no available or
// claimed blocks remain, per the job state machine's running -> completed
// edge. It is a no-op when the job cannot make that transition (already
// terminal, or paused).
func (s *Service) maybeCompleteJob(ctx context.Context, jobID string) {
	summary, err := s.store.Summary(ctx, jobID)
	if err != nil || summary.Available > 0 || summary.Claimed > 0 {
		return
	}
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil || !j.CanTransitionTo(job.StatusCompleted) {
		return
	}
	j.Status = job.StatusCompleted
	j.StoppedAt = time.Now().UTC()
	if _, err := s.store.UpdateJob(ctx, j); err != nil {
		s.log.WithField("job_id", jobID).WithError(err).Warn("auto-complete job failed")
	}
}

// BlockSummary aggregates a job's block counts and totals.
func (s *Service) BlockSummary(ctx context.Context, jobID string) (block.Summary, error) {
	summary, err := s.store.Summary(ctx, jobID)
	if err != nil {
		return block.Summary{}, apperr.Wrap("Scheduler.BlockSummary", err)
	}
	return summary, nil
}

// ReclaimStale returns abandoned claimed blocks to the available pool,
// using grace as the minimum threshold (the effective threshold is
// max(grace, 3*block.EstimatedDurationS) per block).
func (s *Service) ReclaimStale(ctx context.Context, grace time.Duration) ([]block.Block, error) {
	reclaimed, err := s.store.ReclaimStale(ctx, time.Now().UTC(), grace)
	if err != nil {
		return nil, apperr.Wrap("Scheduler.ReclaimStale", err)
	}
	for _, b := range reclaimed {
		metrics.RecordBlockReclaimed(b.JobID)
		s.log.WithField("block_id", b.ID).WithField("job_id", b.JobID).Warn("reclaimed stale block")
	}
	return reclaimed, nil
}

// ListBlocks lists blocks of a job, optionally filtered by status.
func (s *Service) ListBlocks(ctx context.Context, jobID string, status block.Status) ([]block.Block, error) {
	blocks, err := s.store.ListBlocks(ctx, jobID, status)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}
