package storage

import (
	"context"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/domain/block"
	"github.com/oddurs/prime-coordinator/internal/app/domain/costmodel"
	"github.com/oddurs/prime-coordinator/internal/app/domain/job"
	"github.com/oddurs/prime-coordinator/internal/app/domain/prime"
	"github.com/oddurs/prime-coordinator/internal/app/domain/release"
	"github.com/oddurs/prime-coordinator/internal/app/domain/worker"
)

// SchedulerStore persists jobs and their work blocks, and supports the
// atomic claim and reclaim-stale operations the scheduler relies on.
type SchedulerStore interface {
	CreateJob(ctx context.Context, j job.Job, blocks []block.Block) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	ListJobs(ctx context.Context, status job.Status, limit int) ([]job.Job, error)
	UpdateJob(ctx context.Context, j job.Job) (job.Job, error)

	// ClaimNextBlock atomically transitions the oldest available block for
	// jobID from available to claimed and assigns it to workerID. It
	// returns (block.Block{}, false, nil) when no block is available, or
	// when the owning job is not running (e.g. paused).
	ClaimNextBlock(ctx context.Context, jobID, workerID string, estimatedDurationS float64) (block.Block, bool, error)
	GetBlock(ctx context.Context, id string) (block.Block, error)
	// CompleteBlock persists b's completion, conditioned on the block
	// still being claimed by workerID; implementations return
	// sql.ErrNoRows when that condition no longer holds (reclaimed and
	// re-claimed by someone else since the caller last read it).
	CompleteBlock(ctx context.Context, b block.Block, workerID string) (block.Block, error)
	FailBlock(ctx context.Context, id string, reason string) (block.Block, error)
	ListBlocks(ctx context.Context, jobID string, status block.Status) ([]block.Block, error)
	Summary(ctx context.Context, jobID string) (block.Summary, error)

	// ReclaimStale returns claimed blocks whose claim age exceeds their
	// reclaim threshold and resets them to available.
	ReclaimStale(ctx context.Context, now time.Time, grace time.Duration) ([]block.Block, error)
}

// RegistryStore persists worker registrations and heartbeat state.
type RegistryStore interface {
	UpsertWorker(ctx context.Context, w worker.Worker) (worker.Worker, error)
	GetWorker(ctx context.Context, workerID string) (worker.Worker, error)
	ListWorkers(ctx context.Context) ([]worker.Worker, error)
	ListActiveWorkers(ctx context.Context, now time.Time, staleness time.Duration) ([]worker.Worker, error)

	RecordHeartbeat(ctx context.Context, workerID string, tested, found int64, current, checkpoint, metrics []byte, at time.Time) (worker.Worker, error)

	// SetPendingCommand stores a command for the worker to pick up and
	// clear on its next heartbeat.
	SetPendingCommand(ctx context.Context, workerID, command string) error
	// TakePendingCommand atomically reads and clears the pending command.
	TakePendingCommand(ctx context.Context, workerID string) (string, error)

	DeregisterWorker(ctx context.Context, workerID string) error
	PruneStale(ctx context.Context, before time.Time) ([]string, error)
}

// PrimeStore persists discovered primes and their verification status.
type PrimeStore interface {
	// InsertIfAbsent stores a newly found prime unless a record with the
	// same (form, expression) already exists, in which case it returns the
	// existing record and inserted=false.
	InsertIfAbsent(ctx context.Context, p prime.Prime) (result prime.Prime, inserted bool, err error)
	GetPrime(ctx context.Context, id string) (prime.Prime, error)
	UpdateVerification(ctx context.Context, p prime.Prime) (prime.Prime, error)
	ListUnverified(ctx context.Context, limit int) ([]prime.Prime, error)
	ListByForm(ctx context.Context, form string, limit int) ([]prime.Prime, error)
	// LargestKnown returns the largest verified prime recorded for a form,
	// measured by digit count.
	LargestKnown(ctx context.Context, form string) (prime.Prime, bool, error)
}

// CostModelStore persists per-block timing observations and the fitted
// power-law curves derived from them.
type CostModelStore interface {
	RecordObservation(ctx context.Context, obs costmodel.Observation) error
	ListObservations(ctx context.Context, form string, since time.Time) ([]costmodel.Observation, error)
	SaveFit(ctx context.Context, fit costmodel.Fit) error
	GetFit(ctx context.Context, form string) (costmodel.Fit, bool, error)
	ListForms(ctx context.Context) ([]string, error)
}

// ReleaseStore persists releases, channel assignments, and the channel
// event audit trail.
type ReleaseStore interface {
	UpsertRelease(ctx context.Context, r release.Release) (release.Release, error)
	GetRelease(ctx context.Context, version string) (release.Release, error)
	ListReleases(ctx context.Context) ([]release.Release, error)

	SetChannel(ctx context.Context, c release.Channel, changedBy string) (release.Channel, error)
	GetChannel(ctx context.Context, name string) (release.Channel, bool, error)
	ListChannels(ctx context.Context) ([]release.Channel, error)
	ListChannelEvents(ctx context.Context, channel string, limit int) ([]release.Event, error)
}
