// Package registry implements the Worker Registry: registration, heartbeat
// ingestion, pending-command delivery, and staleness-based pruning.
package registry

import (
	"context"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/worker"
	"github.com/oddurs/prime-coordinator/internal/app/metrics"
	"github.com/oddurs/prime-coordinator/internal/app/storage"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

// Service implements the registry operations over a RegistryStore.
type Service struct {
	store      storage.RegistryStore
	staleAfter time.Duration
	log        *logger.Logger
}

// New constructs a registry Service. staleAfter is the default staleness
// window used by ActiveWorkers.
func New(store storage.RegistryStore, staleAfter time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	if staleAfter <= 0 {
		staleAfter = 90 * time.Second
	}
	return &Service{store: store, staleAfter: staleAfter, log: log}
}

// Register upserts a worker's identity and capabilities. Re-registration
// does not reset accumulated progress.
func (s *Service) Register(ctx context.Context, w worker.Worker) (worker.Worker, error) {
	if w.WorkerID == "" {
		return worker.Worker{}, apperr.Validationf("Registry.Register", "worker_id must not be empty")
	}
	now := time.Now().UTC()
	if w.LastHeartbeat.IsZero() {
		w.LastHeartbeat = now
	}
	registered, err := s.store.UpsertWorker(ctx, w)
	if err != nil {
		return worker.Worker{}, apperr.Wrap("Registry.Register", err)
	}
	return registered, nil
}

// Heartbeat records progress from a worker and returns its updated record.
// It fails with KindNotFound if the worker was never registered, per the
// unknown-worker-heartbeat edge case.
func (s *Service) Heartbeat(ctx context.Context, workerID string, tested, found int64, current, checkpoint, workerMetrics []byte) (worker.Worker, error) {
	if _, err := s.store.GetWorker(ctx, workerID); err != nil {
		return worker.Worker{}, apperr.NotFoundf("Registry.Heartbeat", "worker %s is not registered", workerID)
	}
	updated, err := s.store.RecordHeartbeat(ctx, workerID, tested, found, current, checkpoint, workerMetrics, time.Now().UTC())
	if err != nil {
		return worker.Worker{}, apperr.Wrap("Registry.Heartbeat", err)
	}
	metrics.RecordHeartbeat(workerID)
	return updated, nil
}

// SetCommand queues a command for the worker to pick up on its next
// heartbeat. Recognized commands are defined in the worker package; unknown
// commands are accepted but will be ignored worker-side.
func (s *Service) SetCommand(ctx context.Context, workerID, command string) error {
	if err := s.store.SetPendingCommand(ctx, workerID, command); err != nil {
		return apperr.Wrap("Registry.SetCommand", err)
	}
	return nil
}

// TakeCommand atomically reads and clears a worker's pending command,
// delivering it at most once.
func (s *Service) TakeCommand(ctx context.Context, workerID string) (string, error) {
	cmd, err := s.store.TakePendingCommand(ctx, workerID)
	if err != nil {
		return "", apperr.Wrap("Registry.TakeCommand", err)
	}
	return cmd, nil
}

// Deregister removes a worker from the registry immediately.
func (s *Service) Deregister(ctx context.Context, workerID string) error {
	if err := s.store.DeregisterWorker(ctx, workerID); err != nil {
		return apperr.Wrap("Registry.Deregister", err)
	}
	return nil
}

// GetWorker fetches a single worker's record.
func (s *Service) GetWorker(ctx context.Context, workerID string) (worker.Worker, error) {
	w, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return worker.Worker{}, apperr.NotFoundf("Registry.GetWorker", "worker %s not found", workerID)
	}
	return w, nil
}

// ActiveWorkers lists workers that have heartbeat within the configured
// staleness window.
func (s *Service) ActiveWorkers(ctx context.Context) ([]worker.Worker, error) {
	active, err := s.store.ListActiveWorkers(ctx, time.Now().UTC(), s.staleAfter)
	if err != nil {
		return nil, apperr.Wrap("Registry.ActiveWorkers", err)
	}
	metrics.SetActiveWorkers(len(active))
	return active, nil
}

// ListWorkers lists every registered worker, active or stale.
func (s *Service) ListWorkers(ctx context.Context) ([]worker.Worker, error) {
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, apperr.Wrap("Registry.ListWorkers", err)
	}
	return workers, nil
}

// PruneStale removes workers that have not heartbeat within staleAfter,
// returning the pruned worker IDs.
func (s *Service) PruneStale(ctx context.Context) ([]string, error) {
	pruned, err := s.store.PruneStale(ctx, time.Now().UTC().Add(-s.staleAfter))
	if err != nil {
		return nil, apperr.Wrap("Registry.PruneStale", err)
	}
	for _, id := range pruned {
		metrics.RecordWorkerPruned("stale")
		s.log.WithField("worker_id", id).Warn("pruned stale worker")
	}
	return pruned, nil
}
