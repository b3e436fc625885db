// Package memory provides an in-process implementation of the storage
// interfaces, used by tests and by single-node deployments that do not
// need Postgres durability.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oddurs/prime-coordinator/internal/app/domain/block"
	"github.com/oddurs/prime-coordinator/internal/app/domain/costmodel"
	"github.com/oddurs/prime-coordinator/internal/app/domain/job"
	"github.com/oddurs/prime-coordinator/internal/app/domain/prime"
	"github.com/oddurs/prime-coordinator/internal/app/domain/release"
	"github.com/oddurs/prime-coordinator/internal/app/domain/worker"
	"github.com/oddurs/prime-coordinator/internal/app/storage"
)

// Store implements every storage interface in memory, guarded by a single
// mutex. It favors simplicity over fine-grained locking since it only
// exists for tests and small deployments.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]job.Job
	blocks map[string]block.Block

	workers map[string]worker.Worker

	primes map[string]prime.Prime

	observations map[string][]costmodel.Observation
	fits         map[string]costmodel.Fit

	releases map[string]release.Release
	channels map[string]release.Channel
	events   []release.Event
}

var (
	_ storage.SchedulerStore = (*Store)(nil)
	_ storage.RegistryStore  = (*Store)(nil)
	_ storage.PrimeStore     = (*Store)(nil)
	_ storage.CostModelStore = (*Store)(nil)
	_ storage.ReleaseStore   = (*Store)(nil)
)

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		jobs:         make(map[string]job.Job),
		blocks:       make(map[string]block.Block),
		workers:      make(map[string]worker.Worker),
		primes:       make(map[string]prime.Prime),
		observations: make(map[string][]costmodel.Observation),
		fits:         make(map[string]costmodel.Fit),
		releases:     make(map[string]release.Release),
		channels:     make(map[string]release.Channel),
	}
}

// --- SchedulerStore ----------------------------------------------------------

func (s *Store) CreateJob(ctx context.Context, j job.Job, blocks []block.Block) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	s.jobs[j.ID] = j

	for _, b := range blocks {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.JobID = j.ID
		s.blocks[b.ID] = b
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, sql.ErrNoRows
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, status job.Status, limit int) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []job.Job
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		result = append(result, j)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.Before(result[k].CreatedAt) })
	return clampJobs(result, limit), nil
}

func (s *Store) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return job.Job{}, sql.ErrNoRows
	}
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) ClaimNextBlock(ctx context.Context, jobID, workerID string, estimatedDurationS float64) (block.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[jobID]; !ok || j.Status != job.StatusRunning {
		return block.Block{}, false, nil
	}

	var candidates []block.Block
	for _, b := range s.blocks {
		if b.JobID == jobID && b.Status == block.StatusAvailable {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return block.Block{}, false, nil
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].BlockStart < candidates[k].BlockStart })

	claimed := candidates[0]
	claimed.Status = block.StatusClaimed
	claimed.ClaimedBy = workerID
	claimed.ClaimedAt = time.Now().UTC()
	claimed.EstimatedDurationS = estimatedDurationS
	s.blocks[claimed.ID] = claimed
	return claimed, true, nil
}

func (s *Store) GetBlock(ctx context.Context, id string) (block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return block.Block{}, sql.ErrNoRows
	}
	return b, nil
}

func (s *Store) CompleteBlock(ctx context.Context, b block.Block, workerID string) (block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.blocks[b.ID]
	if !ok {
		return block.Block{}, sql.ErrNoRows
	}
	if !existing.IsClaimedBy(workerID) {
		return block.Block{}, sql.ErrNoRows
	}
	b.Status = block.StatusCompleted
	if b.CompletedAt.IsZero() {
		b.CompletedAt = time.Now().UTC()
	}
	s.blocks[b.ID] = b
	return b, nil
}

func (s *Store) FailBlock(ctx context.Context, id string, reason string) (block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return block.Block{}, sql.ErrNoRows
	}
	b.Status = block.StatusFailed
	b.CompletedAt = time.Now().UTC()
	_ = reason
	s.blocks[id] = b
	return b, nil
}

func (s *Store) ListBlocks(ctx context.Context, jobID string, status block.Status) ([]block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []block.Block
	for _, b := range s.blocks {
		if b.JobID != jobID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].BlockStart < result[k].BlockStart })
	return result, nil
}

func (s *Store) Summary(ctx context.Context, jobID string) (block.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum block.Summary
	for _, b := range s.blocks {
		if b.JobID != jobID {
			continue
		}
		switch b.Status {
		case block.StatusAvailable:
			sum.Available++
		case block.StatusClaimed:
			sum.Claimed++
		case block.StatusCompleted:
			sum.Completed++
		case block.StatusFailed:
			sum.Failed++
		}
		sum.Tested += b.Tested
		sum.Found += b.Found
	}
	return sum, nil
}

func (s *Store) ReclaimStale(ctx context.Context, now time.Time, grace time.Duration) ([]block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reclaimed []block.Block
	for id, b := range s.blocks {
		if b.Status != block.StatusClaimed {
			continue
		}
		threshold := b.ReclaimThreshold(grace)
		if now.Sub(b.ClaimedAt) < threshold {
			continue
		}
		b.Status = block.StatusAvailable
		b.ClaimedBy = ""
		b.ClaimedAt = time.Time{}
		s.blocks[id] = b
		reclaimed = append(reclaimed, b)
	}
	return reclaimed, nil
}

func clampJobs(jobs []job.Job, limit int) []job.Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

// --- RegistryStore -----------------------------------------------------------

func (s *Store) UpsertWorker(ctx context.Context, w worker.Worker) (worker.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.workers[w.WorkerID]; ok && w.RegisteredAt.IsZero() {
		w.RegisteredAt = existing.RegisteredAt
	}
	if w.RegisteredAt.IsZero() {
		w.RegisteredAt = time.Now().UTC()
	}
	s.workers[w.WorkerID] = w
	return w, nil
}

func (s *Store) GetWorker(ctx context.Context, workerID string) (worker.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[workerID]
	if !ok {
		return worker.Worker{}, sql.ErrNoRows
	}
	return w, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]worker.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		result = append(result, w)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].WorkerID < result[k].WorkerID })
	return result, nil
}

func (s *Store) ListActiveWorkers(ctx context.Context, now time.Time, staleness time.Duration) ([]worker.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []worker.Worker
	for _, w := range s.workers {
		if w.IsActive(now, staleness) {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].WorkerID < result[k].WorkerID })
	return result, nil
}

func (s *Store) RecordHeartbeat(ctx context.Context, workerID string, tested, found int64, current, checkpoint, metrics []byte, at time.Time) (worker.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return worker.Worker{}, sql.ErrNoRows
	}
	w.Tested = tested
	w.Found = found
	if current != nil {
		w.Current = string(current)
	}
	if checkpoint != nil {
		w.Checkpoint = checkpoint
	}
	if metrics != nil {
		w.Metrics = metrics
	}
	w.LastHeartbeat = at
	s.workers[workerID] = w
	return w, nil
}

func (s *Store) SetPendingCommand(ctx context.Context, workerID, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return sql.ErrNoRows
	}
	w.PendingCommand = command
	s.workers[workerID] = w
	return nil
}

func (s *Store) TakePendingCommand(ctx context.Context, workerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return "", sql.ErrNoRows
	}
	command := w.PendingCommand
	w.PendingCommand = ""
	s.workers[workerID] = w
	return command, nil
}

func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, workerID)
	return nil
}

func (s *Store) PruneStale(ctx context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned []string
	for id, w := range s.workers {
		if w.LastHeartbeat.Before(before) {
			pruned = append(pruned, id)
			delete(s.workers, id)
		}
	}
	sort.Strings(pruned)
	return pruned, nil
}

// --- PrimeStore ---------------------------------------------------------------

func (s *Store) InsertIfAbsent(ctx context.Context, p prime.Prime) (prime.Prime, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.primes {
		if existing.Form == p.Form && existing.Expression == p.Expression {
			return existing, false, nil
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.FoundAt.IsZero() {
		p.FoundAt = time.Now().UTC()
	}
	s.primes[p.ID] = p
	return p, true, nil
}

func (s *Store) GetPrime(ctx context.Context, id string) (prime.Prime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.primes[id]
	if !ok {
		return prime.Prime{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) UpdateVerification(ctx context.Context, p prime.Prime) (prime.Prime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.primes[p.ID]; !ok {
		return prime.Prime{}, sql.ErrNoRows
	}
	s.primes[p.ID] = p
	return p, nil
}

func (s *Store) ListUnverified(ctx context.Context, limit int) ([]prime.Prime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []prime.Prime
	for _, p := range s.primes {
		if !p.Verified && p.FailureReason == "" {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].FoundAt.Before(result[k].FoundAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListByForm(ctx context.Context, form string, limit int) ([]prime.Prime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []prime.Prime
	for _, p := range s.primes {
		if p.Form == form {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Digits > result[k].Digits })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) LargestKnown(ctx context.Context, form string) (prime.Prime, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best prime.Prime
	found := false
	for _, p := range s.primes {
		if p.Form != form || !p.Verified {
			continue
		}
		if !found || p.Digits > best.Digits {
			best = p
			found = true
		}
	}
	return best, found, nil
}

// --- CostModelStore ------------------------------------------------------------

func (s *Store) RecordObservation(ctx context.Context, obs costmodel.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obs.CompletedAt.IsZero() {
		obs.CompletedAt = time.Now().UTC()
	}
	s.observations[obs.Form] = append(s.observations[obs.Form], obs)
	return nil
}

func (s *Store) ListObservations(ctx context.Context, form string, since time.Time) ([]costmodel.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []costmodel.Observation
	for _, obs := range s.observations[form] {
		if obs.CompletedAt.Before(since) {
			continue
		}
		result = append(result, obs)
	}
	return result, nil
}

func (s *Store) SaveFit(ctx context.Context, fit costmodel.Fit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fits[fit.Form] = fit
	return nil
}

func (s *Store) GetFit(ctx context.Context, form string) (costmodel.Fit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fit, ok := s.fits[form]
	return fit, ok, nil
}

func (s *Store) ListForms(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	forms := make([]string, 0, len(s.observations))
	for form := range s.observations {
		forms = append(forms, form)
	}
	sort.Strings(forms)
	return forms, nil
}

// --- ReleaseStore --------------------------------------------------------------

func (s *Store) UpsertRelease(ctx context.Context, r release.Release) (release.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.PublishedAt.IsZero() {
		r.PublishedAt = time.Now().UTC()
	}
	s.releases[r.Version] = r
	return r, nil
}

func (s *Store) GetRelease(ctx context.Context, version string) (release.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.releases[version]
	if !ok {
		return release.Release{}, sql.ErrNoRows
	}
	return r, nil
}

func (s *Store) ListReleases(ctx context.Context) ([]release.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]release.Release, 0, len(s.releases))
	for _, r := range s.releases {
		result = append(result, r)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].PublishedAt.Before(result[k].PublishedAt) })
	return result, nil
}

func (s *Store) SetChannel(ctx context.Context, c release.Channel, changedBy string) (release.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, had := s.channels[c.Channel]
	s.channels[c.Channel] = c

	evt := release.Event{
		ID:             int64(len(s.events) + 1),
		Channel:        c.Channel,
		ToVersion:      c.Version,
		RolloutPercent: c.RolloutPercent,
		ChangedBy:      changedBy,
		ChangedAt:      time.Now().UTC(),
	}
	if had {
		evt.FromVersion = previous.Version
	}
	s.events = append(s.events, evt)
	return c, nil
}

func (s *Store) GetChannel(ctx context.Context, name string) (release.Channel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[name]
	return c, ok, nil
}

func (s *Store) ListChannels(ctx context.Context) ([]release.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]release.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		result = append(result, c)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Channel < result[k].Channel })
	return result, nil
}

func (s *Store) ListChannelEvents(ctx context.Context, channel string, limit int) ([]release.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []release.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Channel != channel {
			continue
		}
		result = append(result, s.events[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
