package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oddurs/prime-coordinator/internal/app/domain/block"
	"github.com/oddurs/prime-coordinator/internal/app/domain/job"
)

// --- SchedulerStore -----------------------------------------------------------

func (s *Store) CreateJob(ctx context.Context, j job.Job, blocks []block.Block) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}

	paramsJSON, err := json.Marshal(j.Params)
	if err != nil {
		return job.Job{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return job.Job{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, form, params, range_start, range_end, block_size, status, created_at, started_at, stopped_at, total_tested, total_found, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, j.ID, j.Form, paramsJSON, j.RangeStart, j.RangeEnd, j.BlockSize, j.Status, j.CreatedAt, toNullTime(j.StartedAt), toNullTime(j.StoppedAt), j.TotalTested, j.TotalFound, j.Error)
	if err != nil {
		return job.Job{}, err
	}

	for i := range blocks {
		b := blocks[i]
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.JobID = j.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO blocks (id, job_id, block_start, block_end, status, claimed_by, claimed_at, completed_at, tested, found, duration_secs, cores_used, estimated_duration_s)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, b.ID, b.JobID, b.BlockStart, b.BlockEnd, b.Status, b.ClaimedBy, toNullTime(b.ClaimedAt), toNullTime(b.CompletedAt), b.Tested, b.Found, b.DurationSecs, b.CoresUsed, b.EstimatedDurationS)
		if err != nil {
			return job.Job{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, form, params, range_start, range_end, block_size, status, created_at, started_at, stopped_at, total_tested, total_found, error
		FROM jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context, status job.Status, limit int) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form, params, range_start, range_end, block_size, status, created_at, started_at, stopped_at, total_tested, total_found, error
		FROM jobs
		WHERE $1 = '' OR status = $1
		ORDER BY created_at
		LIMIT NULLIF($2, 0)
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

func (s *Store) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	paramsJSON, err := json.Marshal(j.Params)
	if err != nil {
		return job.Job{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET params = $2, status = $3, started_at = $4, stopped_at = $5, total_tested = $6, total_found = $7, error = $8
		WHERE id = $1
	`, j.ID, paramsJSON, j.Status, toNullTime(j.StartedAt), toNullTime(j.StoppedAt), j.TotalTested, j.TotalFound, j.Error)
	if err != nil {
		return job.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return job.Job{}, sql.ErrNoRows
	}
	return j, nil
}

// ClaimNextBlock atomically claims the oldest available block for jobID
// using SELECT ... FOR UPDATE SKIP LOCKED, so concurrent workers never
// claim the same block twice and never block on each other's claims. The
// join against jobs enforces that a paused (or otherwise non-running) job
// never yields a block, in the same transaction as the claim itself.
func (s *Store) ClaimNextBlock(ctx context.Context, jobID, workerID string, estimatedDurationS float64) (block.Block, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return block.Block{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT b.id, b.job_id, b.block_start, b.block_end, b.status, b.claimed_by, b.claimed_at, b.completed_at, b.tested, b.found, b.duration_secs, b.cores_used, b.estimated_duration_s
		FROM blocks b
		JOIN jobs j ON j.id = b.job_id
		WHERE b.job_id = $1 AND b.status = $2 AND j.status = $3
		ORDER BY b.block_start
		FOR UPDATE OF b SKIP LOCKED
		LIMIT 1
	`, jobID, block.StatusAvailable, job.StatusRunning)

	b, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return block.Block{}, false, nil
	}
	if err != nil {
		return block.Block{}, false, err
	}

	b.Status = block.StatusClaimed
	b.ClaimedBy = workerID
	b.ClaimedAt = time.Now().UTC()
	b.EstimatedDurationS = estimatedDurationS

	_, err = tx.ExecContext(ctx, `
		UPDATE blocks
		SET status = $2, claimed_by = $3, claimed_at = $4, estimated_duration_s = $5
		WHERE id = $1
	`, b.ID, b.Status, b.ClaimedBy, b.ClaimedAt, b.EstimatedDurationS)
	if err != nil {
		return block.Block{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return block.Block{}, false, err
	}
	return b, true, nil
}

func (s *Store) GetBlock(ctx context.Context, id string) (block.Block, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, block_start, block_end, status, claimed_by, claimed_at, completed_at, tested, found, duration_secs, cores_used, estimated_duration_s
		FROM blocks WHERE id = $1
	`, id)
	return scanBlock(row)
}

// CompleteBlock conditions its update on the block still being claimed by
// workerID, so a stale worker's late completion on a block that has since
// been reclaimed and re-claimed by another worker is rejected instead of
// overwriting the new claimant's work.
func (s *Store) CompleteBlock(ctx context.Context, b block.Block, workerID string) (block.Block, error) {
	if b.CompletedAt.IsZero() {
		b.CompletedAt = time.Now().UTC()
	}
	b.Status = block.StatusCompleted
	result, err := s.db.ExecContext(ctx, `
		UPDATE blocks
		SET status = $2, completed_at = $3, tested = $4, found = $5, duration_secs = $6, cores_used = $7
		WHERE id = $1 AND status = $8 AND claimed_by = $9
	`, b.ID, b.Status, b.CompletedAt, b.Tested, b.Found, b.DurationSecs, b.CoresUsed, block.StatusClaimed, workerID)
	if err != nil {
		return block.Block{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return block.Block{}, sql.ErrNoRows
	}
	return b, nil
}

func (s *Store) FailBlock(ctx context.Context, id string, reason string) (block.Block, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE blocks
		SET status = $2, completed_at = $3
		WHERE id = $1
	`, id, block.StatusFailed, now)
	if err != nil {
		return block.Block{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return block.Block{}, sql.ErrNoRows
	}
	_ = reason
	return s.GetBlock(ctx, id)
}

func (s *Store) ListBlocks(ctx context.Context, jobID string, status block.Status) ([]block.Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, block_start, block_end, status, claimed_by, claimed_at, completed_at, tested, found, duration_secs, cores_used, estimated_duration_s
		FROM blocks
		WHERE job_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY block_start
	`, jobID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []block.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *Store) Summary(ctx context.Context, jobID string) (block.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'available'),
			COUNT(*) FILTER (WHERE status = 'claimed'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(tested), 0),
			COALESCE(SUM(found), 0)
		FROM blocks WHERE job_id = $1
	`, jobID)

	var sum block.Summary
	if err := row.Scan(&sum.Available, &sum.Claimed, &sum.Completed, &sum.Failed, &sum.Tested, &sum.Found); err != nil {
		return block.Summary{}, err
	}
	return sum, nil
}

func (s *Store) ReclaimStale(ctx context.Context, now time.Time, grace time.Duration) ([]block.Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, block_start, block_end, status, claimed_by, claimed_at, completed_at, tested, found, duration_secs, cores_used, estimated_duration_s
		FROM blocks
		WHERE status = $1
	`, block.StatusClaimed)
	if err != nil {
		return nil, err
	}

	var candidates []block.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if now.Sub(b.ClaimedAt) >= b.ReclaimThreshold(grace) {
			candidates = append(candidates, b)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var reclaimed []block.Block
	for _, b := range candidates {
		result, err := s.db.ExecContext(ctx, `
			UPDATE blocks
			SET status = $2, claimed_by = '', claimed_at = NULL
			WHERE id = $1 AND status = $3
		`, b.ID, block.StatusAvailable, block.StatusClaimed)
		if err != nil {
			return nil, err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			continue
		}
		b.Status = block.StatusAvailable
		b.ClaimedBy = ""
		b.ClaimedAt = time.Time{}
		reclaimed = append(reclaimed, b)
	}
	return reclaimed, nil
}

func scanJob(scanner rowScanner) (job.Job, error) {
	var (
		j           job.Job
		paramsRaw   []byte
		startedAt   sql.NullTime
		stoppedAt   sql.NullTime
	)
	if err := scanner.Scan(&j.ID, &j.Form, &paramsRaw, &j.RangeStart, &j.RangeEnd, &j.BlockSize, &j.Status, &j.CreatedAt, &startedAt, &stoppedAt, &j.TotalTested, &j.TotalFound, &j.Error); err != nil {
		return job.Job{}, err
	}
	if len(paramsRaw) > 0 {
		j.Params = paramsRaw
	}
	j.StartedAt = nullTimeOr(startedAt)
	j.StoppedAt = nullTimeOr(stoppedAt)
	j.CreatedAt = j.CreatedAt.UTC()
	return j, nil
}

func scanBlock(scanner rowScanner) (block.Block, error) {
	var (
		b           block.Block
		claimedBy   sql.NullString
		claimedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := scanner.Scan(&b.ID, &b.JobID, &b.BlockStart, &b.BlockEnd, &b.Status, &claimedBy, &claimedAt, &completedAt, &b.Tested, &b.Found, &b.DurationSecs, &b.CoresUsed, &b.EstimatedDurationS); err != nil {
		return block.Block{}, err
	}
	b.ClaimedBy = nullStringOr(claimedBy)
	b.ClaimedAt = nullTimeOr(claimedAt)
	b.CompletedAt = nullTimeOr(completedAt)
	return b, nil
}
