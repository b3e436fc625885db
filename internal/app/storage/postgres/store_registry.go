package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/domain/worker"
)

// --- RegistryStore ------------------------------------------------------------

func (s *Store) UpsertWorker(ctx context.Context, w worker.Worker) (worker.Worker, error) {
	if w.RegisteredAt.IsZero() {
		w.RegisteredAt = time.Now().UTC()
	}
	if w.LastHeartbeat.IsZero() {
		w.LastHeartbeat = w.RegisteredAt
	}

	searchParamsJSON, err := json.Marshal(w.SearchParams)
	if err != nil {
		return worker.Worker{}, err
	}
	checkpointJSON, err := json.Marshal(w.Checkpoint)
	if err != nil {
		return worker.Worker{}, err
	}
	metricsJSON, err := json.Marshal(w.Metrics)
	if err != nil {
		return worker.Worker{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workers (worker_id, hostname, cores, search_type, search_params, tested, found, current, checkpoint, metrics, registered_at, last_heartbeat, pending_command, worker_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (worker_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			cores = EXCLUDED.cores,
			search_type = EXCLUDED.search_type,
			search_params = EXCLUDED.search_params,
			worker_version = EXCLUDED.worker_version
	`, w.WorkerID, w.Hostname, w.Cores, w.SearchType, searchParamsJSON, w.Tested, w.Found, w.Current, checkpointJSON, metricsJSON, w.RegisteredAt, w.LastHeartbeat, w.PendingCommand, w.WorkerVersion)
	if err != nil {
		return worker.Worker{}, err
	}
	return s.GetWorker(ctx, w.WorkerID)
}

func (s *Store) GetWorker(ctx context.Context, workerID string) (worker.Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT worker_id, hostname, cores, search_type, search_params, tested, found, current, checkpoint, metrics, registered_at, last_heartbeat, pending_command, worker_version
		FROM workers WHERE worker_id = $1
	`, workerID)
	return scanWorker(row)
}

func (s *Store) ListWorkers(ctx context.Context) ([]worker.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, hostname, cores, search_type, search_params, tested, found, current, checkpoint, metrics, registered_at, last_heartbeat, pending_command, worker_version
		FROM workers
		ORDER BY worker_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func (s *Store) ListActiveWorkers(ctx context.Context, now time.Time, staleness time.Duration) ([]worker.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, hostname, cores, search_type, search_params, tested, found, current, checkpoint, metrics, registered_at, last_heartbeat, pending_command, worker_version
		FROM workers
		WHERE last_heartbeat > $1
		ORDER BY worker_id
	`, now.Add(-staleness))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func (s *Store) RecordHeartbeat(ctx context.Context, workerID string, tested, found int64, current, checkpoint, metrics []byte, at time.Time) (worker.Worker, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workers
		SET tested = $2, found = $3,
			current = COALESCE(NULLIF($4, ''), current),
			checkpoint = COALESCE(NULLIF($5, '')::jsonb, checkpoint),
			metrics = COALESCE(NULLIF($6, '')::jsonb, metrics),
			last_heartbeat = $7
		WHERE worker_id = $1
	`, workerID, tested, found, string(current), string(checkpoint), string(metrics), at.UTC())
	if err != nil {
		return worker.Worker{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return worker.Worker{}, sql.ErrNoRows
	}
	return s.GetWorker(ctx, workerID)
}

func (s *Store) SetPendingCommand(ctx context.Context, workerID, command string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workers SET pending_command = $2 WHERE worker_id = $1
	`, workerID, command)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) TakePendingCommand(ctx context.Context, workerID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH prior AS (
			SELECT pending_command FROM workers WHERE worker_id = $1
		)
		UPDATE workers SET pending_command = ''
		WHERE worker_id = $1
		RETURNING (SELECT pending_command FROM prior)
	`, workerID)

	var command string
	if err := row.Scan(&command); err != nil {
		return "", err
	}
	return command, nil
}

func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE worker_id = $1`, workerID)
	return err
}

func (s *Store) PruneStale(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM workers WHERE last_heartbeat < $1
		RETURNING worker_id
	`, before.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pruned []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pruned = append(pruned, id)
	}
	return pruned, rows.Err()
}

func scanWorker(scanner rowScanner) (worker.Worker, error) {
	var (
		w            worker.Worker
		searchParams []byte
		checkpoint   []byte
		metrics      []byte
	)
	if err := scanner.Scan(&w.WorkerID, &w.Hostname, &w.Cores, &w.SearchType, &searchParams, &w.Tested, &w.Found, &w.Current, &checkpoint, &metrics, &w.RegisteredAt, &w.LastHeartbeat, &w.PendingCommand, &w.WorkerVersion); err != nil {
		return worker.Worker{}, err
	}
	w.SearchParams = searchParams
	w.Checkpoint = checkpoint
	w.Metrics = metrics
	w.RegisteredAt = w.RegisteredAt.UTC()
	w.LastHeartbeat = w.LastHeartbeat.UTC()
	return w, nil
}

func scanWorkers(rows *sql.Rows) ([]worker.Worker, error) {
	var result []worker.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}
