package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/domain/release"
)

// --- ReleaseStore ---------------------------------------------------------

func (s *Store) UpsertRelease(ctx context.Context, r release.Release) (release.Release, error) {
	if r.PublishedAt.IsZero() {
		r.PublishedAt = time.Now().UTC()
	}
	artifactsJSON, err := json.Marshal(r.Artifacts)
	if err != nil {
		return release.Release{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO releases (version, artifacts, notes, published_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (version) DO UPDATE SET
			artifacts = EXCLUDED.artifacts,
			notes = EXCLUDED.notes
	`, r.Version, artifactsJSON, r.Notes, r.PublishedAt)
	if err != nil {
		return release.Release{}, err
	}
	return s.GetRelease(ctx, r.Version)
}

func (s *Store) GetRelease(ctx context.Context, version string) (release.Release, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, artifacts, notes, published_at
		FROM releases WHERE version = $1
	`, version)
	return scanRelease(row)
}

func (s *Store) ListReleases(ctx context.Context) ([]release.Release, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, artifacts, notes, published_at
		FROM releases ORDER BY published_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []release.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) SetChannel(ctx context.Context, c release.Channel, changedBy string) (release.Channel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return release.Channel{}, err
	}
	defer tx.Rollback()

	var fromVersion string
	row := tx.QueryRowContext(ctx, `SELECT version FROM channels WHERE channel = $1`, c.Channel)
	if err := row.Scan(&fromVersion); err != nil && err != sql.ErrNoRows {
		return release.Channel{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (channel, version, rollout_percent)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel) DO UPDATE SET version = EXCLUDED.version, rollout_percent = EXCLUDED.rollout_percent
	`, c.Channel, c.Version, c.RolloutPercent)
	if err != nil {
		return release.Channel{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channel_events (channel, from_version, to_version, rollout_percent, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.Channel, fromVersion, c.Version, c.RolloutPercent, changedBy, time.Now().UTC())
	if err != nil {
		return release.Channel{}, err
	}

	if err := tx.Commit(); err != nil {
		return release.Channel{}, err
	}
	return c, nil
}

func (s *Store) GetChannel(ctx context.Context, name string) (release.Channel, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT channel, version, rollout_percent FROM channels WHERE channel = $1
	`, name)

	var c release.Channel
	if err := row.Scan(&c.Channel, &c.Version, &c.RolloutPercent); err != nil {
		if err == sql.ErrNoRows {
			return release.Channel{}, false, nil
		}
		return release.Channel{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListChannels(ctx context.Context) ([]release.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, version, rollout_percent FROM channels ORDER BY channel
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []release.Channel
	for rows.Next() {
		var c release.Channel
		if err := rows.Scan(&c.Channel, &c.Version, &c.RolloutPercent); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) ListChannelEvents(ctx context.Context, channel string, limit int) ([]release.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, from_version, to_version, rollout_percent, changed_by, changed_at
		FROM channel_events
		WHERE channel = $1
		ORDER BY changed_at DESC
		LIMIT NULLIF($2, 0)
	`, channel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []release.Event
	for rows.Next() {
		var evt release.Event
		if err := rows.Scan(&evt.ID, &evt.Channel, &evt.FromVersion, &evt.ToVersion, &evt.RolloutPercent, &evt.ChangedBy, &evt.ChangedAt); err != nil {
			return nil, err
		}
		evt.ChangedAt = evt.ChangedAt.UTC()
		result = append(result, evt)
	}
	return result, rows.Err()
}

func scanRelease(scanner rowScanner) (release.Release, error) {
	var (
		r             release.Release
		artifactsRaw  []byte
	)
	if err := scanner.Scan(&r.Version, &artifactsRaw, &r.Notes, &r.PublishedAt); err != nil {
		return release.Release{}, err
	}
	if len(artifactsRaw) > 0 {
		_ = json.Unmarshal(artifactsRaw, &r.Artifacts)
	}
	r.PublishedAt = r.PublishedAt.UTC()
	return r, nil
}
