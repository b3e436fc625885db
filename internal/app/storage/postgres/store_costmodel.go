package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/domain/costmodel"
)

// --- CostModelStore -------------------------------------------------------

func (s *Store) RecordObservation(ctx context.Context, obs costmodel.Observation) error {
	if obs.CompletedAt.IsZero() {
		obs.CompletedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_observations (form, digits, secs, completed_at)
		VALUES ($1, $2, $3, $4)
	`, obs.Form, obs.Digits, obs.Secs, obs.CompletedAt)
	return err
}

func (s *Store) ListObservations(ctx context.Context, form string, since time.Time) ([]costmodel.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT form, digits, secs, completed_at
		FROM cost_observations
		WHERE form = $1 AND completed_at >= $2
		ORDER BY completed_at
	`, form, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []costmodel.Observation
	for rows.Next() {
		var obs costmodel.Observation
		if err := rows.Scan(&obs.Form, &obs.Digits, &obs.Secs, &obs.CompletedAt); err != nil {
			return nil, err
		}
		obs.CompletedAt = obs.CompletedAt.UTC()
		result = append(result, obs)
	}
	return result, rows.Err()
}

func (s *Store) SaveFit(ctx context.Context, fit costmodel.Fit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_fits (form, coeff_a, coeff_b, sample_count, avg_error_pct, fitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (form) DO UPDATE SET
			coeff_a = EXCLUDED.coeff_a,
			coeff_b = EXCLUDED.coeff_b,
			sample_count = EXCLUDED.sample_count,
			avg_error_pct = EXCLUDED.avg_error_pct,
			fitted_at = EXCLUDED.fitted_at
	`, fit.Form, fit.CoeffA, fit.CoeffB, fit.SampleCount, fit.AvgErrorPct, fit.FittedAt)
	return err
}

func (s *Store) GetFit(ctx context.Context, form string) (costmodel.Fit, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT form, coeff_a, coeff_b, sample_count, avg_error_pct, fitted_at
		FROM cost_fits WHERE form = $1
	`, form)

	var fit costmodel.Fit
	if err := row.Scan(&fit.Form, &fit.CoeffA, &fit.CoeffB, &fit.SampleCount, &fit.AvgErrorPct, &fit.FittedAt); err != nil {
		if err == sql.ErrNoRows {
			return costmodel.Fit{}, false, nil
		}
		return costmodel.Fit{}, false, err
	}
	fit.FittedAt = fit.FittedAt.UTC()
	return fit, true, nil
}

func (s *Store) ListForms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT form FROM cost_observations ORDER BY form
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forms []string
	for rows.Next() {
		var form string
		if err := rows.Scan(&form); err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}
	return forms, rows.Err()
}
