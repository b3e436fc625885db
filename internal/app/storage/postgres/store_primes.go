package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oddurs/prime-coordinator/internal/app/domain/prime"
)

// --- PrimeStore -----------------------------------------------------------

func (s *Store) InsertIfAbsent(ctx context.Context, p prime.Prime) (prime.Prime, bool, error) {
	if existing, err := s.getPrimeByFormExpression(ctx, p.Form, p.Expression); err == nil {
		return existing, false, nil
	} else if err != sql.ErrNoRows {
		return prime.Prime{}, false, err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.FoundAt.IsZero() {
		p.FoundAt = time.Now().UTC()
	}

	searchParamsJSON, err := json.Marshal(p.SearchParams)
	if err != nil {
		return prime.Prime{}, false, err
	}
	certificateJSON, err := json.Marshal(p.Certificate)
	if err != nil {
		return prime.Prime{}, false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO primes (id, form, expression, digits, found_at, search_params, proof_method, verified, verified_at, verification_method, verification_tier, certificate, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (form, expression) DO NOTHING
	`, p.ID, p.Form, p.Expression, p.Digits, p.FoundAt, searchParamsJSON, p.ProofMethod, p.Verified, toNullTime(p.VerifiedAt), p.VerificationMethod, p.VerificationTier, certificateJSON, p.FailureReason)
	if err != nil {
		return prime.Prime{}, false, err
	}

	if existing, err := s.getPrimeByFormExpression(ctx, p.Form, p.Expression); err == nil {
		return existing, existing.ID == p.ID, nil
	} else {
		return prime.Prime{}, false, err
	}
}

func (s *Store) getPrimeByFormExpression(ctx context.Context, form, expression string) (prime.Prime, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, form, expression, digits, found_at, search_params, proof_method, verified, verified_at, verification_method, verification_tier, certificate, failure_reason
		FROM primes WHERE form = $1 AND expression = $2
	`, form, expression)
	return scanPrime(row)
}

func (s *Store) GetPrime(ctx context.Context, id string) (prime.Prime, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, form, expression, digits, found_at, search_params, proof_method, verified, verified_at, verification_method, verification_tier, certificate, failure_reason
		FROM primes WHERE id = $1
	`, id)
	return scanPrime(row)
}

func (s *Store) UpdateVerification(ctx context.Context, p prime.Prime) (prime.Prime, error) {
	certificateJSON, err := json.Marshal(p.Certificate)
	if err != nil {
		return prime.Prime{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE primes
		SET verified = $2, verified_at = $3, verification_method = $4, verification_tier = $5, certificate = $6, failure_reason = $7, proof_method = $8
		WHERE id = $1
	`, p.ID, p.Verified, toNullTime(p.VerifiedAt), p.VerificationMethod, p.VerificationTier, certificateJSON, p.FailureReason, p.ProofMethod)
	if err != nil {
		return prime.Prime{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return prime.Prime{}, sql.ErrNoRows
	}
	return s.GetPrime(ctx, p.ID)
}

func (s *Store) ListUnverified(ctx context.Context, limit int) ([]prime.Prime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form, expression, digits, found_at, search_params, proof_method, verified, verified_at, verification_method, verification_tier, certificate, failure_reason
		FROM primes
		WHERE verified = false AND failure_reason = ''
		ORDER BY found_at
		LIMIT NULLIF($1, 0)
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrimes(rows)
}

func (s *Store) ListByForm(ctx context.Context, form string, limit int) ([]prime.Prime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form, expression, digits, found_at, search_params, proof_method, verified, verified_at, verification_method, verification_tier, certificate, failure_reason
		FROM primes
		WHERE form = $1
		ORDER BY digits DESC
		LIMIT NULLIF($2, 0)
	`, form, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrimes(rows)
}

func (s *Store) LargestKnown(ctx context.Context, form string) (prime.Prime, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, form, expression, digits, found_at, search_params, proof_method, verified, verified_at, verification_method, verification_tier, certificate, failure_reason
		FROM primes
		WHERE form = $1 AND verified = true
		ORDER BY digits DESC
		LIMIT 1
	`, form)
	p, err := scanPrime(row)
	if err == sql.ErrNoRows {
		return prime.Prime{}, false, nil
	}
	if err != nil {
		return prime.Prime{}, false, err
	}
	return p, true, nil
}

func scanPrime(scanner rowScanner) (prime.Prime, error) {
	var (
		p                  prime.Prime
		searchParams       []byte
		certificate        []byte
		verifiedAt         sql.NullTime
	)
	if err := scanner.Scan(&p.ID, &p.Form, &p.Expression, &p.Digits, &p.FoundAt, &searchParams, &p.ProofMethod, &p.Verified, &verifiedAt, &p.VerificationMethod, &p.VerificationTier, &certificate, &p.FailureReason); err != nil {
		return prime.Prime{}, err
	}
	p.SearchParams = searchParams
	p.Certificate = certificate
	p.VerifiedAt = nullTimeOr(verifiedAt)
	p.FoundAt = p.FoundAt.UTC()
	return p, nil
}

func scanPrimes(rows *sql.Rows) ([]prime.Prime, error) {
	var result []prime.Prime
	for rows.Next() {
		p, err := scanPrime(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
