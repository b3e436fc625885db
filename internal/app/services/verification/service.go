// Package verification implements the Verification Pipeline: it promotes
// probabilistically-found primes to a tiered, witnessed verified state, or
// records a tier-0 failure.
package verification

import (
	"context"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/prime"
	"github.com/oddurs/prime-coordinator/internal/app/metrics"
	"github.com/oddurs/prime-coordinator/internal/app/storage"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

// Runner performs the actual numeric primality check for a candidate. The
// numeric engines themselves are an opaque external capability; Runner is
// the seam the pipeline dispatches through.
type Runner interface {
	// Verify attempts to prove p prime, returning the achieved tier, the
	// method name, a certificate (nil for tier 0), and a failure reason
	// when tier is TierFailed.
	Verify(ctx context.Context, p prime.Prime) (tier prime.Tier, method string, cert prime.Certificate, failureReason string, err error)
}

// Service runs verification over unverified prime rows.
type Service struct {
	store  storage.PrimeStore
	runner Runner
	log    *logger.Logger
}

// New constructs a verification Service. runner may be nil until wired; a
// nil runner causes Verify to return a transient error rather than panic.
func New(store storage.PrimeStore, runner Runner, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("verification")
	}
	return &Service{store: store, runner: runner, log: log}
}

// ReportPrime inserts a newly-discovered candidate, ignoring duplicates per
// the (form, expression) uniqueness invariant.
func (s *Service) ReportPrime(ctx context.Context, p prime.Prime) (prime.Prime, bool, error) {
	if err := p.Validate(); err != nil {
		return prime.Prime{}, false, apperr.Validationf("Verification.ReportPrime", "%v", err)
	}
	stored, inserted, err := s.store.InsertIfAbsent(ctx, p)
	if err != nil {
		return prime.Prime{}, false, apperr.Wrap("Verification.ReportPrime", err)
	}
	return stored, inserted, nil
}

// VerifyOne runs the configured runner against a single prime row and
// persists the outcome. A runner failure is recorded as a tier-0 failure
// rather than propagated, per the pipeline's continue-on-failure policy.
func (s *Service) VerifyOne(ctx context.Context, id string) (prime.Prime, error) {
	p, err := s.store.GetPrime(ctx, id)
	if err != nil {
		return prime.Prime{}, apperr.NotFoundf("Verification.VerifyOne", "prime %s not found", id)
	}
	if s.runner == nil {
		return prime.Prime{}, apperr.Wrap("Verification.VerifyOne", errNoRunner)
	}

	start := time.Now()
	tier, method, cert, reason, err := s.runner.Verify(ctx, p)
	duration := time.Since(start)

	if err != nil {
		p.Verified = false
		p.VerificationTier = prime.TierFailed
		p.FailureReason = err.Error()
		metrics.RecordVerification(int(prime.TierFailed), false, duration)
		updated, saveErr := s.store.UpdateVerification(ctx, p)
		if saveErr != nil {
			return prime.Prime{}, apperr.Wrap("Verification.VerifyOne", saveErr)
		}
		s.log.WithField("prime_id", id).WithError(err).Warn("verification runner error, recorded as failure")
		return updated, nil
	}

	p.VerificationMethod = method
	p.VerificationTier = tier
	p.VerifiedAt = time.Now().UTC()

	if tier == prime.TierFailed {
		p.Verified = false
		p.FailureReason = reason
		metrics.RecordVerification(int(tier), false, duration)
	} else {
		p.Verified = true
		p.FailureReason = ""
		encoded, encErr := prime.Encode(cert)
		if encErr != nil {
			return prime.Prime{}, apperr.VerificationFailedf("Verification.VerifyOne", "encode certificate: %v", encErr)
		}
		p.Certificate = encoded
		metrics.RecordVerification(int(tier), true, duration)
	}

	updated, err := s.store.UpdateVerification(ctx, p)
	if err != nil {
		return prime.Prime{}, apperr.Wrap("Verification.VerifyOne", err)
	}
	return updated, nil
}

// PendingBatch lists unverified primes awaiting a verification attempt.
func (s *Service) PendingBatch(ctx context.Context, limit int) ([]prime.Prime, error) {
	primes, err := s.store.ListUnverified(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap("Verification.PendingBatch", err)
	}
	return primes, nil
}

// LargestKnown returns the largest verified prime of the given form.
func (s *Service) LargestKnown(ctx context.Context, form string) (prime.Prime, bool, error) {
	p, ok, err := s.store.LargestKnown(ctx, form)
	if err != nil {
		return prime.Prime{}, false, apperr.Wrap("Verification.LargestKnown", err)
	}
	return p, ok, nil
}

var errNoRunner = verificationRunnerUnconfigured{}

type verificationRunnerUnconfigured struct{}

func (verificationRunnerUnconfigured) Error() string { return "verification runner not configured" }
