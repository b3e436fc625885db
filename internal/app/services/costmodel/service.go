// Package costmodel wires the pure power-law fitting in domain/costmodel
// to storage: it records completed-block observations and serves
// estimates to the scheduler, refitting periodically from recent history.
package costmodel

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/costmodel"
	"github.com/oddurs/prime-coordinator/internal/app/metrics"
	"github.com/oddurs/prime-coordinator/internal/app/storage"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

// observationWindow bounds how far back RefitAll looks for samples.
const observationWindow = 7 * 24 * time.Hour

// Service estimates and refits per-form search cost.
type Service struct {
	store           storage.CostModelStore
	minObservations int
	log             *logger.Logger
}

// New constructs a cost-model Service. minObservations is the minimum
// sample count required before a refit replaces the existing fit.
func New(store storage.CostModelStore, minObservations int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("costmodel")
	}
	if minObservations <= 0 {
		minObservations = 20
	}
	return &Service{store: store, minObservations: minObservations, log: log}
}

// RecordObservation stores one completed block's timing sample.
func (s *Service) RecordObservation(ctx context.Context, obs costmodel.Observation) error {
	if err := obs.Validate(); err != nil {
		return apperr.Validationf("CostModel.RecordObservation", "%v", err)
	}
	if err := s.store.RecordObservation(ctx, obs); err != nil {
		return apperr.Wrap("CostModel.RecordObservation", err)
	}
	return nil
}

// EstimateBlockSeconds estimates a block's expected duration given the
// form, a digit-count hint, and the block's candidate width. Unfitted
// forms fall back to the conservative default per-candidate cost.
func (s *Service) EstimateBlockSeconds(form string, digits int64, width int64) float64 {
	fit, ok, err := s.store.GetFit(context.Background(), form)
	if err != nil || !ok {
		return costmodel.DefaultSecsPerCandidate * float64(width)
	}
	return fit.Estimate(digits) * float64(width)
}

// DigitsHint extracts a mid-range digit estimate from a form's opaque
// search params JSON, used when the caller does not supply one directly.
// It looks for a top-level "digits" or "digit_estimate" field; absence
// yields 0, which callers should treat as "unknown".
func DigitsHint(params []byte) int64 {
	if len(params) == 0 {
		return 0
	}
	if v := gjson.GetBytes(params, "digits"); v.Exists() {
		return v.Int()
	}
	if v := gjson.GetBytes(params, "digit_estimate"); v.Exists() {
		return v.Int()
	}
	return 0
}

// RefitAll recomputes the fit for every form with recorded observations,
// skipping forms with fewer than minObservations fresh samples.
func (s *Service) RefitAll(ctx context.Context) (int, error) {
	forms, err := s.store.ListForms(ctx)
	if err != nil {
		return 0, apperr.Wrap("CostModel.RefitAll", err)
	}

	applied := 0
	since := time.Now().Add(-observationWindow)
	for _, form := range forms {
		observations, err := s.store.ListObservations(ctx, form, since)
		if err != nil {
			s.log.WithField("form", form).WithError(err).Warn("list observations failed")
			metrics.RecordCostModelRefit("error")
			continue
		}
		if len(observations) < s.minObservations {
			metrics.RecordCostModelRefit("insufficient_data")
			continue
		}
		fit, err := costmodel.FitPowerLaw(form, observations, time.Now().UTC())
		if err != nil {
			s.log.WithField("form", form).WithError(err).Warn("fit power law failed")
			metrics.RecordCostModelRefit("error")
			continue
		}
		if err := s.store.SaveFit(ctx, fit); err != nil {
			s.log.WithField("form", form).WithError(err).Warn("save fit failed")
			metrics.RecordCostModelRefit("error")
			continue
		}
		metrics.RecordCostModelRefit("applied")
		applied++
	}
	return applied, nil
}

// GetFit exposes the current fit for a form, if any.
func (s *Service) GetFit(ctx context.Context, form string) (costmodel.Fit, bool, error) {
	fit, ok, err := s.store.GetFit(ctx, form)
	if err != nil {
		return costmodel.Fit{}, false, apperr.Wrap("CostModel.GetFit", err)
	}
	return fit, ok, nil
}
