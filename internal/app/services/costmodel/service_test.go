package costmodel

import (
	"context"
	"testing"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/costmodel"
	"github.com/oddurs/prime-coordinator/internal/app/storage/memory"
)

func TestEstimateBlockSecondsFallsBackToDefault(t *testing.T) {
	svc := New(memory.New(), 5, nil)
	secs := svc.EstimateBlockSeconds("kbn", 1000, 100)
	if secs != costmodel.DefaultSecsPerCandidate*100 {
		t.Fatalf("expected default-based estimate, got %v", secs)
	}
}

func TestRecordObservationRejectsInvalid(t *testing.T) {
	svc := New(memory.New(), 5, nil)
	err := svc.RecordObservation(context.Background(), costmodel.Observation{Form: "kbn", Digits: 0, Secs: 1})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRefitAllSkipsFormsBelowMinimum(t *testing.T) {
	store := memory.New()
	svc := New(store, 5, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.RecordObservation(ctx, costmodel.Observation{Form: "kbn", Digits: int64(1000 + i*10), Secs: 2.0 + float64(i)*0.1}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	applied, err := svc.RefitAll(ctx)
	if err != nil {
		t.Fatalf("refit: %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected 0 forms refit below minimum, got %d", applied)
	}
}

func TestRefitAllAppliesFitAboveMinimum(t *testing.T) {
	store := memory.New()
	svc := New(store, 3, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		digits := int64(500 + i*500)
		secs := 1.0 * float64(digits) / 1000.0
		if err := svc.RecordObservation(ctx, costmodel.Observation{Form: "kbn", Digits: digits, Secs: secs}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	applied, err := svc.RefitAll(ctx)
	if err != nil {
		t.Fatalf("refit: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 form refit, got %d", applied)
	}

	fit, ok, err := svc.GetFit(ctx, "kbn")
	if err != nil || !ok {
		t.Fatalf("expected fit present, ok=%v err=%v", ok, err)
	}
	if fit.CoeffA <= 0 {
		t.Fatalf("expected positive fitted coefficient, got %+v", fit)
	}
}

func TestDigitsHintExtractsFromParams(t *testing.T) {
	if got := DigitsHint([]byte(`{"digits": 1500}`)); got != 1500 {
		t.Fatalf("expected 1500, got %d", got)
	}
	if got := DigitsHint([]byte(`{"digit_estimate": 700}`)); got != 700 {
		t.Fatalf("expected 700, got %d", got)
	}
	if got := DigitsHint([]byte(`{}`)); got != 0 {
		t.Fatalf("expected 0 for absent field, got %d", got)
	}
	if got := DigitsHint(nil); got != 0 {
		t.Fatalf("expected 0 for nil params, got %d", got)
	}
}
