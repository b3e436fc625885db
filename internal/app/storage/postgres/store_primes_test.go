package postgres

import (
	"testing"

	"github.com/oddurs/prime-coordinator/internal/app/domain/prime"
)

func TestStoreInsertPrimeIfAbsentAndVerify(t *testing.T) {
	store, ctx := newTestStore(t)

	p := prime.Prime{Form: "kbn", Expression: "123*2^456-1", Digits: 140}
	first, inserted, err := store.InsertIfAbsent(ctx, p)
	if err != nil || !inserted {
		t.Fatalf("expected first insert, inserted=%v err=%v", inserted, err)
	}

	second, inserted, err := store.InsertIfAbsent(ctx, p)
	if err != nil || inserted {
		t.Fatalf("expected duplicate rejected, inserted=%v err=%v", inserted, err)
	}
	if second.ID != first.ID {
		t.Fatal("expected duplicate insert to return existing record")
	}

	first.Verified = true
	first.VerificationTier = prime.TierDeterministic
	first.VerificationMethod = "proth"
	updated, err := store.UpdateVerification(ctx, first)
	if err != nil {
		t.Fatalf("update verification: %v", err)
	}
	if !updated.Verified || updated.VerificationTier != prime.TierDeterministic {
		t.Fatalf("expected verification persisted, got %+v", updated)
	}

	unverified, err := store.ListUnverified(ctx, 10)
	if err != nil {
		t.Fatalf("list unverified: %v", err)
	}
	for _, up := range unverified {
		if up.ID == updated.ID {
			t.Fatal("expected verified prime to be excluded from unverified list")
		}
	}
}

func TestStoreLargestKnown(t *testing.T) {
	store, ctx := newTestStore(t)

	small := prime.Prime{Form: "kbn", Expression: "a", Digits: 100, Verified: true, VerificationTier: prime.TierDeterministic}
	big := prime.Prime{Form: "kbn", Expression: "b", Digits: 900, Verified: true, VerificationTier: prime.TierDeterministic}

	if _, _, err := store.InsertIfAbsent(ctx, small); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := store.InsertIfAbsent(ctx, big); err != nil {
		t.Fatalf("insert: %v", err)
	}

	largest, ok, err := store.LargestKnown(ctx, "kbn")
	if err != nil || !ok || largest.Digits != 900 {
		t.Fatalf("expected largest=900, got %+v ok=%v err=%v", largest, ok, err)
	}
}
