package prime

import "testing"

func TestValidate(t *testing.T) {
	valid := Prime{Form: "kbn", Expression: "3*2^50000+1", Digits: 15052}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid prime, got %v", err)
	}

	if err := (Prime{Expression: "x", Digits: 1}).Validate(); err == nil {
		t.Fatal("expected error for empty form")
	}
	if err := (Prime{Form: "kbn", Digits: 1}).Validate(); err == nil {
		t.Fatal("expected error for empty expression")
	}
	if err := (Prime{Form: "kbn", Expression: "x", Digits: 0}).Validate(); err == nil {
		t.Fatal("expected error for non-positive digits")
	}
	if err := (Prime{Form: "kbn", Expression: "x", Digits: 1, Verified: true, VerificationTier: TierFailed}).Validate(); err == nil {
		t.Fatal("expected error for verified prime with tier 0")
	}
}
