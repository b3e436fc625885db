// Package prime defines the Prime entity and the tagged-variant Certificate
// witness format used to promote a probable prime to a verified one.
package prime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tier is the strength level of a verification result.
type Tier int

const (
	// TierFailed means no method proved primality with confidence.
	TierFailed Tier = 0
	// TierDeterministic means a special-form deterministic proof succeeded
	// (Proth, Pocklington, Morrison, LLR, or Pepin).
	TierDeterministic Tier = 1
	// TierStrongProbabilistic means BPSW plus additional Miller-Rabin
	// rounds succeeded.
	TierStrongProbabilistic Tier = 2
	// TierExternal means an independent external tool cross-verified the
	// candidate.
	TierExternal Tier = 3
)

// Prime is a discovered candidate, probabilistically found and optionally
// promoted to verified by the verification pipeline.
type Prime struct {
	ID                 string
	Form               string
	Expression         string
	Digits             int64
	FoundAt            time.Time
	SearchParams       json.RawMessage
	ProofMethod        string
	Verified           bool
	VerifiedAt         time.Time
	VerificationMethod string
	VerificationTier   Tier
	Certificate        json.RawMessage
	FailureReason      string
}

// Validate checks the invariants a Prime must satisfy before insertion.
func (p Prime) Validate() error {
	if p.Form == "" {
		return fmt.Errorf("form must not be empty")
	}
	if p.Expression == "" {
		return fmt.Errorf("expression must not be empty")
	}
	if p.Digits <= 0 {
		return fmt.Errorf("digits must be > 0")
	}
	if p.Verified && p.VerificationTier < TierDeterministic {
		return fmt.Errorf("verified prime must have tier >= %d", TierDeterministic)
	}
	return nil
}
