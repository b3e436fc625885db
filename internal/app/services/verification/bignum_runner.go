package verification

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/oddurs/prime-coordinator/internal/app/domain/prime"
)

// millerRabinRounds is the round count recorded on a successful certificate.
// big.Int.ProbablyPrime already runs a Baillie-PSW test ahead of this many
// extra Miller-Rabin rounds, which is exactly tier 2's definition.
const millerRabinRounds = 20

// BigIntRunner is the coordinator's built-in numeric verification engine. It
// parses a candidate's canonical textual expression into an arbitrary
// precision integer and proves (or disproves) primality with a strong
// probabilistic test.
//
// It only ever produces tier 2 (TierStrongProbabilistic) or tier 0
// (TierFailed). The special-form deterministic proofs that earn tier 1
// (Proth, Pocklington, Morrison, LLR, Pepin) and the external cross-tool
// agreement that earns tier 3 are each a distinct numeric capability; a
// Runner implementing one of those can be composed ahead of this one
// without changing the pipeline.
type BigIntRunner struct{}

// NewBigIntRunner constructs the default numeric verification engine.
func NewBigIntRunner() *BigIntRunner { return &BigIntRunner{} }

var _ Runner = (*BigIntRunner)(nil)

// Verify implements Runner.
func (BigIntRunner) Verify(ctx context.Context, p prime.Prime) (prime.Tier, string, prime.Certificate, string, error) {
	n, err := ParseExpression(p.Expression)
	if err != nil {
		return prime.TierFailed, "", nil, fmt.Sprintf("unparseable expression: %v", err), nil
	}
	if n.Sign() <= 0 {
		return prime.TierFailed, "", nil, "expression evaluated to a non-positive integer", nil
	}

	select {
	case <-ctx.Done():
		return prime.TierFailed, "", nil, "", ctx.Err()
	default:
	}

	if !n.ProbablyPrime(millerRabinRounds) {
		return prime.TierFailed, "", nil, "failed Baillie-PSW/Miller-Rabin probable-prime test", nil
	}
	return prime.TierStrongProbabilistic, "bpsw+miller-rabin", prime.MillerRabinCertificate{Rounds: millerRabinRounds}, "", nil
}

var (
	kbnPattern       = regexp.MustCompile(`^\s*(?:(\d+)\s*\*\s*)?(\d+)\s*\^\s*(\d+)\s*([+-])\s*(\d+)\s*$`)
	factorialPattern = regexp.MustCompile(`^\s*(\d+)\s*!\s*([+-])\s*(\d+)\s*$`)
	primorialPattern = regexp.MustCompile(`^\s*(\d+)\s*#\s*([+-])\s*(\d+)\s*$`)
	decimalPattern   = regexp.MustCompile(`^\s*(\d+)\s*$`)
)

// ParseExpression parses a candidate's canonical textual form into its
// integer value. It recognizes the forms used across the coordinator's
// search families: k*b^n+c / k*b^n-c (kbn, Mersenne when k=1,b=2,c=-1),
// n!+c / n!-c (factorial), n#+c / n#-c (primorial), and plain decimal.
func ParseExpression(expr string) (*big.Int, error) {
	expr = strings.TrimSpace(expr)

	if m := kbnPattern.FindStringSubmatch(expr); m != nil {
		k := big.NewInt(1)
		if m[1] != "" {
			k, _ = new(big.Int).SetString(m[1], 10)
		}
		b, ok := new(big.Int).SetString(m[2], 10)
		if !ok {
			return nil, fmt.Errorf("invalid base in %q", expr)
		}
		exp, ok := new(big.Int).SetString(m[3], 10)
		if !ok {
			return nil, fmt.Errorf("invalid exponent in %q", expr)
		}
		c, ok := new(big.Int).SetString(m[5], 10)
		if !ok {
			return nil, fmt.Errorf("invalid constant in %q", expr)
		}
		n := new(big.Int).Exp(b, exp, nil)
		n.Mul(n, k)
		if m[4] == "-" {
			n.Sub(n, c)
		} else {
			n.Add(n, c)
		}
		return n, nil
	}

	if m := factorialPattern.FindStringSubmatch(expr); m != nil {
		n, err := factorial(m[1])
		if err != nil {
			return nil, err
		}
		return applySign(n, m[2], m[3])
	}

	if m := primorialPattern.FindStringSubmatch(expr); m != nil {
		n, err := primorial(m[1])
		if err != nil {
			return nil, err
		}
		return applySign(n, m[2], m[3])
	}

	if m := decimalPattern.FindStringSubmatch(expr); m != nil {
		n, ok := new(big.Int).SetString(m[1], 10)
		if !ok {
			return nil, fmt.Errorf("invalid decimal literal %q", expr)
		}
		return n, nil
	}

	return nil, fmt.Errorf("unrecognized expression form %q", expr)
}

func applySign(n *big.Int, sign, constant string) (*big.Int, error) {
	c, ok := new(big.Int).SetString(constant, 10)
	if !ok {
		return nil, fmt.Errorf("invalid constant %q", constant)
	}
	if sign == "-" {
		n.Sub(n, c)
	} else {
		n.Add(n, c)
	}
	return n, nil
}

func factorial(digits string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid factorial argument %q", digits)
	}
	if !n.IsUint64() {
		return nil, fmt.Errorf("factorial argument %q too large", digits)
	}
	return new(big.Int).MulRange(1, n.Int64()), nil
}

func primorial(digits string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid primorial argument %q", digits)
	}
	if !n.IsInt64() {
		return nil, fmt.Errorf("primorial argument %q too large", digits)
	}
	limit := n.Int64()
	product := big.NewInt(1)
	sieve := make([]bool, limit+1)
	for i := int64(2); i <= limit; i++ {
		if sieve[i] {
			continue
		}
		product.Mul(product, big.NewInt(i))
		for j := i * i; j >= 0 && j <= limit; j += i {
			sieve[j] = true
		}
	}
	return product, nil
}
