package prime

import (
	"encoding/json"
	"fmt"
)

// Variant names the certificate's witness shape. It is the discriminator
// field in the certificate's serialized JSON.
type Variant string

const (
	VariantProth       Variant = "Proth"
	VariantLLR         Variant = "LLR"
	VariantPocklington Variant = "Pocklington"
	VariantMorrison    Variant = "Morrison"
	VariantBLS         Variant = "BLS"
	VariantPepin       Variant = "Pepin"
	VariantMillerRabin Variant = "MillerRabin"
	VariantExternal    Variant = "External"
)

// Certificate is witness data sufficient to re-run a specific primality
// test without re-discovering it.
type Certificate interface {
	CertificateVariant() Variant
}

// ProthWitness proves N = k*2^n+1 prime via a^((N-1)/2) == -1 (mod N).
type ProthCertificate struct {
	Base uint32 `json:"base"`
}

func (ProthCertificate) CertificateVariant() Variant { return VariantProth }

// LLRCertificate records the Lucas-Lehmer-Riesel seed used for N = k*2^n+1.
type LLRCertificate struct {
	K    string `json:"k"`
	N    uint32 `json:"n"`
	Seed string `json:"seed"`
}

func (LLRCertificate) CertificateVariant() Variant { return VariantLLR }

// PocklingtonFactor is one (prime factor of N-1, base) witness pair.
type PocklingtonFactor struct {
	Factor string `json:"factor"`
	Base   uint32 `json:"base"`
}

// PocklingtonCertificate proves N prime from a partial factorization of
// N-1: for each factor q, a^(N-1) == 1 (mod N) and gcd(a^((N-1)/q)-1, N) = 1.
type PocklingtonCertificate struct {
	Factors []PocklingtonFactor `json:"factors"`
}

func (PocklingtonCertificate) CertificateVariant() Variant { return VariantPocklington }

// MorrisonFactor is one (prime factor of N+1, Lucas value) witness pair.
type MorrisonFactor struct {
	Factor  string `json:"factor"`
	PValue  uint32 `json:"p_value"`
}

// MorrisonCertificate proves N prime from a partial factorization of N+1
// using Lucas sequences: V_{(N+1)/q}(P,1) != 2 (mod N) for each factor q.
type MorrisonCertificate struct {
	P       uint32           `json:"p"`
	Factors []MorrisonFactor `json:"factors"`
}

func (MorrisonCertificate) CertificateVariant() Variant { return VariantMorrison }

// BLSCertificate extends Morrison witnesses with the factored-bits
// bookkeeping needed to confirm the >= 1/3 factored threshold.
type BLSCertificate struct {
	P           uint32           `json:"p"`
	Factors     []MorrisonFactor `json:"factors"`
	FactoredBits int64           `json:"factored_bits"`
	TotalBits    int64           `json:"total_bits"`
}

func (BLSCertificate) CertificateVariant() Variant { return VariantBLS }

// PepinCertificate proves a generalized Fermat number prime via
// a^((N-1)/2) == -1 (mod N).
type PepinCertificate struct {
	Base uint32 `json:"base"`
}

func (PepinCertificate) CertificateVariant() Variant { return VariantPepin }

// MillerRabinCertificate records the round count of a BPSW-plus-extra-MR
// probabilistic test.
type MillerRabinCertificate struct {
	Rounds int `json:"rounds"`
}

func (MillerRabinCertificate) CertificateVariant() Variant { return VariantMillerRabin }

// ExternalCertificate records that a second, independent implementation
// agreed the candidate is prime.
type ExternalCertificate struct {
	Method string `json:"method"`
}

func (ExternalCertificate) CertificateVariant() Variant { return VariantExternal }

type taggedCertificate struct {
	Variant Variant         `json:"variant"`
	Payload json.RawMessage `json:"-"`
}

// Encode serializes a Certificate to JSON with a discriminator field named
// "variant" and the concrete type's fields merged in alongside it.
func Encode(c Certificate) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("certificate must not be nil")
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	variantJSON, err := json.Marshal(c.CertificateVariant())
	if err != nil {
		return nil, err
	}
	fields["variant"] = variantJSON
	return json.Marshal(fields)
}

// Decode parses a tagged certificate JSON document, dispatching on the
// "variant" discriminator to the concrete witness shape. Unknown variants
// are rejected.
func Decode(data []byte) (Certificate, error) {
	var head struct {
		Variant Variant `json:"variant"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode certificate header: %w", err)
	}

	switch head.Variant {
	case VariantProth:
		var c ProthCertificate
		return c, json.Unmarshal(data, &c)
	case VariantLLR:
		var c LLRCertificate
		return c, json.Unmarshal(data, &c)
	case VariantPocklington:
		var c PocklingtonCertificate
		return c, json.Unmarshal(data, &c)
	case VariantMorrison:
		var c MorrisonCertificate
		return c, json.Unmarshal(data, &c)
	case VariantBLS:
		var c BLSCertificate
		return c, json.Unmarshal(data, &c)
	case VariantPepin:
		var c PepinCertificate
		return c, json.Unmarshal(data, &c)
	case VariantMillerRabin:
		var c MillerRabinCertificate
		return c, json.Unmarshal(data, &c)
	case VariantExternal:
		var c ExternalCertificate
		return c, json.Unmarshal(data, &c)
	default:
		return nil, fmt.Errorf("unknown certificate variant %q", head.Variant)
	}
}
