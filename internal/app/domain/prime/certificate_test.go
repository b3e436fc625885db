package prime

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestCertificateRoundTrip(t *testing.T) {
	cases := []Certificate{
		ProthCertificate{Base: 3},
		LLRCertificate{K: "3", N: 50000, Seed: "5478"},
		PocklingtonCertificate{Factors: []PocklingtonFactor{{Factor: "2", Base: 3}, {Factor: "5", Base: 7}}},
		MorrisonCertificate{P: 2, Factors: []MorrisonFactor{{Factor: "3", PValue: 2}}},
		BLSCertificate{P: 2, Factors: []MorrisonFactor{{Factor: "7", PValue: 5}}, FactoredBits: 40, TotalBits: 120},
		PepinCertificate{Base: 3},
		MillerRabinCertificate{Rounds: 40},
		ExternalCertificate{Method: "pfgw"},
	}

	for _, c := range cases {
		encoded, err := Encode(c)
		if err != nil {
			t.Fatalf("encode %T: %v", c, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode %T: %v", c, err)
		}
		if !reflect.DeepEqual(decoded, c) {
			t.Fatalf("round trip mismatch for %T: got %#v, want %#v", c, decoded, c)
		}
	}
}

func TestEncodeContainsDiscriminator(t *testing.T) {
	data, err := Encode(ProthCertificate{Base: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["variant"] != "Proth" {
		t.Fatalf("expected variant field %q, got %v", "Proth", fields["variant"])
	}
}

func TestDecodeUnknownVariant(t *testing.T) {
	_, err := Decode([]byte(`{"variant":"Bogus"}`))
	if err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestEncodeNilCertificate(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatal("expected error encoding nil certificate")
	}
}
