package release

import (
	"crypto/sha256"
	"testing"
)

const validSHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"

func TestArtifactIsUsable(t *testing.T) {
	if !(Artifact{SHA256: validSHA}).IsUsable() {
		t.Fatal("expected valid sha256 to be usable")
	}
	if (Artifact{SHA256: "not-hex"}).IsUsable() {
		t.Fatal("expected malformed sha256 to be unusable")
	}
	if (Artifact{SHA256: "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B85"}).IsUsable() {
		t.Fatal("expected uppercase sha256 to be rejected (must be lowercase)")
	}
}

func TestReleaseValidate(t *testing.T) {
	r := Release{Version: "v1.2.0", Artifacts: []Artifact{{OS: "linux", Arch: "amd64", SHA256: validSHA}}}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid release, got %v", err)
	}

	if err := (Release{Artifacts: []Artifact{{SHA256: validSHA}}}).Validate(); err == nil {
		t.Fatal("expected error for empty version")
	}
	if err := (Release{Version: "v1", Artifacts: []Artifact{{SHA256: "bad"}}}).Validate(); err == nil {
		t.Fatal("expected error when no artifact has a usable sha256")
	}
}

func TestChannelValidate(t *testing.T) {
	if err := (Channel{Channel: "stable", Version: "v1", RolloutPercent: 50}).Validate(); err != nil {
		t.Fatalf("expected valid channel, got %v", err)
	}
	if err := (Channel{Channel: "stable", Version: "v1", RolloutPercent: 101}).Validate(); err == nil {
		t.Fatal("expected error for out-of-range rollout percent")
	}
	if err := (Channel{Channel: "stable", Version: "v1", RolloutPercent: -1}).Validate(); err == nil {
		t.Fatal("expected error for negative rollout percent")
	}
}

func TestCanaryBucketDeterministic(t *testing.T) {
	a := CanaryBucket("w-0001")
	b := CanaryBucket("w-0001")
	if a != b {
		t.Fatalf("expected deterministic bucket, got %d and %d", a, b)
	}
	expected := int(sha256.Sum256([]byte("w-0001"))[0]) % 100
	if a != expected {
		t.Fatalf("CanaryBucket = %d, want %d", a, expected)
	}
}

func TestCanaryBucketDistribution(t *testing.T) {
	const n = 10000
	counts := map[int]int{}
	for i := 0; i < n; i++ {
		id := randomWorkerID(i)
		bucket := CanaryBucket(id)
		for _, p := range []int{10, 50, 90} {
			if bucket < p {
				counts[p]++
			}
		}
	}
	for _, p := range []int{10, 50, 90} {
		expected := float64(p) / 100 * n
		got := float64(counts[p])
		tolerance := expected * 0.05
		if got < expected-tolerance || got > expected+tolerance {
			t.Fatalf("p=%d: count %v outside +/-5%% of expected %v", p, got, expected)
		}
	}
}

func randomWorkerID(i int) string {
	return "worker-" + string(rune('a'+i%26)) + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func TestResolveVersionScenarioC(t *testing.T) {
	// bucket("w-0001") = 17 per the spec's literal scenario.
	if got := ResolveVersion("w-0001", "v2", "v1", 25); got != "v2" {
		t.Fatalf("expected worker with bucket < 25%% to resolve to current, got %s", got)
	}
}

func TestResolveVersionFullRollout(t *testing.T) {
	if got := ResolveVersion("any-worker", "v2", "v1", 100); got != "v2" {
		t.Fatalf("expected full rollout to resolve current, got %s", got)
	}
}

func TestResolveVersionZeroRollout(t *testing.T) {
	if got := ResolveVersion("any-worker", "v2", "v1", 0); got != "v1" {
		t.Fatalf("expected zero rollout to resolve previous, got %s", got)
	}
}

func TestResolveVersionNoPreviousFallsBackToCurrent(t *testing.T) {
	if got := ResolveVersion("any-worker", "v2", "", 0); got != "v2" {
		t.Fatalf("expected missing previous version to fall back to current, got %s", got)
	}
}

func TestResolveVersionEmptyWorkerIDResolvesCurrent(t *testing.T) {
	if got := ResolveVersion("", "v2", "v1", 0); got != "v2" {
		t.Fatalf("expected empty worker id to resolve current, got %s", got)
	}
}

func TestResolveVersionMonotonic(t *testing.T) {
	workerID := "w-monotonic"
	bucket := CanaryBucket(workerID)
	sawCurrent := false
	for p := bucket + 1; p <= 100; p++ {
		if ResolveVersion(workerID, "v2", "v1", p) == "v2" {
			sawCurrent = true
		}
	}
	if !sawCurrent {
		t.Fatal("expected at least one rollout percent above the bucket to resolve current")
	}
	for p := bucket + 1; p <= 100; p++ {
		if ResolveVersion(workerID, "v2", "v1", p) != "v2" {
			t.Fatalf("monotonicity violated at p=%d", p)
		}
	}
}
