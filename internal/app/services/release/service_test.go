package release

import (
	"context"
	"testing"

	"github.com/oddurs/prime-coordinator/internal/app/apperr"
	"github.com/oddurs/prime-coordinator/internal/app/domain/release"
	"github.com/oddurs/prime-coordinator/internal/app/storage/memory"
)

const validSHA = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"
const otherSHA = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde"

func newTestService() *Service {
	return New(memory.New(), "stable", nil)
}

func seedRelease(t *testing.T, svc *Service, version string) {
	t.Helper()
	sha := validSHA
	if version == "v1.1.0" {
		sha = otherSHA
	}
	r := release.Release{Version: version, Artifacts: []release.Artifact{
		{OS: "linux", Arch: "amd64", SHA256: sha},
	}}
	if _, err := svc.UpsertRelease(context.Background(), r); err != nil {
		t.Fatalf("seed release %s: %v", version, err)
	}
}

func TestSetChannelRejectsUnknownVersion(t *testing.T) {
	svc := newTestService()
	_, err := svc.SetChannel(context.Background(), "stable", "v9.9.9", 100, "ops")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for unknown version, got %v", err)
	}
}

func TestResolveFullRolloutUsesCurrent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	seedRelease(t, svc, "v1.0.0")
	if _, err := svc.SetChannel(ctx, "stable", "v1.0.0", 100, "ops"); err != nil {
		t.Fatalf("set channel: %v", err)
	}

	artifact, err := svc.Resolve(ctx, "stable", "worker-1", "linux", "amd64")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if artifact.SHA256 != validSHA {
		t.Fatalf("expected v1.0.0 artifact, got %+v", artifact)
	}
}

func TestResolveUnknownChannelNotFound(t *testing.T) {
	svc := newTestService()
	_, err := svc.Resolve(context.Background(), "nightly", "worker-1", "linux", "amd64")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found for unconfigured channel, got %v", err)
	}
}

func TestRollbackRestoresPriorVersion(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	seedRelease(t, svc, "v1.0.0")
	seedRelease(t, svc, "v1.1.0")

	if _, err := svc.SetChannel(ctx, "stable", "v1.0.0", 100, "ops"); err != nil {
		t.Fatalf("set channel v1.0.0: %v", err)
	}
	if _, err := svc.SetChannel(ctx, "stable", "v1.1.0", 50, "ops"); err != nil {
		t.Fatalf("set channel v1.1.0: %v", err)
	}

	rolled, err := svc.Rollback(ctx, "stable", "ops")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rolled.Version != "v1.0.0" {
		t.Fatalf("expected rollback to v1.0.0, got %s", rolled.Version)
	}
}

func TestRollbackWithNoPriorVersionIsConflict(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	seedRelease(t, svc, "v1.0.0")
	if _, err := svc.SetChannel(ctx, "stable", "v1.0.0", 100, "ops"); err != nil {
		t.Fatalf("set channel: %v", err)
	}

	_, err := svc.Rollback(ctx, "stable", "ops")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict rolling back with no prior version, got %v", err)
	}
}

func TestResolvePartialRolloutBucketsDeterministically(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	seedRelease(t, svc, "v1.0.0")
	seedRelease(t, svc, "v1.1.0")
	if _, err := svc.SetChannel(ctx, "stable", "v1.0.0", 100, "ops"); err != nil {
		t.Fatalf("set channel v1.0.0: %v", err)
	}
	if _, err := svc.SetChannel(ctx, "stable", "v1.1.0", 25, "ops"); err != nil {
		t.Fatalf("set channel v1.1.0: %v", err)
	}

	first, err := svc.Resolve(ctx, "stable", "worker-stable-id", "linux", "amd64")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := svc.Resolve(ctx, "stable", "worker-stable-id", "linux", "amd64")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first.SHA256 != second.SHA256 {
		t.Fatal("expected repeated resolve for the same worker to be stable")
	}
}
