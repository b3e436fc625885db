package release

import (
	"context"
	"testing"
	"time"
)

func TestAutoAdvancerWidensRolloutOnSchedule(t *testing.T) {
	svc := newTestService()
	seedRelease(t, svc, "v1.0.0")
	if _, err := svc.SetChannel(context.Background(), "stable", "v1.0.0", 10, "ops"); err != nil {
		t.Fatalf("set channel: %v", err)
	}

	adv := NewAutoAdvancer(svc, "@every 10ms", 25, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := adv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer adv.Stop(context.Background())

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		c, ok, err := svc.store.GetChannel(context.Background(), "stable")
		if err != nil {
			t.Fatalf("get channel: %v", err)
		}
		if ok && c.RolloutPercent > 10 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected rollout percent to widen past 10 within the deadline")
}

func TestAutoAdvancerStopIsIdempotent(t *testing.T) {
	svc := newTestService()
	adv := NewAutoAdvancer(svc, "", 10, nil)
	ctx := context.Background()
	if err := adv.Start(ctx); err != nil {
		t.Fatalf("start with empty schedule: %v", err)
	}
	if err := adv.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := adv.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestAutoAdvancerNeverExceedsFullRollout(t *testing.T) {
	svc := newTestService()
	seedRelease(t, svc, "v1.0.0")
	if _, err := svc.SetChannel(context.Background(), "stable", "v1.0.0", 95, "ops"); err != nil {
		t.Fatalf("set channel: %v", err)
	}
	adv := NewAutoAdvancer(svc, "", 25, nil)
	adv.tick(context.Background())

	c, ok, err := svc.store.GetChannel(context.Background(), "stable")
	if err != nil || !ok {
		t.Fatalf("get channel: ok=%v err=%v", ok, err)
	}
	if c.RolloutPercent != 100 {
		t.Fatalf("expected rollout capped at 100, got %d", c.RolloutPercent)
	}
}
