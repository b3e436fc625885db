package worker

import (
	"testing"
	"time"
)

func TestIsActive(t *testing.T) {
	now := time.Now()
	fresh := Worker{LastHeartbeat: now.Add(-5 * time.Second)}
	if !fresh.IsActive(now, 90*time.Second) {
		t.Fatal("expected fresh heartbeat to be active")
	}

	stale := Worker{LastHeartbeat: now.Add(-200 * time.Second)}
	if stale.IsActive(now, 90*time.Second) {
		t.Fatal("expected old heartbeat to be inactive")
	}
}
