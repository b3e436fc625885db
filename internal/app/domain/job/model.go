// Package job defines the Job entity: a configured search over a numeric
// range, partitioned into blocks for worker dispatch.
package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is a job's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Job is a configured search over a half-open range [RangeStart, RangeEnd),
// partitioned into fixed-size blocks.
type Job struct {
	ID          string
	Form        string
	Params      json.RawMessage
	RangeStart  int64
	RangeEnd    int64
	BlockSize   int64
	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	StoppedAt   time.Time
	TotalTested int64
	TotalFound  int64
	Error       string
}

// Validate checks the invariants a Job must satisfy before it may be
// persisted: a non-empty form, a well-formed half-open range, and a
// positive block size.
func (j Job) Validate() error {
	if j.Form == "" {
		return fmt.Errorf("form must not be empty")
	}
	if j.RangeStart < 0 {
		return fmt.Errorf("range_start must be >= 0")
	}
	if j.RangeStart >= j.RangeEnd {
		return fmt.Errorf("range_start must be < range_end")
	}
	if j.BlockSize <= 0 {
		return fmt.Errorf("block_size must be > 0")
	}
	return nil
}

// BlockCount returns the number of blocks the range partitions into:
// ceil((RangeEnd - RangeStart) / BlockSize).
func (j Job) BlockCount() int64 {
	span := j.RangeEnd - j.RangeStart
	count := span / j.BlockSize
	if span%j.BlockSize != 0 {
		count++
	}
	return count
}

// CanTransitionTo reports whether the job state machine permits moving from
// the receiver's status to target, per the job state machine: pending ->
// running -> {paused <-> running} -> {completed | cancelled | failed}, and
// any non-terminal state may transition to failed.
func (j Job) CanTransitionTo(target Status) bool {
	if j.Status == target {
		return false
	}
	if j.IsTerminal() {
		return false
	}
	if target == StatusFailed {
		return true
	}
	switch j.Status {
	case StatusPending:
		return target == StatusRunning || target == StatusCancelled
	case StatusRunning:
		return target == StatusPaused || target == StatusCompleted || target == StatusCancelled
	case StatusPaused:
		return target == StatusRunning || target == StatusCancelled
	default:
		return false
	}
}

// IsTerminal reports whether the job has reached a status from which no
// further transitions are permitted.
func (j Job) IsTerminal() bool {
	switch j.Status {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}
