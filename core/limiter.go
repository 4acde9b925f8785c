package core

import (
	"fmt"
	"sync"
)

// StepLimiter enforces the maximum number of model calls of one multi-step
// generation.
type StepLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStepLimiter creates a limiter allowing max calls. Values below one are
// clamped to one.
func NewStepLimiter(max int) *StepLimiter {
	if max < 1 {
		max = 1
	}

	return &StepLimiter{max: max}
}

// Increment records one call and fails when the limit is exceeded.
func (sl *StepLimiter) Increment() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.count++
	if sl.count > sl.max {
		return fmt.Errorf("exceeded max steps: %d", sl.max)
	}

	return nil
}

// Count returns the number of recorded calls.
func (sl *StepLimiter) Count() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.count
}

// Remaining returns how many calls are left.
func (sl *StepLimiter) Remaining() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.max - sl.count
}
