// Package ratelimit caps per-platform upstream request rates with sliding
// window limiting, independent of the worker pool bound.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"tunepull/internal/core"
)

const (
	// windowDuration is the fixed time window for rate accounting (always 1 minute)
	windowDuration = 60 * time.Second
	// pollInterval is how long Acquire sleeps before re-checking a full window
	pollInterval = 250 * time.Millisecond
)

// Limiter provides per-platform sliding window request limiting. A platform
// with no configured limit is unlimited.
type Limiter struct {
	limitPerMinute map[core.Platform]int
	entries        map[core.Platform]*platformEntry
	mutex          sync.Mutex
}

// platformEntry tracks request timestamps for one platform
type platformEntry struct {
	timestamps []time.Time
}

// New creates a Limiter with the specified per-minute caps. The time window
// is fixed at 60 seconds.
func New(limitPerMinute map[core.Platform]int) *Limiter {
	return &Limiter{
		limitPerMinute: limitPerMinute,
		entries:        make(map[core.Platform]*platformEntry),
	}
}

// Acquire blocks until the platform has a free slot in the current window,
// then consumes it. Returns the context error on cancellation.
func (l *Limiter) Acquire(ctx context.Context, p core.Platform) error {
	for {
		if l.tryAcquire(p) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// TryAcquire consumes a slot if one is free, without blocking.
func (l *Limiter) TryAcquire(p core.Platform) bool {
	return l.tryAcquire(p)
}

func (l *Limiter) tryAcquire(p core.Platform) bool {
	limit, limited := l.limitPerMinute[p]
	if !limited || limit <= 0 {
		return true
	}
	now := time.Now()

	l.mutex.Lock()
	defer l.mutex.Unlock()

	entry, exists := l.entries[p]
	if !exists {
		entry = &platformEntry{timestamps: make([]time.Time, 0, limit+1)}
		l.entries[p] = entry
	}

	// Remove timestamps outside the window
	windowStart := now.Add(-windowDuration)
	valid := entry.timestamps[:0] // Reuse slice capacity
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= limit {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

// Stats contains limiter statistics for monitoring
type Stats struct {
	InWindow map[core.Platform]int `json:"in_window"`
}

// GetStats returns the number of requests currently counted per platform
func (l *Limiter) GetStats() Stats {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	s := Stats{InWindow: make(map[core.Platform]int)}
	windowStart := time.Now().Add(-windowDuration)
	for p, entry := range l.entries {
		n := 0
		for _, ts := range entry.timestamps {
			if ts.After(windowStart) {
				n++
			}
		}
		s.InWindow[p] = n
	}
	return s
}
