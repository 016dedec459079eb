// Package ratelimit provides the sliding-window limiter that gates every
// TVMaze request. TVMaze allows at most 20 calls per 10 seconds per IP;
// exceeding it earns 429s and, eventually, temporary bans.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits requests under a sliding window: at most max acquisitions
// within any window-sized interval. Admission order is FIFO because the
// mutex is held across the whole expire/check/sleep/append sequence; callers
// queue on the lock and drain in arrival order.
type Limiter struct {
	max    int
	window time.Duration

	mu         sync.Mutex
	timestamps []time.Time
}

// New returns a limiter admitting max acquisitions per window.
func New(max int, window time.Duration) *Limiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{max: max, window: window}
}

// Acquire blocks until the caller may proceed, then records the acquisition.
func (l *Limiter) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.expire(now)

	if len(l.timestamps) >= l.max {
		wait := l.timestamps[0].Add(l.window).Sub(now)
		if wait > 0 {
			time.Sleep(wait)
			now = time.Now()
			l.expire(now)
		}
	}

	l.timestamps = append(l.timestamps, now)
}

// WaitTime reports how long Acquire would block right now. Zero means a call
// would be admitted immediately.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.expire(now)

	if len(l.timestamps) >= l.max {
		if wait := l.timestamps[0].Add(l.window).Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}

// expire drops timestamps that have left the window. Caller holds mu.
func (l *Limiter) expire(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.timestamps) && l.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}
