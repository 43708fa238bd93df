package valr

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter allows at most max requests within a rolling window.
// Callers block in Wait until a slot frees up.
type SlidingWindowLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	max        int
	window     time.Duration
}

// NewSlidingWindowLimiter creates a limiter for max requests per window
func NewSlidingWindowLimiter(max int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		timestamps: make([]time.Time, 0, max),
		max:        max,
		window:     window,
	}
}

// Wait blocks until a request slot is available or the context is done.
// The slot is recorded before returning.
func (l *SlidingWindowLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)

		if len(l.timestamps) < l.max {
			l.timestamps = append(l.timestamps, now)
			l.mu.Unlock()
			return nil
		}

		// Oldest entry determines when the next slot opens.
		wait := l.window - now.Sub(l.timestamps[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Pending reports how many requests are currently inside the window
func (l *SlidingWindowLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(time.Now())
	return len(l.timestamps)
}

func (l *SlidingWindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = l.timestamps[i:]
	}
}
