package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryLimiter is a per-process sliding window limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string][]time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	timestamps := prune(l.buckets[key], now.Add(-l.window))

	if len(timestamps) >= l.limit {
		l.buckets[key] = timestamps
		return Result{
			Allowed:   false,
			Limit:     l.limit,
			Remaining: 0,
			ResetAt:   timestamps[0].Add(l.window),
		}, nil
	}

	timestamps = append(timestamps, now)
	l.buckets[key] = timestamps
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(timestamps),
		ResetAt:   timestamps[0].Add(l.window),
	}, nil
}

// Sweep drops keys whose whole window has expired.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for key, ts := range l.buckets {
		if kept := prune(ts, cutoff); len(kept) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = kept
		}
	}
}

// prune drops timestamps at or before cutoff; ts is in ascending order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
