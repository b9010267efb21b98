package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits calls per key using a sliding window of admission
// timestamps. Each key has its own lock; the map lock is held only for the
// key lookup.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	mu         sync.Mutex
	admissions []time.Time
}

func NewLimiter() *Limiter {
	return NewLimiterWithClock(time.Now)
}

func NewLimiterWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     now,
	}
}

// TryAcquire records an admission for key and returns true when fewer than
// limit admissions fall within the trailing window. A rejected call leaves
// the bucket untouched apart from purging expired timestamps.
func (l *Limiter) TryAcquire(key string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return false
	}

	b := l.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := b.admissions[:0]
	for _, ts := range b.admissions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.admissions = kept

	if len(b.admissions) >= limit {
		return false
	}
	b.admissions = append(b.admissions, now)
	return true
}

// Remaining reports how many admissions key has left in the current window.
func (l *Limiter) Remaining(key string, limit int, window time.Duration) int {
	b := l.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := l.now().Add(-window)
	used := 0
	for _, ts := range b.admissions {
		if ts.After(cutoff) {
			used++
		}
	}
	return max(0, limit-used)
}

// Reset forgets all admissions for key. The bucket itself stays so callers
// already holding it keep sharing one window.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.admissions = nil
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	return b
}
