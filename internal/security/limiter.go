package security

import (
	"context"
	"sync"
	"time"
)

const (
	maxEntries      = 10000
	cleanupInterval = time.Minute
	entryTTL        = 5 * time.Minute
)

type limiterEntry struct {
	timestamps []time.Time
	lastAccess time.Time
}

// MemoryLimiter is an in-process sliding-window rate limiter. Used as
// the fallback when Redis is unavailable and directly in tests.
type MemoryLimiter struct {
	window      time.Duration
	now         func() time.Time
	mu          sync.Mutex
	store       map[string]*limiterEntry
	lastCleanup time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		window:      window,
		now:         time.Now,
		store:       make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

// cleanup drops idle entries so the map cannot grow without bound;
// called under the lock
func (l *MemoryLimiter) cleanup() {
	now := l.now()
	if now.Sub(l.lastCleanup) < cleanupInterval {
		return
	}
	l.lastCleanup = now

	for key, entry := range l.store {
		if now.Sub(entry.lastAccess) > entryTTL {
			delete(l.store, key)
		}
	}

	if len(l.store) > maxEntries {
		drop := len(l.store) / 5
		for key := range l.store {
			delete(l.store, key)
			drop--
			if drop <= 0 {
				break
			}
		}
	}
}

// Check records a request attempt for the key and reports whether it is
// within the limit for the current window
func (l *MemoryLimiter) Check(_ context.Context, key string, limit int) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup()

	now := l.now()
	windowStart := now.Add(-l.window)

	entry, exists := l.store[key]
	if !exists {
		entry = &limiterEntry{}
		l.store[key] = entry
	}
	entry.lastAccess = now

	// Drop timestamps that slid out of the window
	kept := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	entry.timestamps = kept

	if len(entry.timestamps) >= limit {
		oldest := entry.timestamps[0]
		retryAfter := int(oldest.Add(l.window).Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	entry.timestamps = append(entry.timestamps, now)
	return true, 0
}
