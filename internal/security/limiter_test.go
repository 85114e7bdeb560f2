package security

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under the limit", func(t *testing.T) {
		l := NewMemoryLimiter(time.Minute)

		for i := 0; i < 5; i++ {
			allowed, _ := l.Check(ctx, "key-1", 5)
			assert.True(t, allowed, "request %d should be allowed", i)
		}
	})

	t.Run("blocks requests over the limit with a retry hint", func(t *testing.T) {
		l := NewMemoryLimiter(time.Minute)

		for i := 0; i < 3; i++ {
			l.Check(ctx, "key-2", 3)
		}

		allowed, retryAfter := l.Check(ctx, "key-2", 3)
		assert.False(t, allowed)
		assert.Greater(t, retryAfter, 0)
		assert.LessOrEqual(t, retryAfter, 61)
	})

	t.Run("tracks keys separately", func(t *testing.T) {
		l := NewMemoryLimiter(time.Minute)

		for i := 0; i < 3; i++ {
			l.Check(ctx, "key-a", 3)
		}

		allowed, _ := l.Check(ctx, "key-b", 3)
		assert.True(t, allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		l := NewMemoryLimiter(time.Minute)
		clock := time.Now()
		l.now = func() time.Time { return clock }

		for i := 0; i < 3; i++ {
			l.Check(ctx, "key-3", 3)
		}
		allowed, _ := l.Check(ctx, "key-3", 3)
		assert.False(t, allowed)

		clock = clock.Add(61 * time.Second)
		allowed, _ = l.Check(ctx, "key-3", 3)
		assert.True(t, allowed)
	})

	t.Run("idle entries are evicted", func(t *testing.T) {
		l := NewMemoryLimiter(time.Minute)
		clock := time.Now()
		l.now = func() time.Time { return clock }
		l.lastCleanup = clock

		for i := 0; i < 100; i++ {
			l.Check(ctx, fmt.Sprintf("idle-%d", i), 10)
		}
		assert.Len(t, l.store, 100)

		clock = clock.Add(entryTTL + cleanupInterval + time.Second)
		l.Check(ctx, "fresh", 10)
		assert.Len(t, l.store, 1)
	})
}
