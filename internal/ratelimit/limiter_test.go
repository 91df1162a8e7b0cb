package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the limiter without real sleeps.
type fakeClock struct {
	mu  sync.Mutex
	t   time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFakeLimiter(perSecond, perMinute int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewWithLimits(perSecond, perMinute)
	l.now = clock.now
	l.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock.advance(d)
		return nil
	}
	return l, clock
}

func TestLimitsForTier(t *testing.T) {
	assert.Equal(t, Limits{PerSecond: 8, PerMinute: 120}, LimitsForTier(TierMedium))
	assert.Equal(t, Limits{PerSecond: 280, PerMinute: 2800}, LimitsForTier(TierXL))
	// Unknown tiers fall back to medium
	assert.Equal(t, LimitsForTier(TierMedium), LimitsForTier(Tier("bogus")))
}

func TestAcquireRespectsPerSecondWindow(t *testing.T) {
	l, clock := newFakeLimiter(2, 1000)
	ctx := context.Background()

	start := clock.now()
	for i := 0; i < 6; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	elapsed := clock.now().Sub(start)

	// 6 admissions at 2/s with 500ms spacing needs at least 2.5s
	assert.GreaterOrEqual(t, elapsed, 2500*time.Millisecond)
}

func TestAcquireRespectsPerMinuteWindow(t *testing.T) {
	l, clock := newFakeLimiter(10, 3)
	ctx := context.Background()

	start := clock.now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	// The 4th admission must wait for the first timestamp to age out
	assert.GreaterOrEqual(t, clock.now().Sub(start), time.Minute)
}

func TestAcquireEnforcesMinInterval(t *testing.T) {
	l, clock := newFakeLimiter(4, 1000)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	first := clock.now()
	require.NoError(t, l.Acquire(ctx))
	assert.GreaterOrEqual(t, clock.now().Sub(first), 250*time.Millisecond)
}

func TestAcquireCancellable(t *testing.T) {
	l, _ := newFakeLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Acquire(ctx))
	cancel()
	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetPerMinute(t *testing.T) {
	l, _ := newFakeLimiter(10, 100)
	l.SetPerMinute(50)
	assert.Equal(t, 50, l.PerMinute())

	// Never drops below one
	l.SetPerMinute(0)
	assert.Equal(t, 1, l.PerMinute())
}

func TestConcurrentAcquireNeverExceedsWindows(t *testing.T) {
	// Real clock, short windows: 5/s, 20/min effective caps with a 100-goroutine
	// stampede over ~1.2s. Count admissions per sliding second.
	l := NewWithLimits(5, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()

	var mu sync.Mutex
	var admissions []time.Time
	var done int32

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.LoadInt32(&done) == 0 {
				if err := l.Acquire(ctx); err != nil {
					return
				}
				mu.Lock()
				admissions = append(admissions, time.Now())
				mu.Unlock()
			}
		}()
	}
	<-ctx.Done()
	atomic.StoreInt32(&done, 1)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := range admissions {
		count := 1
		for j := i + 1; j < len(admissions); j++ {
			if admissions[j].Sub(admissions[i]) < time.Second {
				count++
			}
		}
		// Allow one extra admission for timestamp capture skew.
		assert.LessOrEqual(t, count, 6, "sliding 1s window exceeded at index %d", i)
	}
}
