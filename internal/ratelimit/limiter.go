// Package ratelimit serializes outbound API requests so that neither the
// per-second nor the per-minute ceiling of the provider is exceeded.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Tier is a named throughput class mapping to provider rate limits.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
	TierXL     Tier = "xl"
)

// Limits holds effective per-second and per-minute request ceilings.
type Limits struct {
	PerSecond int
	PerMinute int
}

// tierLimits maps each tier to 80% of the provider's published ceilings.
var tierLimits = map[Tier]Limits{
	TierSmall:  {PerSecond: 2, PerMinute: 48},
	TierMedium: {PerSecond: 8, PerMinute: 120},
	TierLarge:  {PerSecond: 60, PerMinute: 560},
	TierXL:     {PerSecond: 280, PerMinute: 2800},
}

// LimitsForTier returns the effective limits for a tier. Unknown tiers fall
// back to medium.
func LimitsForTier(t Tier) Limits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierMedium]
}

// Limiter admits requests under a sliding 1s window and a sliding 60s
// window, and enforces a minimum spacing of 1/perSecond between consecutive
// admissions. The per-minute cap can be lowered at runtime when the server
// signals pressure. Admission order under contention is first-ready, not
// FIFO.
type Limiter struct {
	mu        sync.Mutex
	perSecond int
	perMinute int
	secWindow []time.Time
	minWindow []time.Time
	lastAdmit time.Time

	// now and sleep are swapped out by tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter for the given tier.
func New(t Tier) *Limiter {
	l := LimitsForTier(t)
	return NewWithLimits(l.PerSecond, l.PerMinute)
}

// NewWithLimits creates a Limiter with explicit per-second and per-minute
// ceilings.
func NewWithLimits(perSecond, perMinute int) *Limiter {
	if perSecond < 1 {
		perSecond = 1
	}
	if perMinute < 1 {
		perMinute = 1
	}
	return &Limiter{
		perSecond: perSecond,
		perMinute: perMinute,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire blocks until one request slot is available or ctx is cancelled.
// It never fails for rate reasons; it only waits.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.purge(now)

		wait := l.waitFor(now)
		if wait <= 0 {
			l.secWindow = append(l.secWindow, now)
			l.minWindow = append(l.minWindow, now)
			l.lastAdmit = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// waitFor returns how long the caller must wait before admission, or ≤0 when
// a slot is free. Caller holds l.mu.
func (l *Limiter) waitFor(now time.Time) time.Duration {
	var wait time.Duration

	if len(l.secWindow) >= l.perSecond {
		d := l.secWindow[0].Add(time.Second).Sub(now)
		if d > wait {
			wait = d
		}
	}
	if len(l.minWindow) >= l.perMinute {
		d := l.minWindow[0].Add(time.Minute).Sub(now)
		if d > wait {
			wait = d
		}
	}
	// Minimum spacing between consecutive admissions.
	if !l.lastAdmit.IsZero() {
		minInterval := time.Second / time.Duration(l.perSecond)
		d := l.lastAdmit.Add(minInterval).Sub(now)
		if d > wait {
			wait = d
		}
	}
	return wait
}

// purge drops expired timestamps from both windows. Caller holds l.mu.
func (l *Limiter) purge(now time.Time) {
	secCut := now.Add(-time.Second)
	for len(l.secWindow) > 0 && !l.secWindow[0].After(secCut) {
		l.secWindow = l.secWindow[1:]
	}
	minCut := now.Add(-time.Minute)
	for len(l.minWindow) > 0 && !l.minWindow[0].After(minCut) {
		l.minWindow = l.minWindow[1:]
	}
}

// SetPerMinute atomically updates the per-minute cap. Used by the client's
// adaptive feedback loop.
func (l *Limiter) SetPerMinute(n int) {
	if n < 1 {
		n = 1
	}
	l.mu.Lock()
	l.perMinute = n
	l.mu.Unlock()
}

// PerMinute returns the current per-minute cap.
func (l *Limiter) PerMinute() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perMinute
}

// PerSecond returns the per-second cap.
func (l *Limiter) PerSecond() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perSecond
}
