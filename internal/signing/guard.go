package signing

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Guard caps concurrent signing-tool processes and, optionally, their rate.
// Signing tools may be licensed per seat or throttled by a timestamp server,
// so the cap is independent of how many files are processed at once.
type Guard struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewGuard allows at most concurrency simultaneous invocations and, when
// perSecond > 0, at most perSecond invocations per second.
func NewGuard(concurrency int, perSecond float64) *Guard {
	if concurrency < 1 {
		concurrency = 1
	}
	g := &Guard{sem: semaphore.NewWeighted(int64(concurrency))}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return g
}

// Do runs fn while holding a slot. A nil Guard runs fn directly.
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	if g == nil {
		return fn()
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for signing slot: %w", err)
	}
	defer g.sem.Release(1)
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for signing rate limit: %w", err)
		}
	}
	return fn()
}
