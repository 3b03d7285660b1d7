package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mwantia/guestvfs/data/errors"
)

// Sleep bounds for blocking acquisition. Waits shorter than minSleep are not
// worth a timer; waits longer than maxSleep are re-checked so a refill from
// a racing release is picked up early.
const (
	minSleep = 250 * time.Microsecond
	maxSleep = 50 * time.Millisecond
)

// Limits configures one limiter. A zero rate disables the matching bucket
// entirely; negative rates are invalid. MetaOps falls back to Ops when
// unset, so metadata traffic shares the general operation budget unless it
// gets one of its own.
type Limits struct {
	// Ops is the sustained operations per second across all calls.
	Ops float64
	// OpsBurst is extra headroom above the sustained rate.
	OpsBurst float64

	// MetaOps rates metadata operations separately when set.
	MetaOps      float64
	MetaOpsBurst float64

	// ReadBytesPerSec caps sustained read throughput.
	ReadBytesPerSec float64
	ReadBytesBurst  float64

	// WriteBytesPerSec caps sustained write throughput.
	WriteBytesPerSec float64
	WriteBytesBurst  float64
}

// bucket is a token bucket refilled continuously from a wall clock. Tokens
// are fractional so sub-second rates work.
type bucket struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func newBucket(rate, burst float64, now time.Time) *bucket {
	return &bucket{
		rate:   rate,
		burst:  burst,
		tokens: rate + burst,
		last:   now,
	}
}

// refill credits elapsed time, capped at one second of rate plus burst.
// Callers hold b.mu.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.last = now
	b.tokens += elapsed * b.rate
	if limit := b.rate + b.burst; b.tokens > limit {
		b.tokens = limit
	}
}

// tryTake takes cost tokens if available. On failure it returns how long the
// caller should wait before the deficit refills.
func (b *bucket) tryTake(cost float64, now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)
	if b.tokens >= cost {
		b.tokens -= cost
		return 0, true
	}

	missing := cost - b.tokens
	wait := time.Duration(missing / b.rate * float64(time.Second))
	if wait < minSleep {
		wait = minSleep
	}
	if wait > maxSleep {
		wait = maxSleep
	}
	return wait, false
}

// Limiter meters filesystem traffic through per-class token buckets. Nil
// buckets are unlimited classes.
type Limiter struct {
	ops        *bucket
	metaOps    *bucket
	readBytes  *bucket
	writeBytes *bucket

	// now and sleep are swapped out in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter builds a limiter from limits. Negative rates and bursts on a
// disabled bucket are rejected.
func NewLimiter(limits Limits) (*Limiter, error) {
	l := &Limiter{
		now:   time.Now,
		sleep: sleepCtx,
	}

	pairs := []struct {
		rate, burst float64
		dst         **bucket
	}{
		{limits.Ops, limits.OpsBurst, &l.ops},
		{limits.MetaOps, limits.MetaOpsBurst, &l.metaOps},
		{limits.ReadBytesPerSec, limits.ReadBytesBurst, &l.readBytes},
		{limits.WriteBytesPerSec, limits.WriteBytesBurst, &l.writeBytes},
	}
	for _, p := range pairs {
		if p.rate < 0 || p.burst < 0 {
			return nil, errors.ErrInvalid
		}
		if p.rate == 0 {
			if p.burst > 0 {
				return nil, errors.ErrInvalid
			}
			continue
		}
		*p.dst = newBucket(p.rate, p.burst, l.now())
	}
	return l, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// take blocks until b has cost tokens, sleeping in bounded slices so
// cancellation is honored promptly.
func (l *Limiter) take(ctx context.Context, b *bucket, cost float64) error {
	if b == nil || cost <= 0 {
		return nil
	}
	for {
		wait, ok := b.tryTake(cost, l.now())
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Op charges one general operation.
func (l *Limiter) Op(ctx context.Context) error {
	return l.take(ctx, l.ops, 1)
}

// MetaOp charges one metadata operation against the metadata bucket, or the
// general bucket when no separate metadata rate is configured.
func (l *Limiter) MetaOp(ctx context.Context) error {
	if l.metaOps != nil {
		return l.take(ctx, l.metaOps, 1)
	}
	return l.take(ctx, l.ops, 1)
}

// Read charges n bytes of read throughput.
func (l *Limiter) Read(ctx context.Context, n int) error {
	return l.take(ctx, l.readBytes, float64(n))
}

// Write charges n bytes of write throughput.
func (l *Limiter) Write(ctx context.Context, n int) error {
	return l.take(ctx, l.writeBytes, float64(n))
}
