package campaign

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	jitterMinMillis = 30_000
	jitterMaxMillis = 90_000
)

// Pacer computes inter-target delays. It holds no state beyond its random
// source; the zero value uses the global generator.
type Pacer struct {
	JitterMin time.Duration
	JitterMax time.Duration
	Rand      *rand.Rand
}

// NextDelay returns base plus a uniform jitter in [JitterMin, JitterMax].
func (p Pacer) NextDelay(base time.Duration) time.Duration {
	lo, hi := p.JitterMin, p.JitterMax
	if lo == 0 && hi == 0 {
		lo, hi = jitterMinMillis*time.Millisecond, jitterMaxMillis*time.Millisecond
	}
	return base + p.Jitter(lo, hi)
}

// Jitter returns a uniform duration in [min, max] at millisecond resolution.
func (p Pacer) Jitter(min, max time.Duration) time.Duration {
	lo, hi := min.Milliseconds(), max.Milliseconds()
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	return time.Duration(lo+p.int64N(hi-lo+1)) * time.Millisecond
}

func (p Pacer) int64N(n int64) int64 {
	if p.Rand != nil {
		return p.Rand.Int64N(n)
	}
	return rand.Int64N(n)
}

// NextDelayMillis is the millisecond form of NextDelay with the default
// 30–90s jitter: the result is always in [b*1000+30000, b*1000+90000].
func NextDelayMillis(baseSeconds int) int64 {
	return int64(baseSeconds)*1000 + jitterMinMillis + rand.Int64N(jitterMaxMillis-jitterMinMillis+1)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
