package arxiv

import (
	"context"
	"sync"
	"time"
)

// limiter paces requests so at most limit calls start within any sliding
// window.
type limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	starts []time.Time
}

func newLimiter(limit int, window time.Duration, now func() time.Time) *limiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	if now == nil {
		now = time.Now
	}
	return &limiter{limit: limit, window: window, now: now}
}

// reserve claims a slot for one request and returns how long the caller must
// wait before issuing it. Claimed slots in the future keep concurrent callers
// spaced correctly.
func (l *limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.starts[:0]
	for _, at := range l.starts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	l.starts = kept

	if len(l.starts) < l.limit {
		l.starts = append(l.starts, now)
		return 0
	}

	wait := l.starts[len(l.starts)-l.limit].Add(l.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	l.starts = append(l.starts, now.Add(wait))
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
