package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"papercast/internal/config"
)

// ErrCircuitOpen indicates the breaker is rejecting calls without attempting them.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the current disposition of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker guards one external service. Consecutive failures trip it open;
// after the cooldown a single probe call is admitted, and its outcome decides
// whether the breaker closes again or re-opens for another cooldown.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// BreakerOption customizes a breaker.
type BreakerOption func(*Breaker)

// WithClock overrides the breaker's time source (useful for tests).
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBreaker constructs a closed breaker for the named service.
func NewBreaker(name string, cfg config.Breaker, opts ...BreakerOption) *Breaker {
	breaker := &Breaker{
		name:      name,
		threshold: cfg.Threshold,
		cooldown:  time.Duration(cfg.CooldownSeconds) * time.Second,
		now:       time.Now,
		state:     BreakerClosed,
	}
	if breaker.threshold <= 0 {
		breaker.threshold = 5
	}
	if breaker.cooldown <= 0 {
		breaker.cooldown = time.Minute
	}
	for _, opt := range opts {
		opt(breaker)
	}
	return breaker
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrCircuitOpen until the cooldown elapses, then admits one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.probing = true
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	}
	return nil
}

// Record feeds a call outcome back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		b.probing = false
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		// Failed probe, back to a full cooldown.
		b.trip()
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.failures = 0
	b.probing = false
	b.openedAt = b.now()
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the guarded service name.
func (b *Breaker) Name() string {
	return b.name
}
