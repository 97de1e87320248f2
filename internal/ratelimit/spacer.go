package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Spacer enforces a minimum interval between consecutive requests. Some
// venues throttle on call spacing rather than aggregate budget; the spacer
// runs in front of the weighted limiter for those.
type Spacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	clock    clock.Clock
}

// NewSpacer creates a Spacer with the given minimum interval. A zero or
// negative interval disables spacing.
func NewSpacer(interval time.Duration) *Spacer {
	return &Spacer{interval: interval, clock: clock.New()}
}

// NewSpacerWithClock creates a Spacer using the provided clock. Tests inject
// a mock clock to avoid real sleeps.
func NewSpacerWithClock(interval time.Duration, c clock.Clock) *Spacer {
	return &Spacer{interval: interval, clock: c}
}

// Wait blocks until at least the configured interval has elapsed since the
// previous Wait returned a slot, or until the context is cancelled. The slot
// is claimed before sleeping so concurrent callers space out rather than
// release together.
func (s *Spacer) Wait(ctx context.Context) error {
	if s.interval <= 0 {
		return ctx.Err()
	}

	s.mu.Lock()
	now := s.clock.Now()
	next := s.last.Add(s.interval)
	if next.Before(now) {
		next = now
	}
	s.last = next
	s.mu.Unlock()

	delay := next.Sub(now)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := s.clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interval returns the configured minimum interval.
func (s *Spacer) Interval() time.Duration {
	return s.interval
}
