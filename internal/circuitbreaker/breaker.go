// Package circuitbreaker stops request dispatch to a venue that is failing
// repeatedly, giving it a cooldown before probing again.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State is the breaker's position in its closed/open/half-open cycle.
type State int

const (
	// StateClosed passes all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets probes through to test whether the venue recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the breaker thresholds.
type Config struct {
	// FailThreshold is the number of consecutive failures that open the breaker.
	FailThreshold int `json:"fail_threshold"`
	// SuccessThreshold is the number of consecutive half-open successes that close it.
	SuccessThreshold int `json:"success_threshold"`
	// Cooldown is how long the breaker stays open before allowing probes.
	Cooldown time.Duration `json:"cooldown"`
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
// Callers check Allow before dispatch and Record the outcome after; only
// outcomes the caller deems infrastructure failures should be recorded as
// failures, so venue-level protocol errors do not trip the breaker.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	onChange func(from, to State)

	totalAllowed  int64
	totalRejected int64
	stateChanges  int64
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	return NewWithClock(cfg, clock.New())
}

// NewWithClock creates a Breaker using the provided clock.
func NewWithClock(cfg Config, c clock.Clock) *Breaker {
	return &Breaker{cfg: cfg, clock: c, state: StateClosed}
}

// OnStateChange registers a hook invoked on every transition. The hook runs
// with the breaker's lock held and must not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow reports whether a request may be dispatched. An open breaker whose
// cooldown has elapsed moves to half-open and admits the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.clock.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
		b.successes = 0
	}

	if b.state == StateOpen {
		b.totalRejected++
		return false
	}
	b.totalAllowed++
	return true
}

// Record reports a dispatch outcome to the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailThreshold {
			b.open()
		}
	case StateHalfOpen:
		if !success {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	case StateOpen:
		// Late results from requests dispatched before the trip; the
		// cooldown clock already runs, nothing to do.
	}
}

func (b *Breaker) open() {
	b.openedAt = b.clock.Now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.stateChanges++
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// State returns the current state, resolving an elapsed cooldown to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clock.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset returns the breaker to the closed state with all counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.successes = 0
}

// Snapshot is a point-in-time capture of breaker statistics.
type Snapshot struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	Allowed      int64  `json:"allowed"`
	Rejected     int64  `json:"rejected"`
	StateChanges int64  `json:"state_changes"`
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:        b.state.String(),
		Failures:     b.failures,
		Allowed:      b.totalAllowed,
		Rejected:     b.totalRejected,
		StateChanges: b.stateChanges,
	}
}
