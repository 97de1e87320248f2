package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a weighted request budget. Venues price endpoints in
// request weights rather than counting calls uniformly, so every wait carries
// a cost drawn against the shared budget.
type Limiter struct {
	bucket  *rate.Limiter
	budget  int
	period  time.Duration
	metrics Metrics
}

// Metrics tracks statistics about limiter usage.
type Metrics struct {
	totalWaits   atomic.Int64
	allowedWaits atomic.Int64
	deniedWaits  atomic.Int64
	weightSpent  atomic.Int64
}

// New creates a Limiter allowing budget weight units per period.
func New(budget int, period time.Duration) *Limiter {
	rps := float64(budget) / period.Seconds()
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), budget),
		budget: budget,
		period: period,
	}
}

// Wait blocks until weight units of budget are available or the context is
// cancelled. Weights below one are charged as one.
func (l *Limiter) Wait(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}
	l.metrics.totalWaits.Add(1)
	if err := l.bucket.WaitN(ctx, weight); err != nil {
		l.metrics.deniedWaits.Add(1)
		return err
	}
	l.metrics.allowedWaits.Add(1)
	l.metrics.weightSpent.Add(int64(weight))
	return nil
}

// Allow reports whether weight units are immediately available, consuming
// them when they are.
func (l *Limiter) Allow(weight int) bool {
	if weight < 1 {
		weight = 1
	}
	l.metrics.totalWaits.Add(1)
	allowed := l.bucket.AllowN(time.Now(), weight)
	if allowed {
		l.metrics.allowedWaits.Add(1)
		l.metrics.weightSpent.Add(int64(weight))
	} else {
		l.metrics.deniedWaits.Add(1)
	}
	return allowed
}

// SetBudget updates the budget to weight units per period.
func (l *Limiter) SetBudget(budget int, period time.Duration) {
	l.budget = budget
	l.period = period
	rps := float64(budget) / period.Seconds()
	l.bucket.SetLimit(rate.Limit(rps))
	l.bucket.SetBurst(budget)
}

// Snapshot returns a point-in-time capture of limiter statistics.
func (l *Limiter) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalWaits:   l.metrics.totalWaits.Load(),
		AllowedWaits: l.metrics.allowedWaits.Load(),
		DeniedWaits:  l.metrics.deniedWaits.Load(),
		WeightSpent:  l.metrics.weightSpent.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of limiter statistics.
type MetricsSnapshot struct {
	// TotalWaits is the total number of budget checks performed.
	TotalWaits int64
	// AllowedWaits is the number of waits that completed.
	AllowedWaits int64
	// DeniedWaits is the number of waits that failed or were cancelled.
	DeniedWaits int64
	// WeightSpent is the cumulative weight drawn from the budget.
	WeightSpent int64
}
