package ws

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"exbridge/internal/metrics"
	"exbridge/pkg/core"
)

// Supervisor keeps one stream session alive. It runs the session function,
// waits out an exponential backoff when the session ends with an error, and
// resets the backoff after a session that survived long enough to be
// considered healthy.
type Supervisor struct {
	venue  core.Venue
	logger zerolog.Logger

	// InitialInterval and MaxInterval bound the backoff between attempts.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// HealthyAfter is the session lifetime beyond which the backoff resets.
	HealthyAfter time.Duration
}

// NewSupervisor creates a Supervisor with 1s initial and 30s maximum backoff.
func NewSupervisor(venue core.Venue, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		venue:           venue,
		logger:          logger,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		HealthyAfter:    time.Minute,
	}
}

// Run executes session repeatedly until the context is cancelled or session
// returns nil. A nil return means a deliberate shutdown; an error means the
// session died and will be restarted after the backoff.
func (s *Supervisor) Run(ctx context.Context, session func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.InitialInterval
	bo.MaxInterval = s.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		started := time.Now()
		err := session(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(started) >= s.HealthyAfter {
			bo.Reset()
		}
		wait := bo.NextBackOff()

		metrics.WSReconnects.WithLabelValues(s.venue.String()).Inc()
		s.logger.Warn().
			Err(err).
			Dur("wait", wait).
			Msg("stream session ended, reconnecting")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
