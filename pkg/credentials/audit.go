package credentials

import (
	"github.com/rs/zerolog"

	"exbridge/pkg/core"
)

// Event names credential lifecycle changes for the audit trail.
type Event string

// Audit events. Payloads carry booleans only; secret material never enters
// the audit trail, masked or otherwise.
const (
	// EventKeysUpdated fires when a venue's credentials are set or replaced.
	EventKeysUpdated Event = "security.keys.updated"
	// EventKeysRotated fires when a venue's credentials are rotated out.
	EventKeysRotated Event = "security.keys.rotated"
	// EventKeysCleared fires when a venue's secret fields are blanked.
	EventKeysCleared Event = "security.keys.cleared"
	// EventKeysRemoved fires when a venue's record is removed entirely.
	EventKeysRemoved Event = "security.keys.removed"
	// EventExchangeEnabled fires when trading on a venue is enabled.
	EventExchangeEnabled Event = "security.exchange.enabled"
	// EventExchangeDisabled fires when trading on a venue is disabled.
	EventExchangeDisabled Event = "security.exchange.disabled"
)

// Emitter receives audit events. Fields are boolean facts about the change,
// such as whether a previous value existed.
type Emitter interface {
	Emit(event Event, venue core.Venue, fields map[string]bool)
}

// LogEmitter writes audit events to a zerolog logger.
type LogEmitter struct {
	Logger zerolog.Logger
}

// Emit implements Emitter.
func (e LogEmitter) Emit(event Event, venue core.Venue, fields map[string]bool) {
	ev := e.Logger.Info().
		Str("event", string(event)).
		Str("venue", venue.String())
	for k, v := range fields {
		ev = ev.Bool(k, v)
	}
	ev.Msg("audit")
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event, core.Venue, map[string]bool) {}
