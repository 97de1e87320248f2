package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"exbridge/internal/metrics"
	"exbridge/pkg/core"
)

// Key identifies one market-data subscription.
type Key struct {
	Pair   string
	Stream core.StreamType
}

// Subscription is one registered stream consumer. The consumer reads Frames
// until it is closed and must call Finish when its goroutine exits, so
// Unsubscribe can wait for teardown.
type Subscription struct {
	Key Key

	frames chan []byte
	done   chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once

	delivered atomic.Int64
	dropped   atomic.Int64
}

// Frames returns the raw frame channel. It is closed on unsubscribe.
func (s *Subscription) Frames() <-chan []byte {
	return s.frames
}

// Finish signals that the consumer goroutine has exited.
func (s *Subscription) Finish() {
	s.finishOnce.Do(func() { close(s.done) })
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.frames) })
}

// Manager is the keyed subscription registry for one venue's stream
// connection. A second subscribe for the same key replaces the first, and
// unsubscribe is idempotent.
type Manager struct {
	venue  core.Venue
	buffer int
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[Key]*Subscription
}

// ManagerStats is a point-in-time capture of subscription activity.
type ManagerStats struct {
	Active    int   `json:"active"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// NewManager creates a Manager. Buffer is the per-subscription frame channel
// capacity; zero gets a default of 256.
func NewManager(venue core.Venue, buffer int, logger zerolog.Logger) *Manager {
	if buffer <= 0 {
		buffer = 256
	}
	return &Manager{
		venue:  venue,
		buffer: buffer,
		logger: logger,
		subs:   make(map[Key]*Subscription),
	}
}

// Subscribe registers a consumer for key. An existing subscription for the
// same key is torn down first, so the caller always owns the only live
// channel for that key.
func (m *Manager) Subscribe(key Key) *Subscription {
	m.mu.Lock()
	prev := m.subs[key]
	sub := &Subscription{
		Key:    key,
		frames: make(chan []byte, m.buffer),
		done:   make(chan struct{}),
	}
	m.subs[key] = sub
	m.mu.Unlock()

	if prev != nil {
		m.teardown(prev)
	}

	metrics.ActiveSubscriptions.WithLabelValues(m.venue.String()).Set(float64(m.Len()))
	m.logger.Debug().
		Str("pair", key.Pair).
		Str("stream", key.Stream.String()).
		Msg("subscribed")
	return sub
}

// Unsubscribe removes the subscription for key and waits for its consumer to
// finish. Removing a missing key is a no-op and returns false.
func (m *Manager) Unsubscribe(key Key) bool {
	m.mu.Lock()
	sub, ok := m.subs[key]
	if ok {
		delete(m.subs, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.teardown(sub)

	metrics.ActiveSubscriptions.WithLabelValues(m.venue.String()).Set(float64(m.Len()))
	m.logger.Debug().
		Str("pair", key.Pair).
		Str("stream", key.Stream.String()).
		Msg("unsubscribed")
	return true
}

// teardown closes the frame channel and waits briefly for the consumer to
// acknowledge. A consumer that never calls Finish does not wedge the caller.
func (m *Manager) teardown(sub *Subscription) {
	sub.close()
	select {
	case <-sub.done:
	case <-time.After(5 * time.Second):
		m.logger.Warn().
			Str("pair", sub.Key.Pair).
			Str("stream", sub.Key.Stream.String()).
			Msg("consumer did not finish in time")
	}
}

// Dispatch delivers a frame to the subscription for key. Frames for keys
// without a subscriber are dropped silently; frames for a full buffer are
// dropped with a warning, favoring liveness over completeness.
//
// The send happens under the registry mutex. A subscription's channel is
// closed only after it has been removed from the map, and removal takes the
// same mutex, so the send can never hit a closed channel. The send is
// non-blocking, so holding the lock here never stalls the registry.
func (m *Manager) Dispatch(key Key, frame []byte) {
	m.mu.Lock()
	sub, ok := m.subs[key]
	if !ok {
		m.mu.Unlock()
		return
	}

	delivered := false
	select {
	case sub.frames <- frame:
		sub.delivered.Add(1)
		delivered = true
	default:
		sub.dropped.Add(1)
	}
	m.mu.Unlock()

	if delivered {
		metrics.WSMessages.WithLabelValues(m.venue.String(), key.Stream.String()).Inc()
		return
	}
	m.logger.Warn().
		Str("pair", key.Pair).
		Str("stream", key.Stream.String()).
		Msg("subscription buffer full, dropping frame")
}

// Keys returns the keys of all active subscriptions.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]Key, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of active subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Stats returns aggregate delivery counters across all active subscriptions.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := ManagerStats{Active: len(m.subs)}
	for _, sub := range m.subs {
		st.Delivered += sub.delivered.Load()
		st.Dropped += sub.dropped.Load()
	}
	return st
}

// CloseAll tears down every subscription.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[Key]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		m.teardown(sub)
	}
	metrics.ActiveSubscriptions.WithLabelValues(m.venue.String()).Set(0)
}
