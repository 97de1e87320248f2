package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exbridge/internal/ws"
	"exbridge/pkg/core"
)

// StreamSpec is the venue-specific half of a stream connection. The hub owns
// the lifecycle (dialing, keepalive, reconnect, topic replay); the spec owns
// the wire vocabulary.
type StreamSpec struct {
	Venue core.Venue

	// URL resolves the stream endpoint. Venues with token-gated endpoints
	// fetch the token here, so every reconnect gets a fresh one.
	URL func(ctx context.Context) (string, error)

	// Topic maps a subscription key to the venue's topic spelling.
	Topic func(key ws.Key) (string, error)

	// Subscribe and Unsubscribe send the venue's frames for a topic set over
	// an established connection.
	Subscribe   func(conn *ws.Conn, topics []string) error
	Unsubscribe func(conn *ws.Conn, topics []string) error

	// Route extracts the topic and payload from an inbound frame. Frames that
	// carry no market data (acks, heartbeats) return ok false.
	Route func(frame []byte) (topic string, data []byte, ok bool)

	// Ping overrides the protocol-level keepalive for venues that ping with
	// JSON payloads. Optional.
	Ping         func(conn *ws.Conn) error
	PingInterval time.Duration
}

// StreamHub runs one venue's stream connection: it lazily dials on the first
// subscription, replays active topics after every reconnect, routes frames
// into the subscription registry, and drops the connection when the last
// subscription goes away.
type StreamHub struct {
	spec   StreamSpec
	mgr    *ws.Manager
	logger zerolog.Logger
	sup    *ws.Supervisor

	mu      sync.Mutex
	topics  map[string]ws.Key
	conn    *ws.Conn
	cancel  context.CancelFunc
	running bool
	closed  bool
}

// NewStreamHub creates a hub over the given subscription registry.
func NewStreamHub(spec StreamSpec, mgr *ws.Manager, logger zerolog.Logger) *StreamHub {
	if spec.PingInterval == 0 {
		spec.PingInterval = 30 * time.Second
	}
	return &StreamHub{
		spec:   spec,
		mgr:    mgr,
		logger: logger,
		sup:    ws.NewSupervisor(spec.Venue, logger),
		topics: make(map[string]ws.Key),
	}
}

// Subscribe registers a consumer for key and makes sure a connection is up.
// Subscribing an already-subscribed key replaces the previous consumer.
func (h *StreamHub) Subscribe(ctx context.Context, key ws.Key) (*ws.Subscription, error) {
	topic, err := h.spec.Topic(key)
	if err != nil {
		return nil, core.WrapError(h.spec.Venue, core.KindValidation, "bad subscription", err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, core.WrapError(h.spec.Venue, core.KindConnectivity, "stream hub closed", core.ErrClientClosed)
	}
	h.topics[topic] = key
	if !h.running {
		h.running = true
		runCtx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go func() { _ = h.sup.Run(runCtx, h.session) }()
	}
	conn := h.conn
	h.mu.Unlock()

	sub := h.mgr.Subscribe(key)

	if conn != nil && conn.State() == ws.StateConnected {
		if err := h.spec.Subscribe(conn, []string{topic}); err != nil {
			// The supervisor replays all topics on the next session.
			h.logger.Warn().Err(err).Str("topic", topic).Msg("subscribe frame failed")
		}
	}
	return sub, nil
}

// Unsubscribe tears down the subscription for key. When the last topic goes,
// the connection is dropped rather than kept idle.
func (h *StreamHub) Unsubscribe(key ws.Key) bool {
	topic, err := h.spec.Topic(key)
	if err != nil {
		return false
	}

	h.mu.Lock()
	_, known := h.topics[topic]
	delete(h.topics, topic)
	conn := h.conn
	last := known && len(h.topics) == 0
	h.mu.Unlock()

	removed := h.mgr.Unsubscribe(key)
	if !known && !removed {
		return false
	}

	if conn != nil && conn.State() == ws.StateConnected && h.spec.Unsubscribe != nil {
		if err := h.spec.Unsubscribe(conn, []string{topic}); err != nil {
			h.logger.Warn().Err(err).Str("topic", topic).Msg("unsubscribe frame failed")
		}
	}
	if last {
		h.stop()
	}
	return true
}

// Connected reports whether the stream connection is currently up.
func (h *StreamHub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && h.conn.State() == ws.StateConnected
}

// Close drops the connection and every subscription.
func (h *StreamHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.topics = make(map[string]ws.Key)
	h.mu.Unlock()

	h.stop()
	h.mgr.CloseAll()
}

// stop ends the supervisor loop and closes the live connection.
func (h *StreamHub) stop() {
	h.mu.Lock()
	cancel := h.cancel
	conn := h.conn
	h.cancel = nil
	h.conn = nil
	h.running = false
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// session is one connection attempt: dial, replay topics, pump frames until
// the connection drops or the hub stops.
func (h *StreamHub) session(ctx context.Context) error {
	url, err := h.spec.URL(ctx)
	if err != nil {
		return err
	}

	disconnect := make(chan error, 1)
	conn := ws.NewConn(ws.ConnConfig{
		URL:          url,
		PingInterval: h.spec.PingInterval,
		Ping:         h.spec.Ping,
		OnMessage:    h.route,
		OnDisconnect: func(err error) {
			if err == nil {
				err = errors.New("stream closed by venue")
			}
			disconnect <- err
		},
		Logger: h.logger,
	})
	if err := conn.Dial(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.conn = conn
	topics := make([]string, 0, len(h.topics))
	for t := range h.topics {
		topics = append(topics, t)
	}
	h.mu.Unlock()

	if len(topics) > 0 {
		if err := h.spec.Subscribe(conn, topics); err != nil {
			_ = conn.Close()
			h.clearConn(conn)
			return err
		}
	}

	select {
	case err := <-disconnect:
		h.clearConn(conn)
		return err
	case <-ctx.Done():
		h.clearConn(conn)
		_ = conn.Close()
		return nil
	}
}

func (h *StreamHub) clearConn(conn *ws.Conn) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
}

func (h *StreamHub) route(frame []byte) {
	topic, data, ok := h.spec.Route(frame)
	if !ok {
		return
	}
	h.mu.Lock()
	key, known := h.topics[topic]
	h.mu.Unlock()
	if !known {
		return
	}
	h.mgr.Dispatch(key, data)
}
