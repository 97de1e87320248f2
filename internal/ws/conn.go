// Package ws provides the shared WebSocket plumbing venue adapters stream
// market data through: a single-connection wrapper, a keyed subscription
// registry, and a reconnect supervisor.
package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"

	"exbridge/pkg/core"
)

// ConnConfig configures a Conn.
type ConnConfig struct {
	// URL is the stream endpoint.
	URL string
	// PingInterval is how often the keepalive runs. Zero disables it.
	PingInterval time.Duration
	// PongWait extends the read deadline granted after each ping or pong.
	PongWait time.Duration
	// Ping sends a venue keepalive. Nil sends a protocol-level ping frame;
	// venues that keepalive with JSON payloads supply their own.
	Ping func(c *Conn) error
	// OnMessage receives every text frame. Required.
	OnMessage func(data []byte)
	// OnDisconnect fires once when the connection drops for any reason other
	// than Close.
	OnDisconnect func(err error)

	Logger zerolog.Logger
}

// Conn wraps one gws connection. It dies on disconnect rather than
// reconnecting; the supervisor owns the retry loop so subscriptions can be
// replayed on a fresh Conn.
type Conn struct {
	cfg   ConnConfig
	state atomic.Int32

	mu     sync.Mutex
	socket *gws.Conn

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	disconnectOnce sync.Once
}

type connHandler struct{ c *Conn }

// NewConn creates an unconnected Conn.
func NewConn(cfg ConnConfig) *Conn {
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	c := &Conn{cfg: cfg, stop: make(chan struct{})}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Dial connects to the configured URL and starts the read and keepalive
// loops. It returns once the socket is established.
func (c *Conn) Dial(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("dial in state %s", c.State())
	}

	socket, _, err := gws.NewClient(&connHandler{c: c}, &gws.ClientOption{
		Addr: c.cfg.URL,
	})
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.socket = socket
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))

	c.cfg.Logger.Info().Str("url", c.cfg.URL).Msg("stream connected")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		socket.ReadLoop()
	}()

	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.keepalive()
	}
	return nil
}

func (c *Conn) keepalive() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			var err error
			if c.cfg.Ping != nil {
				err = c.cfg.Ping(c)
			} else {
				err = c.writePing()
			}
			if err != nil {
				c.cfg.Logger.Warn().Err(err).Msg("keepalive failed")
				return
			}
		}
	}
}

func (c *Conn) writePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return core.ErrNotConnected
	}
	return c.socket.WritePing(nil)
}

// SendJSON marshals v and writes it as a text frame.
func (c *Conn) SendJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.Send(data)
}

// Send writes raw bytes as a text frame.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil || c.State() != StateConnected {
		return core.ErrNotConnected
	}
	return c.socket.WriteMessage(gws.OpcodeText, data)
}

// Close terminates the connection. OnDisconnect does not fire for a local
// close.
func (c *Conn) Close() error {
	c.state.Store(int32(StateClosed))
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket != nil {
		_ = socket.NetConn().Close()
	}
	c.wg.Wait()
	return nil
}

func (h *connHandler) OnOpen(socket *gws.Conn) {
	_ = socket.SetDeadline(time.Now().Add(h.c.cfg.PongWait))
}

func (h *connHandler) OnClose(socket *gws.Conn, err error) {
	prev := ConnState(h.c.state.Load())
	if prev != StateClosed {
		h.c.state.Store(int32(StateDisconnected))
		h.c.disconnectOnce.Do(func() {
			h.c.cfg.Logger.Warn().Err(err).Str("url", h.c.cfg.URL).Msg("stream disconnected")
			if h.c.cfg.OnDisconnect != nil {
				h.c.cfg.OnDisconnect(err)
			}
		})
	}
}

func (h *connHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.c.cfg.PongWait))
	_ = socket.WritePong(payload)
}

func (h *connHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.c.cfg.PongWait))
}

func (h *connHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.SetDeadline(time.Now().Add(h.c.cfg.PongWait))

	data := message.Bytes()
	if len(data) == 0 {
		return
	}
	if h.c.cfg.OnMessage != nil {
		// message.Bytes is only valid until Close; hand out a copy.
		buf := make([]byte, len(data))
		copy(buf, data)
		h.c.cfg.OnMessage(buf)
	}
}
