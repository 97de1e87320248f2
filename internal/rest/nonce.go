package rest

import (
	"strconv"
	"sync"
	"time"
)

// NonceSource issues strictly increasing nonces. Kraken and Bitfinex reject
// any nonce at or below the last one seen for the key, so bursts within the
// same clock tick still need distinct values.
type NonceSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewNonceSource creates a NonceSource backed by the wall clock.
func NewNonceSource() *NonceSource {
	return &NonceSource{now: time.Now}
}

// NewNonceSourceAt creates a NonceSource using the given time function.
func NewNonceSourceAt(now func() time.Time) *NonceSource {
	return &NonceSource{now: now}
}

// Next returns the next nonce in microseconds since the epoch. When the clock
// has not advanced past the previous nonce, the previous value plus one is
// used instead.
func (n *NonceSource) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	v := n.now().UnixMicro()
	if v <= n.last {
		v = n.last + 1
	}
	n.last = v
	return v
}

// NextString returns Next formatted as a decimal string.
func (n *NonceSource) NextString() string {
	return strconv.FormatInt(n.Next(), 10)
}
