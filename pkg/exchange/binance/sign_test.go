package binance

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/internal/rest"
	"exbridge/pkg/core"
)

func TestSignVector(t *testing.T) {
	payload := "symbol=BTCUSDT&side=BUY&type=LIMIT&quantity=0.5&price=42000.50&timestamp=1700000000000&recvWindow=5000"
	assert.Equal(t,
		"88d42095609ab5488239bd692504f0981455c4a6a4fcdc5dacaa12c23ee261ab",
		Sign("testSecretKey", payload))
}

func TestSignerFreezesSignedURL(t *testing.T) {
	s := newSigner(&core.Credential{
		Venue: core.VenueBinance, APIKey: "testApiKey", APISecret: "testSecretKey",
	})
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	call := &rest.Call{
		Method:  "POST",
		Path:    "/api/v3/order",
		Query:   url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}},
		Headers: map[string]string{},
	}
	require.NoError(t, s.Sign(call))

	assert.Equal(t, "testApiKey", call.Headers["X-MBX-APIKEY"])
	assert.Empty(t, call.Query, "params move into the frozen path")

	path, query, found := strings.Cut(call.Path, "?")
	require.True(t, found)
	assert.Equal(t, "/api/v3/order", path)

	encoded, sig, found := strings.Cut(query, "&signature=")
	require.True(t, found, "signature trails the query string")
	assert.Equal(t, Sign("testSecretKey", encoded), sig)

	q, err := url.ParseQuery(encoded)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", q.Get("symbol"))
	assert.Equal(t, "1700000000000", q.Get("timestamp"))
	assert.Equal(t, "5000", q.Get("recvWindow"))
}
