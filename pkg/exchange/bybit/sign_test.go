package bybit

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/internal/rest"
	"exbridge/pkg/core"
)

func TestSignVector(t *testing.T) {
	sig := Sign("testSecretKey", "1700000000000", "testApiKey", "5000", "category=spot&symbol=BTCUSDT")
	assert.Equal(t, "db76859c4400435c4ea509ab237c5685961a7c6e1599a3a45b76c7214393e853", sig)
}

func TestSignerHeaders(t *testing.T) {
	s := newSigner(&core.Credential{
		Venue: core.VenueBybit, APIKey: "testApiKey", APISecret: "testSecretKey",
	})
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	call := &rest.Call{
		Method:  "GET",
		Path:    "/v5/market/tickers",
		Query:   url.Values{"category": {"spot"}, "symbol": {"BTCUSDT"}},
		Headers: map[string]string{},
	}
	require.NoError(t, s.Sign(call))

	assert.Equal(t, "testApiKey", call.Headers["X-BAPI-API-KEY"])
	assert.Equal(t, "1700000000000", call.Headers["X-BAPI-TIMESTAMP"])
	assert.Equal(t, "5000", call.Headers["X-BAPI-RECV-WINDOW"])
	assert.Equal(t,
		"db76859c4400435c4ea509ab237c5685961a7c6e1599a3a45b76c7214393e853",
		call.Headers["X-BAPI-SIGN"])
}

func TestSignerSignsBodyForPost(t *testing.T) {
	s := newSigner(&core.Credential{
		Venue: core.VenueBybit, APIKey: "testApiKey", APISecret: "testSecretKey",
	})
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }

	body := []byte(`{"category":"spot","symbol":"BTCUSDT"}`)
	call := &rest.Call{
		Method:  "POST",
		Path:    "/v5/order/create",
		Query:   url.Values{},
		Body:    body,
		Headers: map[string]string{},
	}
	require.NoError(t, s.Sign(call))

	assert.Equal(t,
		Sign("testSecretKey", "1700000000000", "testApiKey", "5000", string(body)),
		call.Headers["X-BAPI-SIGN"])
}
