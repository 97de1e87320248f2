package coinbase

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/internal/rest"
)

// The API secret is itself base64; this is "testSecretKey" encoded.
const testSecret = "dGVzdFNlY3JldEtleQ=="

func TestSignVector(t *testing.T) {
	sig, err := Sign(testSecret, "1700000000.123", "GET", "/accounts", "")
	require.NoError(t, err)
	assert.Equal(t, "0dklQ5ElkImT4cp90cXhKO/MiBh5QGY9yVmeeTPfUV8=", sig)
}

func TestSignRejectsBadSecret(t *testing.T) {
	_, err := Sign("not-base64!!", "1700000000.123", "GET", "/accounts", "")
	assert.Error(t, err)
}

func TestSignerHeaders(t *testing.T) {
	s := &signer{
		apiKey:     "testApiKey",
		apiSecret:  testSecret,
		passphrase: "myPassphrase",
		now:        func() time.Time { return time.UnixMilli(1700000000123) },
	}
	call := &rest.Call{
		Method:  http.MethodGet,
		Path:    "/accounts",
		Headers: map[string]string{},
	}
	require.NoError(t, s.Sign(call))

	assert.Equal(t, "testApiKey", call.Headers["CB-ACCESS-KEY"])
	assert.Equal(t, "1700000000.123", call.Headers["CB-ACCESS-TIMESTAMP"])
	assert.Equal(t, "myPassphrase", call.Headers["CB-ACCESS-PASSPHRASE"])
	assert.Equal(t, "0dklQ5ElkImT4cp90cXhKO/MiBh5QGY9yVmeeTPfUV8=", call.Headers["CB-ACCESS-SIGN"])
}

func TestSignerFreezesQueryIntoPath(t *testing.T) {
	s := &signer{
		apiKey:     "testApiKey",
		apiSecret:  testSecret,
		passphrase: "myPassphrase",
		now:        func() time.Time { return time.UnixMilli(1700000000123) },
	}
	call := &rest.Call{
		Method:  http.MethodGet,
		Path:    "/orders",
		Query:   url.Values{"status": {"open"}},
		Headers: map[string]string{},
	}
	require.NoError(t, s.Sign(call))

	assert.Equal(t, "/orders?status=open", call.Path)
	assert.Empty(t, call.Query)

	want, err := Sign(testSecret, "1700000000.123", http.MethodGet, "/orders?status=open", "")
	require.NoError(t, err)
	assert.Equal(t, want, call.Headers["CB-ACCESS-SIGN"])
}
