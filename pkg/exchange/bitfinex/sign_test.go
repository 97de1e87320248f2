package bitfinex

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/internal/rest"
	"exbridge/pkg/core"
)

func TestSignVector(t *testing.T) {
	body := `{"type":"EXCHANGE LIMIT","symbol":"tBTCUSD","amount":"0.5","price":"42000.5"}`
	sig := Sign("testSecretKey", "v2/auth/r/wallets", "1700000000000000", body)
	assert.Equal(t,
		"230f9d4d1e0fb578c9a2aed2048f9d45704e52968daa094e916ac0dd5bcecf7d4548268597879048928205111da3c46b",
		sig)
}

func TestSignerHeaders(t *testing.T) {
	s := &signer{
		apiKey:    "testApiKey",
		apiSecret: "testSecretKey",
		nonce: rest.NewNonceSourceAt(func() time.Time {
			return time.UnixMicro(1700000000000000)
		}),
	}
	body := `{"type":"EXCHANGE LIMIT","symbol":"tBTCUSD","amount":"0.5","price":"42000.5"}`
	call := &rest.Call{
		Method:  http.MethodPost,
		Path:    "/v2/auth/r/wallets",
		Body:    []byte(body),
		Headers: map[string]string{},
	}
	require.NoError(t, s.Sign(call))

	assert.Equal(t, "testApiKey", call.Headers["bfx-apikey"])
	assert.Equal(t, "1700000000000000", call.Headers["bfx-nonce"])
	assert.Equal(t,
		"230f9d4d1e0fb578c9a2aed2048f9d45704e52968daa094e916ac0dd5bcecf7d4548268597879048928205111da3c46b",
		call.Headers["bfx-signature"])
}

func TestSignerDefaultsEmptyBody(t *testing.T) {
	s := newSigner(&core.Credential{APIKey: "k", APISecret: "s"})
	call := &rest.Call{
		Method:  http.MethodPost,
		Path:    "/v2/auth/r/orders",
		Headers: map[string]string{},
	}
	require.NoError(t, s.Sign(call))

	assert.Equal(t, "{}", string(call.Body))
	assert.Equal(t, "application/json", call.Headers["Content-Type"])
	assert.NotEmpty(t, call.Headers["bfx-signature"])
}
