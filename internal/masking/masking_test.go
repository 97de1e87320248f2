package masking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"long secret", "abcdef123456", "ab***56"},
		{"exactly twelve", "abcdefghijkl", "ab***kl"},
		{"eleven chars fully redacted", "abcdefghijk", "***"},
		{"six chars fully redacted", "abcdef", "***"},
		{"empty", "", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mask(tt.input))
		})
	}
}

func TestSensitiveKey(t *testing.T) {
	sensitive := []string{"api_key", "APIKey", "secret", "X-Auth-Token", "password", "Passphrase", "signature", "CB-ACCESS-KEY"}
	for _, k := range sensitive {
		assert.True(t, SensitiveKey(k), "%q should be sensitive", k)
	}

	plain := []string{"symbol", "side", "price", "quantity", "timestamp"}
	for _, k := range plain {
		assert.False(t, SensitiveKey(k), "%q should not be sensitive", k)
	}
}

func TestMaskMap_DoesNotLeakSecrets(t *testing.T) {
	in := map[string]string{
		"symbol":  "BTCUSDT",
		"api_key": "abcdef123456",
	}

	out := MaskMap(in)

	assert.Equal(t, "BTCUSDT", out["symbol"])
	assert.Equal(t, "ab***56", out["api_key"])
	assert.Equal(t, "abcdef123456", in["api_key"], "input must not be modified")

	for _, v := range out {
		assert.NotEqual(t, "abcdef123456", v, "secret must never appear in masked output")
	}
}

func TestMaskQuery(t *testing.T) {
	out := MaskQuery("symbol=BTCUSDT&signature=deadbeefcafe&timestamp=1700000000000")

	assert.Contains(t, out, "symbol=BTCUSDT")
	assert.Contains(t, out, "signature=de***fe")
	assert.False(t, strings.Contains(out, "deadbeefcafe"))

	assert.Equal(t, "", MaskQuery(""))
	assert.Equal(t, "***", MaskQuery("%zz"))
}
