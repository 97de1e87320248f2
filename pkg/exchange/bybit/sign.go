package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"exbridge/internal/rest"
	"exbridge/pkg/core"
)

const recvWindow = "5000"

// Sign computes the hex-encoded HMAC-SHA256 over the v5 pre-sign string:
// timestamp + api key + recv window + query-or-body.
func Sign(secret, timestamp, apiKey, window, params string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + window + params))
	return hex.EncodeToString(mac.Sum(nil))
}

// signer authenticates calls with the X-BAPI-* header set.
type signer struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

func newSigner(cred *core.Credential) *signer {
	return &signer{apiKey: cred.APIKey, apiSecret: cred.APISecret, now: time.Now}
}

func (s *signer) Sign(c *rest.Call) error {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	params := c.Query.Encode()
	if len(c.Body) > 0 {
		params = string(c.Body)
	}
	c.Headers["X-BAPI-API-KEY"] = s.apiKey
	c.Headers["X-BAPI-TIMESTAMP"] = ts
	c.Headers["X-BAPI-RECV-WINDOW"] = recvWindow
	c.Headers["X-BAPI-SIGN"] = Sign(s.apiSecret, ts, s.apiKey, recvWindow, params)
	return nil
}
