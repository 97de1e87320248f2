package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"exbridge/internal/rest"
	"exbridge/pkg/core"
)

// Sign computes the base64-encoded HMAC-SHA256 over the pre-sign string
// timestamp + METHOD + requestPath + body. The secret is itself
// base64-encoded, so it is decoded before keying the MAC.
func Sign(secret, timestamp, method, requestPath, body string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// signer authenticates calls with the CB-ACCESS-* header set.
type signer struct {
	apiKey     string
	apiSecret  string
	passphrase string
	now        func() time.Time
}

func newSigner(cred *core.Credential) *signer {
	return &signer{
		apiKey:     cred.APIKey,
		apiSecret:  cred.APISecret,
		passphrase: cred.Passphrase,
		now:        time.Now,
	}
}

func (s *signer) Sign(c *rest.Call) error {
	ts := strconv.FormatFloat(float64(s.now().UnixMilli())/1000, 'f', 3, 64)
	requestPath := c.Path
	if len(c.Query) > 0 {
		// The signed path must match the request line byte for byte, so the
		// query is frozen into the path.
		requestPath = c.Path + "?" + c.Query.Encode()
		c.Path = requestPath
		c.Query = nil
	}
	sig, err := Sign(s.apiSecret, ts, c.Method, requestPath, string(c.Body))
	if err != nil {
		return err
	}
	c.Headers["CB-ACCESS-KEY"] = s.apiKey
	c.Headers["CB-ACCESS-SIGN"] = sig
	c.Headers["CB-ACCESS-TIMESTAMP"] = ts
	c.Headers["CB-ACCESS-PASSPHRASE"] = s.passphrase
	return nil
}
