// Package bitfinex implements the venue adapter for Bitfinex spot markets.
package bitfinex

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"exbridge/internal/rest"
	"exbridge/pkg/core"
)

// Sign computes the bfx-signature value: hex HMAC-SHA384 over
// "/api/" + path + nonce + body. The secret is used as-is, not decoded.
func Sign(secret, path, nonce, body string) string {
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte("/api/" + path + nonce + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// signer authenticates v2 calls. Authenticated endpoints are always POSTs
// with a JSON body; an empty body signs and ships as "{}".
type signer struct {
	apiKey    string
	apiSecret string
	nonce     *rest.NonceSource
}

func newSigner(cred *core.Credential) *signer {
	return &signer{
		apiKey:    cred.APIKey,
		apiSecret: cred.APISecret,
		nonce:     rest.NewNonceSource(),
	}
}

func (s *signer) Sign(c *rest.Call) error {
	nonce := s.nonce.NextString()
	if len(c.Body) == 0 {
		c.Body = []byte("{}")
		c.Headers["Content-Type"] = "application/json"
	}
	// The prehash path carries no leading slash and no query string.
	path := strings.TrimPrefix(c.Path, "/")
	c.Headers["bfx-apikey"] = s.apiKey
	c.Headers["bfx-nonce"] = nonce
	c.Headers["bfx-signature"] = Sign(s.apiSecret, path, nonce, string(c.Body))
	return nil
}
