// Package kraken implements the venue adapter for Kraken spot markets.
package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/url"

	"exbridge/internal/rest"
	"exbridge/pkg/core"
)

// Sign computes the API-Sign value: base64 HMAC-SHA512 over
// path + SHA256(nonce + postdata), keyed with the base64-decoded secret.
func Sign(secret, path, nonce, postdata string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	inner := sha256.Sum256([]byte(nonce + postdata))
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// signer authenticates private calls, which are always form-encoded POSTs
// carrying the nonce inside the body.
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
	form := c.Form
	if form == nil {
		form = url.Values{}
	}
	form.Set("nonce", nonce)
	// The nonce lives inside the signed body, so the body is rebuilt here.
	c.Body = []byte(form.Encode())
	c.Headers["Content-Type"] = "application/x-www-form-urlencoded"

	sig, err := Sign(s.apiSecret, c.Path, nonce, string(c.Body))
	if err != nil {
		return err
	}
	c.Headers["API-Key"] = s.apiKey
	c.Headers["API-Sign"] = sig
	return nil
}
