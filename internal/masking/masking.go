// Package masking redacts credential material from values destined for logs.
package masking

import (
	"net/url"
	"regexp"
)

var sensitiveKey = regexp.MustCompile(`(?i)(api|secret|token|key|password|passphrase|signature)`)

// SensitiveKey reports whether a field name looks like it carries credential
// material.
func SensitiveKey(key string) bool {
	return sensitiveKey.MatchString(key)
}

// Mask redacts a secret value while keeping enough of it to correlate logs.
// Values of twelve or more characters keep their first and last two
// characters; anything shorter reveals too large a fraction and is fully
// redacted.
func Mask(s string) string {
	if len(s) >= 12 {
		return s[:2] + "***" + s[len(s)-2:]
	}
	return "***"
}

// MaskMap returns a copy of m with every sensitive-looking value masked.
// The input map is never modified.
func MaskMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if SensitiveKey(k) {
			out[k] = Mask(v)
		} else {
			out[k] = v
		}
	}
	return out
}

// MaskQuery masks sensitive parameters in an encoded query string. Malformed
// input is fully redacted rather than passed through.
func MaskQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "***"
	}
	masked := url.Values{}
	for k, vs := range vals {
		for _, v := range vs {
			if SensitiveKey(k) {
				masked.Add(k, Mask(v))
			} else {
				masked.Add(k, v)
			}
		}
	}
	return masked.Encode()
}

// MaskHeaders returns a copy of headers with sensitive values masked.
func MaskHeaders(h map[string]string) map[string]string {
	return MaskMap(h)
}
