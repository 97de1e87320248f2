package core

import (
	"fmt"
	"strings"
)

// Quote assets tried longest-first when splitting a venue symbol that has no
// delimiter. Order matters: USDT must be tried before USD.
var knownQuotes = []string{
	"USDT", "USDC", "TUSD", "BUSD", "FDUSD", "DAI",
	"BTC", "ETH", "BNB",
	"EUR", "GBP", "JPY", "AUD", "CAD", "CHF", "USD",
}

// NormalizePair canonicalizes a trading pair to "BASE/QUOTE" in upper case.
// It accepts "/", "-", "_" and ":" as delimiters. Input that already matches
// the canonical form passes through unchanged.
func NormalizePair(pair string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(pair))
	if s == "" {
		return "", fmt.Errorf("empty pair")
	}
	for _, sep := range []string{"/", "-", "_", ":"} {
		if strings.Contains(s, sep) {
			parts := strings.SplitN(s, sep, 2)
			if parts[0] == "" || parts[1] == "" {
				return "", fmt.Errorf("malformed pair %q", pair)
			}
			return parts[0] + "/" + parts[1], nil
		}
	}
	base, quote, ok := SplitSymbol(s)
	if !ok {
		return "", fmt.Errorf("cannot split symbol %q into base and quote", pair)
	}
	return base + "/" + quote, nil
}

// SplitPair splits a canonical "BASE/QUOTE" pair into its components.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("pair %q is not in BASE/QUOTE form", pair)
	}
	return parts[0], parts[1], nil
}

// SplitSymbol splits a concatenated venue symbol like "BTCUSDT" by matching a
// known quote asset suffix, longest first. It is a heuristic: symbols with a
// quote asset outside knownQuotes are not split.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(symbol)
	for _, q := range knownQuotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}

// JoinPair builds a canonical pair from base and quote assets.
func JoinPair(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}
