package model

import (
	"strings"
	"time"
)

// NormalizeSymbol canonicalizes a KRX stock code: strips any exchange
// prefix ("KRX:005930" → "005930") and zero-pads numeric codes to 6 digits.
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	if isDigits(s) && len(s) < 6 {
		s = strings.Repeat("0", 6-len(s)) + s
	}
	return s
}

// NormalizeTF canonicalizes a timeframe label to "5m", "30m" or "1d".
// Unrecognized labels are returned lowercased as-is.
func NormalizeTF(tf string) string {
	s := strings.ToLower(strings.TrimSpace(tf))
	switch s {
	case "5", "5m", "5min", "m5":
		return "5m"
	case "30", "30m", "30min", "m30":
		return "30m"
	case "1d", "d", "day":
		return "1d"
	}
	return s
}

// TFDuration returns the bar length for a normalized timeframe.
// Returns 0 for unknown timeframes.
func TFDuration(tf string) time.Duration {
	switch NormalizeTF(tf) {
	case "5m":
		return 5 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1d":
		return 24 * time.Hour
	}
	return 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
