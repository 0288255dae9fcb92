package source

import (
	"strconv"
	"strings"
)

// parseNumber converts an exchange-formatted numeric cell ("1,234.56") to a
// float. Empty cells and the dash placeholder come back as nil so they store
// as NULL rather than zero.
func parseNumber(s string) any {
	cleaned := cleanNumeric(s)
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return f
}

// parseInteger converts a formatted integer cell ("9,123,456") to an int64,
// nil for empty or dash cells. Cells carrying decimals are truncated.
func parseInteger(s string) any {
	cleaned := cleanNumeric(s)
	if cleaned == "" {
		return nil
	}
	if i, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return int64(f)
	}
	return nil
}

func cleanNumeric(s string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if cleaned == "" || cleaned == "-" {
		return ""
	}
	// Percent cells sometimes carry the sign: "+1.25%"
	cleaned = strings.TrimSuffix(cleaned, "%")
	cleaned = strings.TrimPrefix(cleaned, "+")
	return strings.TrimSpace(cleaned)
}
