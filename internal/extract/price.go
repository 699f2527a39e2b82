package extract

import (
	"strconv"
	"strings"
)

// ParsePrice converts a displayed price such as "$1.299,90 CLP" into a float.
// Everything except digits, separators and the minus sign is discarded. When
// both separators appear the right-most one is the decimal point. A single
// comma is a decimal point; repeated commas are thousands separators. A dot is
// a thousands separator when it repeats or is followed by exactly three digits
// ("$12.990"). Unparsable input yields nil.
func ParsePrice(raw string) *float64 {
	cleaned := keepPriceRunes(raw)
	if cleaned == "" {
		return nil
	}
	lastComma := strings.LastIndexByte(cleaned, ',')
	lastDot := strings.LastIndexByte(cleaned, '.')

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = commaAsDecimal(cleaned)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(cleaned, ".") > 1 || len(cleaned)-lastDot-1 == 3 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &value
}

func keepPriceRunes(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// commaAsDecimal keeps the last comma as the decimal point and drops the rest.
func commaAsDecimal(s string) string {
	idx := strings.LastIndexByte(s, ',')
	head := strings.ReplaceAll(s[:idx], ",", "")
	return head + "." + s[idx+1:]
}
