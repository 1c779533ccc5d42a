package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateFormats are tried in order by ParseDate
var dateFormats = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// ParseDate parses the date layouts models and users commonly produce.
// Results are in UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseAmount handles flexible number parsing from decoded JSON values.
// Supports: numbers, strings, strings with commas (e.g., "3,965.34")
func ParseAmount(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case string:
		// Remove commas (thousands separator) and a leading currency sign
		cleaned := strings.TrimSpace(strings.ReplaceAll(val, ",", ""))
		cleaned = strings.TrimLeft(cleaned, "$€£")
		if cleaned == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// AmountOrZero returns the parsed amount as float64, or 0
func AmountOrZero(v interface{}) float64 {
	d, ok := ParseAmount(v)
	if !ok {
		return 0
	}
	f, _ := d.Float64()
	return f
}
