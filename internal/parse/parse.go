// Package parse normalizes the duck-typed payloads the upstreams return.
//
// The Gamma and data APIs are inconsistent about field types: numeric fields
// arrive as strings or numbers, arrays arrive as real JSON arrays or as
// JSON-encoded strings, timestamps arrive as RFC3339 strings, epoch seconds
// or epoch milliseconds. Every helper here is total — bad input yields a
// zero value and ok=false, never a panic or a fatal error.
package parse

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Decimal converts a string or number into an exact decimal.
func Decimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return x, true
	case float64:
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// DecimalString parses a wire price/size string into an exact decimal.
func DecimalString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	return d, err == nil
}

// Timestamp normalizes the upstream time encodings to a UTC instant:
// RFC3339 (REST book endpoint), integer epoch seconds (trades), and
// millisecond epoch strings (WebSocket). Values above 1e12 are treated as
// milliseconds.
func Timestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x.UTC(), true
	case float64:
		return fromEpoch(int64(x)), true
	case int64:
		return fromEpoch(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return fromEpoch(n), true
		}
		return time.Time{}, false
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if isDigits(s) {
			var n int64
			if err := json.Unmarshal([]byte(s), &n); err != nil {
				return time.Time{}, false
			}
			return fromEpoch(n), true
		}
		t, err := time.Parse(time.RFC3339, strings.Replace(s, "Z", "+00:00", 1))
		if err != nil {
			t, err = time.Parse(time.RFC3339, s)
		}
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	default:
		return time.Time{}, false
	}
}

const msEpochThreshold = 1_000_000_000_000 // ~2001 in ms, ~33658 in seconds

func fromEpoch(n int64) time.Time {
	if n >= msEpochThreshold {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// StringArray accepts a JSON array, a JSON-encoded array string, or a bare
// scalar and returns the elements as strings. The Gamma API encodes
// outcomes and clobTokenIds as strings like "[\"Yes\",\"No\"]".
func StringArray(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			out = append(out, toString(item))
		}
		return out
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			out := make([]string, 0, len(arr))
			for _, item := range arr {
				if item == nil {
					continue
				}
				out = append(out, toString(item))
			}
			return out
		}
		// Last resort for malformed bracket lists: split on commas.
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			inner := strings.TrimSpace(s[1 : len(s)-1])
			if inner == "" {
				return nil
			}
			parts := strings.Split(inner, ",")
			out := make([]string, 0, len(parts))
			for _, part := range parts {
				part = strings.Trim(strings.TrimSpace(part), `"'`)
				if part != "" {
					out = append(out, part)
				}
			}
			return out
		}
		return []string{s}
	default:
		return []string{toString(x)}
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		n := json.Number(decimal.NewFromFloat(x).String())
		return n.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(x)
		return strings.Trim(string(b), `"`)
	}
}
