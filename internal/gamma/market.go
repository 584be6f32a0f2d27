package gamma

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"polymercado/internal/parse"
	"polymercado/pkg/types"
)

// Parsed is one normalized market plus the indexed metrics that ride along
// on the events feed.
type Parsed struct {
	Market    types.Market
	Volume    *decimal.Decimal
	Liquidity *decimal.Decimal
}

// ParseMarket normalizes one wire market. Market-level fields win; event
// fields fill the gaps. ok=false when the condition ID is missing, which
// makes the record unusable as everything keys on it.
func ParseMarket(m Market, ev Event, now time.Time) (Parsed, bool) {
	if m.ConditionID == "" {
		return Parsed{}, false
	}

	out := types.Market{
		ConditionID: m.ConditionID,
		MarketID:    m.ID,
		EventID:     ev.ID,
		Slug:        m.Slug,
		Question:    m.Question,
		Title:       firstNonEmpty(m.Question, ev.Title),
		Outcomes:    parse.StringArray(m.Outcomes),
		TokenIDs:    parse.StringArray(m.ClobTokenIDs),
		NegRisk:     boolOr(m.NegRisk, ev.NegRisk),
		Active:      boolOr(m.Active, ev.Active),
		Closed:      boolOr(m.Closed, ev.Closed),
		TagIDs:      tagIDs(ev.Tags),
		LastSeenAt:  now,
	}
	out.StartTime = timePtr(firstNonEmpty(m.StartDate, ev.StartDate))
	out.EndTime = timePtr(firstNonEmpty(m.EndDate, ev.EndDate))
	out.CreatedAt = timePtr(firstNonEmpty(m.CreatedAt, ev.CreatedAt))
	out.UpdatedAt = timePtr(firstNonEmpty(m.UpdatedAt, ev.UpdatedAt))

	parsed := Parsed{Market: out}
	// The *Num variants are the indexed values; the bare fields are a
	// legacy stringified fallback.
	if v, ok := firstDecimal(m.VolumeNum, m.Volume); ok {
		parsed.Volume = &v
	}
	if v, ok := firstDecimal(m.LiquidityNum, m.Liquidity); ok {
		parsed.Liquidity = &v
	}
	return parsed, true
}

// ParseTagID accepts the string-or-number tag IDs the API emits.
func ParseTagID(v any) (int64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return int64(x), true
	case int64:
		return x, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// SportTagIDs extracts the union of tag IDs referenced by the sports list.
func SportTagIDs(sports []Sport) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, sport := range sports {
		for _, part := range strings.Split(sport.Tags, ",") {
			if id, ok := ParseTagID(strings.TrimSpace(part)); ok {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
	}
	return out
}

func tagIDs(tags []Tag) []int64 {
	var out []int64
	for _, tag := range tags {
		if id, ok := ParseTagID(tag.ID); ok {
			out = append(out, id)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDecimal(vals ...any) (decimal.Decimal, bool) {
	for _, v := range vals {
		if d, ok := parse.Decimal(v); ok {
			return d, true
		}
	}
	return decimal.Decimal{}, false
}

func boolOr(primary, fallback *bool) bool {
	if primary != nil {
		return *primary
	}
	if fallback != nil {
		return *fallback
	}
	return false
}

func timePtr(s string) *time.Time {
	if t, ok := parse.Timestamp(s); ok {
		return &t
	}
	return nil
}
