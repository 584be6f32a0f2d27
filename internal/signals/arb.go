// Package signals holds the two signal evaluators: the taker-trade
// classifier and the depth-aware binary arbitrage detector.
package signals

import (
	"sort"

	"github.com/shopspring/decimal"

	"polymercado/pkg/types"
)

// ArbParams are the knobs of one arbitrage evaluation.
type ArbParams struct {
	MinExecutableShares decimal.Decimal
	MaxSharesToEvaluate decimal.Decimal
	EdgeMin             decimal.Decimal
	TakerFeeBps         decimal.Decimal
}

// ArbResult is the outcome of evaluating one binary market. QMax is zero
// and Found false when no size clears the edge threshold.
type ArbResult struct {
	Found        bool
	QMax         decimal.Decimal
	EdgeAtMinQ   *decimal.Decimal // nil when min_q is not fillable on both sides
	EdgeAtQMax   decimal.Decimal
	AvgYesAtQMax decimal.Decimal
	AvgNoAtQMax  decimal.Decimal
}

// AvgAsk returns the volume-weighted average price paid to fill q shares
// greedily from best ask up. ok=false when the side's depth cannot fill q.
func AvgAsk(levels []types.Level, q decimal.Decimal) (decimal.Decimal, bool) {
	if q.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	remaining := q
	cost := decimal.Zero
	for _, lvl := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		fill := decimal.Min(remaining, lvl.Size)
		cost = cost.Add(fill.Mul(lvl.Price))
		remaining = remaining.Sub(fill)
	}
	if remaining.Sign() > 0 {
		return decimal.Decimal{}, false
	}
	return cost.Div(q), true
}

// FillLevels returns the levels consumed, best-first, to fill q shares.
// The last level's size is clipped to the residual fill.
func FillLevels(levels []types.Level, q decimal.Decimal) []types.Level {
	remaining := q
	var used []types.Level
	for _, lvl := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		fill := decimal.Min(remaining, lvl.Size)
		used = append(used, types.Level{Price: lvl.Price, Size: fill})
		remaining = remaining.Sub(fill)
	}
	return used
}

// candidateQuantities returns the cumulative-depth break points of one side,
// capped at maxShares. Average cost is piecewise linear between break
// points, so checking only these (plus the bounds) is exact.
func candidateQuantities(levels []types.Level, maxShares decimal.Decimal) []decimal.Decimal {
	var out []decimal.Decimal
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Size)
		if total.GreaterThan(maxShares) {
			total = maxShares
		}
		out = append(out, total)
		if total.GreaterThanOrEqual(maxShares) {
			break
		}
	}
	return out
}

// ComputeArb finds the largest fill size q in [MinExecutableShares,
// MaxSharesToEvaluate] at which buying both outcomes costs no more than
// 1 - EdgeMin including fees. Both ask lists must be normalized: positive
// prices and sizes, ascending by price.
func ComputeArb(asksYes, asksNo []types.Level, params ArbParams) ArbResult {
	one := decimal.NewFromInt(1)
	tenThousand := decimal.NewFromInt(10000)

	totalCost := func(avgYes, avgNo decimal.Decimal) decimal.Decimal {
		base := avgYes.Add(avgNo)
		fee := base.Mul(params.TakerFeeBps).Div(tenThousand)
		return base.Add(fee)
	}

	seen := make(map[string]struct{})
	var candidates []decimal.Decimal
	add := func(q decimal.Decimal) {
		key := q.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		if q.GreaterThanOrEqual(params.MinExecutableShares) {
			candidates = append(candidates, q)
		}
	}
	for _, q := range candidateQuantities(asksYes, params.MaxSharesToEvaluate) {
		add(q)
	}
	for _, q := range candidateQuantities(asksNo, params.MaxSharesToEvaluate) {
		add(q)
	}
	add(params.MinExecutableShares)
	add(params.MaxSharesToEvaluate)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].LessThan(candidates[j]) })

	var result ArbResult

	if avgYes, ok := AvgAsk(asksYes, params.MinExecutableShares); ok {
		if avgNo, ok := AvgAsk(asksNo, params.MinExecutableShares); ok {
			edge := one.Sub(totalCost(avgYes, avgNo))
			result.EdgeAtMinQ = &edge
		}
	}

	for _, q := range candidates {
		avgYes, ok := AvgAsk(asksYes, q)
		if !ok {
			continue
		}
		avgNo, ok := AvgAsk(asksNo, q)
		if !ok {
			continue
		}
		edge := one.Sub(totalCost(avgYes, avgNo))
		if edge.GreaterThanOrEqual(params.EdgeMin) {
			result.Found = true
			result.QMax = q
			result.EdgeAtQMax = edge
			result.AvgYesAtQMax = avgYes
			result.AvgNoAtQMax = avgNo
		}
	}
	return result
}
