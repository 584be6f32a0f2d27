package signals

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymercado/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func asks(pairs ...string) []types.Level {
	if len(pairs)%2 != 0 {
		panic("asks wants price/size pairs")
	}
	out := make([]types.Level, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, types.Level{Price: d(pairs[i]), Size: d(pairs[i+1])})
	}
	return out
}

func defaultParams() ArbParams {
	return ArbParams{
		MinExecutableShares: d("50"),
		MaxSharesToEvaluate: d("5000"),
		EdgeMin:             d("0.01"),
		TakerFeeBps:         decimal.Zero,
	}
}

func TestAvgAskPartialFill(t *testing.T) {
	t.Parallel()

	levels := asks("0.50", "10", "0.60", "10")

	avg, ok := AvgAsk(levels, d("15"))
	if !ok {
		t.Fatal("avg_ask undefined for fillable quantity")
	}
	// 10@0.50 + 5@0.60 = 8.00 for 15 shares
	if !avg.Equal(d("8").Div(d("15"))) {
		t.Errorf("avg = %s, want 8/15", avg)
	}

	if _, ok := AvgAsk(levels, d("25")); ok {
		t.Error("avg_ask defined beyond total depth")
	}
}

func TestAvgAskMonotoneAndBounded(t *testing.T) {
	t.Parallel()

	levels := asks("0.40", "100", "0.45", "250", "0.55", "500")
	best := levels[0].Price

	prev := decimal.Zero
	for q := decimal.NewFromInt(10); q.LessThanOrEqual(d("850")); q = q.Add(decimal.NewFromInt(10)) {
		avg, ok := AvgAsk(levels, q)
		if !ok {
			t.Fatalf("avg_ask undefined at q=%s within depth", q)
		}
		if avg.LessThan(best) {
			t.Fatalf("avg_ask %s below best ask %s at q=%s", avg, best, q)
		}
		if avg.LessThan(prev) {
			t.Fatalf("avg_ask decreased: %s -> %s at q=%s", prev, avg, q)
		}
		prev = avg
	}
}

func TestComputeArbDepthWalk(t *testing.T) {
	t.Parallel()

	// Edge 0.02 at the touch, exactly 0.01 once the second YES level is
	// consumed at q=200, negative beyond that.
	asksYes := asks("0.48", "100", "0.50", "500")
	asksNo := asks("0.50", "200", "0.52", "400")

	result := ComputeArb(asksYes, asksNo, defaultParams())
	if !result.Found {
		t.Fatal("no arb found")
	}
	if !result.QMax.Equal(d("200")) {
		t.Errorf("q_max = %s, want 200", result.QMax)
	}
	if !result.EdgeAtQMax.Equal(d("0.01")) {
		t.Errorf("edge_at_q_max = %s, want 0.01", result.EdgeAtQMax)
	}
	if !result.AvgYesAtQMax.Equal(d("0.49")) {
		t.Errorf("avg_ask_yes = %s, want 0.49", result.AvgYesAtQMax)
	}
	if !result.AvgNoAtQMax.Equal(d("0.50")) {
		t.Errorf("avg_ask_no = %s, want 0.50", result.AvgNoAtQMax)
	}
	if result.EdgeAtMinQ == nil || !result.EdgeAtMinQ.Equal(d("0.02")) {
		t.Errorf("edge_at_min_q = %v, want 0.02", result.EdgeAtMinQ)
	}
}

func TestComputeArbInsufficientDepth(t *testing.T) {
	t.Parallel()

	// Edge exists at the touch but neither side can fill the minimum
	// executable size.
	asksYes := asks("0.48", "30")
	asksNo := asks("0.49", "30")

	result := ComputeArb(asksYes, asksNo, defaultParams())
	if result.Found {
		t.Errorf("arb found with q_max=%s despite depth below min executable", result.QMax)
	}
	if result.EdgeAtMinQ != nil {
		t.Errorf("edge_at_min_q = %s, want undefined", result.EdgeAtMinQ)
	}
}

func TestComputeArbSingleLevels(t *testing.T) {
	t.Parallel()

	asksYes := asks("0.49", "100")
	asksNo := asks("0.49", "100")

	result := ComputeArb(asksYes, asksNo, defaultParams())
	if !result.Found {
		t.Fatal("no arb found")
	}
	if !result.QMax.Equal(d("100")) {
		t.Errorf("q_max = %s, want 100", result.QMax)
	}
	if !result.EdgeAtQMax.Equal(d("0.02")) {
		t.Errorf("edge_at_q_max = %s, want 0.02", result.EdgeAtQMax)
	}
}

func TestComputeArbFeeErasesEdge(t *testing.T) {
	t.Parallel()

	params := defaultParams()
	params.TakerFeeBps = decimal.NewFromInt(200) // 2% on the combined cost

	asksYes := asks("0.49", "100")
	asksNo := asks("0.49", "100")

	// Base 0.98, fee 0.0196, total 0.9996: edge 0.0004 < 0.01.
	result := ComputeArb(asksYes, asksNo, params)
	if result.Found {
		t.Errorf("arb found at edge %s despite fee", result.EdgeAtQMax)
	}
}

func TestComputeArbQMaxBoundedByDepth(t *testing.T) {
	t.Parallel()

	asksYes := asks("0.40", "1000")
	asksNo := asks("0.40", "300")

	result := ComputeArb(asksYes, asksNo, defaultParams())
	if !result.Found {
		t.Fatal("no arb found")
	}
	if !result.QMax.Equal(d("300")) {
		t.Errorf("q_max = %s, want thin-side depth 300", result.QMax)
	}
}

func TestComputeArbRespectsMaxShares(t *testing.T) {
	t.Parallel()

	params := defaultParams()
	params.MaxSharesToEvaluate = d("150")

	asksYes := asks("0.40", "1000")
	asksNo := asks("0.40", "1000")

	result := ComputeArb(asksYes, asksNo, params)
	if !result.Found {
		t.Fatal("no arb found")
	}
	if !result.QMax.Equal(d("150")) {
		t.Errorf("q_max = %s, want cap 150", result.QMax)
	}
}

func TestFillLevelsClipsResidual(t *testing.T) {
	t.Parallel()

	levels := asks("0.48", "100", "0.50", "500")
	used := FillLevels(levels, d("200"))

	if len(used) != 2 {
		t.Fatalf("used %d levels, want 2", len(used))
	}
	if !used[0].Size.Equal(d("100")) || !used[1].Size.Equal(d("100")) {
		t.Errorf("fills = [%s %s], want [100 100]", used[0].Size, used[1].Size)
	}
}
