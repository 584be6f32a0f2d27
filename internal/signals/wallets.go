package signals

import (
	"time"

	"github.com/shopspring/decimal"

	"polymercado/pkg/types"
)

// Severity bands for taker trades, in USD notional.
var (
	band50k  = decimal.NewFromInt(50_000)
	band250k = decimal.NewFromInt(250_000)
	band1m   = decimal.NewFromInt(1_000_000)
)

// IsNewWallet reports whether a trade falls inside the wallet's newness
// window. The clock is platform-relative: first_seen_at is the first time
// this process observed the wallet, not its on-chain age.
func IsNewWallet(w types.Wallet, tradeTS time.Time, windowDays int) bool {
	window := time.Duration(windowDays) * 24 * time.Hour
	return !tradeTS.After(w.FirstSeenAt.Add(window))
}

// IsDormant reports whether the wallet had been silent for at least the
// dormancy window before this trade.
func IsDormant(w types.Wallet, tradeTS time.Time, windowDays int) bool {
	if w.LastSeenAt.IsZero() {
		return false
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	return !tradeTS.Before(w.LastSeenAt.Add(window))
}

// TradeSeverity maps a trade to 1..5: notional band base, +1 for a new
// wallet, +1 for a thin market.
func TradeSeverity(notional decimal.Decimal, isNew, lowLiquidity bool) int {
	severity := 2
	switch {
	case notional.GreaterThanOrEqual(band1m):
		severity = 5
	case notional.GreaterThanOrEqual(band250k):
		severity = 4
	case notional.GreaterThanOrEqual(band50k):
		severity = 3
	}

	if isNew {
		severity++
	}
	if lowLiquidity {
		severity++
	}
	if severity > 5 {
		severity = 5
	}
	return severity
}

// ArbSeverity maps an arbitrage hit to 1..5 from its edge and executable
// size, discounted by one when either book had aged past five seconds.
func ArbSeverity(edge, qMax decimal.Decimal, maxBookAge time.Duration) int {
	severity := 2
	switch {
	case edge.GreaterThanOrEqual(decimal.NewFromFloat(0.015)) && qMax.GreaterThanOrEqual(decimal.NewFromInt(500)):
		severity = 4
	case edge.GreaterThanOrEqual(decimal.NewFromFloat(0.01)) && qMax.GreaterThanOrEqual(decimal.NewFromInt(100)):
		severity = 3
	}

	if maxBookAge > 5*time.Second {
		severity--
	}
	if severity < 1 {
		severity = 1
	}
	return severity
}
