package signals

import (
	"testing"
	"time"

	"polymercado/pkg/types"
)

func TestTradeSeverityBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		notional     string
		isNew        bool
		lowLiquidity bool
		want         int
	}{
		{"base band", "12000", false, false, 2},
		{"fifty k", "50000", false, false, 3},
		{"quarter million", "250000", false, false, 4},
		{"one million", "1000000", false, false, 5},
		{"new wallet bump", "12000", true, false, 3},
		{"thin market bump", "75000", false, true, 4},
		{"both bumps", "12000", true, true, 4},
		{"clamped at five", "1000000", true, true, 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := TradeSeverity(d(tt.notional), tt.isNew, tt.lowLiquidity)
			if got != tt.want {
				t.Errorf("TradeSeverity(%s, new=%v, thin=%v) = %d, want %d",
					tt.notional, tt.isNew, tt.lowLiquidity, got, tt.want)
			}
		})
	}
}

func TestArbSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		edge    string
		qMax    string
		bookAge time.Duration
		want    int
	}{
		{"wide and deep", "0.02", "600", time.Second, 4},
		{"threshold tier", "0.01", "150", time.Second, 3},
		{"narrow", "0.008", "1000", time.Second, 2},
		{"shallow", "0.02", "80", time.Second, 2},
		{"stale discount", "0.02", "600", 7 * time.Second, 3},
		{"stale floor", "0.005", "60", 8 * time.Second, 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ArbSeverity(d(tt.edge), d(tt.qMax), tt.bookAge)
			if got != tt.want {
				t.Errorf("ArbSeverity(%s, %s, %v) = %d, want %d", tt.edge, tt.qMax, tt.bookAge, got, tt.want)
			}
		})
	}
}

func TestIsNewWallet(t *testing.T) {
	t.Parallel()

	firstSeen := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	w := types.Wallet{Address: "0xa", FirstSeenAt: firstSeen, LastSeenAt: firstSeen}

	if !IsNewWallet(w, firstSeen.Add(13*24*time.Hour), 14) {
		t.Error("trade inside the window not classified as new")
	}
	if !IsNewWallet(w, firstSeen.Add(14*24*time.Hour), 14) {
		t.Error("trade exactly at the window boundary not classified as new")
	}
	if IsNewWallet(w, firstSeen.Add(15*24*time.Hour), 14) {
		t.Error("trade past the window classified as new")
	}
}

func TestIsDormant(t *testing.T) {
	t.Parallel()

	lastSeen := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	w := types.Wallet{Address: "0xa", FirstSeenAt: lastSeen.AddDate(-1, 0, 0), LastSeenAt: lastSeen}

	if !IsDormant(w, lastSeen.Add(45*24*time.Hour), 30) {
		t.Error("45-day gap with a 30-day window not classified as dormant")
	}
	if IsDormant(w, lastSeen.Add(29*24*time.Hour), 30) {
		t.Error("29-day gap classified as dormant")
	}
	if IsDormant(types.Wallet{Address: "0xb"}, lastSeen, 30) {
		t.Error("never-seen wallet classified as dormant")
	}
}
