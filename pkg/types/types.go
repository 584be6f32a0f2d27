// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the platform — markets, trades,
// wallets, orderbook snapshots, signal events, and the WebSocket payloads
// they are parsed from. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a taker trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool { return s == BUY || s == SELL }

// SignalType enumerates the signal classes the engines emit.
type SignalType string

const (
	SignalLargeTakerTrade    SignalType = "LARGE_TAKER_TRADE"
	SignalLargeNewWallet     SignalType = "LARGE_NEW_WALLET_TRADE"
	SignalDormantReactivated SignalType = "DORMANT_WALLET_REACTIVATION"
	SignalArbBuyBoth         SignalType = "ARB_BUY_BOTH"
	SignalNewMarket          SignalType = "NEW_MARKET"
)

// AlertStatus is the outcome of one alert delivery attempt.
type AlertStatus string

const (
	AlertSent       AlertStatus = "SENT"
	AlertFailed     AlertStatus = "FAILED"
	AlertSuppressed AlertStatus = "SUPPRESSED"
)

// Market is the canonical view of a prediction market, keyed by its CTF
// condition ID. Created when first observed by the events sync; mutated by
// later syncs; never deleted.
type Market struct {
	ConditionID string
	MarketID    string // platform market ID (Gamma)
	EventID     string // parent event ID
	Slug        string
	Question    string
	Title       string
	TagIDs      []int64
	NegRisk     bool
	Active      bool
	Closed      bool
	Outcomes    []string // ordered outcome labels
	TokenIDs    []string // ordered token IDs, [yes, no] for binary markets
	StartTime   *time.Time
	EndTime     *time.Time
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
	LastSeenAt  time.Time
}

// BinaryTokens resolves the YES and NO token IDs for a binary market.
// When outcome labels are present they decide the mapping; otherwise the
// first token is treated as YES. Returns ok=false unless exactly two
// token IDs are known.
func (m Market) BinaryTokens() (yes, no string, ok bool) {
	if len(m.TokenIDs) != 2 {
		return "", "", false
	}
	if len(m.Outcomes) == 2 {
		a := strings.ToLower(strings.TrimSpace(m.Outcomes[0]))
		b := strings.ToLower(strings.TrimSpace(m.Outcomes[1]))
		if a == "no" && b == "yes" {
			return m.TokenIDs[1], m.TokenIDs[0], true
		}
	}
	return m.TokenIDs[0], m.TokenIDs[1], true
}

// MetricSnapshot is one append-only row of the market metrics time series.
// Any subset of the optional fields may be populated depending on which job
// produced the row (events sync, open interest sync, or book flush).
type MetricSnapshot struct {
	ConditionID    string
	TS             time.Time
	GammaVolume    *decimal.Decimal
	GammaLiquidity *decimal.Decimal
	OpenInterest   *decimal.Decimal
	BestBidYes     *decimal.Decimal
	BestAskYes     *decimal.Decimal
	BestBidNo      *decimal.Decimal
	BestAskNo      *decimal.Decimal
	SpreadYes      *decimal.Decimal
	SpreadNo       *decimal.Decimal
}

// Trade is one taker print from the data API. Append-only; never mutated.
// PK is the transaction hash when the upstream provides one, else a
// composite hash of the identifying fields.
type Trade struct {
	PK              string
	TransactionHash string
	Wallet          string // canonical wallet: proxy preferred, else user/owner
	ConditionID     string
	TokenID         string
	Side            Side
	Price           decimal.Decimal
	Size            decimal.Decimal
	NotionalUSD     decimal.Decimal
	TradeTS         time.Time // upstream time
	Raw             json.RawMessage
}

// Wallet is per-canonical-address state maintained by the trade signal
// engine. FirstSeenAt is platform-relative: the first time this process
// observed the wallet, not the wallet's on-chain age.
type Wallet struct {
	Address             string
	FirstSeenAt         time.Time
	LastSeenAt          time.Time
	FirstTradeTS        *time.Time
	TrackedUntil        *time.Time // positions are polled while now <= TrackedUntil
	LifetimeNotionalUSD decimal.Decimal
	Last7dNotionalUSD   *decimal.Decimal
}

// WalletExposure is a wallet's aggregated net position in one market,
// reconciled from the positions endpoint.
type WalletExposure struct {
	Wallet        string
	ConditionID   string
	NetShares     decimal.Decimal // NO positions counted negative
	AvgEntryPrice *decimal.Decimal
	LastUpdatedAt time.Time
}

// SignalEvent is one append-only emitted signal. DedupeKey is unique across
// the table; inserting a colliding key is a silent no-op.
type SignalEvent struct {
	ID          int64
	Type        SignalType
	DedupeKey   string
	CreatedAt   time.Time
	Severity    int
	Wallet      string
	ConditionID string
	Payload     map[string]any
}

// AlertLogEntry records one delivery attempt for a signal on a channel.
type AlertLogEntry struct {
	ID              int64
	SignalEventID   int64
	Channel         string
	NotificationKey string
	SentAt          time.Time
	Status          AlertStatus
	Severity        int
	Error           string
}

// Tag is one entry of the Gamma tag dictionary. IsSport is derived from
// the sports endpoint during tag sync.
type Tag struct {
	ID      int64
	Label   string
	Slug    string
	IsSport bool
}

// Level is a normalized orderbook level: positive price and size, exact
// decimals.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderbookSnapshot is the latest aggregated book for one token.
// Bids are sorted best-first (price descending), asks best-first (price
// ascending); within each side prices are strictly monotonic and all
// sizes positive.
type OrderbookSnapshot struct {
	TokenID      string
	ConditionID  string
	Bids         []Level
	Asks         []Level
	TickSize     decimal.Decimal
	MinOrderSize decimal.Decimal
	NegRisk      bool
	AsOf         time.Time // upstream time
	Hash         string
}

// BestBid returns the top bid level, ok=false on an empty side.
func (s OrderbookSnapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, ok=false on an empty side.
func (s OrderbookSnapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// JobStatus is the persisted run bookkeeping for one scheduled job.
type JobStatus struct {
	JobName        string
	LastStartedAt  *time.Time
	LastSuccessAt  *time.Time
	LastErrorAt    *time.Time
	LastError      string
	LastDurationMS float64
}

// DataQualityIssue is one finding of the periodic data quality job.
type DataQualityIssue struct {
	ID        int64
	CheckName string
	Severity  int
	Message   string
	CreatedAt time.Time
}
