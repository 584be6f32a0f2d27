// Package config defines all runtime configuration for the platform.
//
// Settings are resolved in three layers: baked defaults, runtime overrides
// stored in the app_config table, and environment variables — in that order
// of increasing precedence. An optional YAML file (default:
// configs/config.yaml, override with PM_CONFIG) sits between the defaults
// and the DB layer for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the flat configuration surface. Field tags double as the
// app_config keys and the environment variable names.
type Settings struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	HTTPTimeoutSeconds float64 `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	HTTPMaxConcurrency int     `mapstructure:"HTTP_MAX_CONCURRENCY"`

	GammaBaseURL   string `mapstructure:"GAMMA_BASE_URL"`
	DataAPIBaseURL string `mapstructure:"DATA_API_BASE_URL"`
	CLOBBaseURL    string `mapstructure:"CLOB_BASE_URL"`

	SyncGammaEventsIntervalSeconds   int `mapstructure:"SYNC_GAMMA_EVENTS_INTERVAL_SECONDS"`
	SyncTradesIntervalSeconds        int `mapstructure:"SYNC_TRADES_INTERVAL_SECONDS"`
	SyncOIIntervalSeconds            int `mapstructure:"SYNC_OI_INTERVAL_SECONDS"`
	SyncUniverseIntervalSeconds      int `mapstructure:"SYNC_UNIVERSE_INTERVAL_SECONDS"`
	SyncPositionsIntervalSeconds     int `mapstructure:"SYNC_POSITIONS_INTERVAL_SECONDS"`
	SyncTagsIntervalSeconds          int `mapstructure:"SYNC_TAGS_INTERVAL_SECONDS"`
	OrderbookSnapshotIntervalSeconds int `mapstructure:"ORDERBOOK_SNAPSHOT_INTERVAL_SECONDS"`
	SignalEngineIntervalSeconds      int `mapstructure:"SIGNAL_ENGINE_INTERVAL_SECONDS"`
	AlertDispatchIntervalSeconds     int `mapstructure:"ALERT_DISPATCH_INTERVAL_SECONDS"`
	RetentionIntervalSeconds         int `mapstructure:"RETENTION_INTERVAL_SECONDS"`

	GammaEventsPageLimit int `mapstructure:"GAMMA_EVENTS_PAGE_LIMIT"`
	GammaEventsMaxPages  int `mapstructure:"GAMMA_EVENTS_MAX_PAGES"`
	TagsPageLimit        int `mapstructure:"TAGS_PAGE_LIMIT"`
	TagsMaxPages         int `mapstructure:"TAGS_MAX_PAGES"`

	MaxTrackedMarkets   int      `mapstructure:"MAX_TRACKED_MARKETS"`
	MinGammaVolume      float64  `mapstructure:"MIN_GAMMA_VOLUME"`
	MinGammaLiquidity   float64  `mapstructure:"MIN_GAMMA_LIQUIDITY"`
	MinOpenInterest     float64  `mapstructure:"MIN_OPEN_INTEREST"`
	UniverseIncludeIDs  []string `mapstructure:"UNIVERSE_INCLUDE_CONDITION_IDS"`

	TakerOnly                      bool    `mapstructure:"TAKER_ONLY"`
	LargeTradeUSDThreshold         float64 `mapstructure:"LARGE_TRADE_USD_THRESHOLD"`
	NewWalletWindowDays            int     `mapstructure:"NEW_WALLET_WINDOW_DAYS"`
	DormantWindowDays              int     `mapstructure:"DORMANT_WINDOW_DAYS"`
	TrackWalletDaysAfterLargeTrade int     `mapstructure:"TRACK_WALLET_DAYS_AFTER_LARGE_TRADE"`

	TradeSafetyWindowSeconds   int `mapstructure:"TRADE_SAFETY_WINDOW_SECONDS"`
	TradesPageLimit            int `mapstructure:"TRADES_PAGE_LIMIT"`
	TradesMaxPages             int `mapstructure:"TRADES_MAX_PAGES"`
	TradesInitialLookbackHours int `mapstructure:"TRADES_INITIAL_LOOKBACK_HOURS"`

	WalletPositionsEnabled bool    `mapstructure:"WALLET_POSITIONS_ENABLED"`
	PositionsPageLimit     int     `mapstructure:"POSITIONS_PAGE_LIMIT"`
	PositionsSizeThreshold float64 `mapstructure:"POSITIONS_SIZE_THRESHOLD"`

	ArbEdgeMin               float64 `mapstructure:"ARB_EDGE_MIN"`
	ArbMinExecutableShares   float64 `mapstructure:"ARB_MIN_EXECUTABLE_SHARES"`
	ArbMaxSharesToEvaluate   float64 `mapstructure:"ARB_MAX_SHARES_TO_EVALUATE"`
	ArbMaxBookAgeSeconds     int     `mapstructure:"ARB_MAX_BOOK_AGE_SECONDS"`
	ArbMarketCooldownSeconds int     `mapstructure:"ARB_MARKET_COOLDOWN_SECONDS"`
	TakerFeeBps              int     `mapstructure:"TAKER_FEE_BPS"`

	AlertsEnabled           bool   `mapstructure:"ALERTS_ENABLED"`
	AlertChannels           string `mapstructure:"ALERT_CHANNELS"` // comma-separated: log,slack,telegram,email
	AlertDedupWindowSeconds int    `mapstructure:"ALERT_DEDUP_WINDOW_SECONDS"`
	AlertMinSeverity        int    `mapstructure:"ALERT_MIN_SEVERITY"`
	AlertRulesEnabled       bool   `mapstructure:"ALERT_RULES_ENABLED"`
	AlertMaxAttempts        int    `mapstructure:"ALERT_MAX_ATTEMPTS"`
	AlertSlackWebhookURL    string `mapstructure:"ALERT_SLACK_WEBHOOK_URL"`
	AlertTelegramBotToken   string `mapstructure:"ALERT_TELEGRAM_BOT_TOKEN"`
	AlertTelegramChatID     string `mapstructure:"ALERT_TELEGRAM_CHAT_ID"`
	AlertEmailSMTPAddr      string `mapstructure:"ALERT_EMAIL_SMTP_ADDR"`
	AlertEmailFrom          string `mapstructure:"ALERT_EMAIL_FROM"`
	AlertEmailTo            string `mapstructure:"ALERT_EMAIL_TO"`
	SignalBaseURL           string `mapstructure:"SIGNAL_BASE_URL"` // deep links in alert messages

	SchedulerEnabled   bool     `mapstructure:"SCHEDULER_ENABLED"`
	CLOBWSEnabled      bool     `mapstructure:"CLOB_WS_ENABLED"`
	CLOBWSURL          string   `mapstructure:"CLOB_WS_URL"`
	CLOBWSFallbackURLs []string `mapstructure:"CLOB_WS_FALLBACK_URLS"`
	CLOBWSMaxAssets    int      `mapstructure:"CLOB_WS_MAX_ASSETS"`
	CLOBWSPingSeconds  int      `mapstructure:"CLOB_WS_PING_SECONDS"`

	DataQualityEnabled              bool `mapstructure:"DATA_QUALITY_ENABLED"`
	DataQualityIntervalSeconds      int  `mapstructure:"DATA_QUALITY_INTERVAL_SECONDS"`
	DataQualityTradeSampleLimit     int  `mapstructure:"DATA_QUALITY_TRADE_SAMPLE_LIMIT"`
	DataQualityMaxNewWalletsPerHour int  `mapstructure:"DATA_QUALITY_MAX_NEW_WALLETS_PER_HOUR"`

	RetentionMinuteDays int `mapstructure:"RETENTION_MINUTE_DAYS"`
	RetentionHourlyDays int `mapstructure:"RETENTION_HOURLY_DAYS"`

	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 10.0)
	v.SetDefault("HTTP_MAX_CONCURRENCY", 10)

	v.SetDefault("GAMMA_BASE_URL", "https://gamma-api.polymarket.com")
	v.SetDefault("DATA_API_BASE_URL", "https://data-api.polymarket.com")
	v.SetDefault("CLOB_BASE_URL", "https://clob.polymarket.com")

	v.SetDefault("SYNC_GAMMA_EVENTS_INTERVAL_SECONDS", 600)
	v.SetDefault("SYNC_TRADES_INTERVAL_SECONDS", 45)
	v.SetDefault("SYNC_OI_INTERVAL_SECONDS", 300)
	v.SetDefault("SYNC_UNIVERSE_INTERVAL_SECONDS", 900)
	v.SetDefault("SYNC_POSITIONS_INTERVAL_SECONDS", 600)
	v.SetDefault("SYNC_TAGS_INTERVAL_SECONDS", 21600)
	v.SetDefault("ORDERBOOK_SNAPSHOT_INTERVAL_SECONDS", 300)
	v.SetDefault("SIGNAL_ENGINE_INTERVAL_SECONDS", 45)
	v.SetDefault("ALERT_DISPATCH_INTERVAL_SECONDS", 10)
	v.SetDefault("RETENTION_INTERVAL_SECONDS", 3600)

	v.SetDefault("GAMMA_EVENTS_PAGE_LIMIT", 100)
	v.SetDefault("GAMMA_EVENTS_MAX_PAGES", 50)
	v.SetDefault("TAGS_PAGE_LIMIT", 100)
	v.SetDefault("TAGS_MAX_PAGES", 20)

	v.SetDefault("MAX_TRACKED_MARKETS", 200)
	v.SetDefault("MIN_GAMMA_VOLUME", 50000.0)
	v.SetDefault("MIN_GAMMA_LIQUIDITY", 10000.0)
	v.SetDefault("MIN_OPEN_INTEREST", 5000.0)
	v.SetDefault("UNIVERSE_INCLUDE_CONDITION_IDS", []string{})

	v.SetDefault("TAKER_ONLY", true)
	v.SetDefault("LARGE_TRADE_USD_THRESHOLD", 10000.0)
	v.SetDefault("NEW_WALLET_WINDOW_DAYS", 14)
	v.SetDefault("DORMANT_WINDOW_DAYS", 30)
	v.SetDefault("TRACK_WALLET_DAYS_AFTER_LARGE_TRADE", 7)

	v.SetDefault("TRADE_SAFETY_WINDOW_SECONDS", 300)
	v.SetDefault("TRADES_PAGE_LIMIT", 500)
	v.SetDefault("TRADES_MAX_PAGES", 20)
	v.SetDefault("TRADES_INITIAL_LOOKBACK_HOURS", 24)

	v.SetDefault("WALLET_POSITIONS_ENABLED", true)
	v.SetDefault("POSITIONS_PAGE_LIMIT", 500)
	v.SetDefault("POSITIONS_SIZE_THRESHOLD", 1.0)

	v.SetDefault("ARB_EDGE_MIN", 0.01)
	v.SetDefault("ARB_MIN_EXECUTABLE_SHARES", 50.0)
	v.SetDefault("ARB_MAX_SHARES_TO_EVALUATE", 5000.0)
	v.SetDefault("ARB_MAX_BOOK_AGE_SECONDS", 10)
	v.SetDefault("ARB_MARKET_COOLDOWN_SECONDS", 60)
	v.SetDefault("TAKER_FEE_BPS", 0)

	v.SetDefault("ALERTS_ENABLED", false)
	v.SetDefault("ALERT_CHANNELS", "")
	v.SetDefault("ALERT_DEDUP_WINDOW_SECONDS", 600)
	v.SetDefault("ALERT_MIN_SEVERITY", 2)
	v.SetDefault("ALERT_RULES_ENABLED", false)
	v.SetDefault("ALERT_MAX_ATTEMPTS", 3)
	v.SetDefault("SIGNAL_BASE_URL", "http://localhost:8000")

	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("CLOB_WS_ENABLED", false)
	v.SetDefault("CLOB_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("CLOB_WS_FALLBACK_URLS", []string{"wss://ws-subscriptions-clob.polymarket.com/ws/"})
	v.SetDefault("CLOB_WS_MAX_ASSETS", 400)
	v.SetDefault("CLOB_WS_PING_SECONDS", 10)

	v.SetDefault("DATA_QUALITY_ENABLED", false)
	v.SetDefault("DATA_QUALITY_INTERVAL_SECONDS", 3600)
	v.SetDefault("DATA_QUALITY_TRADE_SAMPLE_LIMIT", 500)
	v.SetDefault("DATA_QUALITY_MAX_NEW_WALLETS_PER_HOUR", 500)

	v.SetDefault("RETENTION_MINUTE_DAYS", 30)
	v.SetDefault("RETENTION_HOURLY_DAYS", 365)

	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load resolves settings from defaults, an optional YAML file, the given
// DB-backed overrides, and finally the environment. Overrides is the
// app_config table content (key → decoded JSON value); pass nil before the
// database is available.
func Load(path string, overrides map[string]any) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// DB overrides merge at config level, below environment variables.
	if len(overrides) > 0 {
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("merge db overrides: %w", err)
		}
	}

	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return u.Unwrap()
	}
	return err
}

// Validate enforces the fatal-config rules: the process refuses to start
// when these fail.
func (s *Settings) Validate() error {
	if s.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if s.ArbEdgeMin <= 0 || s.ArbEdgeMin > 0.05 {
		return fmt.Errorf("ARB_EDGE_MIN must be in (0, 0.05], got %v", s.ArbEdgeMin)
	}
	if s.ArbMinExecutableShares <= 0 {
		return fmt.Errorf("ARB_MIN_EXECUTABLE_SHARES must be > 0")
	}
	if s.ArbMaxSharesToEvaluate < s.ArbMinExecutableShares {
		return fmt.Errorf("ARB_MAX_SHARES_TO_EVALUATE must be >= ARB_MIN_EXECUTABLE_SHARES")
	}
	if s.AlertMinSeverity < 1 || s.AlertMinSeverity > 5 {
		return fmt.Errorf("ALERT_MIN_SEVERITY must be in [1, 5]")
	}
	if s.HTTPMaxConcurrency <= 0 {
		return fmt.Errorf("HTTP_MAX_CONCURRENCY must be > 0")
	}
	if s.LargeTradeUSDThreshold <= 0 {
		return fmt.Errorf("LARGE_TRADE_USD_THRESHOLD must be > 0")
	}
	if s.MaxTrackedMarkets <= 0 {
		return fmt.Errorf("MAX_TRACKED_MARKETS must be > 0")
	}
	return nil
}

// HTTPTimeout returns the per-request timeout as a duration.
func (s *Settings) HTTPTimeout() time.Duration {
	return time.Duration(s.HTTPTimeoutSeconds * float64(time.Second))
}

// ChannelList splits ALERT_CHANNELS into its non-empty entries.
func (s *Settings) ChannelList() []string {
	var out []string
	for _, c := range strings.Split(s.AlertChannels, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot returns the values of the given keys, embedded into every
// SignalEvent payload as config_snapshot so the emission parameters are
// auditable after thresholds change.
func (s *Settings) Snapshot(keys ...string) map[string]any {
	all := map[string]any{
		"LARGE_TRADE_USD_THRESHOLD":  s.LargeTradeUSDThreshold,
		"NEW_WALLET_WINDOW_DAYS":     s.NewWalletWindowDays,
		"DORMANT_WINDOW_DAYS":        s.DormantWindowDays,
		"MIN_GAMMA_LIQUIDITY":        s.MinGammaLiquidity,
		"ARB_EDGE_MIN":               s.ArbEdgeMin,
		"ARB_MIN_EXECUTABLE_SHARES":  s.ArbMinExecutableShares,
		"ARB_MAX_SHARES_TO_EVALUATE": s.ArbMaxSharesToEvaluate,
		"ARB_MAX_BOOK_AGE_SECONDS":   s.ArbMaxBookAgeSeconds,
		"ARB_MARKET_COOLDOWN_SECONDS": s.ArbMarketCooldownSeconds,
		"TAKER_FEE_BPS":              s.TakerFeeBps,
		"TAKER_ONLY":                 s.TakerOnly,
		"MAX_TRACKED_MARKETS":        s.MaxTrackedMarkets,
		"MIN_GAMMA_VOLUME":           s.MinGammaVolume,
		"MIN_OPEN_INTEREST":          s.MinOpenInterest,
	}
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if val, ok := all[key]; ok {
			out[key] = val
		}
	}
	return out
}
