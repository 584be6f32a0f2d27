package store

// migrations are forward-only; each entry runs once in its own
// transaction. Never edit an applied entry, append a new one.
var migrations = []string{
	// 1: markets, keyed by CTF condition ID.
	`CREATE TABLE markets (
		condition_id TEXT PRIMARY KEY,
		market_id    TEXT,
		event_id     TEXT,
		slug         TEXT,
		question     TEXT,
		title        TEXT,
		tag_ids      BIGINT[],
		neg_risk     BOOLEAN NOT NULL DEFAULT FALSE,
		active       BOOLEAN NOT NULL DEFAULT FALSE,
		closed       BOOLEAN NOT NULL DEFAULT FALSE,
		outcomes     TEXT[],
		token_ids    TEXT[],
		start_time   TIMESTAMPTZ,
		end_time     TIMESTAMPTZ,
		created_at   TIMESTAMPTZ,
		updated_at   TIMESTAMPTZ,
		last_seen_at TIMESTAMPTZ NOT NULL
	)`,

	// 2: append-only market metrics time series.
	`CREATE TABLE market_metrics (
		id              BIGSERIAL PRIMARY KEY,
		condition_id    TEXT NOT NULL,
		ts              TIMESTAMPTZ NOT NULL,
		gamma_volume    NUMERIC,
		gamma_liquidity NUMERIC,
		open_interest   NUMERIC,
		best_bid_yes    NUMERIC,
		best_ask_yes    NUMERIC,
		best_bid_no     NUMERIC,
		best_ask_no     NUMERIC,
		spread_yes      NUMERIC,
		spread_no       NUMERIC
	);
	CREATE INDEX market_metrics_market_ts ON market_metrics (condition_id, ts DESC)`,

	// 3: append-only taker trades, PK from transaction hash or composite.
	`CREATE TABLE trades (
		trade_pk         TEXT PRIMARY KEY,
		transaction_hash TEXT,
		wallet           TEXT,
		condition_id     TEXT NOT NULL,
		token_id         TEXT NOT NULL,
		side             TEXT NOT NULL,
		price            NUMERIC NOT NULL,
		size             NUMERIC NOT NULL,
		notional_usd     NUMERIC NOT NULL,
		trade_ts         TIMESTAMPTZ NOT NULL,
		raw              JSONB
	);
	CREATE INDEX trades_trade_ts ON trades (trade_ts);
	CREATE INDEX trades_wallet ON trades (wallet)`,

	// 4: per-wallet state maintained by the trade signal engine.
	`CREATE TABLE wallets (
		wallet                TEXT PRIMARY KEY,
		first_seen_at         TIMESTAMPTZ NOT NULL,
		last_seen_at          TIMESTAMPTZ NOT NULL,
		first_trade_ts        TIMESTAMPTZ,
		tracked_until         TIMESTAMPTZ,
		lifetime_notional_usd NUMERIC NOT NULL DEFAULT 0,
		last_7d_notional_usd  NUMERIC
	)`,

	// 5: reconciled per-market exposure of tracked wallets.
	`CREATE TABLE wallet_market_exposure (
		wallet          TEXT NOT NULL,
		condition_id    TEXT NOT NULL,
		net_shares      NUMERIC NOT NULL,
		avg_entry_price NUMERIC,
		last_updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (wallet, condition_id)
	)`,

	// 6: append-only signal events, unique by dedupe key.
	`CREATE TABLE signal_events (
		id           BIGSERIAL PRIMARY KEY,
		signal_type  TEXT NOT NULL,
		dedupe_key   TEXT NOT NULL UNIQUE,
		created_at   TIMESTAMPTZ NOT NULL,
		severity     INTEGER NOT NULL,
		wallet       TEXT,
		condition_id TEXT,
		payload      JSONB NOT NULL
	);
	CREATE INDEX signal_events_type_market_created
		ON signal_events (signal_type, condition_id, created_at DESC);
	CREATE INDEX signal_events_created ON signal_events (created_at)`,

	// 7: alert delivery log.
	`CREATE TABLE alert_log (
		id               BIGSERIAL PRIMARY KEY,
		signal_event_id  BIGINT NOT NULL REFERENCES signal_events (id),
		channel          TEXT NOT NULL,
		notification_key TEXT NOT NULL,
		sent_at          TIMESTAMPTZ NOT NULL,
		status           TEXT NOT NULL,
		severity         INTEGER NOT NULL,
		error            TEXT
	);
	CREATE INDEX alert_log_channel_key_sent
		ON alert_log (channel, notification_key, sent_at DESC);
	CREATE INDEX alert_log_signal ON alert_log (signal_event_id)`,

	// 8: Gamma tag dictionary.
	`CREATE TABLE tags (
		id       BIGINT PRIMARY KEY,
		label    TEXT,
		slug     TEXT,
		is_sport BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	// 9: latest flushed book per token, for audit and the UI.
	`CREATE TABLE orderbook_latest (
		token_id       TEXT PRIMARY KEY,
		condition_id   TEXT NOT NULL,
		bids           JSONB NOT NULL,
		asks           JSONB NOT NULL,
		tick_size      NUMERIC,
		min_order_size NUMERIC,
		neg_risk       BOOLEAN NOT NULL DEFAULT FALSE,
		as_of          TIMESTAMPTZ NOT NULL,
		hash           TEXT
	)`,

	// 10: runtime config overrides, merged below environment variables.
	`CREATE TABLE app_config (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	// 11: scheduler run bookkeeping.
	`CREATE TABLE job_runs (
		job_name         TEXT PRIMARY KEY,
		last_started_at  TIMESTAMPTZ,
		last_success_at  TIMESTAMPTZ,
		last_error_at    TIMESTAMPTZ,
		last_error       TEXT,
		last_duration_ms DOUBLE PRECISION
	)`,

	// 12: findings of the periodic data quality job.
	`CREATE TABLE data_quality_issues (
		id         BIGSERIAL PRIMARY KEY,
		check_name TEXT NOT NULL,
		severity   INTEGER NOT NULL,
		message    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX data_quality_issues_created ON data_quality_issues (created_at)`,
}
