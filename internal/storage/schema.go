package storage

import "context"

// tableDDL pairs a table name (used for logging) with its CREATE TABLE
// statement, ported from db_schema.py's TABLE_CRYPTO_* constants.
var tableDDL = []struct {
	name string
	ddl  string
}{
	{"holdings", `
CREATE TABLE IF NOT EXISTS holdings (
	symbol TEXT PRIMARY KEY,
	asset_name TEXT NOT NULL,
	buy_price DOUBLE PRECISION NOT NULL,
	buy_date TEXT NOT NULL,
	quantity DOUBLE PRECISION,
	notional_usd DOUBLE PRECISION,
	current_price DOUBLE PRECISION,
	last_updated TEXT,
	scenario TEXT,
	target_price DOUBLE PRECISION,
	stop_loss DOUBLE PRECISION,
	trigger_type TEXT,
	timeframe TEXT,
	theme TEXT
)`},
	{"trading_history", `
CREATE TABLE IF NOT EXISTS trading_history (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	asset_name TEXT NOT NULL,
	buy_price DOUBLE PRECISION NOT NULL,
	buy_date TEXT NOT NULL,
	quantity DOUBLE PRECISION,
	notional_usd DOUBLE PRECISION,
	sell_price DOUBLE PRECISION NOT NULL,
	sell_date TEXT NOT NULL,
	profit_rate DOUBLE PRECISION NOT NULL,
	holding_hours DOUBLE PRECISION,
	scenario TEXT,
	trigger_type TEXT,
	timeframe TEXT,
	theme TEXT
)`},
	{"watchlist_history", `
CREATE TABLE IF NOT EXISTS watchlist_history (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	analyzed_date TEXT NOT NULL,
	current_price DOUBLE PRECISION NOT NULL,
	buy_score INTEGER,
	min_score INTEGER,
	decision TEXT NOT NULL,
	skip_reason TEXT,
	target_price DOUBLE PRECISION,
	stop_loss DOUBLE PRECISION,
	risk_reward_ratio DOUBLE PRECISION,
	trigger_type TEXT,
	timeframe TEXT,
	theme TEXT,
	scenario TEXT
)`},
	{"performance_tracker", `
CREATE TABLE IF NOT EXISTS performance_tracker (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	analysis_date TEXT NOT NULL,
	analysis_price DOUBLE PRECISION NOT NULL,
	predicted_direction TEXT,
	target_price DOUBLE PRECISION,
	stop_loss DOUBLE PRECISION,
	buy_score INTEGER,
	decision TEXT,
	skip_reason TEXT,
	risk_reward_ratio DOUBLE PRECISION,
	price_24h DOUBLE PRECISION,
	price_72h DOUBLE PRECISION,
	price_168h DOUBLE PRECISION,
	return_24h DOUBLE PRECISION,
	return_72h DOUBLE PRECISION,
	return_168h DOUBLE PRECISION,
	hit_target BOOLEAN DEFAULT false,
	hit_stop_loss BOOLEAN DEFAULT false,
	tracking_status TEXT DEFAULT 'pending',
	was_traded BOOLEAN DEFAULT false,
	trigger_type TEXT,
	timeframe TEXT,
	theme TEXT,
	created_at TEXT NOT NULL,
	last_updated TEXT
)`},
	{"holding_decisions", `
CREATE TABLE IF NOT EXISTS holding_decisions (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL REFERENCES holdings(symbol) ON DELETE CASCADE,
	decision_date TEXT NOT NULL,
	current_price DOUBLE PRECISION NOT NULL,
	should_sell BOOLEAN NOT NULL,
	sell_reason TEXT,
	confidence INTEGER,
	technical_trend TEXT,
	volume_analysis TEXT,
	market_condition_impact TEXT,
	time_factor TEXT,
	portfolio_adjustment_needed BOOLEAN,
	adjustment_reason TEXT,
	new_target_price DOUBLE PRECISION,
	new_stop_loss DOUBLE PRECISION,
	adjustment_urgency TEXT,
	full_json_data TEXT,
	created_at TEXT NOT NULL
)`},
	{"order_executions", `
CREATE TABLE IF NOT EXISTS order_executions (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	order_type TEXT NOT NULL,
	status TEXT NOT NULL,
	requested_price DOUBLE PRECISION,
	executed_price DOUBLE PRECISION,
	quantity DOUBLE PRECISION,
	quote_amount DOUBLE PRECISION,
	fee_amount DOUBLE PRECISION,
	mode TEXT DEFAULT 'paper',
	message TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
)`},
}

// indexDDL mirrors db_schema.py's CRYPTO_INDEXES list.
var indexDDL = []string{
	"CREATE INDEX IF NOT EXISTS idx_holdings_theme ON holdings(theme)",
	"CREATE INDEX IF NOT EXISTS idx_holdings_trigger ON holdings(trigger_type)",
	"CREATE INDEX IF NOT EXISTS idx_history_symbol ON trading_history(symbol)",
	"CREATE INDEX IF NOT EXISTS idx_history_sell_date ON trading_history(sell_date)",
	"CREATE INDEX IF NOT EXISTS idx_watchlist_symbol ON watchlist_history(symbol)",
	"CREATE INDEX IF NOT EXISTS idx_watchlist_date ON watchlist_history(analyzed_date)",
	"CREATE INDEX IF NOT EXISTS idx_perf_symbol ON performance_tracker(symbol)",
	"CREATE INDEX IF NOT EXISTS idx_perf_status ON performance_tracker(tracking_status)",
	"CREATE INDEX IF NOT EXISTS idx_holding_dec_symbol ON holding_decisions(symbol)",
	"CREATE INDEX IF NOT EXISTS idx_exec_symbol ON order_executions(symbol)",
	"CREATE INDEX IF NOT EXISTS idx_exec_created ON order_executions(created_at)",
}

// themeColumnMigrations adds the theme column to tables created before it
// existed. Postgres's IF NOT EXISTS on ADD COLUMN makes this idempotent
// without the try/except dance the sqlite original needed.
var themeColumnMigrations = []string{
	"ALTER TABLE watchlist_history ADD COLUMN IF NOT EXISTS theme TEXT",
	"ALTER TABLE performance_tracker ADD COLUMN IF NOT EXISTS theme TEXT",
}

// Migrate creates every table and index if missing, then applies the
// theme-column backfill. Safe to call on every process start. DDL runs
// over a dedicated database/sql connection, leaving the pgx pool free for
// query traffic during migration.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	db, err := ps.migrationConn(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, t := range tableDDL {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return err
		}
		ps.log.Debug().Str("table", t.name).Msg("migrated table")
	}
	for _, idx := range indexDDL {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	for _, mig := range themeColumnMigrations {
		if _, err := db.ExecContext(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}
