package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/cryptoswing/internal/model"
)

// PostgresStore is the production Store implementation. Query execution
// runs over a pgx connection pool; schema migration runs over a plain
// database/sql connection registered by lib/pq, matching the teacher's
// split between its query-serving pool and its database/sql migration
// runner (scripts/run_migration.go).
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string
	log  zerolog.Logger
}

// NewPostgresStore opens a pool against dsn but does not migrate it — call
// Migrate explicitly once connected, matching the teacher's separation of
// connect-time and schema-time failures.
func NewPostgresStore(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, dsn: dsn, log: log.With().Str("component", "storage").Logger()}, nil
}

// migrationConn opens a short-lived database/sql connection for DDL,
// separate from the pgx pool used for regular query traffic.
func (ps *PostgresStore) migrationConn(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", ps.dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (ps *PostgresStore) Ping(ctx context.Context) error { return ps.pool.Ping(ctx) }

func (ps *PostgresStore) Close() { ps.pool.Close() }

func (ps *PostgresStore) ListHoldings(ctx context.Context) ([]model.Holding, error) {
	rows, err := ps.pool.Query(ctx, `
SELECT symbol, asset_name, buy_price, buy_date, quantity, notional_usd,
       current_price, last_updated, scenario, target_price, stop_loss,
       trigger_type, timeframe, theme
FROM holdings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetHolding(ctx context.Context, symbol string) (model.Holding, bool, error) {
	row := ps.pool.QueryRow(ctx, `
SELECT symbol, asset_name, buy_price, buy_date, quantity, notional_usd,
       current_price, last_updated, scenario, target_price, stop_loss,
       trigger_type, timeframe, theme
FROM holdings WHERE symbol = $1`, symbol)
	h, err := scanHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Holding{}, false, nil
	}
	if err != nil {
		return model.Holding{}, false, err
	}
	return h, true, nil
}

func (ps *PostgresStore) IsHeld(ctx context.Context, symbol string) (bool, error) {
	var exists bool
	err := ps.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM holdings WHERE symbol = $1)`, symbol).Scan(&exists)
	return exists, err
}

func (ps *PostgresStore) CountHoldings(ctx context.Context) (int, error) {
	var n int
	err := ps.pool.QueryRow(ctx, `SELECT COUNT(*) FROM holdings`).Scan(&n)
	return n, err
}

func (ps *PostgresStore) UpsertHolding(ctx context.Context, h model.Holding) error {
	scenario := marshalScenario(h)
	_, err := ps.pool.Exec(ctx, `
INSERT INTO holdings (symbol, asset_name, buy_price, buy_date, quantity, notional_usd,
                       current_price, last_updated, scenario, target_price, stop_loss,
                       trigger_type, timeframe, theme)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (symbol) DO UPDATE SET
	asset_name = EXCLUDED.asset_name,
	current_price = EXCLUDED.current_price,
	last_updated = EXCLUDED.last_updated,
	scenario = EXCLUDED.scenario,
	target_price = EXCLUDED.target_price,
	stop_loss = EXCLUDED.stop_loss,
	trigger_type = EXCLUDED.trigger_type,
	timeframe = EXCLUDED.timeframe,
	theme = EXCLUDED.theme`,
		h.Symbol, h.AssetName, h.BuyPrice, h.BuyDate.Format(model.WallClock), h.Quantity, h.NotionalUSD,
		h.CurrentPrice, h.LastUpdated.Format(model.WallClock), scenario, h.TargetPrice, h.StopLoss,
		h.TriggerType, h.Timeframe, h.Theme)
	return err
}

func (ps *PostgresStore) DeleteHolding(ctx context.Context, symbol string) error {
	_, err := ps.pool.Exec(ctx, `DELETE FROM holdings WHERE symbol = $1`, symbol)
	return err
}

func (ps *PostgresStore) InsertTradeHistory(ctx context.Context, row model.TradeHistoryRow) error {
	_, err := ps.pool.Exec(ctx, `
INSERT INTO trading_history (symbol, asset_name, buy_price, buy_date, quantity, notional_usd,
                              sell_price, sell_date, profit_rate, holding_hours, scenario,
                              trigger_type, timeframe, theme)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		row.Symbol, row.AssetName, row.BuyPrice, row.BuyDate.Format(model.WallClock), row.Quantity, row.NotionalUSD,
		row.SellPrice, row.SellDate.Format(model.WallClock), row.ProfitRate, row.HoldingHours, row.ScenarioJSON,
		row.TriggerType, row.Timeframe, row.Theme)
	return err
}

func (ps *PostgresStore) ListTradeHistory(ctx context.Context, since time.Time) ([]model.TradeHistoryRow, error) {
	rows, err := ps.pool.Query(ctx, `
SELECT id, symbol, asset_name, buy_price, buy_date, quantity, notional_usd,
       sell_price, sell_date, profit_rate, holding_hours, scenario, trigger_type, timeframe, theme
FROM trading_history WHERE sell_date >= $1 ORDER BY sell_date`, since.Format(model.WallClock))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeHistoryRow
	for rows.Next() {
		var r model.TradeHistoryRow
		var buyDate, sellDate string
		if err := rows.Scan(&r.ID, &r.Symbol, &r.AssetName, &r.BuyPrice, &buyDate, &r.Quantity, &r.NotionalUSD,
			&r.SellPrice, &sellDate, &r.ProfitRate, &r.HoldingHours, &r.ScenarioJSON, &r.TriggerType, &r.Timeframe, &r.Theme); err != nil {
			return nil, err
		}
		r.BuyDate, _ = time.Parse(model.WallClock, buyDate)
		r.SellDate, _ = time.Parse(model.WallClock, sellDate)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) LastSellDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	var sellDate string
	err := ps.pool.QueryRow(ctx, `
SELECT sell_date FROM trading_history WHERE symbol = $1 ORDER BY sell_date DESC LIMIT 1`, symbol).Scan(&sellDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(model.WallClock, sellDate)
	return t, true, err
}

func (ps *PostgresStore) InsertWatchlist(ctx context.Context, row model.WatchlistRow) error {
	_, err := ps.pool.Exec(ctx, `
INSERT INTO watchlist_history (symbol, analyzed_date, current_price, buy_score, min_score,
                                decision, skip_reason, target_price, stop_loss, risk_reward_ratio,
                                trigger_type, timeframe, theme, scenario)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		row.Symbol, row.AnalyzedDate.Format(model.WallClock), row.CurrentPrice, row.BuyScore, row.MinScore,
		row.Decision, row.SkipReason, row.TargetPrice, row.StopLoss, row.RiskRewardRatio,
		row.TriggerType, row.Timeframe, row.Theme, row.ScenarioJSON)
	return err
}

func (ps *PostgresStore) InsertPerformanceTracker(ctx context.Context, row model.PerformanceTrackerRow) error {
	_, err := ps.pool.Exec(ctx, `
INSERT INTO performance_tracker (symbol, analysis_date, analysis_price, predicted_direction,
                                  target_price, stop_loss, buy_score, decision, skip_reason,
                                  risk_reward_ratio, price_24h, price_72h, price_168h,
                                  return_24h, return_72h, return_168h, hit_target, hit_stop_loss,
                                  tracking_status, was_traded, trigger_type, timeframe, theme,
                                  created_at, last_updated)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		row.Symbol, row.AnalysisDate.Format(model.WallClock), row.AnalysisPrice, row.PredictedDir,
		row.TargetPrice, row.StopLoss, row.BuyScore, row.Decision, row.SkipReason,
		row.RiskRewardRatio, row.Price24h, row.Price72h, row.Price168h,
		row.Return24h, row.Return72h, row.Return168h, row.HitTarget, row.HitStopLoss,
		row.TrackingStatus, row.WasTraded, row.TriggerType, row.Timeframe, row.Theme,
		row.CreatedAt.Format(model.WallClock), row.LastUpdated.Format(model.WallClock))
	return err
}

func (ps *PostgresStore) InsertHoldingDecision(ctx context.Context, row model.HoldingDecisionRow) error {
	_, err := ps.pool.Exec(ctx, `
INSERT INTO holding_decisions (symbol, decision_date, current_price, should_sell, sell_reason,
                                confidence, technical_trend, volume_analysis, market_condition_impact,
                                time_factor, portfolio_adjustment_needed, adjustment_reason,
                                new_target_price, new_stop_loss, adjustment_urgency, full_json_data,
                                created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		row.Symbol, row.DecisionDate.Format(model.WallClock), row.CurrentPrice, row.ShouldSell, row.SellReason,
		row.Confidence, row.TechnicalTrend, row.VolumeAnalysis, row.MarketConditionImpact,
		row.TimeFactor, row.PortfolioAdjustmentNeeded, row.AdjustmentReason,
		row.NewTargetPrice, row.NewStopLoss, row.AdjustmentUrgency, row.FullJSON,
		row.CreatedAt.Format(model.WallClock))
	return err
}

func (ps *PostgresStore) InsertOrderExecution(ctx context.Context, exec model.OrderExecution) error {
	_, err := ps.pool.Exec(ctx, `
INSERT INTO order_executions (symbol, side, order_type, status, requested_price, executed_price,
                               quantity, quote_amount, fee_amount, mode, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		exec.Symbol, string(exec.Side), string(exec.OrderType), string(exec.Status), exec.RequestedPrice, exec.ExecutedPrice,
		exec.Quantity, exec.QuoteAmount, exec.FeeAmount, string(exec.Mode), exec.Message, exec.Metadata,
		exec.CreatedAt.Format(model.WallClock))
	return err
}

func (ps *PostgresStore) ListOrderExecutions(ctx context.Context, since time.Time) ([]model.OrderExecution, error) {
	rows, err := ps.pool.Query(ctx, `
SELECT id, symbol, side, order_type, status, requested_price, executed_price, quantity,
       quote_amount, fee_amount, mode, message, metadata, created_at
FROM order_executions WHERE created_at >= $1 ORDER BY created_at`, since.Format(model.WallClock))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OrderExecution
	for rows.Next() {
		var e model.OrderExecution
		var side, orderType, status, mode, createdAt string
		if err := rows.Scan(&e.ID, &e.Symbol, &side, &orderType, &status, &e.RequestedPrice, &e.ExecutedPrice,
			&e.Quantity, &e.QuoteAmount, &e.FeeAmount, &mode, &e.Message, &e.Metadata, &createdAt); err != nil {
			return nil, err
		}
		e.Side, e.OrderType, e.Status, e.Mode = model.OrderSide(side), model.OrderType(orderType), model.OrderStatus(status), model.ExecutionMode(mode)
		e.CreatedAt, _ = time.Parse(model.WallClock, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneStale deletes watchlist_history and performance_tracker rows
// older than before, the weekly maintenance the teacher's scheduler
// doc comment promises. Holdings, trade history, and the execution
// ledger are never pruned — they are the system's permanent record.
func (ps *PostgresStore) PruneStale(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	cmds := []string{
		`DELETE FROM watchlist_history WHERE analyzed_date < $1`,
		`DELETE FROM performance_tracker WHERE created_at < $1`,
	}
	for _, q := range cmds {
		tag, err := ps.pool.Exec(ctx, q, before.Format(model.WallClock))
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// rowScanner abstracts over pgx.Row and pgx.Rows so scanHolding serves both
// GetHolding (single row) and ListHoldings (row set).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanHolding(s rowScanner) (model.Holding, error) {
	var h model.Holding
	var buyDate, lastUpdated, scenario string
	err := s.Scan(&h.Symbol, &h.AssetName, &h.BuyPrice, &buyDate, &h.Quantity, &h.NotionalUSD,
		&h.CurrentPrice, &lastUpdated, &scenario, &h.TargetPrice, &h.StopLoss,
		&h.TriggerType, &h.Timeframe, &h.Theme)
	if err != nil {
		return model.Holding{}, err
	}
	h.BuyDate, _ = time.Parse(model.WallClock, buyDate)
	h.LastUpdated, _ = time.Parse(model.WallClock, lastUpdated)
	h.Trailing, h.PhaseOneScore, h.ScenarioJSON = unmarshalScenario(scenario)
	return h, nil
}
