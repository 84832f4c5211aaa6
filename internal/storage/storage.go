// Package storage implements the Persistence layer (C8): a Postgres-backed
// store over the six-table schema (holdings, trading_history,
// watchlist_history, performance_tracker, holding_decisions,
// order_executions), with idempotent schema migration.
//
// Table and index definitions are ported from
// original_source/crypto/tracking/db_schema.py; the Store-interface shape
// and the pgx-pool wrapper are carried from the teacher's
// internal/storage/storage.go and postgres.go, generalized from the
// equities TradeRecord/SignalRecord schema to the six crypto tables.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/model"
)

// Store defines the complete persistence interface for the engine. It is
// a superset of portfolio.Store and exchange ledger/benchmark read needs;
// PostgresStore satisfies it structurally.
type Store interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()

	ListHoldings(ctx context.Context) ([]model.Holding, error)
	GetHolding(ctx context.Context, symbol string) (model.Holding, bool, error)
	IsHeld(ctx context.Context, symbol string) (bool, error)
	CountHoldings(ctx context.Context) (int, error)
	UpsertHolding(ctx context.Context, h model.Holding) error
	DeleteHolding(ctx context.Context, symbol string) error

	InsertTradeHistory(ctx context.Context, row model.TradeHistoryRow) error
	ListTradeHistory(ctx context.Context, since time.Time) ([]model.TradeHistoryRow, error)
	LastSellDate(ctx context.Context, symbol string) (time.Time, bool, error)

	InsertWatchlist(ctx context.Context, row model.WatchlistRow) error
	InsertPerformanceTracker(ctx context.Context, row model.PerformanceTrackerRow) error
	InsertHoldingDecision(ctx context.Context, row model.HoldingDecisionRow) error

	InsertOrderExecution(ctx context.Context, exec model.OrderExecution) error
	ListOrderExecutions(ctx context.Context, since time.Time) ([]model.OrderExecution, error)

	PruneStale(ctx context.Context, before time.Time) (int64, error)
}

// scenarioBlob is the JSON shape persisted in holdings.scenario. Trailing
// state and the Phase-1 scoring context are modeled as typed fields in
// memory (model.Holding, model.TrailingState) but flattened into this
// single opaque column for audit, matching the original schema's single
// `scenario TEXT` column.
type scenarioBlob struct {
	Rationale         string  `json:"rationale,omitempty"`
	Phase1FinalScore  float64 `json:"phase1_final_score"`
	TrailingActive    bool    `json:"trailing_active"`
	TrailingPeakPrice float64 `json:"trailing_peak_price"`
	DynamicStopLoss   float64 `json:"dynamic_stop_loss"`
	TrailBufferPct    float64 `json:"trail_buffer_pct"`
}

func marshalScenario(h model.Holding) string {
	b, err := json.Marshal(scenarioBlob{
		Rationale:         h.ScenarioJSON,
		Phase1FinalScore:  h.PhaseOneScore,
		TrailingActive:    h.Trailing.Active,
		TrailingPeakPrice: h.Trailing.PeakPrice,
		DynamicStopLoss:   h.Trailing.DynamicStop,
		TrailBufferPct:    h.Trailing.TrailBufferPct,
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalScenario(raw string) (model.TrailingState, float64, string) {
	if raw == "" {
		return model.TrailingState{}, 0, ""
	}
	var blob scenarioBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return model.TrailingState{}, 0, raw
	}
	return model.TrailingState{
		Active:         blob.TrailingActive,
		PeakPrice:      blob.TrailingPeakPrice,
		DynamicStop:    blob.DynamicStopLoss,
		TrailBufferPct: blob.TrailBufferPct,
	}, blob.Phase1FinalScore, blob.Rationale
}
