// Package model defines the shared data types that flow between the
// signal engine, the portfolio controller, the paper exchange, and the
// persistence layer.
package model

import "time"

// WallClock is the fixed format used for every timestamp persisted by the
// engine. All timestamps are UTC (see the timezone design note in
// SPEC_FULL.md) — the engine never interprets a stored timestamp against
// local system time.
const WallClock = "2006-01-02 15:04:05"

// Bar is one OHLCV candle, part of an append-only per-symbol time series.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// SnapshotRow is the per-symbol, per-cycle feature vector produced by the
// feature builder. It is ephemeral — never persisted on its own, only
// carried forward into a TriggerCandidate when a trigger fires.
type SnapshotRow struct {
	Symbol         string
	Close          float64
	Volume         float64
	Amount         float64 // Close * Volume
	Ret1Pct        float64
	Ret4Pct        float64
	VolumeRatio20  float64
	ATRPct         float64
	ATRExpansion   float64
	TrendGapPct    float64
	BreakoutPct    float64
	EMA20GTEMA50   bool
	Theme          string
}

// TriggerCandidate is a SnapshotRow that passed a trigger's gate, carrying
// the trigger's composite score and the derived agent-fit risk metrics.
type TriggerCandidate struct {
	SnapshotRow
	TriggerName      string
	CompositeScore   float64
	CompositeNorm    float64
	StopLossPct      float64
	TargetPct        float64
	StopLossPrice    float64
	TargetPrice      float64
	RiskRewardRatio  float64
	AgentFitScore    float64
	FinalScore       float64
}

// TrailingState is the typed sub-record for a Holding's trailing-stop
// state machine (SPEC_FULL.md §9). It is persisted inside the Holding's
// scenario JSON blob for audit, but treated as a first-class struct in
// memory.
type TrailingState struct {
	Active         bool
	PeakPrice      float64
	DynamicStop    float64
	TrailBufferPct float64
}

// Holding is an open paper position, keyed by Symbol. At most one Holding
// may exist per symbol at any time.
type Holding struct {
	Symbol          string
	AssetName       string
	BuyPrice        float64
	BuyDate         time.Time
	Quantity        float64
	NotionalUSD     float64
	CurrentPrice    float64
	LastUpdated     time.Time
	PhaseOneScore   float64
	Trailing        TrailingState
	TargetPrice     float64
	StopLoss        float64
	TriggerType     string
	Timeframe       string
	Theme           string
	ScenarioJSON    string
}

// HoldHours returns how long the holding has been open as of now.
func (h Holding) HoldHours(now time.Time) float64 {
	return now.Sub(h.BuyDate).Hours()
}

// ProfitRate returns the signed percent move from BuyPrice to CurrentPrice.
func (h Holding) ProfitRate() float64 {
	if h.BuyPrice <= 0 {
		return 0
	}
	return (h.CurrentPrice - h.BuyPrice) / h.BuyPrice * 100
}

// TradeHistoryRow is an append-only closed-lifecycle record, written
// exactly once per Holding termination.
type TradeHistoryRow struct {
	ID           int64
	Symbol       string
	AssetName    string
	BuyPrice     float64
	BuyDate      time.Time
	Quantity     float64
	NotionalUSD  float64
	SellPrice    float64
	SellDate     time.Time
	ProfitRate   float64
	HoldingHours float64
	ScenarioJSON string
	TriggerType  string
	Timeframe    string
	Theme        string
}

// WatchlistRow is an append-only record of a no-entry decision.
type WatchlistRow struct {
	ID              int64
	Symbol          string
	AnalyzedDate    time.Time
	CurrentPrice    float64
	BuyScore        int
	MinScore        int
	Decision        string
	SkipReason      string
	TargetPrice     float64
	StopLoss        float64
	RiskRewardRatio float64
	TriggerType     string
	Timeframe       string
	Theme           string
	ScenarioJSON    string
}

// OrderSide is buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is market or limit.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the terminal status of a paper fill attempt.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusUnfilled OrderStatus = "unfilled"
	OrderStatusRejected OrderStatus = "rejected"
)

// ExecutionMode distinguishes paper fills from (unimplemented) real fills.
type ExecutionMode string

const (
	ExecutionModePaper ExecutionMode = "paper"
	ExecutionModeReal  ExecutionMode = "real"
)

// OrderExecution is one row of the append-only executions ledger. Every
// Buy/SellAll call on the PaperExchange appends exactly one of these,
// whether filled, unfilled, or rejected.
type OrderExecution struct {
	ID             int64
	Symbol         string
	Side           OrderSide
	OrderType      OrderType
	Status         OrderStatus
	RequestedPrice *float64
	ExecutedPrice  float64
	Quantity       float64
	QuoteAmount    float64
	FeeAmount      float64
	Mode           ExecutionMode
	Message        string
	Metadata       string
	CreatedAt      time.Time
}

// PerformanceTrackerRow records an analysis-time prediction (whether or
// not it was traded) so trigger/oracle reliability can be evaluated
// independent of the admission decision.
type PerformanceTrackerRow struct {
	ID                int64
	Symbol            string
	AnalysisDate      time.Time
	AnalysisPrice     float64
	PredictedDir      string
	TargetPrice       float64
	StopLoss          float64
	BuyScore          int
	Decision          string
	SkipReason        string
	RiskRewardRatio   float64
	Price24h          *float64
	Price72h          *float64
	Price168h         *float64
	Return24h         *float64
	Return72h         *float64
	Return168h        *float64
	HitTarget         bool
	HitStopLoss       bool
	TrackingStatus    string
	WasTraded         bool
	TriggerType       string
	Timeframe         string
	Theme             string
	CreatedAt         time.Time
	LastUpdated       time.Time
}

// HoldingDecisionRow is an audit row written once per cycle per open
// holding, independent of whether the cycle's decision was to exit.
type HoldingDecisionRow struct {
	ID                        int64
	Symbol                    string
	DecisionDate               time.Time
	CurrentPrice              float64
	ShouldSell                bool
	SellReason                string
	Confidence                int
	TechnicalTrend            string
	VolumeAnalysis            string
	MarketConditionImpact     string
	TimeFactor                string
	PortfolioAdjustmentNeeded bool
	AdjustmentReason          string
	NewTargetPrice            *float64
	NewStopLoss               *float64
	AdjustmentUrgency         string
	FullJSON                  string
	CreatedAt                 time.Time
}

// CycleStats are the per-cycle exit-reason counters (SPEC_FULL.md §9).
// Reset at the start of every cycle; never carried across cycles.
type CycleStats struct {
	StopLoss int
	Rotation int
	Normal   int
}

// ExitCategory classifies a closed trade for accounting purposes.
type ExitCategory string

const (
	ExitCategoryRotation ExitCategory = "rotation"
	ExitCategoryStopLoss ExitCategory = "stop_loss"
	ExitCategoryNormal   ExitCategory = "normal"
)
