// Package portfolio implements the PortfolioController (C6): holding
// refresh and the trailing-stop state machine, the rule-based exit
// evaluator, the admission/rotation/cool-down loop, and per-cycle exit
// accounting.
//
// The gate-pattern shape is carried from the teacher's internal/risk
// (Manager/ValidationResult) and internal/strategy/trend_follow.go's
// evaluateExit; the full decision algorithm is ported from
// original_source/crypto/crypto_tracking_agent.py.
package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nitinkhare/cryptoswing/internal/exchange"
	"github.com/nitinkhare/cryptoswing/internal/market"
	"github.com/nitinkhare/cryptoswing/internal/model"
	"github.com/nitinkhare/cryptoswing/internal/oracle"
	"github.com/nitinkhare/cryptoswing/internal/signal"
)

// Slot/rotation/trailing constants, ported verbatim from
// crypto_tracking_agent.py's class-level constants.
const (
	DefaultMaxSlots               = 10
	RotationMinScoreDelta         = 0.12
	RotationLossPriorityPct       = -2.0
	RotationMaxPerCycle           = 1
	RotationMinHoldingHours       = 4.0
	DefaultRotationCooldownHours  = 0.0
	TrailingActivateProfitPct     = 3.0
	TrailingBufferLowTier         = 0.025
	TrailingBufferMidTier         = 0.03
	TrailingBufferHighTier        = 0.04
	LossGuardPct                  = -5.0
	TimeTakeProfitHours           = 72.0
	TimeTakeProfitMinProfitPct    = 4.0
	StaleLoserHours               = 168.0
)

// Store is the persistence dependency the controller needs. The concrete
// implementation lives in internal/storage; this interface is
// consumer-owned so portfolio never imports the storage driver directly.
type Store interface {
	ListHoldings(ctx context.Context) ([]model.Holding, error)
	IsHeld(ctx context.Context, symbol string) (bool, error)
	CountHoldings(ctx context.Context) (int, error)
	UpsertHolding(ctx context.Context, h model.Holding) error
	DeleteHolding(ctx context.Context, symbol string) error
	InsertTradeHistory(ctx context.Context, row model.TradeHistoryRow) error
	InsertWatchlist(ctx context.Context, row model.WatchlistRow) error
	InsertHoldingDecision(ctx context.Context, row model.HoldingDecisionRow) error
	LastSellDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

// Config holds the tunables exposed on the CLI (SPEC_FULL.md §6).
type Config struct {
	MaxSlots              int
	ExecuteTrades         bool
	TradeMode             string
	QuoteAmount           float64
	Timeframe             string
	RotationCooldownHours float64
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		MaxSlots:              DefaultMaxSlots,
		TradeMode:             "paper",
		QuoteAmount:           100.0,
		Timeframe:             "1h",
		RotationCooldownHours: DefaultRotationCooldownHours,
	}
}

// Controller wires the oracle, exchange, market data, and store together
// into the per-cycle decision loop.
type Controller struct {
	Store    Store
	Exchange exchange.Exchange
	Oracle   oracle.Oracle
	Market   market.MarketData
	Config   Config
	Now      func() time.Time
	Log      zerolog.Logger

	cycleStats model.CycleStats
}

// NewController constructs a Controller. Now defaults to time.Now.
func NewController(store Store, ex exchange.Exchange, orc oracle.Oracle, mkt market.MarketData, cfg Config, log zerolog.Logger) *Controller {
	return &Controller{
		Store:    store,
		Exchange: ex,
		Oracle:   orc,
		Market:   mkt,
		Config:   cfg,
		Now:      time.Now,
		Log:      log.With().Str("component", "portfolio").Logger(),
	}
}

// livePrice fetches the current spot price for symbol, falling back to
// fallback when the market data source errors (mirrors
// crypto_tracking_agent.py::_get_live_price).
func (c *Controller) livePrice(ctx context.Context, symbol string, fallback float64) float64 {
	if c.Market == nil {
		return fallback
	}
	p, err := c.Market.SpotPrice(ctx, symbol)
	if err == nil && p > 0 {
		return p
	}
	return fallback
}

// RefreshTrailingState updates h.Trailing in place given the holding's
// current price, returning the effective stop-loss to evaluate exits
// against (SPEC_FULL.md §4.6.1).
func RefreshTrailingState(h *model.Holding) float64 {
	if h.BuyPrice <= 0 || h.CurrentPrice <= 0 {
		return h.StopLoss
	}

	peak := h.Trailing.PeakPrice
	if peak < h.BuyPrice {
		peak = h.BuyPrice
	}
	if h.CurrentPrice > peak {
		peak = h.CurrentPrice
	}
	h.Trailing.PeakPrice = peak

	profitRate := (h.CurrentPrice - h.BuyPrice) / h.BuyPrice * 100.0
	if profitRate >= TrailingActivateProfitPct {
		h.Trailing.Active = true
	}

	if !h.Trailing.Active {
		h.Trailing.DynamicStop = h.StopLoss
		return h.StopLoss
	}

	var trailBuffer float64
	switch {
	case profitRate < 8.0:
		trailBuffer = TrailingBufferLowTier
	case profitRate < 15.0:
		trailBuffer = TrailingBufferMidTier
	default:
		trailBuffer = TrailingBufferHighTier
	}

	trailStop := peak * (1.0 - trailBuffer)
	effective := trailStop
	if h.StopLoss > 0 && h.StopLoss > trailStop {
		effective = h.StopLoss
	}
	h.Trailing.DynamicStop = effective
	h.Trailing.TrailBufferPct = trailBuffer * 100.0
	return effective
}

// EvaluateExit runs the five-priority rule-based exit evaluator
// (SPEC_FULL.md §4.6.2) against a holding whose trailing state and
// current price have already been refreshed.
func EvaluateExit(h model.Holding, effectiveStop float64, now time.Time) (bool, string) {
	if h.BuyPrice <= 0 || h.CurrentPrice <= 0 {
		return false, "invalid price context"
	}

	holdingHours := h.HoldHours(now)
	profitRate := h.ProfitRate()

	if effectiveStop > 0 && h.CurrentPrice <= effectiveStop {
		if h.Trailing.Active && h.Trailing.DynamicStop > 0 {
			return true, fmt.Sprintf("trailing stop reached (%.6f <= %.6f)", h.CurrentPrice, effectiveStop)
		}
		return true, fmt.Sprintf("stop loss reached (%.6f <= %.6f)", h.CurrentPrice, effectiveStop)
	}
	if h.TargetPrice > 0 && h.CurrentPrice >= h.TargetPrice {
		return true, fmt.Sprintf("target reached (%.6f >= %.6f)", h.CurrentPrice, h.TargetPrice)
	}
	if profitRate <= LossGuardPct {
		return true, fmt.Sprintf("loss guard triggered (%.2f%%)", profitRate)
	}
	if holdingHours >= TimeTakeProfitHours && profitRate >= TimeTakeProfitMinProfitPct {
		return true, fmt.Sprintf("time-based take-profit (%.1fh, %.2f%%)", holdingHours, profitRate)
	}
	if holdingHours >= StaleLoserHours && profitRate < 0 {
		return true, fmt.Sprintf("stale losing position cleanup (%.1fh, %.2f%%)", holdingHours, profitRate)
	}
	return false, "hold"
}

// ClassifyExitReason categorizes a sell reason string for cycle
// accounting (SPEC_FULL.md §4.6.4).
func ClassifyExitReason(reason string) model.ExitCategory {
	r := strings.ToLower(strings.TrimSpace(reason))
	if strings.Contains(r, "rotation replace:") {
		return model.ExitCategoryRotation
	}
	if strings.Contains(r, "stop loss") || strings.Contains(r, "trailing stop") || strings.Contains(r, "loss guard") {
		return model.ExitCategoryStopLoss
	}
	return model.ExitCategoryNormal
}

func (c *Controller) countExit(category model.ExitCategory) {
	switch category {
	case model.ExitCategoryStopLoss:
		c.cycleStats.StopLoss++
	case model.ExitCategoryRotation:
		c.cycleStats.Rotation++
	default:
		c.cycleStats.Normal++
	}
}

// sellHolding executes the sell (paper, if enabled), archives the
// closed position to trade history, and deletes the holding row.
func (c *Controller) sellHolding(ctx context.Context, h model.Holding, reason string) (bool, error) {
	quantity := h.Quantity
	if quantity <= 0 && h.BuyPrice > 0 && h.NotionalUSD > 0 {
		quantity = h.NotionalUSD / h.BuyPrice
	}

	executionPrice := h.CurrentPrice
	category := ClassifyExitReason(reason)

	if c.Config.ExecuteTrades {
		if c.Config.TradeMode != "paper" || c.Exchange == nil {
			c.Log.Warn().Str("symbol", h.Symbol).Str("trade_mode", c.Config.TradeMode).Msg("sell skipped: unsupported trade mode")
			return false, nil
		}
		res, err := c.Exchange.SellAll(ctx, h.Symbol, quantity, nil, fmt.Sprintf("reason=%s exit_category:%s", reason, category))
		if err != nil {
			return false, err
		}
		if !res.Success {
			c.Log.Warn().Str("symbol", h.Symbol).Str("message", res.Message).Msg("paper sell failed")
			return false, nil
		}
		executionPrice = res.ExecutedPrice
	}

	now := c.Now()
	holdingHours := h.HoldHours(now)
	var profitRate float64
	if h.BuyPrice > 0 {
		profitRate = (executionPrice - h.BuyPrice) / h.BuyPrice * 100.0
	}

	if err := c.Store.InsertTradeHistory(ctx, model.TradeHistoryRow{
		Symbol:       h.Symbol,
		AssetName:    h.AssetName,
		BuyPrice:     h.BuyPrice,
		BuyDate:      h.BuyDate,
		Quantity:     quantity,
		NotionalUSD:  h.NotionalUSD,
		SellPrice:    executionPrice,
		SellDate:     now,
		ProfitRate:   profitRate,
		HoldingHours: holdingHours,
		ScenarioJSON: h.ScenarioJSON,
		TriggerType:  h.TriggerType,
		Timeframe:    h.Timeframe,
		Theme:        h.Theme,
	}); err != nil {
		return false, err
	}

	if err := c.Store.DeleteHolding(ctx, h.Symbol); err != nil {
		return false, err
	}

	c.countExit(category)
	c.Log.Info().
		Str("symbol", h.Symbol).
		Float64("executed_price", executionPrice).
		Float64("buy_price", h.BuyPrice).
		Float64("profit_rate", profitRate).
		Float64("holding_hours", holdingHours).
		Str("reason", reason).
		Str("exit_category", string(category)).
		Msg("SELL")
	return true, nil
}

// UpdateHoldings refreshes every open holding's live price and trailing
// state, sells any that trip the exit evaluator, and persists the
// trailing-state update for the rest. Returns the count sold.
func (c *Controller) UpdateHoldings(ctx context.Context) (int, error) {
	holdings, err := c.Store.ListHoldings(ctx)
	if err != nil {
		return 0, err
	}
	if len(holdings) == 0 {
		return 0, nil
	}

	now := c.Now()
	sold := 0
	for _, h := range holdings {
		h.CurrentPrice = c.livePrice(ctx, h.Symbol, h.CurrentPrice)
		effectiveStop := RefreshTrailingState(&h)
		h.StopLoss = effectiveStop

		shouldSell, reason := EvaluateExit(h, effectiveStop, now)

		decisionRow := model.HoldingDecisionRow{
			Symbol:         h.Symbol,
			DecisionDate:   now,
			CurrentPrice:   h.CurrentPrice,
			ShouldSell:     shouldSell,
			SellReason:     reason,
			TechnicalTrend: "n/a",
			CreatedAt:      now,
		}
		_ = c.Store.InsertHoldingDecision(ctx, decisionRow)

		if shouldSell {
			ok, err := c.sellHolding(ctx, h, reason)
			if err != nil {
				return sold, err
			}
			if ok {
				sold++
			}
			continue
		}

		h.LastUpdated = now
		if err := c.Store.UpsertHolding(ctx, h); err != nil {
			return sold, err
		}
	}
	return sold, nil
}

// holdingRank is the per-holding snapshot used during rotation ranking.
type holdingRank struct {
	holding      model.Holding
	score        float64
	profitRate   float64
	lossPriority bool
	holdingHours float64
}

func holdingFinalScore(h model.Holding) float64 {
	if h.PhaseOneScore != 0 {
		return h.PhaseOneScore
	}
	return 0
}

// tryRotationEntry replaces the weakest eligible holding with a stronger
// candidate when all slots are full (SPEC_FULL.md §4.6.3 Gate1/Gate2).
func (c *Controller) tryRotationEntry(ctx context.Context, cand model.TriggerCandidate, sc oracle.Scenario) (bool, string, int, error) {
	holdings, err := c.Store.ListHoldings(ctx)
	if err != nil {
		return false, "", 0, err
	}
	if len(holdings) == 0 {
		return false, "no holdings for rotation", 0, nil
	}

	now := c.Now()
	ranked := make([]holdingRank, 0, len(holdings))
	for _, h := range holdings {
		h.CurrentPrice = c.livePrice(ctx, h.Symbol, h.CurrentPrice)
		var profitRate float64
		if h.BuyPrice > 0 {
			profitRate = (h.CurrentPrice - h.BuyPrice) / h.BuyPrice * 100.0
		}
		ranked = append(ranked, holdingRank{
			holding:      h,
			score:        holdingFinalScore(h),
			profitRate:   profitRate,
			lossPriority: profitRate <= RotationLossPriorityPct,
			holdingHours: h.HoldHours(now),
		})
	}

	var eligible []holdingRank
	for _, r := range ranked {
		if cand.FinalScore >= r.score+RotationMinScoreDelta && r.holdingHours >= RotationMinHoldingHours {
			eligible = append(eligible, r)
		}
	}

	if len(eligible) == 0 {
		var tooFresh []holdingRank
		for _, r := range ranked {
			if r.holdingHours < RotationMinHoldingHours {
				tooFresh = append(tooFresh, r)
			}
		}
		if len(tooFresh) > 0 {
			freshest := tooFresh[0]
			for _, r := range tooFresh[1:] {
				if r.holdingHours < freshest.holdingHours {
					freshest = r
				}
			}
			return false, fmt.Sprintf("rotation blocked: min holding %.1fh (freshest %s=%.2fh)",
				RotationMinHoldingHours, freshest.holding.Symbol, freshest.holdingHours), 0, nil
		}
		weakest := ranked[0]
		for _, r := range ranked[1:] {
			if r.score < weakest.score {
				weakest = r
			}
		}
		return false, fmt.Sprintf("rotation blocked: new_final=%.3f < weakest+delta (%.3f+%.2f)",
			cand.FinalScore, weakest.score, RotationMinScoreDelta), 0, nil
	}

	// Prefer losers at/below the loss-priority threshold, then the lower
	// profit rate, then the weaker score, among candidates already passing
	// the score-delta and min-holding gates above.
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		aKey := a.profitRate >= 0.0
		bKey := b.profitRate >= 0.0
		if aKey != bKey {
			return !aKey // non-negative-pnl sorts after negative-pnl
		}
		if a.lossPriority != b.lossPriority {
			return a.lossPriority
		}
		if a.profitRate != b.profitRate {
			return a.profitRate < b.profitRate
		}
		return a.score < b.score
	})

	target := eligible[0]
	sellReason := fmt.Sprintf("rotation replace: %s (score=%.3f, pnl=%.2f%%, hold=%.1fh) -> %s (score=%.3f)",
		target.holding.Symbol, target.score, target.profitRate, target.holdingHours, cand.Symbol, cand.FinalScore)

	sold, err := c.sellHolding(ctx, target.holding, sellReason)
	if err != nil {
		return false, "", 0, err
	}
	if !sold {
		return false, fmt.Sprintf("rotation sell failed: %s", target.holding.Symbol), 0, nil
	}

	if err := c.enterHolding(ctx, cand, sc, true); err != nil {
		return false, "", 1, err
	}
	return true, "rotated", 1, nil
}

// isReentryCooldownActive checks whether symbol was sold within the
// configured cooldown window (SPEC_FULL.md §4.6.3).
func (c *Controller) isReentryCooldownActive(ctx context.Context, symbol string) (bool, string, error) {
	if c.Config.RotationCooldownHours <= 0 {
		return false, "", nil
	}
	lastSell, ok, err := c.Store.LastSellDate(ctx, symbol)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "", nil
	}
	cooldownUntil := lastSell.Add(time.Duration(c.Config.RotationCooldownHours * float64(time.Hour)))
	now := c.Now()
	if now.Before(cooldownUntil) {
		remaining := cooldownUntil.Sub(now).Hours()
		return true, fmt.Sprintf("re-entry cooldown active (%.2fh remaining, window=%.2fh)", remaining, c.Config.RotationCooldownHours), nil
	}
	return false, "", nil
}

// enterHolding executes the buy (if enabled) and persists the new
// holding row, carrying forward the Phase-1 scoring context used later
// for rotation ranking.
func (c *Controller) enterHolding(ctx context.Context, cand model.TriggerCandidate, sc oracle.Scenario, rotation bool) error {
	now := c.Now()
	fallbackPrice := cand.Close

	execPrice := fallbackPrice
	var quantity, notional float64
	if c.Config.ExecuteTrades && c.Exchange != nil {
		meta := fmt.Sprintf(`{"trigger_type":%q,"rotation":%t}`, cand.TriggerName, rotation)
		res, err := c.Exchange.Buy(ctx, cand.Symbol, c.Config.QuoteAmount, nil, meta)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("portfolio: buy failed for %s: %s", cand.Symbol, res.Message)
		}
		execPrice = res.ExecutedPrice
		quantity = res.Quantity
		notional = res.QuoteAmount
		c.Log.Info().
			Str("symbol", cand.Symbol).
			Bool("rotation", rotation).
			Float64("quantity", quantity).
			Float64("executed_price", execPrice).
			Msg("ENTRY+TRADE")
	} else {
		c.Log.Info().Str("symbol", cand.Symbol).Bool("rotation", rotation).Msg("ENTRY")
	}

	assetName := cand.Symbol
	if idx := strings.Index(cand.Symbol, "-"); idx > 0 {
		assetName = strings.ToUpper(cand.Symbol[:idx])
	}

	h := model.Holding{
		Symbol:        cand.Symbol,
		AssetName:     assetName,
		BuyPrice:      execPrice,
		BuyDate:       now,
		Quantity:      quantity,
		NotionalUSD:   notional,
		CurrentPrice:  execPrice,
		LastUpdated:   now,
		PhaseOneScore: cand.FinalScore,
		TargetPrice:   sc.TargetPrice,
		StopLoss:      sc.StopLoss,
		TriggerType:   cand.TriggerName,
		Timeframe:     c.Config.Timeframe,
		Theme:         cand.Theme,
		ScenarioJSON:  fmt.Sprintf("{%q:%q}", "rationale", sc.Rationale),
	}
	return c.Store.UpsertHolding(ctx, h)
}

// saveWatchlist records a no-entry decision.
func (c *Controller) saveWatchlist(ctx context.Context, cand model.TriggerCandidate, sc oracle.Scenario, reason string) error {
	return c.Store.InsertWatchlist(ctx, model.WatchlistRow{
		Symbol:          cand.Symbol,
		AnalyzedDate:    c.Now(),
		CurrentPrice:    cand.Close,
		BuyScore:        sc.BuyScore,
		MinScore:        sc.MinScore,
		Decision:        "no_entry",
		SkipReason:      reason,
		TargetPrice:     sc.TargetPrice,
		StopLoss:        sc.StopLoss,
		RiskRewardRatio: sc.RiskRewardRatio,
		TriggerType:     cand.TriggerName,
		Timeframe:       c.Config.Timeframe,
		Theme:           cand.Theme,
		ScenarioJSON:    sc.Rationale,
	})
}

// CycleResult summarizes one process-candidates call.
type CycleResult struct {
	CycleID    string
	EntryCount int
	NoEntry    int
	Sold       int
	Stats      model.CycleStats
}

// ProcessCandidates runs the admission/rotation/cool-down loop over the
// selector's output (SPEC_FULL.md §4.6.3), first draining UpdateHoldings.
func (c *Controller) ProcessCandidates(ctx context.Context, results signal.TriggerResults) (CycleResult, error) {
	c.cycleStats = model.CycleStats{}
	cycleID := uuid.NewString()
	log := c.Log.With().Str("cycle_id", cycleID).Logger()

	sold, err := c.UpdateHoldings(ctx)
	if err != nil {
		return CycleResult{CycleID: cycleID}, err
	}

	entryCount, noEntryCount := 0, 0
	rotationsDone := 0

	for _, triggerName := range signal.TriggerOrder {
		for _, cand := range results[triggerName] {
			held, err := c.Store.IsHeld(ctx, cand.Symbol)
			if err != nil {
				return CycleResult{CycleID: cycleID}, err
			}
			if held {
				log.Info().Str("symbol", cand.Symbol).Msg("skip already-held symbol")
				continue
			}

			cooldownActive, cooldownReason, err := c.isReentryCooldownActive(ctx, cand.Symbol)
			if err != nil {
				return CycleResult{CycleID: cycleID}, err
			}
			if cooldownActive {
				_ = c.saveWatchlist(ctx, cand, oracle.Scenario{Decision: oracle.DecisionNoEntry, MinScore: 6}, cooldownReason)
				noEntryCount++
				log.Info().Str("symbol", cand.Symbol).Str("reason", cooldownReason).Msg("NO_ENTRY")
				continue
			}

			sc, err := c.Oracle.Analyze(ctx, cand)
			if err != nil {
				return CycleResult{CycleID: cycleID}, err
			}

			if !sc.EntryApproved() {
				reason := fmt.Sprintf("decision=%s, score=%d/%d", sc.Decision, sc.BuyScore, sc.MinScore)
				_ = c.saveWatchlist(ctx, cand, sc, reason)
				noEntryCount++
				log.Info().Str("symbol", cand.Symbol).Str("reason", reason).Msg("NO_ENTRY")
				continue
			}

			count, err := c.Store.CountHoldings(ctx)
			if err != nil {
				return CycleResult{CycleID: cycleID}, err
			}

			if count >= c.Config.MaxSlots {
				if rotationsDone < RotationMaxPerCycle {
					rotated, reason, rotatedSold, err := c.tryRotationEntry(ctx, cand, sc)
					if err != nil {
						return CycleResult{CycleID: cycleID}, err
					}
					sold += rotatedSold
					if rotated {
						entryCount++
						rotationsDone++
						continue
					}
					_ = c.saveWatchlist(ctx, cand, sc, reason)
					noEntryCount++
					log.Info().Str("symbol", cand.Symbol).Str("reason", reason).Msg("NO_ENTRY")
					continue
				}

				reason := fmt.Sprintf("max slots reached (%d), rotation limit reached (%d/cycle)", c.Config.MaxSlots, RotationMaxPerCycle)
				_ = c.saveWatchlist(ctx, cand, sc, reason)
				noEntryCount++
				log.Info().Str("symbol", cand.Symbol).Str("reason", reason).Msg("NO_ENTRY")
				continue
			}

			if err := c.enterHolding(ctx, cand, sc, false); err != nil {
				return CycleResult{CycleID: cycleID}, err
			}
			entryCount++
		}
	}

	log.Info().
		Int("stop_loss", c.cycleStats.StopLoss).
		Int("rotation", c.cycleStats.Rotation).
		Int("normal", c.cycleStats.Normal).
		Int("total_sold", sold).
		Msg("cycle exit summary")

	return CycleResult{
		CycleID:    cycleID,
		EntryCount: entryCount,
		NoEntry:    noEntryCount,
		Sold:       sold,
		Stats:      c.cycleStats,
	}, nil
}
