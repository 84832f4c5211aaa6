package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/cryptoswing/internal/exchange"
	"github.com/nitinkhare/cryptoswing/internal/model"
	"github.com/nitinkhare/cryptoswing/internal/oracle"
	"github.com/nitinkhare/cryptoswing/internal/signal"
)

func TestRefreshTrailingStateDoesNotActivateBelowThreshold(t *testing.T) {
	h := model.Holding{BuyPrice: 100, CurrentPrice: 102, StopLoss: 95}
	stop := RefreshTrailingState(&h)
	assert.False(t, h.Trailing.Active)
	assert.Equal(t, 95.0, stop)
}

func TestRefreshTrailingStateActivatesAndTiers(t *testing.T) {
	h := model.Holding{BuyPrice: 100, CurrentPrice: 105, StopLoss: 95}
	stop := RefreshTrailingState(&h)
	require.True(t, h.Trailing.Active)
	assert.InDelta(t, 105*(1-TrailingBufferLowTier), stop, 1e-9)

	h.CurrentPrice = 120 // 20% profit -> highest tier
	stop = RefreshTrailingState(&h)
	assert.InDelta(t, 120*(1-TrailingBufferHighTier), stop, 1e-9)
}

func TestRefreshTrailingStateNeverLowersBelowBaseStop(t *testing.T) {
	h := model.Holding{BuyPrice: 100, CurrentPrice: 104, StopLoss: 103}
	stop := RefreshTrailingState(&h)
	assert.Equal(t, 103.0, stop)
}

func TestEvaluateExitStopLossPriority(t *testing.T) {
	now := time.Now()
	h := model.Holding{BuyPrice: 100, CurrentPrice: 94, BuyDate: now.Add(-time.Hour)}
	sell, reason := EvaluateExit(h, 95, now)
	assert.True(t, sell)
	assert.Contains(t, reason, "stop loss reached")
}

func TestEvaluateExitTrailingStopReached(t *testing.T) {
	now := time.Now()
	h := model.Holding{BuyPrice: 100, CurrentPrice: 100, BuyDate: now.Add(-time.Hour)}
	h.Trailing.Active = true
	h.Trailing.DynamicStop = 101
	sell, reason := EvaluateExit(h, 101, now)
	assert.True(t, sell)
	assert.Contains(t, reason, "trailing stop reached")
}

func TestEvaluateExitTargetReached(t *testing.T) {
	now := time.Now()
	h := model.Holding{BuyPrice: 100, CurrentPrice: 120, TargetPrice: 115, BuyDate: now.Add(-time.Hour)}
	sell, reason := EvaluateExit(h, 0, now)
	assert.True(t, sell)
	assert.Contains(t, reason, "target reached")
}

func TestEvaluateExitLossGuard(t *testing.T) {
	now := time.Now()
	h := model.Holding{BuyPrice: 100, CurrentPrice: 94.9, BuyDate: now.Add(-time.Hour)}
	sell, reason := EvaluateExit(h, 0, now)
	assert.True(t, sell)
	assert.Contains(t, reason, "loss guard")
}

func TestEvaluateExitTimeBasedTakeProfit(t *testing.T) {
	now := time.Now()
	h := model.Holding{BuyPrice: 100, CurrentPrice: 105, BuyDate: now.Add(-73 * time.Hour)}
	sell, reason := EvaluateExit(h, 0, now)
	assert.True(t, sell)
	assert.Contains(t, reason, "time-based take-profit")
}

func TestEvaluateExitStaleLoser(t *testing.T) {
	now := time.Now()
	h := model.Holding{BuyPrice: 100, CurrentPrice: 99, BuyDate: now.Add(-169 * time.Hour)}
	sell, reason := EvaluateExit(h, 0, now)
	assert.True(t, sell)
	assert.Contains(t, reason, "stale losing position")
}

func TestEvaluateExitHoldsOtherwise(t *testing.T) {
	now := time.Now()
	h := model.Holding{BuyPrice: 100, CurrentPrice: 101, BuyDate: now.Add(-time.Hour)}
	sell, reason := EvaluateExit(h, 0, now)
	assert.False(t, sell)
	assert.Equal(t, "hold", reason)
}

func TestClassifyExitReason(t *testing.T) {
	assert.Equal(t, model.ExitCategoryRotation, ClassifyExitReason("rotation replace: BTC-USD -> ETH-USD"))
	assert.Equal(t, model.ExitCategoryStopLoss, ClassifyExitReason("stop loss reached (1 <= 2)"))
	assert.Equal(t, model.ExitCategoryStopLoss, ClassifyExitReason("trailing stop reached"))
	assert.Equal(t, model.ExitCategoryStopLoss, ClassifyExitReason("loss guard triggered (-6.00%)"))
	assert.Equal(t, model.ExitCategoryNormal, ClassifyExitReason("target reached"))
}

// fakeStore is an in-memory Store used to exercise ProcessCandidates
// end-to-end without a real database.
type fakeStore struct {
	holdings       map[string]model.Holding
	trades         []model.TradeHistoryRow
	watchlist      []model.WatchlistRow
	decisions      []model.HoldingDecisionRow
	lastSellDate   map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		holdings:     map[string]model.Holding{},
		lastSellDate: map[string]time.Time{},
	}
}

func (s *fakeStore) ListHoldings(context.Context) ([]model.Holding, error) {
	out := make([]model.Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		out = append(out, h)
	}
	return out, nil
}

func (s *fakeStore) IsHeld(_ context.Context, symbol string) (bool, error) {
	_, ok := s.holdings[symbol]
	return ok, nil
}

func (s *fakeStore) CountHoldings(context.Context) (int, error) { return len(s.holdings), nil }

func (s *fakeStore) UpsertHolding(_ context.Context, h model.Holding) error {
	s.holdings[h.Symbol] = h
	return nil
}

func (s *fakeStore) DeleteHolding(_ context.Context, symbol string) error {
	delete(s.holdings, symbol)
	return nil
}

func (s *fakeStore) InsertTradeHistory(_ context.Context, row model.TradeHistoryRow) error {
	s.trades = append(s.trades, row)
	s.lastSellDate[row.Symbol] = row.SellDate
	return nil
}

func (s *fakeStore) InsertWatchlist(_ context.Context, row model.WatchlistRow) error {
	s.watchlist = append(s.watchlist, row)
	return nil
}

func (s *fakeStore) InsertHoldingDecision(_ context.Context, row model.HoldingDecisionRow) error {
	s.decisions = append(s.decisions, row)
	return nil
}

func (s *fakeStore) LastSellDate(_ context.Context, symbol string) (time.Time, bool, error) {
	t, ok := s.lastSellDate[symbol]
	return t, ok, nil
}

type fakeMarket struct{ price float64 }

func (f fakeMarket) FetchBars(context.Context, string, string, string) ([]model.Bar, error) {
	return nil, nil
}

func (f fakeMarket) SpotPrice(context.Context, string) (float64, error) { return f.price, nil }

func newTestController(store Store, ex exchange.Exchange, orc oracle.Oracle, price float64) *Controller {
	c := NewController(store, ex, orc, fakeMarket{price: price}, DefaultConfig(), zerolog.Nop())
	return c
}

func candidate(symbol string, finalScore float64) model.TriggerCandidate {
	return model.TriggerCandidate{
		SnapshotRow:     model.SnapshotRow{Symbol: symbol, Close: 100},
		FinalScore:      finalScore,
		RiskRewardRatio: 2.0,
	}
}

func TestProcessCandidatesEntersNewHoldingWhenSlotAvailable(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil, oracle.NewHeuristicOracle(), 100)

	results := signal.TriggerResults{
		signal.TriggerVolumeMomentum: {candidate("BTC-USD", 0.9)},
	}
	res, err := c.ProcessCandidates(context.Background(), results)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EntryCount)
	assert.Equal(t, 0, res.NoEntry)
	assert.Contains(t, store.holdings, "BTC-USD")
}

func TestProcessCandidatesSkipsAlreadyHeldSymbol(t *testing.T) {
	store := newFakeStore()
	store.holdings["BTC-USD"] = model.Holding{Symbol: "BTC-USD", BuyPrice: 100, CurrentPrice: 100, BuyDate: time.Now()}
	c := newTestController(store, nil, oracle.NewHeuristicOracle(), 100)

	results := signal.TriggerResults{
		signal.TriggerVolumeMomentum: {candidate("BTC-USD", 0.9)},
	}
	res, err := c.ProcessCandidates(context.Background(), results)
	require.NoError(t, err)
	assert.Equal(t, 0, res.EntryCount)
	assert.Equal(t, 0, res.NoEntry)
}

func TestProcessCandidatesWatchlistsWhenOracleRejects(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, nil, oracle.NewHeuristicOracle(), 100)

	results := signal.TriggerResults{
		signal.TriggerVolumeMomentum: {candidate("ETH-USD", 0.01)}, // final_score too low -> no_entry
	}
	res, err := c.ProcessCandidates(context.Background(), results)
	require.NoError(t, err)
	assert.Equal(t, 0, res.EntryCount)
	assert.Equal(t, 1, res.NoEntry)
	require.Len(t, store.watchlist, 1)
}

func TestProcessCandidatesRespectsReentryCooldown(t *testing.T) {
	store := newFakeStore()
	store.lastSellDate["BTC-USD"] = time.Now().Add(-time.Minute)
	c := newTestController(store, nil, oracle.NewHeuristicOracle(), 100)
	c.Config.RotationCooldownHours = 1

	results := signal.TriggerResults{
		signal.TriggerVolumeMomentum: {candidate("BTC-USD", 0.9)},
	}
	res, err := c.ProcessCandidates(context.Background(), results)
	require.NoError(t, err)
	assert.Equal(t, 0, res.EntryCount)
	assert.Equal(t, 1, res.NoEntry)
	require.Len(t, store.watchlist, 1)
	assert.Contains(t, store.watchlist[0].SkipReason, "cooldown")
}

func TestUpdateHoldingsSellsOnLossGuard(t *testing.T) {
	store := newFakeStore()
	store.holdings["BTC-USD"] = model.Holding{
		Symbol: "BTC-USD", BuyPrice: 100, CurrentPrice: 100, BuyDate: time.Now().Add(-time.Hour),
	}
	c := newTestController(store, nil, oracle.NewHeuristicOracle(), 94) // -6% triggers loss guard

	sold, err := c.UpdateHoldings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sold)
	assert.NotContains(t, store.holdings, "BTC-USD")
	require.Len(t, store.trades, 1)
	assert.Equal(t, "BTC-USD", store.trades[0].Symbol)
}
