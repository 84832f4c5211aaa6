package benchmark

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	history  []model.TradeHistoryRow
	holdings []model.Holding
	execs    []model.OrderExecution
}

func (f fakeStore) ListTradeHistory(context.Context, time.Time) ([]model.TradeHistoryRow, error) {
	return f.history, nil
}

func (f fakeStore) ListHoldings(context.Context) ([]model.Holding, error) {
	return f.holdings, nil
}

func (f fakeStore) ListOrderExecutions(context.Context, time.Time) ([]model.OrderExecution, error) {
	return f.execs, nil
}

type fakePrices struct {
	series map[string][]DailyPrice
	err    error
}

func (f fakePrices) FetchDailySeries(_ context.Context, coinID string, _ int) ([]DailyPrice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.series[coinID], nil
}

func mustParse(t *testing.T, layout, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(layout, value)
	require.NoError(t, err)
	return tm
}

func TestDailyPnLPrefersNotionalOverQuantityTimesBuyPrice(t *testing.T) {
	history := []model.TradeHistoryRow{
		{Symbol: "BTC-USD", NotionalUSD: 1000, ProfitRate: 10, SellDate: mustParse(t, model.WallClock, "2026-01-05 00:00:00")},
		{Symbol: "ETH-USD", Quantity: 2, BuyPrice: 500, ProfitRate: -5, SellDate: mustParse(t, model.WallClock, "2026-01-05 00:00:00")},
	}
	byDay, count, winRate := dailyPnL(history)
	assert.Equal(t, 2, count)
	assert.InDelta(t, 50.0, winRate, 1e-9) // 1 of 2 trades profitable
	assert.InDelta(t, 100.0-50.0, byDay["2026-01-05"], 1e-9)
}

func TestUnrealizedPnLSumsAcrossHoldings(t *testing.T) {
	holdings := []model.Holding{
		{Symbol: "BTC-USD", BuyPrice: 100, CurrentPrice: 110, Quantity: 2},
		{Symbol: "ETH-USD", BuyPrice: 50, CurrentPrice: 45, Quantity: 4},
	}
	total, count := unrealizedPnL(holdings)
	assert.Equal(t, 2, count)
	assert.InDelta(t, 20-20, total, 1e-9)
}

func TestHoldingSnapshotsComputeWeightByMarketValue(t *testing.T) {
	holdings := []model.Holding{
		{Symbol: "BTC-USD", BuyPrice: 100, CurrentPrice: 100, Quantity: 3, BuyDate: mustParse(t, "2006-01-02", "2026-01-01")},
		{Symbol: "ETH-USD", BuyPrice: 100, CurrentPrice: 100, Quantity: 1, BuyDate: mustParse(t, "2006-01-02", "2026-01-02")},
	}
	out := holdingSnapshots(holdings)
	require.Len(t, out, 2)
	assert.InDelta(t, 75.0, out[0].WeightPct, 1e-6)
	assert.InDelta(t, 25.0, out[1].WeightPct, 1e-6)
}

func TestOrderExecutionSnapshotsMatchesNearestSellWithinWindow(t *testing.T) {
	created := mustParse(t, model.WallClock, "2026-01-05 12:00:00")
	execs := []model.OrderExecution{
		{Symbol: "BTC-USD", Side: model.OrderSideSell, Status: model.OrderStatusFilled, CreatedAt: created, Metadata: "stop loss triggered"},
	}
	history := []model.TradeHistoryRow{
		{Symbol: "BTC-USD", ProfitRate: -3.5, SellDate: created.Add(30 * time.Second)},
	}
	out := orderExecutionSnapshots(execs, history)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].RealizedPnLPct)
	assert.InDelta(t, -3.5, *out[0].RealizedPnLPct, 1e-9)
	require.NotNil(t, out[0].ExitType)
	assert.Equal(t, "stop_loss", *out[0].ExitType)
	require.NotNil(t, out[0].ExitReasonType)
	assert.Equal(t, "stop_loss", *out[0].ExitReasonType)
}

func TestOrderExecutionSnapshotsIgnoresSellOutsideFiveMinuteWindow(t *testing.T) {
	created := mustParse(t, model.WallClock, "2026-01-05 12:00:00")
	execs := []model.OrderExecution{
		{Symbol: "BTC-USD", Side: model.OrderSideSell, Status: model.OrderStatusFilled, CreatedAt: created},
	}
	history := []model.TradeHistoryRow{
		{Symbol: "BTC-USD", ProfitRate: 8, SellDate: created.Add(10 * time.Minute)},
	}
	out := orderExecutionSnapshots(execs, history)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].RealizedPnLPct)
}

func TestExitReasonCountsOnlyCountsFilledSells(t *testing.T) {
	execs := []model.OrderExecution{
		{Side: model.OrderSideSell, Status: model.OrderStatusFilled, Metadata: "rotation replace: BTC-USD"},
		{Side: model.OrderSideSell, Status: model.OrderStatusFilled, Metadata: "trailing stop hit"},
		{Side: model.OrderSideSell, Status: model.OrderStatusFilled, Metadata: ""},
		{Side: model.OrderSideBuy, Status: model.OrderStatusFilled, Metadata: "rotation replace: ETH-USD"},
		{Side: model.OrderSideSell, Status: model.OrderStatusUnfilled, Metadata: "rotation replace: SOL-USD"},
	}
	counts := exitReasonCounts(execs)
	assert.Equal(t, 1, counts["rotation"])
	assert.Equal(t, 1, counts["stop_loss"])
	assert.Equal(t, 1, counts["normal"])
}

func TestBuildUniverseEqualWeightSeriesCarriesForwardLastKnownPrice(t *testing.T) {
	ex := NewExporter(fakeStore{}, fakePrices{series: map[string][]DailyPrice{
		"bitcoin": {{Date: "2026-01-01", Price: 100}, {Date: "2026-01-03", Price: 110}},
	}}, "", 1000, []string{"BTC-USD"})

	series := ex.BuildUniverseEqualWeightSeries(context.Background(), 3, []string{"2026-01-01", "2026-01-02", "2026-01-03"})
	require.Len(t, series, 3)
	assert.InDelta(t, 0.0, series[0].Price, 1e-9)
	assert.InDelta(t, 0.0, series[1].Price, 1e-9) // carried forward, no new 01-02 price
	assert.InDelta(t, 10.0, series[2].Price, 1e-9)
}

func TestBuildUniverseEqualWeightSeriesEmptyWhenFetcherFails(t *testing.T) {
	ex := NewExporter(fakeStore{}, fakePrices{err: assertErr{}}, "", 1000, []string{"BTC-USD"})
	series := ex.BuildUniverseEqualWeightSeries(context.Background(), 3, []string{"2026-01-01"})
	assert.Empty(t, series)
}

type assertErr struct{}

func (assertErr) Error() string { return "fetch failed" }

func TestBuildSnapshotProducesAlphaAgainstBTCAndUniverse(t *testing.T) {
	store := fakeStore{
		history: []model.TradeHistoryRow{
			{Symbol: "BTC-USD", NotionalUSD: 500, ProfitRate: 20, SellDate: mustParse(t, model.WallClock, "2026-01-02 00:00:00")},
		},
		holdings: []model.Holding{
			{Symbol: "ETH-USD", BuyPrice: 100, CurrentPrice: 120, Quantity: 1, BuyDate: mustParse(t, "2006-01-02", "2026-01-01")},
		},
		execs: []model.OrderExecution{
			{Symbol: "BTC-USD", Side: model.OrderSideBuy, Status: model.OrderStatusFilled, CreatedAt: mustParse(t, model.WallClock, "2026-01-01 00:00:00")},
		},
	}
	prices := fakePrices{series: map[string][]DailyPrice{
		"bitcoin": {{Date: "2026-01-01", Price: 100}, {Date: "2026-01-02", Price: 105}},
	}}
	ex := NewExporter(store, prices, "", 1000, []string{"BTC-USD"})

	snap, err := ex.BuildSnapshot(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, snap.Points, 2)
	assert.Equal(t, 1, snap.Summary.TotalTrades)
	assert.InDelta(t, 100.0, snap.Summary.WinRate, 1e-9)
	assert.Equal(t, 1, snap.Summary.OpenPositions)
	assert.InDelta(t, snap.Summary.AlgorithmReturnPct-snap.Summary.BTCReturnPct, snap.Summary.AlphaPct, 1e-6)
	require.Len(t, snap.Holdings, 1)
	require.Len(t, snap.OrderExecutions, 1)
}

func TestBuildSnapshotFallsBackWhenPriceFeedFails(t *testing.T) {
	store := fakeStore{
		execs: []model.OrderExecution{
			{Symbol: "BTC-USD", Side: model.OrderSideBuy, Status: model.OrderStatusFilled,
				ExecutedPrice: 100, CreatedAt: mustParse(t, model.WallClock, "2026-01-01 00:00:00")},
		},
	}
	ex := NewExporter(store, fakePrices{err: assertErr{}}, "", 1000, nil)

	snap, err := ex.BuildSnapshot(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Points)
}

func TestParseRecentCyclesHandlesStaleRunningCycle(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-time.Hour).Format("2006/01/02 15:04:05")
	content := old + " scheduler.go:140: [scheduler] starting trading cycle\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine_20260101.log"), []byte(content), 0o644))

	cycles, err := ParseRecentCycles(dir, 20, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "failed", cycles[0].Status)
	assert.Contains(t, cycles[0].Error, "stale")
}

func TestParseRecentCyclesMarksSuccessOnCompletionMarker(t *testing.T) {
	dir := t.TempDir()
	start := time.Now().Add(-time.Minute).Format("2006/01/02 15:04:05")
	end := time.Now().Format("2006/01/02 15:04:05")
	content := start + " scheduler.go:140: [scheduler] starting trading cycle\n" +
		end + " scheduler.go:150: [scheduler] trading cycle complete entry=2, no_entry=3, sold=1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine_20260101.log"), []byte(content), 0o644))

	cycles, err := ParseRecentCycles(dir, 20, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "success", cycles[0].Status)
	assert.Equal(t, 2, cycles[0].EntryCount)
	assert.Equal(t, 3, cycles[0].NoEntry)
	assert.Equal(t, 1, cycles[0].SoldCount)
}

func TestFormatSummaryReturnsPlaceholderWhenEmpty(t *testing.T) {
	assert.Equal(t, "No benchmark data available.", FormatSummary(nil))
}
