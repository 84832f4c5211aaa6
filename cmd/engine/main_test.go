package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitinkhare/cryptoswing/internal/config"
	"github.com/nitinkhare/cryptoswing/internal/model"
	tsignal "github.com/nitinkhare/cryptoswing/internal/signal"
)

// discardLogger is the test double for the *log.Logger the daemon threads
// through every helper; tests only assert on return values, never on log
// output.
func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeMarket is a minimal market.MarketData double for the pure helpers in
// this package; internal/market has its own fuller fakes for the retry and
// resampling algorithms themselves.
type fakeMarket struct {
	bars      map[string][]model.Bar
	spotErr   map[string]error
	spotPrice map[string]float64
}

func (f fakeMarket) FetchBars(_ context.Context, symbol, _, _ string) ([]model.Bar, error) {
	return f.bars[symbol], nil
}

func (f fakeMarket) SpotPrice(_ context.Context, symbol string) (float64, error) {
	if err, ok := f.spotErr[symbol]; ok {
		return 0, err
	}
	return f.spotPrice[symbol], nil
}

func TestApplyFlagOverridesOnlySetsExplicitFlags(t *testing.T) {
	cfg := &config.Config{
		TradingMode:    config.ModePaper,
		Timeframe:      "4h",
		Language:       "en",
		QuoteAmountUSD: 50,
		DatabaseURL:    "postgres://original",
	}

	applyFlagOverrides(cfg, map[string]bool{"timeframe": true}, "ignored-db", "ko", "1h", "paper", 999, 12)

	assert.Equal(t, "1h", cfg.Timeframe)
	assert.Equal(t, "postgres://original", cfg.DatabaseURL, "db-path was not explicitly set, so config value survives")
	assert.Equal(t, "en", cfg.Language, "language was not explicitly set, so config value survives")
	assert.Equal(t, 50.0, cfg.QuoteAmountUSD)
}

func TestApplyFlagOverridesAppliesEveryExplicitFlag(t *testing.T) {
	cfg := &config.Config{TradingMode: config.ModePaper, Timeframe: "4h", QuoteAmountUSD: 50}

	explicit := map[string]bool{
		"db-path": true, "language": true, "timeframe": true,
		"trade-mode": true, "quote-amount": true, "rotation-reentry-cooldown-hours": true,
	}
	applyFlagOverrides(cfg, explicit, "postgres://new", "ko", "1h", "real", 250, 6)

	assert.Equal(t, "postgres://new", cfg.DatabaseURL)
	assert.Equal(t, "ko", cfg.Language)
	assert.Equal(t, "1h", cfg.Timeframe)
	assert.Equal(t, config.Mode("real"), cfg.TradingMode, "override is applied even though Validate rejects it downstream")
	assert.Equal(t, 250.0, cfg.QuoteAmountUSD)
	assert.Equal(t, 6.0, cfg.Portfolio.RotationCooldownHours)
}

func TestCheckUniverseLivenessPassesWhenAnySymbolResponds(t *testing.T) {
	mkt := fakeMarket{
		spotErr:   map[string]error{"BTC-USD": assert.AnError},
		spotPrice: map[string]float64{"ETH-USD": 2000},
	}
	universe := []config.UniverseEntry{{Symbol: "BTC-USD"}, {Symbol: "ETH-USD"}}

	err := checkUniverseLiveness(context.Background(), universe, mkt, discardLogger())
	assert.NoError(t, err)
}

func TestCheckUniverseLivenessFailsWhenEverySymbolFails(t *testing.T) {
	mkt := fakeMarket{spotErr: map[string]error{"BTC-USD": assert.AnError, "ETH-USD": assert.AnError}}
	universe := []config.UniverseEntry{{Symbol: "BTC-USD"}, {Symbol: "ETH-USD"}}

	err := checkUniverseLiveness(context.Background(), universe, mkt, discardLogger())
	assert.Error(t, err)
}

func TestBuildLiveCandidatesErrorsWhenNoSymbolHasEnoughBars(t *testing.T) {
	mkt := fakeMarket{bars: map[string][]model.Bar{"BTC-USD": tooFewBars(10)}}
	cfg := &config.Config{Timeframe: "4h", Universe: []config.UniverseEntry{{Symbol: "BTC-USD", Theme: "layer1"}}}

	_, err := buildLiveCandidates(context.Background(), cfg, mkt, discardLogger())
	assert.Error(t, err)
}

func TestCandidatesJSONRoundTrip(t *testing.T) {
	results := tsignal.TriggerResults{
		tsignal.TriggerVolumeMomentum: {
			{
				SnapshotRow: model.SnapshotRow{
					Symbol: "BTC-USD", Close: 50000, Volume: 12.5, Amount: 625000,
					Ret1Pct: 1.2, Ret4Pct: 3.4, VolumeRatio20: 2.1, ATRPct: 0.03, Theme: "layer1",
				},
				TriggerName:     string(tsignal.TriggerVolumeMomentum),
				CompositeScore:  0.81,
				StopLossPct:     0.03,
				StopLossPrice:   48500,
				TargetPct:       0.06,
				TargetPrice:     53000,
				RiskRewardRatio: 2.0,
				AgentFitScore:   0.7,
				FinalScore:      0.75,
			},
		},
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "candidates.json")
	require.NoError(t, writeCandidatesJSON(path, results, newMetadata("4h", 16)))

	loaded, err := loadCandidatesJSON(path)
	require.NoError(t, err)

	got := loaded[tsignal.TriggerVolumeMomentum]
	require.Len(t, got, 1)
	assert.Equal(t, "BTC-USD", got[0].Symbol)
	assert.Equal(t, 50000.0, got[0].Close)
	assert.Equal(t, 625000.0, got[0].Amount)
	assert.Equal(t, 0.75, got[0].FinalScore)
	assert.Equal(t, string(tsignal.TriggerVolumeMomentum), got[0].TriggerName)
}

func TestLoadCandidatesJSONSkipsMetadataKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candidates.json")
	require.NoError(t, writeCandidatesJSON(path, tsignal.TriggerResults{}, newMetadata("1h", 3)))

	loaded, err := loadCandidatesJSON(path)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func tooFewBars(n int) []model.Bar {
	out := make([]model.Bar, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = model.Bar{Timestamp: base.Add(time.Duration(i) * time.Hour), Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
	}
	return out
}
