package signal

import (
	"testing"

	"github.com/nitinkhare/cryptoswing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(symbol string, composite, agentFit float64) model.TriggerCandidate {
	return model.TriggerCandidate{
		SnapshotRow:    model.SnapshotRow{Symbol: symbol},
		CompositeScore: composite,
		AgentFitScore:  agentFit,
	}
}

func TestSelectFinalPass1OnePerTrigger(t *testing.T) {
	results := TriggerResults{
		TriggerVolumeMomentum:  {candidate("BTC-USD", 0.9, 0.8), candidate("ETH-USD", 0.5, 0.5)},
		TriggerVolatilityTrend: {candidate("SOL-USD", 0.9, 0.8)},
		TriggerRangeBreakout:   {candidate("AVAX-USD", 0.9, 0.8)},
	}

	out := SelectFinal(results, nil, 3)
	total := 0
	seen := map[string]bool{}
	for _, cands := range out {
		for _, c := range cands {
			seen[c.Symbol] = true
			total++
		}
	}
	assert.Equal(t, 3, total)
	assert.True(t, seen["BTC-USD"])
	assert.True(t, seen["SOL-USD"])
	assert.True(t, seen["AVAX-USD"])
}

func TestSelectFinalPass2AddsNothingWhenNoCandidatesRemain(t *testing.T) {
	results := TriggerResults{
		TriggerVolumeMomentum: {candidate("BTC-USD", 0.9, 0.9)},
	}
	out := SelectFinal(results, nil, 3)

	total := 0
	for _, cands := range out {
		total += len(cands)
	}
	assert.Equal(t, 1, total, "only one candidate exists across all triggers")
}

func TestSelectFinalDedupesAcrossTriggers(t *testing.T) {
	results := TriggerResults{
		TriggerVolumeMomentum:  {candidate("BTC-USD", 0.9, 0.9)},
		TriggerVolatilityTrend: {candidate("BTC-USD", 0.8, 0.8)},
	}
	out := SelectFinal(results, nil, 3)

	count := 0
	for _, cands := range out {
		for _, c := range cands {
			if c.Symbol == "BTC-USD" {
				count++
			}
		}
	}
	assert.Equal(t, 1, count, "same symbol must not be selected twice across triggers")
}

func TestSelectFinalFallsBackWhenAllTriggersEmpty(t *testing.T) {
	rows := []model.SnapshotRow{
		{Symbol: "BTC-USD", EMA20GTEMA50: true, VolumeRatio20: 1.2, Amount: 1000, Ret4Pct: 1, TrendGapPct: 1, ATRPct: 0.03},
		{Symbol: "ETH-USD", EMA20GTEMA50: false, VolumeRatio20: 0.1, Amount: 10, Ret4Pct: -1, TrendGapPct: -1, ATRPct: 0.03},
	}
	out := SelectFinal(TriggerResults{}, rows, 3)

	require.Contains(t, out, TriggerFallback)
	assert.LessOrEqual(t, len(out[TriggerFallback]), FallbackMaxEntries)
	assert.Equal(t, "BTC-USD", out[TriggerFallback][0].Symbol)
}
