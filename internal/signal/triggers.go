// Package signal implements the TriggerBank (C3) and FinalSelector (C4):
// three threshold-gated predicates over the feature snapshot, adaptive
// threshold tightening, per-trigger scoring, and the two-pass hybrid
// selector with a fallback path.
//
// The gated-predicate-producing-a-typed-decision shape is carried from
// the teacher's internal/strategy/trend_follow.go; exact gates, weights,
// and agent-fit formulas are ported from
// original_source/crypto/crypto_trigger_batch.py.
package signal

import (
	"math"
	"sort"

	"github.com/nitinkhare/cryptoswing/internal/model"
)

// TriggerName identifies one of the three triggers, or the fallback path.
type TriggerName string

const (
	TriggerVolumeMomentum  TriggerName = "Volume-Momentum"
	TriggerVolatilityTrend TriggerName = "Volatility-Trend"
	TriggerRangeBreakout   TriggerName = "Range-Breakout"
	TriggerFallback        TriggerName = "Fallback Momentum"
)

// TriggerOrder is the fixed evaluation order used by Pass 1 of the
// selector (SPEC_FULL.md §4.4).
var TriggerOrder = []TriggerName{TriggerVolumeMomentum, TriggerVolatilityTrend, TriggerRangeBreakout}

// Thresholds are the base gate thresholds before adaptive tightening.
// Values are ported from original_source/crypto/crypto_trigger_batch.py;
// the Range-Breakout breakout_pct floor uses the spec's explicit -0.05
// (the original source uses 0.1 for this particular field, but the
// specification is authoritative where the two disagree).
type Thresholds struct {
	VolumeRatioMin       float64 // T.vr_min
	Ret1Min              float64 // T.r1_min
	Ret4Min              float64 // T.r4_min
	BreakoutVolumeRatioMin float64 // T.brk_vr_min
}

// DefaultThresholds returns the unscaled base thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VolumeRatioMin:         1.8,
		Ret1Min:                0.8,
		Ret4Min:                1.2,
		BreakoutVolumeRatioMin: 1.5,
	}
}

// TightenFactor scales how aggressively rising volatility tightens gates.
const TightenFactor = 0.25

// MaxTighten caps the tightening multiplier (SPEC_FULL.md §4.3).
const MaxTighten = 0.25

// AdaptiveTighten computes the tighten multiplier from the median
// atr_expansion across the candidate set and scales base thresholds.
func AdaptiveTighten(rows []model.SnapshotRow, base Thresholds) Thresholds {
	tighten := math.Min(math.Max(medianATRExpansion(rows)-1, 0)*TightenFactor, MaxTighten)
	scale := 1 + tighten
	return Thresholds{
		VolumeRatioMin:         base.VolumeRatioMin * scale,
		Ret1Min:                base.Ret1Min * scale,
		Ret4Min:                base.Ret4Min * scale,
		BreakoutVolumeRatioMin: base.BreakoutVolumeRatioMin * scale,
	}
}

func medianATRExpansion(rows []model.SnapshotRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	vals := make([]float64, len(rows))
	for i, r := range rows {
		vals[i] = r.ATRExpansion
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// TopN is the default number of candidates each trigger keeps.
const TopN = 10

// scoreWeight is one (column accessor, weight) pair used for the
// trigger-local composite score.
type scoreWeight struct {
	name   string
	weight float64
	value  func(model.SnapshotRow) float64
}

func amount(r model.SnapshotRow) float64      { return r.Amount }
func volRatio(r model.SnapshotRow) float64    { return r.VolumeRatio20 }
func ret1(r model.SnapshotRow) float64        { return r.Ret1Pct }
func ret4(r model.SnapshotRow) float64        { return r.Ret4Pct }
func atrExpansion(r model.SnapshotRow) float64 { return r.ATRExpansion }
func trendGap(r model.SnapshotRow) float64    { return r.TrendGapPct }
func breakout(r model.SnapshotRow) float64    { return r.BreakoutPct }

// EvaluateVolumeMomentum gates on volume_ratio_20, ret_1_pct, and the
// EMA crossover, scoring 0.45 vr + 0.35 r1 + 0.20 amount.
func EvaluateVolumeMomentum(rows []model.SnapshotRow, t Thresholds) []model.TriggerCandidate {
	var gated []model.SnapshotRow
	for _, r := range rows {
		if r.VolumeRatio20 >= t.VolumeRatioMin && r.Ret1Pct >= t.Ret1Min && r.EMA20GTEMA50 {
			gated = append(gated, r)
		}
	}
	weights := []scoreWeight{
		{"volume_ratio_20", 0.45, volRatio},
		{"ret_1_pct", 0.35, ret1},
		{"amount", 0.20, amount},
	}
	return scoreAndRank(TriggerVolumeMomentum, gated, weights, TopN)
}

// EvaluateVolatilityTrend gates on atr_expansion, ret_4_pct, and the EMA
// crossover, scoring 0.40 atr_exp + 0.35 gap + 0.25 amount.
func EvaluateVolatilityTrend(rows []model.SnapshotRow, t Thresholds) []model.TriggerCandidate {
	var gated []model.SnapshotRow
	for _, r := range rows {
		if r.ATRExpansion >= 1 && r.Ret4Pct >= t.Ret4Min && r.EMA20GTEMA50 {
			gated = append(gated, r)
		}
	}
	weights := []scoreWeight{
		{"atr_expansion", 0.40, atrExpansion},
		{"trend_gap_pct", 0.35, trendGap},
		{"amount", 0.25, amount},
	}
	return scoreAndRank(TriggerVolatilityTrend, gated, weights, TopN)
}

// EvaluateRangeBreakout gates on breakout_pct, volume_ratio_20, and
// non-negative ret_1_pct, scoring 0.45 brk + 0.35 vr + 0.20 amount.
func EvaluateRangeBreakout(rows []model.SnapshotRow, t Thresholds) []model.TriggerCandidate {
	var gated []model.SnapshotRow
	for _, r := range rows {
		if r.BreakoutPct >= -0.05 && r.VolumeRatio20 >= t.BreakoutVolumeRatioMin && r.Ret1Pct >= 0 {
			gated = append(gated, r)
		}
	}
	weights := []scoreWeight{
		{"breakout_pct", 0.45, breakout},
		{"volume_ratio_20", 0.35, volRatio},
		{"amount", 0.20, amount},
	}
	return scoreAndRank(TriggerRangeBreakout, gated, weights, TopN)
}

// scoreAndRank applies per-column min-max normalization across the gated
// set, computes the weighted composite score, attaches agent-fit
// metrics, and returns the top-N candidates sorted desc by composite
// score.
func scoreAndRank(trigger TriggerName, rows []model.SnapshotRow, weights []scoreWeight, topN int) []model.TriggerCandidate {
	if len(rows) == 0 {
		return nil
	}

	norm := make([][]float64, len(weights))
	for wi, w := range weights {
		vals := make([]float64, len(rows))
		for i, r := range rows {
			vals[i] = w.value(r)
		}
		norm[wi] = minMaxNormalize(vals)
	}

	totalWeight := 0.0
	for _, w := range weights {
		totalWeight += w.weight
	}

	out := make([]model.TriggerCandidate, len(rows))
	for i, r := range rows {
		var score float64
		for wi, w := range weights {
			score += norm[wi][i] * w.weight
		}
		score /= totalWeight

		c := model.TriggerCandidate{SnapshotRow: r, TriggerName: string(trigger), CompositeScore: score}
		applyAgentFit(&c)
		out[i] = c
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CompositeScore > out[j].CompositeScore })
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func minMaxNormalize(vals []float64) []float64 {
	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(vals))
	span := hi - lo
	for i, v := range vals {
		if span == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (v - lo) / span
	}
	return out
}

// applyAgentFit computes the risk/liquidity-blended agent-fit metrics
// (SPEC_FULL.md §4.3) in place.
func applyAgentFit(c *model.TriggerCandidate) {
	stopLossPct := clamp(1.2*c.ATRPct, 0.02, 0.06)
	targetPct := math.Max(2*stopLossPct, 0.05)
	rr := targetPct / stopLossPct

	c.StopLossPct = stopLossPct
	c.TargetPct = targetPct
	c.StopLossPrice = c.Close * (1 - stopLossPct)
	c.TargetPrice = c.Close * (1 + targetPct)
	c.RiskRewardRatio = rr
	c.AgentFitScore = 0.65*math.Min(rr/2, 1) + 0.35*math.Min(c.VolumeRatio20/2.5, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
