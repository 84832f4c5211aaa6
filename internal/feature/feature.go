// Package feature builds the per-symbol, per-cycle feature snapshot (C2)
// consumed by the trigger bank.
//
// The pure, stateless function-over-a-bar-slice style is carried from the
// teacher's internal/strategy/indicators.go; the formulas themselves are
// ported from original_source/crypto/crypto_trigger_batch.py (_ema,
// _atr_percent, build_snapshot).
package feature

import (
	"math"

	"github.com/nitinkhare/cryptoswing/internal/model"
)

// MinBars is the minimum bar count required to build a snapshot row; rows
// with fewer bars are dropped (SPEC_FULL.md §4.2).
const MinBars = 60

// EMA computes the exponential moving average of closing prices with the
// given span, matching pandas' ewm(span=span, adjust=False).mean(): seeded
// by the first close, not the SMA of the first `span` closes.
func EMA(bars []model.Bar, span int) []float64 {
	n := len(bars)
	out := make([]float64, n)
	if n == 0 || span <= 0 {
		return out
	}

	alpha := 2.0 / (float64(span) + 1.0)

	prev := bars[0].Close
	out[0] = prev
	for i := 1; i < n; i++ {
		prev = alpha*bars[i].Close + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// ATRPercent computes the 14-period mean true range divided by the last
// close (SPEC_FULL.md §4.2).
func ATRPercent(bars []model.Bar, period int) float64 {
	n := len(bars)
	if n < period+1 {
		return 0
	}
	if bars[n-1].Close == 0 {
		return 0
	}

	var sum float64
	for i := n - period; i < n; i++ {
		cur, prev := bars[i], bars[i-1]
		tr := math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		sum += tr
	}
	atr := sum / float64(period)
	return atr / bars[n-1].Close
}

// atrPercentSeries computes a rolling ATR% series for atr_expansion.
func atrPercentSeries(bars []model.Bar, period int) []float64 {
	n := len(bars)
	out := make([]float64, n)
	for i := period; i < n; i++ {
		out[i] = ATRPercent(bars[:i+1], period)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Build constructs the SnapshotRow for one symbol's bar history, given its
// theme classification. Returns (row, false) when there are fewer than
// MinBars bars.
func Build(symbol string, theme string, bars []model.Bar) (model.SnapshotRow, bool) {
	n := len(bars)
	if n < MinBars {
		return model.SnapshotRow{}, false
	}

	ema20 := EMA(bars, 20)
	ema50 := EMA(bars, 50)

	last := bars[n-1]
	prev := bars[n-2]
	ret1 := pctChange(prev.Close, last.Close)

	var ret4 float64
	if n >= 5 {
		ret4 = pctChange(bars[n-5].Close, last.Close)
	}

	volAvg20 := mean(closesWindowVolume(bars, 20))
	volRatio20 := 0.0
	if volAvg20 > 0 {
		volRatio20 = last.Volume / volAvg20
	}

	atrPct := ATRPercent(bars, 14)

	atrSeries := atrPercentSeries(bars, 14)
	window := atrSeries
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	atrMean20 := mean(window)
	atrExpansion := 0.0
	if atrMean20 > 0 {
		atrExpansion = atrPct / atrMean20
	}

	e20, e50 := ema20[n-1], ema50[n-1]
	trendGapPct := 0.0
	if e50 != 0 {
		trendGapPct = (e20/e50 - 1) * 100
	}

	breakoutPct := -999.0
	if n >= 22 {
		ref := highestHigh(bars[n-21 : n-1])
		if ref > 0 {
			breakoutPct = (last.Close/ref - 1) * 100
		}
	}

	return model.SnapshotRow{
		Symbol:        symbol,
		Close:         last.Close,
		Volume:        last.Volume,
		Amount:        last.Close * last.Volume,
		Ret1Pct:       ret1,
		Ret4Pct:       ret4,
		VolumeRatio20: volRatio20,
		ATRPct:        atrPct,
		ATRExpansion:  atrExpansion,
		TrendGapPct:   trendGapPct,
		BreakoutPct:   breakoutPct,
		EMA20GTEMA50:  e20 > e50,
		Theme:         theme,
	}, true
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to/from - 1) * 100
}

func closesWindowVolume(bars []model.Bar, window int) []float64 {
	n := len(bars)
	start := n - window
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, bars[i].Volume)
	}
	return out
}

func highestHigh(bars []model.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	h := bars[0].High
	for _, b := range bars[1:] {
		if b.High > h {
			h = b.High
		}
	}
	return h
}
