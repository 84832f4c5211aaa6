package signal

import (
	"math"
	"sort"

	"github.com/nitinkhare/cryptoswing/internal/model"
)

// DefaultMaxPositions is the global cap on final candidates per cycle.
const DefaultMaxPositions = 3

// FallbackMaxEntries bounds the fallback selector's output.
const FallbackMaxEntries = 1

// TriggerResults maps a trigger name to its ranked candidates.
type TriggerResults map[TriggerName][]model.TriggerCandidate

// SelectFinal runs the two-pass hybrid selector (SPEC_FULL.md §4.4),
// falling back to the momentum-blend selector when every trigger's Pass 1
// comes up empty.
func SelectFinal(results TriggerResults, allRows []model.SnapshotRow, maxPositions int) TriggerResults {
	if maxPositions <= 0 {
		maxPositions = DefaultMaxPositions
	}

	normalized := normalizeFinalScores(results)

	selected := make(map[string]bool)
	out := make(TriggerResults)

	// Pass 1: one per trigger, in fixed order.
	for _, name := range TriggerOrder {
		if len(selected) >= maxPositions {
			break
		}
		for _, c := range normalized[name] {
			if selected[c.Symbol] {
				continue
			}
			out[name] = append(out[name], c)
			selected[c.Symbol] = true
			break
		}
	}

	if len(selected) == 0 {
		return fallbackSelect(allRows, maxPositions)
	}

	// Pass 2: pool all remaining candidates, greedily fill by final_score desc.
	if len(selected) < maxPositions {
		type pooled struct {
			trigger TriggerName
			cand    model.TriggerCandidate
		}
		var pool []pooled
		for _, name := range TriggerOrder {
			for _, c := range normalized[name] {
				if selected[c.Symbol] {
					continue
				}
				pool = append(pool, pooled{trigger: name, cand: c})
			}
		}
		sort.Slice(pool, func(i, j int) bool { return pool[i].cand.FinalScore > pool[j].cand.FinalScore })

		for _, p := range pool {
			if len(selected) >= maxPositions {
				break
			}
			if selected[p.cand.Symbol] {
				continue
			}
			out[p.trigger] = append(out[p.trigger], p.cand)
			selected[p.cand.Symbol] = true
		}
	}

	return out
}

// normalizeFinalScores re-normalizes each trigger's composite score to
// [0,1] and computes final_score = 0.3*composite_norm + 0.7*agent_fit,
// sorted desc.
func normalizeFinalScores(results TriggerResults) TriggerResults {
	out := make(TriggerResults, len(results))
	for name, cands := range results {
		if len(cands) == 0 {
			continue
		}
		scores := make([]float64, len(cands))
		for i, c := range cands {
			scores[i] = c.CompositeScore
		}
		norm := minMaxNormalize(scores)

		updated := make([]model.TriggerCandidate, len(cands))
		for i, c := range cands {
			c.CompositeNorm = norm[i]
			c.FinalScore = 0.3*c.CompositeNorm + 0.7*c.AgentFitScore
			updated[i] = c
		}
		sort.Slice(updated, func(i, j int) bool { return updated[i].FinalScore > updated[j].FinalScore })
		out[name] = updated
	}
	return out
}

// fallbackSelect runs when every trigger returns empty candidates after
// Pass 1 (SPEC_FULL.md §4.4): prefer ema20>ema50 & volume_ratio_20>=0.9,
// otherwise use the full snapshot, ranked by a fixed weighted blend.
func fallbackSelect(rows []model.SnapshotRow, maxPositions int) TriggerResults {
	pool := rows
	var preferred []model.SnapshotRow
	for _, r := range rows {
		if r.EMA20GTEMA50 && r.VolumeRatio20 >= 0.9 {
			preferred = append(preferred, r)
		}
	}
	if len(preferred) > 0 {
		pool = preferred
	}
	if len(pool) == 0 {
		return TriggerResults{}
	}

	weights := []scoreWeight{
		{"amount", 0.45, amount},
		{"volume_ratio_20", 0.25, volRatio},
		{"ret_4_pct", 0.20, ret4},
		{"trend_gap_pct", 0.10, trendGap},
	}

	ranked := scoreAndRank(TriggerFallback, pool, weights, len(pool))
	for i := range ranked {
		ranked[i].CompositeNorm = ranked[i].CompositeScore
		ranked[i].FinalScore = 0.3*ranked[i].CompositeNorm + 0.7*ranked[i].AgentFitScore
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].FinalScore > ranked[j].FinalScore })

	limit := int(math.Min(float64(maxPositions), FallbackMaxEntries))
	if limit > len(ranked) {
		limit = len(ranked)
	}

	return TriggerResults{TriggerFallback: ranked[:limit]}
}
