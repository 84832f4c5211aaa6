// candidates.go implements the Phase-1 → Phase-2 JSON boundary (SPEC_FULL.md
// §6): the wire shape the selector writes and the controller reads, kept
// separate from internal/model since model.SnapshotRow/TriggerCandidate are
// in-process types shared by components that never serialize them.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/model"
	"github.com/nitinkhare/cryptoswing/internal/signal"
)

// wireCandidate is one entry in a Phase-1 output array.
type wireCandidate struct {
	Symbol          string  `json:"symbol"`
	CurrentPrice    float64 `json:"current_price"`
	Volume          float64 `json:"volume"`
	TradeValue      float64 `json:"trade_value"`
	Ret1Pct         float64 `json:"ret_1_pct"`
	Ret4Pct         float64 `json:"ret_4_pct"`
	VolumeRatio20   float64 `json:"volume_ratio_20"`
	ATRPct          float64 `json:"atr_pct"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	Theme           string  `json:"theme"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	TargetPct       float64 `json:"target_pct"`
	TargetPrice     float64 `json:"target_price"`
	AgentFitScore   float64 `json:"agent_fit_score"`
	CompositeScore  float64 `json:"composite_score"`
	FinalScore      float64 `json:"final_score"`
}

// wireMetadata is the "metadata" key of a Phase-1 output document.
type wireMetadata struct {
	RunTime            string `json:"run_time"`
	Market             string `json:"market"`
	Interval           string `json:"interval"`
	Period             string `json:"period"`
	UniverseSize       int    `json:"universe_size"`
	SelectionMode      string `json:"selection_mode"`
	MaxPositions       int    `json:"max_positions"`
	FallbackMaxEntries int    `json:"fallback_max_entries"`
}

func toWireCandidate(c model.TriggerCandidate) wireCandidate {
	return wireCandidate{
		Symbol:          c.Symbol,
		CurrentPrice:    c.Close,
		Volume:          c.Volume,
		TradeValue:      c.Amount,
		Ret1Pct:         c.Ret1Pct,
		Ret4Pct:         c.Ret4Pct,
		VolumeRatio20:   c.VolumeRatio20,
		ATRPct:          c.ATRPct,
		RiskRewardRatio: c.RiskRewardRatio,
		Theme:           c.Theme,
		StopLossPct:     c.StopLossPct,
		StopLossPrice:   c.StopLossPrice,
		TargetPct:       c.TargetPct,
		TargetPrice:     c.TargetPrice,
		AgentFitScore:   c.AgentFitScore,
		CompositeScore:  c.CompositeScore,
		FinalScore:      c.FinalScore,
	}
}

func fromWireCandidate(w wireCandidate) model.TriggerCandidate {
	return model.TriggerCandidate{
		SnapshotRow: model.SnapshotRow{
			Symbol:        w.Symbol,
			Close:         w.CurrentPrice,
			Volume:        w.Volume,
			Amount:        w.TradeValue,
			Ret1Pct:       w.Ret1Pct,
			Ret4Pct:       w.Ret4Pct,
			VolumeRatio20: w.VolumeRatio20,
			ATRPct:        w.ATRPct,
			Theme:         w.Theme,
		},
		CompositeScore:  w.CompositeScore,
		StopLossPct:     w.StopLossPct,
		StopLossPrice:   w.StopLossPrice,
		TargetPct:       w.TargetPct,
		TargetPrice:     w.TargetPrice,
		RiskRewardRatio: w.RiskRewardRatio,
		AgentFitScore:   w.AgentFitScore,
		FinalScore:      w.FinalScore,
	}
}

// writeCandidatesJSON persists a cycle's Phase-1 output in the §6 wire
// shape, one array per trigger name plus a "metadata" object.
func writeCandidatesJSON(path string, results signal.TriggerResults, meta wireMetadata) error {
	doc := make(map[string]any, len(results)+1)
	for name, cands := range results {
		wire := make([]wireCandidate, len(cands))
		for i, c := range cands {
			wire[i] = toWireCandidate(c)
		}
		doc[string(name)] = wire
	}
	doc["metadata"] = meta

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("candidates: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("candidates: write %s: %w", path, err)
	}
	return nil
}

// loadCandidatesJSON reads a Phase-1 output file back into TriggerResults,
// for decoupled Phase-2-only invocations (the positional candidates_json
// argument).
func loadCandidatesJSON(path string) (signal.TriggerResults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("candidates: read %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("candidates: parse %s: %w", path, err)
	}

	results := make(signal.TriggerResults, len(raw))
	for key, msg := range raw {
		if key == "metadata" {
			continue
		}
		var wire []wireCandidate
		if err := json.Unmarshal(msg, &wire); err != nil {
			return nil, fmt.Errorf("candidates: parse trigger %q: %w", key, err)
		}
		cands := make([]model.TriggerCandidate, len(wire))
		for i, w := range wire {
			c := fromWireCandidate(w)
			c.TriggerName = key
			cands[i] = c
		}
		results[signal.TriggerName(key)] = cands
	}
	return results, nil
}

func newMetadata(timeframe string, universeSize int) wireMetadata {
	return wireMetadata{
		RunTime:            time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Market:             "CRYPTO",
		Interval:           timeframe,
		Period:             "60d",
		UniverseSize:       universeSize,
		SelectionMode:      "hybrid",
		MaxPositions:       signal.DefaultMaxPositions,
		FallbackMaxEntries: signal.FallbackMaxEntries,
	}
}
