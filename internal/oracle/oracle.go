// Package oracle implements the ScenarioOracle (C5): a narrow interface
// over an opaque LLM-based scenario generator, with a deterministic
// heuristic fallback used whenever credentials are absent or the LLM
// call fails or returns malformed output.
//
// Modeled as a tagged variant (Oracle = LLM | Heuristic) behind a single
// interface, per SPEC_FULL.md §9 — the pluggable-interface pattern is
// carried from the teacher's internal/strategy.Strategy interface; the
// heuristic rule is ported from
// original_source/crypto/crypto_tracking_agent.py::_heuristic_scenario.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/model"
)

// InvestmentPeriod is short or medium, per the scenario schema.
type InvestmentPeriod string

const (
	InvestmentPeriodShort  InvestmentPeriod = "short"
	InvestmentPeriodMedium InvestmentPeriod = "medium"
)

// Decision is the oracle's entry/no_entry verdict.
type Decision string

const (
	DecisionEntry   Decision = "entry"
	DecisionNoEntry Decision = "no_entry"
)

// Scenario is the oracle output schema (SPEC_FULL.md §4.5).
type Scenario struct {
	BuyScore          int              `json:"buy_score"`
	MinScore          int              `json:"min_score"`
	Decision          Decision         `json:"decision"`
	TargetPrice       float64          `json:"target_price"`
	StopLoss          float64          `json:"stop_loss"`
	RiskRewardRatio   float64          `json:"risk_reward_ratio"`
	ExpectedReturnPct float64          `json:"expected_return_pct"`
	ExpectedLossPct   float64          `json:"expected_loss_pct"`
	InvestmentPeriod  InvestmentPeriod `json:"investment_period"`
	Rationale         string           `json:"rationale"`
	Theme             string           `json:"theme"`
	MarketCondition   string           `json:"market_condition"`
	TradingScenarios  map[string]any   `json:"trading_scenarios,omitempty"`
	Source            string           `json:"-"` // "llm" or "heuristic", for audit only
}

// EntryApproved reports the admission condition: decision==entry and
// buy_score >= min_score (SPEC_FULL.md §4.6.3).
func (s Scenario) EntryApproved() bool {
	return s.Decision == DecisionEntry && s.BuyScore >= s.MinScore
}

// Oracle analyzes a candidate and returns a Scenario.
type Oracle interface {
	Analyze(ctx context.Context, candidate model.TriggerCandidate) (Scenario, error)
}

// HeuristicOracle implements the deterministic fallback rule: entry iff
// risk_reward_ratio >= 1.6 and final_score >= 0.45.
type HeuristicOracle struct{}

// NewHeuristicOracle constructs the always-available fallback oracle.
func NewHeuristicOracle() *HeuristicOracle { return &HeuristicOracle{} }

func (HeuristicOracle) Analyze(_ context.Context, c model.TriggerCandidate) (Scenario, error) {
	return heuristicScenario(c), nil
}

func heuristicScenario(c model.TriggerCandidate) Scenario {
	decision := DecisionNoEntry
	if c.RiskRewardRatio >= 1.6 && c.FinalScore >= 0.45 {
		decision = DecisionEntry
	}

	buyScore := clampInt(int(math.Round(c.FinalScore*10)), 1, 10)

	return Scenario{
		BuyScore:          buyScore,
		MinScore:          5,
		Decision:          decision,
		TargetPrice:       c.TargetPrice,
		StopLoss:          c.StopLossPrice,
		RiskRewardRatio:   c.RiskRewardRatio,
		ExpectedReturnPct: c.TargetPct * 100,
		ExpectedLossPct:   c.StopLossPct * 100,
		InvestmentPeriod:  InvestmentPeriodShort,
		Rationale:         fmt.Sprintf("heuristic: rr=%.2f final_score=%.2f decision=%s", c.RiskRewardRatio, c.FinalScore, decision),
		Theme:             c.Theme,
		Source:            "heuristic",
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LLMOracle consults an external model endpoint for a scenario and falls
// through to HeuristicOracle on any network error or malformed response.
// The LLM itself is out of scope (SPEC_FULL.md §1); this is an opaque
// HTTP call whose request/response shape is grounded on
// original_source/crypto/cores/agents/trading_agents.py.
type LLMOracle struct {
	endpoint string
	apiKey   string
	client   *http.Client
	fallback Oracle
}

// NewLLMOracle constructs an LLMOracle. If apiKey is empty, callers
// should use NewOracle instead, which selects HeuristicOracle directly
// per SPEC_FULL.md §6 ("its absence switches oracle to heuristic").
func NewLLMOracle(endpoint, apiKey string) *LLMOracle {
	return &LLMOracle{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		fallback: NewHeuristicOracle(),
	}
}

type llmRequest struct {
	Symbol          string  `json:"symbol"`
	CurrentPrice    float64 `json:"current_price"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	FinalScore      float64 `json:"final_score"`
	Theme           string  `json:"theme"`
	TriggerType     string  `json:"trigger_type"`
}

// Analyze calls the LLM endpoint and strictly decodes its JSON response
// against the Scenario schema. Per SPEC_FULL.md §9, any decode error —
// not just a network error — falls through to the heuristic oracle; no
// permissive text extraction is attempted.
func (o *LLMOracle) Analyze(ctx context.Context, c model.TriggerCandidate) (Scenario, error) {
	scenario, err := o.callLLM(ctx, c)
	if err != nil {
		fallback, _ := o.fallback.Analyze(ctx, c)
		return fallback, nil
	}
	return scenario, nil
}

func (o *LLMOracle) callLLM(ctx context.Context, c model.TriggerCandidate) (Scenario, error) {
	body, err := json.Marshal(llmRequest{
		Symbol:          c.Symbol,
		CurrentPrice:    c.Close,
		RiskRewardRatio: c.RiskRewardRatio,
		FinalScore:      c.FinalScore,
		Theme:           c.Theme,
		TriggerType:     c.TriggerName,
	})
	if err != nil {
		return Scenario{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return Scenario{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return Scenario{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Scenario{}, fmt.Errorf("oracle: unexpected status %d", resp.StatusCode)
	}

	var s Scenario
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&s); err != nil {
		return Scenario{}, fmt.Errorf("oracle: malformed response: %w", err)
	}
	s.Source = "llm"
	return s, nil
}

// NewOracle selects LLMOracle when apiKey is non-empty, otherwise
// HeuristicOracle, matching the OPENAI_API_KEY environment contract of
// SPEC_FULL.md §6.
func NewOracle(endpoint, apiKey string) Oracle {
	if apiKey == "" {
		return NewHeuristicOracle()
	}
	return NewLLMOracle(endpoint, apiKey)
}
