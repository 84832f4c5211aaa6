// Package benchmark implements the BenchmarkExporter (C9): a read-only
// snapshot builder that compares the engine's realized/unrealized P&L
// against a BTC buy-and-hold baseline and an equal-weight universe
// baseline, for the operator dashboard.
//
// It is ported from original_source/examples/generate_crypto_benchmark_json.py,
// generalized from its direct sqlite3 queries to the storage.Store
// interface and from its ad-hoc dict assembly to typed structs. The
// report-shape idioms (stateless functions over slices, a Format*
// human-readable renderer) are carried from the teacher's
// internal/analytics/analytics.go.
package benchmark

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/model"
	"github.com/nitinkhare/cryptoswing/internal/portfolio"
)

// Store is the narrow read-only slice of storage.Store the exporter needs.
// PostgresStore satisfies this structurally.
type Store interface {
	ListTradeHistory(ctx context.Context, since time.Time) ([]model.TradeHistoryRow, error)
	ListHoldings(ctx context.Context) ([]model.Holding, error)
	ListOrderExecutions(ctx context.Context, since time.Time) ([]model.OrderExecution, error)
}

// DefaultUniverseSymbols is the default equal-weight comparison basket.
var DefaultUniverseSymbols = []string{
	"BTC-USD", "ETH-USD", "SOL-USD", "BNB-USD", "XRP-USD", "ADA-USD",
	"DOGE-USD", "AVAX-USD", "LINK-USD", "DOT-USD", "TRX-USD", "XLM-USD",
	"LTC-USD", "BCH-USD", "ATOM-USD", "NEAR-USD",
}

// CoinGeckoIDBySymbol maps a universe symbol to its CoinGecko coin id,
// for the public market-data fetch used by PriceSeriesFetcher.
var CoinGeckoIDBySymbol = map[string]string{
	"BTC-USD": "bitcoin", "ETH-USD": "ethereum", "SOL-USD": "solana",
	"BNB-USD": "binancecoin", "XRP-USD": "ripple", "ADA-USD": "cardano",
	"DOGE-USD": "dogecoin", "AVAX-USD": "avalanche-2", "LINK-USD": "chainlink",
	"DOT-USD": "polkadot", "TRX-USD": "tron", "XLM-USD": "stellar",
	"LTC-USD": "litecoin", "BCH-USD": "bitcoin-cash", "ATOM-USD": "cosmos",
	"NEAR-USD": "near",
}

// DailyPrice is one day's closing price in a symbol's daily series.
type DailyPrice struct {
	Date  string // YYYY-MM-DD
	Price float64
}

// PriceSeriesFetcher fetches a coin's daily closing-price series. The
// production implementation (NewCoinGeckoFetcher) hits a public REST
// endpoint; tests supply a stub.
type PriceSeriesFetcher interface {
	FetchDailySeries(ctx context.Context, coinID string, days int) ([]DailyPrice, error)
}

// Exporter builds benchmark snapshots from the persistence layer.
type Exporter struct {
	Store           Store
	Prices          PriceSeriesFetcher
	LogDir          string
	UniverseSymbols []string
	InitialCapital  float64
}

// NewExporter constructs an Exporter. universeSymbols defaults to
// DefaultUniverseSymbols when nil.
func NewExporter(store Store, prices PriceSeriesFetcher, logDir string, initialCapital float64, universeSymbols []string) *Exporter {
	if universeSymbols == nil {
		universeSymbols = DefaultUniverseSymbols
	}
	return &Exporter{
		Store:           store,
		Prices:          prices,
		LogDir:          logDir,
		UniverseSymbols: universeSymbols,
		InitialCapital:  initialCapital,
	}
}

// Point is one day of the comparative equity series.
type Point struct {
	Date                    string  `json:"date"`
	BTCPrice                float64 `json:"btc_price"`
	BTCReturnPct            float64 `json:"btc_return_pct"`
	UniverseReturnPct       float64 `json:"universe_return_pct"`
	AlgorithmEquity         float64 `json:"algorithm_equity"`
	AlgorithmReturnPct      float64 `json:"algorithm_return_pct"`
	BenchmarkEquity         float64 `json:"benchmark_equity"`
	UniverseBenchmarkEquity float64 `json:"universe_benchmark_equity"`
}

// HoldingSnapshot is one currently open position in the snapshot.
type HoldingSnapshot struct {
	Symbol          string  `json:"symbol"`
	BuyDate         string  `json:"buy_date"`
	Quantity        float64 `json:"quantity"`
	BuyPrice        float64 `json:"buy_price"`
	CurrentPrice    float64 `json:"current_price"`
	NotionalUSD     float64 `json:"notional_usd"`
	MarketValueUSD  float64 `json:"market_value_usd"`
	UnrealizedPnLUSD float64 `json:"unrealized_pnl_usd"`
	ProfitRatePct   float64 `json:"profit_rate_pct"`
	WeightPct       float64 `json:"weight_pct"`
}

// OrderExecutionSnapshot is one entry in the order-executions ledger,
// enriched with exit classification when it closed a position.
type OrderExecutionSnapshot struct {
	CreatedAt       string   `json:"created_at"`
	Symbol          string   `json:"symbol"`
	Side            string   `json:"side"`
	Status          string   `json:"status"`
	ExecutedPrice   float64  `json:"executed_price"`
	Quantity        float64  `json:"quantity"`
	QuoteAmount     float64  `json:"quote_amount"`
	FeeAmount       float64  `json:"fee_amount"`
	OrderType       string   `json:"order_type"`
	Mode            string   `json:"mode"`
	RealizedPnLPct  *float64 `json:"realized_pnl_pct"`
	ExitType        *string  `json:"exit_type"`
	ExitReasonType  *string  `json:"exit_reason_type"`
}

// CycleLogEntry is one parsed scheduler cycle, read from the engine's
// log files for the dashboard's recent-activity panel.
type CycleLogEntry struct {
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at,omitempty"`
	Status     string `json:"status"` // running | success | failed | aborted
	EntryCount int    `json:"entry_count"`
	NoEntry    int    `json:"no_entry_count"`
	SoldCount  int    `json:"sold_count"`
	Error      string `json:"error,omitempty"`
}

// Summary is the headline comparison block.
type Summary struct {
	AlgorithmReturnPct float64        `json:"algorithm_return_pct"`
	BTCReturnPct       float64        `json:"btc_return_pct"`
	AlphaPct           float64        `json:"alpha_pct"`
	UniverseReturnPct  float64        `json:"universe_return_pct"`
	UniverseAlphaPct   float64        `json:"universe_alpha_pct"`
	TotalTrades        int            `json:"total_trades"`
	WinRate            float64        `json:"win_rate"`
	OpenPositions      int            `json:"open_positions"`
	ExitReasonCounts   map[string]int `json:"exit_reason_counts"`
}

// Snapshot is the complete exported document.
type Snapshot struct {
	GeneratedAt    string                   `json:"generated_at"`
	PeriodDays     int                      `json:"period_days"`
	InitialCapital float64                  `json:"initial_capital"`
	Summary        Summary                  `json:"summary"`
	Points         []Point                  `json:"points"`
	Holdings       []HoldingSnapshot        `json:"holdings"`
	OrderExecutions []OrderExecutionSnapshot `json:"order_executions"`
	RecentCycles   []CycleLogEntry          `json:"recent_cycles"`
}

// dailyPnL aggregates realized P&L per sell date (YYYY-MM-DD), mirroring
// load_trade_summary's SQL: notional_usd*(profit_rate/100) when a
// notional is recorded, else quantity*buy_price*(profit_rate/100).
func dailyPnL(history []model.TradeHistoryRow) (byDay map[string]float64, tradeCount int, winRatePct float64) {
	byDay = make(map[string]float64)
	wins := 0
	for _, t := range history {
		if t.SellDate.IsZero() {
			continue
		}
		day := t.SellDate.Format("2006-01-02")
		var pnl float64
		if t.NotionalUSD > 0 {
			pnl = t.NotionalUSD * (t.ProfitRate / 100.0)
		} else {
			pnl = t.Quantity * t.BuyPrice * (t.ProfitRate / 100.0)
		}
		byDay[day] += pnl
		tradeCount++
		if t.ProfitRate > 0 {
			wins++
		}
	}
	if tradeCount > 0 {
		winRatePct = float64(wins) / float64(tradeCount) * 100.0
	}
	return byDay, tradeCount, winRatePct
}

// unrealizedPnL sums (current-buy)*quantity across open holdings.
func unrealizedPnL(holdings []model.Holding) (total float64, count int) {
	for _, h := range holdings {
		total += (h.CurrentPrice - h.BuyPrice) * h.Quantity
	}
	return total, len(holdings)
}

// holdingSnapshots converts open holdings to the weighted-by-market-value
// snapshot shape, sorted by buy date ascending as the Python original does.
func holdingSnapshots(holdings []model.Holding) []HoldingSnapshot {
	sorted := make([]model.Holding, len(holdings))
	copy(sorted, holdings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BuyDate.Before(sorted[j].BuyDate) })

	out := make([]HoldingSnapshot, 0, len(sorted))
	var totalMarketValue float64
	for _, h := range sorted {
		marketValue := h.CurrentPrice * h.Quantity
		unrealized := (h.CurrentPrice - h.BuyPrice) * h.Quantity
		costBasis := h.BuyPrice * h.Quantity
		if costBasis <= 0 {
			costBasis = h.NotionalUSD
		}
		var profitRate float64
		if costBasis > 0 {
			profitRate = unrealized / costBasis * 100.0
		}
		totalMarketValue += marketValue
		out = append(out, HoldingSnapshot{
			Symbol:           h.Symbol,
			BuyDate:          h.BuyDate.Format("2006-01-02"),
			Quantity:         roundTo(h.Quantity, 8),
			BuyPrice:         roundTo(h.BuyPrice, 8),
			CurrentPrice:     roundTo(h.CurrentPrice, 8),
			NotionalUSD:      roundTo(h.NotionalUSD, 6),
			MarketValueUSD:   roundTo(marketValue, 6),
			UnrealizedPnLUSD: roundTo(unrealized, 6),
			ProfitRatePct:    roundTo(profitRate, 4),
		})
	}
	for i := range out {
		if totalMarketValue > 0 {
			out[i].WeightPct = roundTo(out[i].MarketValueUSD/totalMarketValue*100.0, 4)
		}
	}
	return out
}

// orderExecutionSnapshots enriches the executions ledger with the exit
// classification and the matching sell's realized P&L. A sell execution
// is matched to a trade-history row for the same symbol whose sell_date
// falls within 5 minutes of the execution's created_at — the same tying
// window the original uses to line up the two independently-written
// tables for the same fill.
func orderExecutionSnapshots(execs []model.OrderExecution, history []model.TradeHistoryRow) []OrderExecutionSnapshot {
	bySymbol := make(map[string][]model.TradeHistoryRow)
	for _, t := range history {
		if t.SellDate.IsZero() {
			continue
		}
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}
	for sym := range bySymbol {
		rows := bySymbol[sym]
		sort.Slice(rows, func(i, j int) bool { return rows[i].SellDate.Before(rows[j].SellDate) })
		bySymbol[sym] = rows
	}

	findSellProfitRate := func(symbol string, createdAt time.Time) *float64 {
		rows := bySymbol[symbol]
		if len(rows) == 0 {
			return nil
		}
		var best *model.TradeHistoryRow
		var bestDiff time.Duration
		for i := range rows {
			diff := rows[i].SellDate.Sub(createdAt)
			if diff < 0 {
				diff = -diff
			}
			if best == nil || diff < bestDiff {
				best = &rows[i]
				bestDiff = diff
			}
		}
		if best != nil && bestDiff <= 5*time.Minute {
			rate := best.ProfitRate
			return &rate
		}
		return nil
	}

	out := make([]OrderExecutionSnapshot, 0, len(execs))
	for _, e := range execs {
		snap := OrderExecutionSnapshot{
			CreatedAt:     e.CreatedAt.Format(model.WallClock),
			Symbol:        e.Symbol,
			Side:          string(e.Side),
			Status:        string(e.Status),
			ExecutedPrice: e.ExecutedPrice,
			Quantity:      e.Quantity,
			QuoteAmount:   e.QuoteAmount,
			FeeAmount:     e.FeeAmount,
			OrderType:     string(e.OrderType),
			Mode:          string(e.Mode),
		}
		if e.Side == model.OrderSideSell {
			if rate := findSellProfitRate(e.Symbol, e.CreatedAt); rate != nil {
				snap.RealizedPnLPct = rate
				exitType := "breakeven"
				if *rate > 0 {
					exitType = "take_profit"
				} else if *rate < 0 {
					exitType = "stop_loss"
				}
				snap.ExitType = &exitType
			}
			category := string(portfolio.ClassifyExitReason(e.Metadata))
			snap.ExitReasonType = &category
		}
		out = append(out, snap)
	}
	return out
}

// exitReasonCounts tallies filled sells by exit category across the
// window, for the summary block.
func exitReasonCounts(execs []model.OrderExecution) map[string]int {
	counts := map[string]int{"stop_loss": 0, "rotation": 0, "normal": 0}
	for _, e := range execs {
		if e.Side != model.OrderSideSell || e.Status != model.OrderStatusFilled {
			continue
		}
		category := string(portfolio.ClassifyExitReason(e.Metadata))
		if _, ok := counts[category]; !ok {
			category = "normal"
		}
		counts[category]++
	}
	return counts
}

// strategyStartDate finds the first trading activity date, used as the
// window's default start when no explicit period is requested.
func strategyStartDate(execs []model.OrderExecution, holdings []model.Holding, history []model.TradeHistoryRow) time.Time {
	var earliest time.Time
	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	for _, e := range execs {
		if e.Side == model.OrderSideBuy && e.Status == model.OrderStatusFilled {
			consider(e.CreatedAt)
		}
	}
	for _, h := range holdings {
		consider(h.BuyDate)
	}
	for _, t := range history {
		consider(t.BuyDate)
	}
	if earliest.IsZero() {
		return time.Now().UTC()
	}
	return earliest
}

// BuildUniverseEqualWeightSeries averages the per-symbol percent return
// (vs. each symbol's price on the first aligned date) across the
// universe for every date in dateAxis, carrying forward the last known
// price for symbols with gaps. Symbols the fetcher has no series for are
// skipped; if none resolve, an empty series is returned and the caller
// falls back to a flat universe benchmark.
func (ex *Exporter) BuildUniverseEqualWeightSeries(ctx context.Context, periodDays int, dateAxis []string) []DailyPrice {
	if len(dateAxis) == 0 || ex.Prices == nil {
		return nil
	}

	symbolDaily := make(map[string]map[string]float64)
	for _, symbol := range ex.UniverseSymbols {
		coinID, ok := CoinGeckoIDBySymbol[symbol]
		if !ok {
			continue
		}
		rows, err := ex.Prices.FetchDailySeries(ctx, coinID, periodDays)
		if err != nil || len(rows) == 0 {
			continue
		}
		byDate := make(map[string]float64, len(rows))
		for _, r := range rows {
			if r.Price > 0 {
				byDate[r.Date] = r.Price
			}
		}
		symbolDaily[symbol] = byDate
	}
	if len(symbolDaily) == 0 {
		return nil
	}

	axis := append([]string(nil), dateAxis...)
	sort.Strings(axis)
	firstDate := axis[0]

	baselines := make(map[string]float64)
	for symbol, byDate := range symbolDaily {
		if b, ok := byDate[firstDate]; ok && b > 0 {
			baselines[symbol] = b
		}
	}
	if len(baselines) == 0 {
		return nil
	}

	lastPrice := make(map[string]float64)
	out := make([]DailyPrice, 0, len(axis))
	for _, d := range axis {
		var returns []float64
		for symbol, baseline := range baselines {
			if cur, ok := symbolDaily[symbol][d]; ok && cur > 0 {
				lastPrice[symbol] = cur
			}
			cur, ok := lastPrice[symbol]
			if !ok || baseline <= 0 {
				continue
			}
			returns = append(returns, (cur/baseline-1.0)*100.0)
		}
		switch {
		case len(returns) > 0:
			var sum float64
			for _, r := range returns {
				sum += r
			}
			out = append(out, DailyPrice{Date: d, Price: sum / float64(len(returns))})
		case len(out) > 0:
			out = append(out, DailyPrice{Date: d, Price: out[len(out)-1].Price})
		default:
			out = append(out, DailyPrice{Date: d, Price: 0})
		}
	}
	return out
}

// fallbackBTCDaily reconstructs a crude BTC series from the engine's own
// executions/holdings when the public price feed is unreachable —
// degraded but non-empty, mirroring fallback_btc_daily's last resort.
func fallbackBTCDaily(execs []model.OrderExecution, holdings []model.Holding, days int) []DailyPrice {
	cutoff := time.Now().AddDate(0, 0, -days)
	byDay := make(map[string][]float64)
	for _, e := range execs {
		if e.Symbol != "BTC-USD" || e.Status != model.OrderStatusFilled || e.CreatedAt.Before(cutoff) {
			continue
		}
		d := e.CreatedAt.Format("2006-01-02")
		byDay[d] = append(byDay[d], e.ExecutedPrice)
	}
	if len(byDay) > 0 {
		days := make([]string, 0, len(byDay))
		for d := range byDay {
			days = append(days, d)
		}
		sort.Strings(days)
		out := make([]DailyPrice, 0, len(days))
		for _, d := range days {
			prices := byDay[d]
			var sum float64
			for _, p := range prices {
				sum += p
			}
			out = append(out, DailyPrice{Date: d, Price: sum / float64(len(prices))})
		}
		return out
	}
	for _, h := range holdings {
		if h.Symbol == "BTC-USD" {
			return []DailyPrice{{Date: h.BuyDate.Format("2006-01-02"), Price: h.BuyPrice}}
		}
	}
	return []DailyPrice{{Date: time.Now().Format("2006-01-02"), Price: 0}}
}

// BuildSnapshot assembles the full benchmark document for the window
// starting at the strategy's first trade (or a caller-supplied number of
// days, when explicitDays > 0).
func (ex *Exporter) BuildSnapshot(ctx context.Context, explicitDays int) (*Snapshot, error) {
	history, err := ex.Store.ListTradeHistory(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("benchmark: list trade history: %w", err)
	}
	holdings, err := ex.Store.ListHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("benchmark: list holdings: %w", err)
	}
	execs, err := ex.Store.ListOrderExecutions(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("benchmark: list order executions: %w", err)
	}

	pnlByDay, tradeCount, winRate := dailyPnL(history)
	unrealized, openPositions := unrealizedPnL(holdings)
	startDate := strategyStartDate(execs, holdings, history)

	periodDays := explicitDays
	if periodDays <= 0 {
		periodDays = int(time.Since(startDate).Hours()/24) + 1
	}
	if periodDays < 1 {
		periodDays = 1
	}

	var btcDaily []DailyPrice
	if ex.Prices != nil {
		if rows, err := ex.Prices.FetchDailySeries(ctx, "bitcoin", periodDays); err == nil && len(rows) > 0 {
			btcDaily = rows
		}
	}
	if len(btcDaily) == 0 {
		btcDaily = fallbackBTCDaily(execs, holdings, periodDays)
	}

	dateAxis := make([]string, len(btcDaily))
	for i, p := range btcDaily {
		dateAxis[i] = p.Date
	}
	universeDaily := ex.BuildUniverseEqualWeightSeries(ctx, periodDays, dateAxis)
	universeByDate := make(map[string]float64, len(universeDaily))
	for _, p := range universeDaily {
		universeByDate[p.Date] = p.Price
	}

	initialCapital := ex.InitialCapital
	if initialCapital <= 0 {
		initialCapital = 1000.0
	}

	baseline := btcDaily[0].Price
	var realized float64
	points := make([]Point, 0, len(btcDaily))
	for i, day := range btcDaily {
		realized += pnlByDay[day.Date]
		algoEquity := initialCapital + realized
		if i == len(btcDaily)-1 {
			algoEquity += unrealized
		}

		var algoReturn, btcReturn float64
		if initialCapital > 0 {
			algoReturn = (algoEquity - initialCapital) / initialCapital * 100.0
		}
		if baseline > 0 {
			btcReturn = (day.Price - baseline) / baseline * 100.0
		}
		benchmarkEquity := initialCapital * (1.0 + btcReturn/100.0)
		universeReturn := universeByDate[day.Date]
		universeBenchmarkEquity := initialCapital * (1.0 + universeReturn/100.0)

		points = append(points, Point{
			Date:                    day.Date,
			BTCPrice:                roundTo(day.Price, 6),
			BTCReturnPct:            roundTo(btcReturn, 4),
			UniverseReturnPct:       roundTo(universeReturn, 4),
			AlgorithmEquity:         roundTo(algoEquity, 6),
			AlgorithmReturnPct:      roundTo(algoReturn, 4),
			BenchmarkEquity:         roundTo(benchmarkEquity, 6),
			UniverseBenchmarkEquity: roundTo(universeBenchmarkEquity, 6),
		})
	}

	last := points[len(points)-1]
	recentCycles, err := ParseRecentCycles(ex.LogDir, 20, 30*time.Minute)
	if err != nil {
		recentCycles = nil
	}

	snapshot := &Snapshot{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		PeriodDays:     periodDays,
		InitialCapital: initialCapital,
		Summary: Summary{
			AlgorithmReturnPct: last.AlgorithmReturnPct,
			BTCReturnPct:       last.BTCReturnPct,
			AlphaPct:           last.AlgorithmReturnPct - last.BTCReturnPct,
			UniverseReturnPct:  last.UniverseReturnPct,
			UniverseAlphaPct:   last.AlgorithmReturnPct - last.UniverseReturnPct,
			TotalTrades:        tradeCount,
			WinRate:            winRate,
			OpenPositions:      openPositions,
			ExitReasonCounts:   exitReasonCounts(execs),
		},
		Points:          points,
		Holdings:        holdingSnapshots(holdings),
		OrderExecutions: orderExecutionSnapshots(latestN(execs, 200), history),
		RecentCycles:    recentCycles,
	}
	return snapshot, nil
}

// latestN returns the N most recently created executions, newest first.
func latestN(execs []model.OrderExecution, n int) []model.OrderExecution {
	sorted := make([]model.OrderExecution, len(execs))
	copy(sorted, execs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

var (
	cycleLineRE  = regexp.MustCompile(`^(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}) \S+\.go:\d+: (.*)$`)
	cyclePhaseRE = regexp.MustCompile(`entry=(\d+),\s*no_entry=(\d+),\s*sold=(\d+)`)
)

// ParseRecentCycles scans the engine's log files for trading-cycle start
// and completion markers and reconstructs a recent-activity timeline for
// the dashboard, normalizing any cycle left in the "running" state by a
// later terminal cycle or by staleness. Grounded on
// load_recent_cycles, adapted from its `[ts] msg` log line shape to the
// stdlib log.LstdFlags|log.Lshortfile format cmd/engine writes
// ("2006/01/02 15:04:05 main.go:N: [scheduler] message").
func ParseRecentCycles(logDir string, limit int, staleAfter time.Duration) ([]CycleLogEntry, error) {
	if logDir == "" {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(logDir, "engine_*.log"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Strings(files)
	if len(files) > 3 {
		files = files[len(files)-3:]
	}

	var cycles []CycleLogEntry
	var current *CycleLogEntry
	var phase3Done bool

	flush := func(status string) {
		if current == nil {
			return
		}
		current.Status = status
		cycles = append(cycles, *current)
		current = nil
		phase3Done = false
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			m := cycleLineRE.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			ts, msg := m[1], m[2]

			switch {
			case strings.Contains(msg, "starting trading cycle"):
				if current != nil {
					flush("running")
				}
				current = &CycleLogEntry{StartedAt: ts, Status: "running"}
			case current == nil:
				continue
			case strings.Contains(msg, "trading cycle complete"):
				if pm := cyclePhaseRE.FindStringSubmatch(msg); pm != nil {
					current.EntryCount, _ = strconv.Atoi(pm[1])
					current.NoEntry, _ = strconv.Atoi(pm[2])
					current.SoldCount, _ = strconv.Atoi(pm[3])
				}
				current.EndedAt = ts
				phase3Done = true
				flush("success")
			case strings.Contains(msg, "FAILED"):
				current.EndedAt = ts
				current.Error = msg
				flush("failed")
			}
		}
	}
	if current != nil {
		cycles = append(cycles, *current)
	}

	now := time.Now()
	seenTerminal := false
	for i := len(cycles) - 1; i >= 0; i-- {
		c := &cycles[i]
		switch c.Status {
		case "success", "failed":
			seenTerminal = true
			continue
		case "running":
		default:
			continue
		}
		if seenTerminal {
			c.Status = "aborted"
			if c.EndedAt == "" {
				c.EndedAt = c.StartedAt
			}
			if c.Error == "" {
				c.Error = "superseded by a later cycle"
			}
			continue
		}
		started, err := time.Parse("2006/01/02 15:04:05", c.StartedAt)
		if err != nil {
			continue
		}
		if phase3Done {
			c.Status = "success"
			if c.EndedAt == "" {
				c.EndedAt = now.Format("2006/01/02 15:04:05")
			}
			continue
		}
		if age := now.Sub(started); age >= staleAfter {
			c.Status = "failed"
			if c.EndedAt == "" {
				c.EndedAt = now.Format("2006/01/02 15:04:05")
			}
			if c.Error == "" {
				c.Error = fmt.Sprintf("no completion log after %d minutes (stale)", int(age.Minutes()))
			}
		}
	}

	for i, j := 0, len(cycles)-1; i < j; i, j = i+1, j-1 {
		cycles[i], cycles[j] = cycles[j], cycles[i]
	}
	if len(cycles) > limit {
		cycles = cycles[:limit]
	}
	return cycles, nil
}

// FormatSummary renders a human-readable summary line, in the teacher's
// FormatReport style, for CLI output.
func FormatSummary(s *Snapshot) string {
	if s == nil || len(s.Points) == 0 {
		return "No benchmark data available."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "window: %d days, initial capital $%.2f\n", s.PeriodDays, s.InitialCapital)
	fmt.Fprintf(&b, "algorithm: %.2f%%  btc: %.2f%% (alpha %.2f%%)  universe: %.2f%% (alpha %.2f%%)\n",
		s.Summary.AlgorithmReturnPct, s.Summary.BTCReturnPct, s.Summary.AlphaPct,
		s.Summary.UniverseReturnPct, s.Summary.UniverseAlphaPct)
	fmt.Fprintf(&b, "trades: %d  win rate: %.1f%%  open positions: %d\n",
		s.Summary.TotalTrades, s.Summary.WinRate, s.Summary.OpenPositions)
	fmt.Fprintf(&b, "exits: stop_loss=%d rotation=%d normal=%d\n",
		s.Summary.ExitReasonCounts["stop_loss"], s.Summary.ExitReasonCounts["rotation"], s.Summary.ExitReasonCounts["normal"])
	return b.String()
}

// roundTo rounds v to the given number of decimal places, matching the
// original's round(x, n) calls at serialization boundaries.
func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}
