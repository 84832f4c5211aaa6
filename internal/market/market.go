// Package market implements the MarketData client (C1): OHLCV bar
// fetching with a retry/fallback plan, interval resampling, and spot
// price lookups for the paper exchange.
//
// Design rules (carried from the teacher's data.go):
//   - Market data is a dedicated concern, separate from the exchange layer.
//   - No component computes features directly off live fetches; everything
//     flows through FetchBars so retry/fallback/resampling is applied once.
package market

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/model"
)

// MarketData is the interface the feature builder and paper exchange use
// to obtain bars and spot prices. FetchBars must never return an error
// for an exhausted retry plan — an empty bar set is not an error
// (SPEC_FULL.md §4.1); SpotPrice does return one, since it has no price.
type MarketData interface {
	// FetchBars retrieves OHLCV bars for symbol over (period, interval).
	// Returns (nil, nil) when the fallback plan is exhausted without data.
	FetchBars(ctx context.Context, symbol, period, interval string) ([]model.Bar, error)

	// SpotPrice retrieves the current price for symbol. Returns a non-nil
	// error if price is unavailable after the fallback plan is exhausted.
	SpotPrice(ctx context.Context, symbol string) (float64, error)
}

// planStep is one (period, interval) pair in a fallback plan.
type planStep struct {
	period   string
	interval string
}

// barsFallbackPlan is tried, in order, after the caller's requested
// (period, interval) fails or returns empty.
var barsFallbackPlan = []planStep{
	{period: "30d", interval: "1h"},
	{period: "60d", interval: "1d"},
}

// spotFallbackPlan is the shorter plan used by SpotPrice, grounded in
// original_source/crypto/trading/paper_exchange.py::get_current_price.
var spotFallbackPlan = []planStep{
	{period: "1d", interval: "1m"},
	{period: "5d", interval: "1h"},
	{period: "30d", interval: "1d"},
}

// BarFetcher is the narrow single-attempt fetch the HTTP provider supplies;
// kept separate from retry/resampling so that logic is unit-testable
// against a fake fetcher.
type BarFetcher interface {
	FetchOnce(ctx context.Context, symbol, period, interval string) ([]model.Bar, error)
}

// SpotFetcher is the narrow single-attempt spot price fetch.
type SpotFetcher interface {
	FetchSpotOnce(ctx context.Context, symbol, period, interval string) (float64, error)
	FastQuote(ctx context.Context, symbol string) (float64, error)
}

// Client is the concrete MarketData implementation. It wraps a BarFetcher
// (an HTTP client against a public OHLCV endpoint, or a fake in tests)
// with the retry/fallback/resampling algorithm from SPEC_FULL.md §4.1.
type Client struct {
	bars BarFetcher
	spot SpotFetcher
	sleep func(time.Duration)
}

// NewClient wraps a BarFetcher/SpotFetcher pair with the engine's
// retry/fallback policy.
func NewClient(bars BarFetcher, spot SpotFetcher) *Client {
	return &Client{bars: bars, spot: spot, sleep: time.Sleep}
}

// FetchBars implements MarketData. It tries the requested (period,
// interval), then the static fallback plan, retrying up to 3 attempts per
// step with ~0.35*attempt second backoff. When the requested interval isn't
// one the provider serves natively, it fetches the coarsest native interval
// that evenly divides it and resamples up (SPEC_FULL.md §4.1).
func (c *Client) FetchBars(ctx context.Context, symbol, period, interval string) ([]model.Bar, error) {
	steps := append([]planStep{{period: period, interval: interval}}, barsFallbackPlan...)

	for _, step := range steps {
		if bars, ok := c.tryFetchBars(ctx, symbol, step); ok {
			return bars, nil
		}
	}
	return nil, nil
}

func (c *Client) tryFetchBars(ctx context.Context, symbol string, step planStep) ([]model.Bar, bool) {
	if _, native := nativeIntervals[step.interval]; !native {
		if bucket, ok := parseIntervalDuration(step.interval); ok {
			if source, ok := resampleSource(bucket); ok {
				bars, ok := c.tryFetchBarsNative(ctx, symbol, planStep{period: step.period, interval: source})
				if !ok {
					return nil, false
				}
				return Resample(bars, bucket), true
			}
		}
	}
	return c.tryFetchBarsNative(ctx, symbol, step)
}

func (c *Client) tryFetchBarsNative(ctx context.Context, symbol string, step planStep) ([]model.Bar, bool) {
	for attempt := 0; attempt < 3; attempt++ {
		bars, err := c.bars.FetchOnce(ctx, symbol, step.period, step.interval)
		if err == nil && len(bars) > 0 {
			return bars, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		c.sleep(time.Duration(0.35 * float64(attempt+1) * float64(time.Second)))
	}
	return nil, false
}

// SpotPrice implements MarketData, following paper_exchange.py's
// get_current_price: three (period, interval) steps, each retried 3x
// with 0.3*(attempt+1)s backoff, falling back to a fast-quote endpoint.
func (c *Client) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	for _, step := range spotFallbackPlan {
		for attempt := 0; attempt < 3; attempt++ {
			price, err := c.spot.FetchSpotOnce(ctx, symbol, step.period, step.interval)
			if err == nil && price > 0 {
				return price, nil
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			c.sleep(time.Duration(0.3 * float64(attempt+1) * float64(time.Second)))
		}
	}

	if price, err := c.spot.FastQuote(ctx, symbol); err == nil && price > 0 {
		return price, nil
	}

	return 0, fmt.Errorf("market: spot price unavailable for %s after retries", symbol)
}

// nativeIntervals are the candle intervals the provider serves directly.
// A requested interval outside this set (e.g. "4h", "2h") is synthesized
// by fetching the coarsest native interval that evenly divides it and
// resampling (SPEC_FULL.md §4.1) rather than forwarded as-is.
var nativeIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
}

// parseIntervalDuration parses an interval string ("4h", "30m", "2d") into
// a duration. Native interval strings resolve directly; others are parsed
// as <int><unit> with unit in {m,h,d}.
func parseIntervalDuration(interval string) (time.Duration, bool) {
	if d, ok := nativeIntervals[interval]; ok {
		return d, true
	}
	n := len(interval)
	if n < 2 {
		return 0, false
	}
	var mult time.Duration
	switch interval[n-1] {
	case 'm':
		mult = time.Minute
	case 'h':
		mult = time.Hour
	case 'd':
		mult = 24 * time.Hour
	default:
		return 0, false
	}
	val, err := strconv.Atoi(interval[:n-1])
	if err != nil || val <= 0 {
		return 0, false
	}
	return time.Duration(val) * mult, true
}

// resampleSource picks the coarsest native interval whose duration evenly
// divides bucket, so Resample needs the fewest source bars per bucket.
// Returns ok=false when no native interval evenly divides bucket.
func resampleSource(bucket time.Duration) (string, bool) {
	best := ""
	var bestDur time.Duration
	for interval, dur := range nativeIntervals {
		if dur >= bucket || bucket%dur != 0 {
			continue
		}
		if dur > bestDur {
			bestDur = dur
			best = interval
		}
	}
	return best, best != ""
}

// ResampleRule describes how a column is aggregated when bars are
// resampled to a coarser interval.
type ResampleRule string

const (
	ResampleFirst ResampleRule = "first"
	ResampleMax   ResampleRule = "max"
	ResampleMin   ResampleRule = "min"
	ResampleLast  ResampleRule = "last"
	ResampleSum   ResampleRule = "sum"
)

// Resample aggregates finer-grained bars into buckets of the given
// duration, applying open=first, high=max, low=min, close=last,
// volume=sum — the OHLCV resampling convention (SPEC_FULL.md §4.1).
func Resample(bars []model.Bar, bucket time.Duration) []model.Bar {
	if len(bars) == 0 || bucket <= 0 {
		return bars
	}

	sorted := make([]model.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var out []model.Bar
	var cur *model.Bar
	var bucketStart time.Time

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
		}
	}

	for _, b := range sorted {
		start := b.Timestamp.Truncate(bucket)
		if cur == nil || !start.Equal(bucketStart) {
			flush()
			bucketStart = start
			nb := b
			nb.Timestamp = start
			cur = &nb
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	flush()

	return out
}
