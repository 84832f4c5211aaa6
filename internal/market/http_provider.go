// http_provider.go implements BarFetcher/SpotFetcher against a public
// OHLCV REST endpoint, replacing the teacher's Dhan-specific client
// (internal/market/dhan_data.go) while keeping its client-construction
// and context-timeout plumbing.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/model"
)

// HTTPProviderConfig configures the REST-backed OHLCV provider.
type HTTPProviderConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// HTTPProvider fetches bars and spot quotes from a public crypto market
// data endpoint (e.g. a candles/ticker REST API), applying a bounded
// per-call timeout.
type HTTPProvider struct {
	cfg    HTTPProviderConfig
	client *http.Client
}

// NewHTTPProvider constructs an HTTPProvider. baseURL defaults to a
// well-known public OHLCV endpoint when empty.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.marketdata.example/v1"
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type candleResponse struct {
	Timestamps []int64   `json:"t"`
	Open       []float64 `json:"o"`
	High       []float64 `json:"h"`
	Low        []float64 `json:"l"`
	Close      []float64 `json:"c"`
	Volume     []float64 `json:"v"`
}

// FetchOnce performs a single, non-retrying bar fetch.
func (p *HTTPProvider) FetchOnce(ctx context.Context, symbol, period, interval string) ([]model.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	u := fmt.Sprintf("%s/candles?symbol=%s&period=%s&interval=%s",
		p.cfg.BaseURL, url.QueryEscape(symbol), url.QueryEscape(period), url.QueryEscape(interval))

	var resp candleResponse
	if err := p.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	n := len(resp.Timestamps)
	bars := make([]model.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, model.Bar{
			Timestamp: time.Unix(resp.Timestamps[i], 0).UTC(),
			Open:      valAt(resp.Open, i),
			High:      valAt(resp.High, i),
			Low:       valAt(resp.Low, i),
			Close:     valAt(resp.Close, i),
			Volume:    valAt(resp.Volume, i),
		})
	}
	return bars, nil
}

type quoteResponse struct {
	Price float64 `json:"price"`
}

// FetchSpotOnce performs a single spot-price lookup by reading the most
// recent close from a history request, matching paper_exchange.py's
// use of ticker.history(...)["Close"].iloc[-1].
func (p *HTTPProvider) FetchSpotOnce(ctx context.Context, symbol, period, interval string) (float64, error) {
	bars, err := p.FetchOnce(ctx, symbol, period, interval)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("market: no bars for %s", symbol)
	}
	return bars[len(bars)-1].Close, nil
}

// FastQuote hits a lightweight last-price endpoint, analogous to
// yfinance's fast_info.lastPrice fallback.
func (p *HTTPProvider) FastQuote(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	u := fmt.Sprintf("%s/quote?symbol=%s", p.cfg.BaseURL, url.QueryEscape(symbol))
	var resp quoteResponse
	if err := p.getJSON(ctx, u, &resp); err != nil {
		return 0, err
	}
	return resp.Price, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market: unexpected status %d for %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func valAt(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}
