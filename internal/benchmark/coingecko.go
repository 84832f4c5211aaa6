package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// CoinGeckoFetcher implements PriceSeriesFetcher against CoinGecko's public
// market_chart endpoint, carrying the client-construction and
// context-timeout plumbing from market.HTTPProvider.
type CoinGeckoFetcher struct {
	BaseURL string
	client  *http.Client
}

// NewCoinGeckoFetcher constructs a CoinGeckoFetcher. baseURL defaults to
// the public CoinGecko API when empty.
func NewCoinGeckoFetcher(baseURL string) *CoinGeckoFetcher {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGeckoFetcher{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type marketChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

// FetchDailySeries fetches coinID's daily USD close for the trailing
// `days` window, deduplicating same-day points by keeping the last.
func (f *CoinGeckoFetcher) FetchDailySeries(ctx context.Context, coinID string, days int) ([]DailyPrice, error) {
	if days < 1 {
		days = 1
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", fmt.Sprintf("%d", days))
	q.Set("interval", "daily")
	u := fmt.Sprintf("%s/coins/%s/market_chart?%s", f.BaseURL, url.PathEscape(coinID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "cryptoswing/benchmark-export")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("benchmark: coingecko returned status %d for %s", resp.StatusCode, coinID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var payload marketChartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("benchmark: decode coingecko response for %s: %w", coinID, err)
	}

	byDate := make(map[string]float64, len(payload.Prices))
	for _, point := range payload.Prices {
		tsMillis, price := point[0], point[1]
		if price <= 0 {
			continue
		}
		d := time.UnixMilli(int64(tsMillis)).UTC().Format("2006-01-02")
		byDate[d] = price
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]DailyPrice, 0, len(dates))
	for _, d := range dates {
		out = append(out, DailyPrice{Date: d, Price: byDate[d]})
	}
	return out, nil
}
