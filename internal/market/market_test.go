package market

import (
	"context"
	"testing"
	"time"

	"github.com/nitinkhare/cryptoswing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBarFetcher struct {
	calls   []planStep
	results map[string][]model.Bar // keyed by period+interval
}

func (f *fakeBarFetcher) FetchOnce(_ context.Context, _, period, interval string) ([]model.Bar, error) {
	f.calls = append(f.calls, planStep{period: period, interval: interval})
	return f.results[period+"|"+interval], nil
}

type fakeSpotFetcher struct {
	spotResults map[string]float64
	fastQuote   float64
}

func (f *fakeSpotFetcher) FetchSpotOnce(_ context.Context, _, period, interval string) (float64, error) {
	return f.spotResults[period+"|"+interval], nil
}

func (f *fakeSpotFetcher) FastQuote(_ context.Context, _ string) (float64, error) {
	return f.fastQuote, nil
}

func noSleep(time.Duration) {}

func TestClientFetchBarsUsesPrimaryWhenNonEmpty(t *testing.T) {
	bars := []model.Bar{{Close: 100}}
	bf := &fakeBarFetcher{results: map[string][]model.Bar{"90d|1h": bars}}
	c := NewClient(bf, &fakeSpotFetcher{})
	c.sleep = noSleep

	got, err := c.FetchBars(context.Background(), "BTC-USD", "90d", "1h")
	require.NoError(t, err)
	assert.Equal(t, bars, got)
	assert.Equal(t, planStep{period: "90d", interval: "1h"}, bf.calls[0])
}

func TestClientFetchBarsFallsThroughPlanWhenEmpty(t *testing.T) {
	bars := []model.Bar{{Close: 42}}
	bf := &fakeBarFetcher{results: map[string][]model.Bar{"60d|1d": bars}}
	c := NewClient(bf, &fakeSpotFetcher{})
	c.sleep = noSleep

	got, err := c.FetchBars(context.Background(), "ETH-USD", "90d", "1h")
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestClientFetchBarsExhaustedReturnsEmptyNotError(t *testing.T) {
	bf := &fakeBarFetcher{results: map[string][]model.Bar{}}
	c := NewClient(bf, &fakeSpotFetcher{})
	c.sleep = noSleep

	got, err := c.FetchBars(context.Background(), "SOL-USD", "90d", "1h")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClientSpotPriceFallsBackToFastQuote(t *testing.T) {
	sf := &fakeSpotFetcher{spotResults: map[string]float64{}, fastQuote: 123.45}
	c := NewClient(&fakeBarFetcher{}, sf)
	c.sleep = noSleep

	price, err := c.SpotPrice(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 123.45, price)
}

func TestClientSpotPriceUnavailableReturnsError(t *testing.T) {
	sf := &fakeSpotFetcher{spotResults: map[string]float64{}, fastQuote: 0}
	c := NewClient(&fakeBarFetcher{}, sf)
	c.sleep = noSleep

	_, err := c.SpotPrice(context.Background(), "BTC-USD")
	require.Error(t, err)
}

func TestClientFetchBarsSynthesizesUnsupportedInterval(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hourly := []model.Bar{
		{Timestamp: base, Open: 10, High: 12, Low: 9, Close: 11, Volume: 5},
		{Timestamp: base.Add(time.Hour), Open: 11, High: 14, Low: 10, Close: 13, Volume: 7},
		{Timestamp: base.Add(2 * time.Hour), Open: 13, High: 13, Low: 8, Close: 9, Volume: 3},
		{Timestamp: base.Add(3 * time.Hour), Open: 9, High: 10, Low: 8, Close: 9.5, Volume: 4},
	}
	bf := &fakeBarFetcher{results: map[string][]model.Bar{"60d|1h": hourly}}
	c := NewClient(bf, &fakeSpotFetcher{})
	c.sleep = noSleep

	got, err := c.FetchBars(context.Background(), "BTC-USD", "60d", "4h")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0].Open)
	assert.Equal(t, 14.0, got[0].High)
	assert.Equal(t, 8.0, got[0].Low)
	assert.Equal(t, 9.5, got[0].Close)
	assert.Equal(t, 19.0, got[0].Volume)
	assert.Equal(t, planStep{period: "60d", interval: "1h"}, bf.calls[0], "4h is synthesized from the native 1h interval")
}

func TestResampleAggregatesOHLCV(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []model.Bar{
		{Timestamp: base, Open: 10, High: 12, Low: 9, Close: 11, Volume: 5},
		{Timestamp: base.Add(time.Hour), Open: 11, High: 14, Low: 10, Close: 13, Volume: 7},
		{Timestamp: base.Add(2 * time.Hour), Open: 13, High: 13, Low: 8, Close: 9, Volume: 3},
	}

	out := Resample(bars, 2*time.Hour)
	require.Len(t, out, 2)
	assert.Equal(t, 10.0, out[0].Open)
	assert.Equal(t, 14.0, out[0].High)
	assert.Equal(t, 9.0, out[0].Low)
	assert.Equal(t, 13.0, out[0].Close)
	assert.Equal(t, 12.0, out[0].Volume)
	assert.Equal(t, 9.0, out[1].Close)
}
