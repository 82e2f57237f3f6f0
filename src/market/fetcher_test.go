package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	"finance-relay/src/interfaces"
	"finance-relay/src/logger"
	"finance-relay/src/models"
	"finance-relay/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Stubs
// -----------------------------------------------------------------------------

// stubProvider counts calls and replays a scripted result.
type stubProvider struct {
	calls int
	bars  []models.MSeriesPoint
	err   error
}

func (s *stubProvider) FetchBars(_ context.Context, _ string, _ int, _ string, _, _ time.Time) ([]models.MSeriesPoint, error) {
	s.calls++
	return s.bars, s.err
}

// -----------------------------------------------------------------------------

func newTestFetcher(provider *stubProvider, rateLimitSeconds int, cacheFallback bool) *Fetcher {
	log := logger.NewLogger("ERROR", "test")
	synth := NewSyntheticGenerator(42, utils.NewTradingCalendar(), log)
	synth.Now = func() time.Time {
		return time.Date(2024, 6, 12, 14, 30, 0, 0, time.UTC)
	}

	cfg := models.MMarketDataConfig{
		RequestTimeoutSeconds:  1,
		RateLimitSeconds:       rateLimitSeconds,
		CacheSyntheticFallback: cacheFallback,
	}

	f := NewFetcher(cfg, provider, synth, log)
	f.Now = func() time.Time {
		return time.Date(2024, 6, 12, 14, 30, 0, 0, time.UTC)
	}
	return f
}

func scriptedBars(n int) []models.MSeriesPoint {
	bars := make([]models.MSeriesPoint, n)
	for i := range bars {
		bars[i] = models.MSeriesPoint{
			Timestamp: int64(i) * 86_400_000,
			Open:      100, High: 101, Low: 99, Close: 100.5,
			Volume: 1_000_000,
		}
	}
	return bars
}

// -----------------------------------------------------------------------------
// Cache
// -----------------------------------------------------------------------------

func TestFetcher_CacheIdempotent(t *testing.T) {
	provider := &stubProvider{bars: scriptedBars(30)}
	f := newTestFetcher(provider, 0, true)

	first := f.Fetch("AAPL", "1M")
	second := f.Fetch("aapl", "1m")

	require.Equal(t, 1, provider.calls, "cache hit must not reach the provider")
	assert.Same(t, first, second, "cached entry should be returned as-is")
	assert.Equal(t, "polygon", first.Source)
	assert.Len(t, first.Points, 22, "series should be trimmed to the bucket point count")
}

// -----------------------------------------------------------------------------

func TestFetcher_DistinctTimeframesCacheSeparately(t *testing.T) {
	provider := &stubProvider{bars: scriptedBars(80)}
	f := newTestFetcher(provider, 0, true)

	month := f.Fetch("AAPL", "1M")
	quarter := f.Fetch("AAPL", "3M")

	assert.Equal(t, 2, provider.calls)
	assert.Len(t, month.Points, 22)
	assert.Len(t, quarter.Points, 66)
}

// -----------------------------------------------------------------------------
// Rate Gate
// -----------------------------------------------------------------------------

func TestFetcher_RateGateServesSynthetic(t *testing.T) {
	provider := &stubProvider{bars: scriptedBars(30)}
	f := newTestFetcher(provider, 10, true)

	base := time.Date(2024, 6, 12, 14, 30, 0, 0, time.UTC)
	f.Now = func() time.Time { return base }

	live := f.Fetch("AAPL", "1M")
	require.Equal(t, 1, provider.calls)
	assert.Equal(t, "polygon", live.Source)

	// Different key inside the spacing window: gate is closed
	gated := f.Fetch("MSFT", "1M")
	assert.Equal(t, 1, provider.calls, "gated request must not reach the provider")
	assert.Equal(t, "synthetic", gated.Source)

	// Gate-skip results are not cached: once the window passes, the same
	// key goes remote
	f.Now = func() time.Time { return base.Add(11 * time.Second) }
	fresh := f.Fetch("MSFT", "1M")
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, "polygon", fresh.Source)
}

// -----------------------------------------------------------------------------

func TestFetcher_BurstMakesOneRemoteCall(t *testing.T) {
	provider := &stubProvider{bars: scriptedBars(30)}
	f := newTestFetcher(provider, 10, true)

	tickers := []string{"AAPL", "MSFT", "TSLA", "NVDA", "SPY"}
	for _, ticker := range tickers {
		f.Fetch(ticker, "1M")
	}

	assert.Equal(t, 1, provider.calls, "a burst faster than the spacing window sees exactly one remote call")
}

// -----------------------------------------------------------------------------
// Failure Classes
// -----------------------------------------------------------------------------

func TestFetcher_ProviderThrottleFallsBackToSynthetic(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("status 429: %w", interfaces.ErrRateLimited)}
	f := newTestFetcher(provider, 0, true)

	series := f.Fetch("AAPL", "1M")
	require.Equal(t, "synthetic", series.Source)
	assert.Empty(t, series.Error, "fallback series is served as data, not as an error")
	assert.NotEmpty(t, series.Points)

	// cache_synthetic_fallback keeps repeat requests off the provider
	again := f.Fetch("AAPL", "1M")
	assert.Equal(t, 1, provider.calls)
	assert.Same(t, series, again)
}

// -----------------------------------------------------------------------------

func TestFetcher_ThrottleFallbackNotCachedWhenDisabled(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("status 429: %w", interfaces.ErrRateLimited)}
	f := newTestFetcher(provider, 0, false)

	f.Fetch("AAPL", "1M")
	f.Fetch("AAPL", "1M")

	assert.Equal(t, 2, provider.calls, "with caching disabled every request retries the provider")
}

// -----------------------------------------------------------------------------

func TestFetcher_AuthFailureIsErrorTagged(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("status 401: %w", interfaces.ErrAuth)}
	f := newTestFetcher(provider, 0, true)

	series := f.Fetch("AAPL", "1M")
	assert.Equal(t, "market data authentication failed", series.Error)
	assert.Empty(t, series.Points)
}

// -----------------------------------------------------------------------------

func TestFetcher_GenericFailureIsErrorTagged(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("connection refused")}
	f := newTestFetcher(provider, 0, true)

	series := f.Fetch("AAPL", "1M")
	assert.Equal(t, "market data unavailable", series.Error)

	// Failures are never cached
	f.Fetch("AAPL", "1M")
	assert.Equal(t, 2, provider.calls)
}
