package market

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"finance-relay/src/interfaces"
	"finance-relay/src/logger"
	"finance-relay/src/models"
)

// -----------------------------------------------------------------------------
// Market Data Fetcher
// -----------------------------------------------------------------------------

type cacheKey struct {
	ticker    string
	timeframe string
}

// Fetcher orchestrates the cache -> rate gate -> remote call ->
// synthetic fallback chain. It owns all shared state (cache entries
// and the rate gate timestamp) behind a single mutex and is injected
// into every consumer instead of living as package-level globals.
type Fetcher struct {
	Config   models.MMarketDataConfig
	Provider interfaces.IBarProvider
	Synth    *SyntheticGenerator
	Logger   *logger.Logger

	// Now is the clock; tests override it.
	Now func() time.Time

	mu       sync.Mutex
	cache    map[cacheKey]*models.MSeries
	lastCall time.Time
}

// -----------------------------------------------------------------------------

func NewFetcher(cfg models.MMarketDataConfig, provider interfaces.IBarProvider, synth *SyntheticGenerator, log *logger.Logger) *Fetcher {
	return &Fetcher{
		Config:   cfg,
		Provider: provider,
		Synth:    synth,
		Logger:   log,
		Now:      time.Now,
		cache:    make(map[cacheKey]*models.MSeries),
	}
}

// -----------------------------------------------------------------------------

// Fetch returns the series for (ticker, timeframe). It is a total
// function: the result is cached, fresh, synthetic or error-tagged,
// never a raw transport error. Cached entries live for the process
// lifetime and are replaced wholesale, never patched.
func (f *Fetcher) Fetch(ticker, timeframe string) *models.MSeries {
	ticker = strings.ToUpper(ticker)
	timeframe = strings.ToUpper(timeframe)
	key := cacheKey{ticker: ticker, timeframe: timeframe}

	f.mu.Lock()

	// 1. Cache lookup
	if series, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return series
	}

	// 2. Rate gate: skip the remote call entirely when the last
	// permitted call was too recent. The skip result is served
	// synthetic and not cached as authoritative.
	spacing := time.Duration(f.Config.RateLimitSeconds) * time.Second
	now := f.Now()
	if !f.lastCall.IsZero() && now.Sub(f.lastCall) < spacing {
		f.mu.Unlock()
		f.Logger.Info("Rate gate closed for %s/%s, serving synthetic data", ticker, timeframe)
		return f.Synth.Generate(ticker, timeframe)
	}

	// Stamp the gate immediately before issuing the call, so bursts
	// faster than the spacing window see exactly one real call.
	f.lastCall = now
	f.mu.Unlock()

	// 3. Remote call
	series, err := f.fetchRemote(ticker, timeframe, now)
	if err == nil {
		f.store(key, series)
		return series
	}

	// 4. Failure classes
	switch {
	case errors.Is(err, interfaces.ErrRateLimited):
		// Provider throttled: degrade to synthetic. Caching the
		// fallback keeps repeated requests stable during the outage.
		f.Logger.Warning("Provider throttled for %s/%s, falling back to synthetic data", ticker, timeframe)
		fallback := f.Synth.Generate(ticker, timeframe)
		if f.Config.CacheSyntheticFallback {
			f.store(key, fallback)
		}
		return fallback

	case errors.Is(err, interfaces.ErrAuth):
		f.Logger.Error("Provider authentication failed for %s/%s: %v", ticker, timeframe, err)
		return &models.MSeries{
			Ticker:    ticker,
			Timeframe: timeframe,
			Error:     "market data authentication failed",
		}

	default:
		f.Logger.Error("Provider fetch failed for %s/%s: %v", ticker, timeframe, err)
		return &models.MSeries{
			Ticker:    ticker,
			Timeframe: timeframe,
			Error:     "market data unavailable",
		}
	}
}

// -----------------------------------------------------------------------------

func (f *Fetcher) fetchRemote(ticker, timeframe string, now time.Time) (*models.MSeries, error) {
	spec := specFor(timeframe)
	from := now.AddDate(0, 0, -spec.LookbackDays)

	timeout := time.Duration(f.Config.RequestTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	bars, err := f.Provider.FetchBars(ctx, ticker, spec.Multiplier, spec.Unit, from, now)
	if err != nil {
		return nil, err
	}

	// Keep the most recent points matching the bucket spec
	if len(bars) > spec.Points {
		bars = bars[len(bars)-spec.Points:]
	}

	return &models.MSeries{
		Ticker:    ticker,
		Timeframe: timeframe,
		Points:    bars,
		Source:    "polygon",
	}, nil
}

// -----------------------------------------------------------------------------

func (f *Fetcher) store(key cacheKey, series *models.MSeries) {
	f.mu.Lock()
	f.cache[key] = series
	f.mu.Unlock()
}
