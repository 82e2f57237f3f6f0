package market

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"finance-relay/src/logger"
	"finance-relay/src/models"
	"finance-relay/src/utils"
)

// -----------------------------------------------------------------------------
// Synthetic Series Generator
// -----------------------------------------------------------------------------

// basePrices anchors well-known tickers to plausible levels. Unknown
// tickers hash into a bounded range instead.
var basePrices = map[string]float64{
	"AAPL": 185, "MSFT": 420, "GOOGL": 175, "GOOG": 177, "AMZN": 185,
	"META": 500, "TSLA": 250, "NVDA": 875, "AMD": 160, "INTC": 35,
	"IBM": 190, "CSCO": 48, "ORCL": 125, "ADBE": 560, "CRM": 300,
	"NFLX": 610, "PYPL": 65, "QCOM": 170, "TXN": 175, "SPY": 520,
	"QQQ": 440, "DIA": 390, "VTI": 260, "VOO": 475,
}

const (
	baselineVolatility = 0.02
	eventDayVolatility = 0.06
	eventDayChance     = 0.08
	eventVolumeBoost   = 2.5
)

// -----------------------------------------------------------------------------

// SyntheticGenerator produces deterministic pseudo-random OHLCV series.
// For a fixed ticker, timeframe and seed the price path is bit-for-bit
// identical; timestamps follow the injected clock.
type SyntheticGenerator struct {
	Seed     int64
	Calendar *utils.TradingCalendar
	Logger   *logger.Logger
	Now      func() time.Time
}

// -----------------------------------------------------------------------------

func NewSyntheticGenerator(seed int64, cal *utils.TradingCalendar, log *logger.Logger) *SyntheticGenerator {
	return &SyntheticGenerator{
		Seed:     seed,
		Calendar: cal,
		Logger:   log,
		Now:      time.Now,
	}
}

// -----------------------------------------------------------------------------

// Generate builds a synthetic series for ticker over timeframe.
func (g *SyntheticGenerator) Generate(ticker, timeframe string) *models.MSeries {
	spec := specFor(timeframe)
	rng := rand.New(rand.NewSource(g.seedFor(ticker, timeframe)))

	timestamps := g.timestamps(spec)
	base := basePriceFor(ticker)

	points := make([]models.MSeriesPoint, 0, spec.Points)

	// First open is randomized around the base; every later open equals
	// the previous close.
	prevClose := base * (1 + (rng.Float64()-0.5)*0.04)

	for _, ts := range timestamps {
		volatility := baselineVolatility
		eventDay := rng.Float64() < eventDayChance
		if eventDay {
			volatility = eventDayVolatility
		}

		open := prevClose
		change := (rng.Float64() - 0.48) * volatility
		closeVal := open * (1 + change)

		// High/low wrap max/min(open, close) so the OHLC invariant holds.
		high := math.Max(open, closeVal) * (1 + rng.Float64()*volatility*0.5)
		low := math.Min(open, closeVal) * (1 - rng.Float64()*volatility*0.5)

		// Volume tracks the magnitude of the move, with news-day spikes.
		baseVolume := 1_000_000 + rng.Int63n(4_000_000)
		multiplier := 1 + math.Abs(change)*40 + rng.Float64()
		if eventDay {
			multiplier *= eventVolumeBoost
		}
		volume := int64(float64(baseVolume) * multiplier)

		points = append(points, models.MSeriesPoint{
			Timestamp: ts.UnixMilli(),
			Open:      round2(open),
			High:      round2(high),
			Low:       round2(low),
			Close:     round2(closeVal),
			Volume:    volume,
		})
		prevClose = closeVal
	}

	return &models.MSeries{
		Ticker:    ticker,
		Timeframe: timeframe,
		Points:    points,
		Source:    "synthetic",
	}
}

// -----------------------------------------------------------------------------

// timestamps builds the ascending sample times for a bucket spec.
// Hourly points run back from the current hour; daily points land on
// trading days only; weekly/monthly points step back in calendar units
// snapped to the nearest earlier trading day.
func (g *SyntheticGenerator) timestamps(spec bucketSpec) []time.Time {
	now := g.Now().UTC()

	switch spec.Unit {
	case "hour":
		end := now.Truncate(time.Hour)
		out := make([]time.Time, spec.Points)
		for i := 0; i < spec.Points; i++ {
			out[i] = end.Add(-time.Duration(spec.Points-1-i) * time.Hour)
		}
		return out

	case "day":
		days := g.Calendar.BackTradingDays(now, spec.Points)
		out := make([]time.Time, len(days))
		for i, d := range days {
			out[i] = atSessionClose(d)
		}
		return out

	case "week":
		out := make([]time.Time, spec.Points)
		d := g.Calendar.PrevTradingDay(now)
		for i := spec.Points - 1; i >= 0; i-- {
			out[i] = atSessionClose(d)
			d = g.Calendar.PrevTradingDay(d.AddDate(0, 0, -7))
		}
		return out

	default: // month
		out := make([]time.Time, spec.Points)
		d := g.Calendar.PrevTradingDay(now)
		for i := spec.Points - 1; i >= 0; i-- {
			out[i] = atSessionClose(d)
			d = g.Calendar.PrevTradingDay(d.AddDate(0, -1, 0))
		}
		return out
	}
}

// -----------------------------------------------------------------------------

// seedFor mixes the configured seed with the request key so each
// (ticker, timeframe) gets its own reproducible stream.
func (g *SyntheticGenerator) seedFor(ticker, timeframe string) int64 {
	h := fnv.New64a()
	h.Write([]byte(ticker))
	h.Write([]byte{0})
	h.Write([]byte(timeframe))
	return g.Seed ^ int64(h.Sum64())
}

// -----------------------------------------------------------------------------

func basePriceFor(ticker string) float64 {
	if p, ok := basePrices[ticker]; ok {
		return p
	}
	// Stable hash into a 10..510 price range
	h := fnv.New32a()
	h.Write([]byte(ticker))
	return 10 + float64(h.Sum32()%50000)/100
}

// -----------------------------------------------------------------------------

// atSessionClose pins a day's sample to 16:00 US/Eastern expressed in UTC.
func atSessionClose(d time.Time) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	local := time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, loc)
	return local.UTC()
}

// -----------------------------------------------------------------------------

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
