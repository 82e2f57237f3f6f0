package models

// -----------------------------------------------------------------------------
// Price Series
// -----------------------------------------------------------------------------

// MSeriesPoint is one OHLCV bar.
// Invariant: Low <= min(Open, Close) <= max(Open, Close) <= High, Volume >= 0.
type MSeriesPoint struct {
	Timestamp int64   `json:"timestamp"` // milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// -----------------------------------------------------------------------------

// MSeries is an immutable price history for one ticker and timeframe,
// points ascending by timestamp. A failed fetch is represented as an
// empty series with Error set; callers never see a raw transport error.
type MSeries struct {
	Ticker    string         `json:"ticker"`
	Timeframe string         `json:"timeframe"`
	Points    []MSeriesPoint `json:"data"`
	Source    string         `json:"source,omitempty"` // "polygon" or "synthetic"
	Error     string         `json:"error,omitempty"`
}
