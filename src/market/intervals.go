package market

import "strings"

// -----------------------------------------------------------------------------
// Timeframe Buckets
// -----------------------------------------------------------------------------

// Timeframe tokens accepted on the wire.
const (
	Timeframe1D = "1D"
	Timeframe1W = "1W"
	Timeframe1M = "1M"
	Timeframe3M = "3M"
	Timeframe1Y = "1Y"
	Timeframe5Y = "5Y"
)

// bucketSpec describes how a timeframe is sampled: point count, the
// provider bucket (multiplier * unit) and the provider query window.
type bucketSpec struct {
	Points       int
	Multiplier   int
	Unit         string // "hour", "day", "week", "month"
	LookbackDays int
}

// -----------------------------------------------------------------------------

// specFor maps a timeframe token to its bucket spec. Unrecognized
// tokens get 1M semantics.
func specFor(timeframe string) bucketSpec {
	switch strings.ToUpper(timeframe) {
	case Timeframe1D:
		return bucketSpec{Points: 24, Multiplier: 1, Unit: "hour", LookbackDays: 2}
	case Timeframe1W:
		return bucketSpec{Points: 7, Multiplier: 1, Unit: "day", LookbackDays: 12}
	case Timeframe3M:
		return bucketSpec{Points: 66, Multiplier: 1, Unit: "day", LookbackDays: 135}
	case Timeframe1Y:
		return bucketSpec{Points: 52, Multiplier: 1, Unit: "week", LookbackDays: 370}
	case Timeframe5Y:
		return bucketSpec{Points: 60, Multiplier: 1, Unit: "month", LookbackDays: 1830}
	default: // 1M and anything unrecognized
		return bucketSpec{Points: 22, Multiplier: 1, Unit: "day", LookbackDays: 45}
	}
}
