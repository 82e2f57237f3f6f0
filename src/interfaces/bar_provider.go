package interfaces

import (
	"context"
	"errors"
	"time"

	"finance-relay/src/models"
)

// Provider failure classes. Anything else is a generic provider error.
var (
	// ErrRateLimited means the provider reported throttling (HTTP 429).
	ErrRateLimited = errors.New("provider rate limited")
	// ErrAuth means the provider rejected the credentials (HTTP 401/403).
	ErrAuth = errors.New("provider authentication failed")
)

// IBarProvider is the remote market data source.
type IBarProvider interface {
	// FetchBars returns ordered OHLCV bars for ticker between from and to,
	// bucketed as multiplier*unit (e.g. 1 "day"). No retries are performed.
	FetchBars(ctx context.Context, ticker string, multiplier int, unit string, from, to time.Time) ([]models.MSeriesPoint, error)
}
