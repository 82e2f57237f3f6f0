package interfaces

import "finance-relay/src/models"

// IMarketData is the data-access policy seen by the relay.
type IMarketData interface {
	// Fetch is a total function: it always returns a series, possibly
	// synthetic or error-tagged, never a raw transport error.
	Fetch(ticker, timeframe string) *models.MSeries
}
