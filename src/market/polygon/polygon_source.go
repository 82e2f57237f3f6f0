package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"finance-relay/src/interfaces"
	"finance-relay/src/logger"
	"finance-relay/src/models"
)

// -----------------------------------------------------------------------------
// Polygon Aggregates Source
// -----------------------------------------------------------------------------

// PolygonSource fetches OHLCV aggregates from the Polygon.io REST API.
// Failures are classified into the provider error taxonomy; there are
// no retries anywhere in the fetch path.
type PolygonSource struct {
	APIKey     string
	BaseURL    string
	Logger     *logger.Logger
	HttpClient *http.Client
}

// -----------------------------------------------------------------------------

func NewPolygonSource(apiKey string, timeout time.Duration, log *logger.Logger) *PolygonSource {
	return &PolygonSource{
		APIKey:  apiKey,
		BaseURL: "https://api.polygon.io",
		Logger:  log,
		HttpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// -----------------------------------------------------------------------------

type aggsResponse struct {
	Ticker       string `json:"ticker"`
	ResultsCount int    `json:"resultsCount"`
	Status       string `json:"status"`
	ErrorMsg     string `json:"error"`
	Results      []struct {
		Timestamp int64    `json:"t"` // milliseconds
		Open      *float64 `json:"o"` // Use pointers to handle null
		High      *float64 `json:"h"`
		Low       *float64 `json:"l"`
		Close     *float64 `json:"c"`
		Volume    *float64 `json:"v"`
	} `json:"results"`
}

// -----------------------------------------------------------------------------

// FetchBars requests aggregates bucketed as multiplier*unit between
// from and to, returning them ascending by timestamp.
func (s *PolygonSource) FetchBars(ctx context.Context, ticker string, multiplier int, unit string, from, to time.Time) ([]models.MSeriesPoint, error) {
	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/%d/%s/%s/%s",
		s.BaseURL, ticker, multiplier, unit,
		from.Format("2006-01-02"), to.Format("2006-01-02"))

	reqUrl, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	q := reqUrl.Query()
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("apiKey", s.APIKey)
	reqUrl.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to parsing
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("polygon status %d for %s: %w", resp.StatusCode, ticker, interfaces.ErrAuth)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("polygon status %d for %s: %w", resp.StatusCode, ticker, interfaces.ErrRateLimited)
	default:
		return nil, fmt.Errorf("polygon bad status %d for %s", resp.StatusCode, ticker)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return s.parseAggsResponse(ticker, body)
}

// -----------------------------------------------------------------------------

func (s *PolygonSource) parseAggsResponse(ticker string, data []byte) ([]models.MSeriesPoint, error) {
	var resp aggsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}

	if resp.ErrorMsg != "" {
		return nil, fmt.Errorf("polygon api error for %s: %s", ticker, resp.ErrorMsg)
	}

	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no bars in response for %s", ticker)
	}

	points := make([]models.MSeriesPoint, 0, len(resp.Results))
	for i, bar := range resp.Results {
		// Data cleaning: drop bars with null fields
		if bar.Open == nil || bar.High == nil || bar.Low == nil || bar.Close == nil || bar.Volume == nil {
			s.Logger.Info("Invalid OHLCV bar for %s at index %d", ticker, i)
			continue
		}
		if *bar.Close <= 0 || *bar.Volume < 0 {
			s.Logger.Info("Skipping invalid bar for %s: close=%f, volume=%f", ticker, *bar.Close, *bar.Volume)
			continue
		}

		points = append(points, models.MSeriesPoint{
			Timestamp: bar.Timestamp,
			Open:      *bar.Open,
			High:      *bar.High,
			Low:       *bar.Low,
			Close:     *bar.Close,
			Volume:    int64(*bar.Volume),
		})
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("no valid bars for %s", ticker)
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp < points[j].Timestamp
	})

	s.Logger.Info("Fetched %s: %d bars [%d -> %d]", ticker, len(points),
		points[0].Timestamp, points[len(points)-1].Timestamp)

	return points, nil
}
