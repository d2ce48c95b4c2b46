package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"kabuto/internal/domain"
)

// Compile-time interface check.
var _ Client = (*AlpacaClient)(nil)

// AlpacaClient fetches daily bars from the Alpaca market-data API. Two
// requests per range are issued, one split-adjusted and one fully
// adjusted, and zipped by date to populate both close series.
type AlpacaClient struct {
	client *marketdata.Client
}

// NewAlpacaClient creates an AlpacaClient with the given credentials.
// dataURL may be empty to use the SDK default.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *AlpacaClient {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaClient{client: marketdata.NewClient(opts)}
}

// DailyBars requests bars for the inclusive range [start, end].
func (c *AlpacaClient) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.RawBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	splitAdjusted, err := c.getBars(symbol, start, end, marketdata.Split)
	if err != nil {
		return nil, err
	}
	fullyAdjusted, err := c.getBars(symbol, start, end, marketdata.All)
	if err != nil {
		return nil, err
	}

	adjCloseByDate := make(map[time.Time]float64, len(fullyAdjusted))
	for _, b := range fullyAdjusted {
		adjCloseByDate[domain.Day(b.Timestamp)] = b.Close
	}

	out := make([]domain.RawBar, 0, len(splitAdjusted))
	for _, b := range splitAdjusted {
		d := domain.Day(b.Timestamp)
		adjClose, ok := adjCloseByDate[d]
		if !ok {
			adjClose = b.Close
		}
		out = append(out, domain.RawBar{
			Symbol:   symbol,
			Date:     d,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: adjClose,
			Volume:   int64(b.Volume),
		})
	}
	return out, nil
}

func (c *AlpacaClient) getBars(symbol string, start, end time.Time, adj marketdata.Adjustment) ([]marketdata.Bar, error) {
	bars, err := c.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		End:        end,
		Adjustment: adj,
	})
	if err != nil {
		return nil, classifyAlpacaErr(symbol, err)
	}
	return bars, nil
}

func classifyAlpacaErr(symbol string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("bars for %s: %w", symbol, ErrNotFound)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return Transient(fmt.Errorf("bars for %s: %w", symbol, err))
		default:
			return fmt.Errorf("bars for %s: %w", symbol, err)
		}
	}
	// Anything below the HTTP layer (DNS, reset connections) is retryable.
	return Transient(fmt.Errorf("bars for %s: %w", symbol, err))
}
