package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"kabuto/internal/domain"
)

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// HTTPClient fetches daily bars from a generic JSON-over-HTTP bars
// service. Responses are validated into domain.RawBar at this boundary;
// malformed rows fail the whole request rather than leaking partial
// shapes downstream.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	symbolSuffix string
	httpc        *http.Client
	validate     *validator.Validate
}

// NewHTTPClient creates an HTTPClient for the bars service at baseURL.
// symbolSuffix is appended to bare numeric codes ("7203" → "7203.T").
func NewHTTPClient(baseURL, apiKey, symbolSuffix string) *HTTPClient {
	return &HTTPClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		symbolSuffix: symbolSuffix,
		httpc:        &http.Client{},
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

// barPayload is the loosely-typed provider row, validated before
// conversion. The provider's close series is already split-adjusted;
// adj_close additionally folds in dividends.
type barPayload struct {
	Date     string  `json:"date" validate:"required,datetime=2006-01-02"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close"`
	Volume   int64   `json:"volume"`
}

type barsResponse struct {
	Symbol string       `json:"symbol"`
	Bars   []barPayload `json:"bars" validate:"dive"`
}

// DailyBars requests bars for the inclusive range [start, end].
func (c *HTTPClient) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.RawBar, error) {
	q := url.Values{}
	q.Set("symbol", providerSymbol(symbol, c.symbolSuffix))
	q.Set("start", domain.Day(start).Format("2006-01-02"))
	q.Set("end", domain.Day(end).Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/daily-bars?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building bars request for %s: %w", symbol, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, Transient(fmt.Errorf("fetching bars for %s: %w", symbol, err))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(fmt.Errorf("fetching bars for %s: %w", symbol, err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(symbol, resp); err != nil {
		return nil, err
	}

	var payload barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, Transient(fmt.Errorf("decoding bars for %s: %w", symbol, err))
	}
	if err := c.validate.Struct(&payload); err != nil {
		return nil, fmt.Errorf("invalid bars payload for %s: %w", symbol, err)
	}

	out := make([]domain.RawBar, 0, len(payload.Bars))
	for _, b := range payload.Bars {
		d, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid bar date %q for %s: %w", b.Date, symbol, err)
		}
		out = append(out, domain.RawBar{
			Symbol:   symbol,
			Date:     d,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.AdjClose,
			Volume:   b.Volume,
		})
	}
	return out, nil
}

func classifyStatus(symbol string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("bars for %s: %w", symbol, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Transient(fmt.Errorf("bars for %s: provider returned %s", symbol, resp.Status))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bars for %s: provider returned %s (%s)", symbol, resp.Status, string(body))
	}
}
