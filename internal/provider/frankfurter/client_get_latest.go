package frankfurter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"fxstream/internal/provider"
)

// Name is the provider identifier carried in snapshots and errors.
const Name = "Frankfurter"

// Latest is the /v1/latest response body.
type Latest struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

// GetLatest retrieves the latest rates of symbols quoted against base.
// Every failure is returned as a *provider.UpstreamError.
func (c *Client) GetLatest(ctx context.Context, base string, symbols []string) (*Latest, error) {
	query := url.Values{}
	query.Set("base", base)
	query.Set("symbols", strings.Join(symbols, ","))

	u := fmt.Sprintf("%s/v1/latest?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, &provider.UpstreamError{Provider: Name, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &provider.UpstreamError{Provider: Name, Err: fmt.Errorf("performing request: %w", err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, &provider.UpstreamError{
			Provider: Name,
			Status:   res.StatusCode,
			Err:      fmt.Errorf("GET %s -> %d: %s", req.URL.Path, res.StatusCode, string(b)),
		}
	}

	var latest Latest
	if err := json.NewDecoder(res.Body).Decode(&latest); err != nil {
		return nil, &provider.UpstreamError{Provider: Name, Err: fmt.Errorf("decoding latest response: %w", err)}
	}
	if latest.Rates == nil {
		latest.Rates = map[string]float64{}
	}
	return &latest, nil
}
