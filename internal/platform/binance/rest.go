package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/arbiterlabs/triarb/internal/domain"
)

// RestClient is a thin client for the exchange request/response API. It only
// covers the read-only endpoints the detector needs: order-book depth and
// exchange-wide symbol metadata. Every call carries a bounded timeout via the
// caller's context on top of the client-level timeout.
type RestClient struct {
	baseURL string
	client  *http.Client
}

// NewRestClient creates a RestClient for the given base URL, e.g.
// "https://api.binance.com/api/v3".
func NewRestClient(baseURL string, timeout time.Duration) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Depth fetches the order book for a pair, limited to the top `limit` levels.
func (c *RestClient) Depth(ctx context.Context, pair domain.Pair, limit int) (DepthResponse, error) {
	q := url.Values{}
	q.Set("symbol", pair.Symbol())
	q.Set("limit", strconv.Itoa(limit))

	var out DepthResponse
	if err := c.get(ctx, "/depth", q, &out); err != nil {
		return DepthResponse{}, fmt.Errorf("binance: depth %s: %w", pair.Symbol(), err)
	}
	return out, nil
}

// ExchangeInfo fetches symbol metadata (trading status, base/quote assets)
// for the whole exchange.
func (c *RestClient) ExchangeInfo(ctx context.Context) (ExchangeInfo, error) {
	var out ExchangeInfo
	if err := c.get(ctx, "/exchangeInfo", nil, &out); err != nil {
		return ExchangeInfo{}, fmt.Errorf("binance: exchange info: %w", err)
	}
	return out, nil
}

// get performs a GET request and decodes the JSON response into dst.
func (c *RestClient) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
