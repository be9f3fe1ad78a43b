package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/zuripay/zuri-settler/pkg/logger"
)

// HTTPClient is the production solver client.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a solver client for the given API endpoint.
func NewHTTPClient(endpoint, apiKey string, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: log,
	}
}

func (c *HTTPClient) SubmitPayout(ctx context.Context, req PayoutRequest) (Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Order{}, fmt.Errorf("failed to encode payout request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, fmt.Errorf("failed to build payout request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	order, err := c.do(httpReq)
	if err != nil {
		return Order{}, err
	}
	c.logger.InfoWithScope(logger.Solver, "Payout order %s submitted for intent %s", order.ID, req.IdempotencyKey)
	return order, nil
}

func (c *HTTPClient) GetOrder(ctx context.Context, idempotencyKey string) (Order, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+"/api/v1/orders/"+url.PathEscape(idempotencyKey), nil)
	if err != nil {
		return Order{}, fmt.Errorf("failed to build order request: %v", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.do(httpReq)
}

func (c *HTTPClient) do(req *http.Request) (Order, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("solver request failed: %v", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Order{}, fmt.Errorf("failed to read solver response: %v", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Order{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var order Order
	if err := json.Unmarshal(bodyBytes, &order); err != nil {
		return Order{}, fmt.Errorf("failed to decode solver order: %v, body: %s", err, string(bodyBytes))
	}
	return order, nil
}
