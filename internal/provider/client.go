// Package provider implements the HTTP client for the external payment
// gateway. It is the only component in the system that blocks on external
// I/O; every call is bounded by the client timeout, and ambiguous responses
// surface as errors so the caller leaves the attempt pending.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/payment"
)

var _ payment.Provider = (*Client)(nil)

// Client talks to the payment provider's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a provider client for the given base URL. All requests
// time out after timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type createOrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type createOrderResponse struct {
	OrderID string `json:"order_id"`
}

type orderStatusResponse struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
}

// CreateOrder registers a collectible order with the provider and returns
// the provider-side order identifier.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("payment provider not configured")
	}

	body, err := json.Marshal(createOrderRequest{Amount: amount, Currency: currency})
	if err != nil {
		return "", errors.Wrap(err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected provider status: %d", resp.StatusCode)
	}

	var out createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	if out.OrderID == "" {
		return "", errors.New("provider returned empty order id")
	}
	return out.OrderID, nil
}

// GetOrderStatus polls the provider for the current state of an order.
// A 429 response becomes a payment.RateLimitedError carrying the advertised
// Retry-After delay.
func (c *Client) GetOrderStatus(ctx context.Context, providerOrderID string) (payment.StatusResult, error) {
	if c.baseURL == "" {
		return payment.StatusResult{}, errors.New("payment provider not configured")
	}

	url := fmt.Sprintf("%s/api/orders/%s", c.baseURL, providerOrderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return payment.StatusResult{}, errors.Wrap(err, "create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return payment.StatusResult{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return payment.StatusResult{}, &payment.RateLimitedError{RetryAfter: retryAfter}
	case http.StatusNoContent, http.StatusNotFound:
		// The provider does not know the order yet; treat as still pending.
		return payment.StatusResult{Status: "pending"}, nil
	default:
		return payment.StatusResult{}, fmt.Errorf("unexpected provider status: %d", resp.StatusCode)
	}

	var out orderStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return payment.StatusResult{}, errors.Wrap(err, "decode response")
	}
	return payment.StatusResult{
		Status:            out.Status,
		ProviderPaymentID: out.PaymentID,
	}, nil
}
