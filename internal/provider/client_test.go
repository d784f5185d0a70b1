package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickkart/checkout/internal/domain/payment"
)

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/orders", r.URL.Path)

		var body struct {
			Amount   decimal.Decimal `json:"amount"`
			Currency string          `json:"currency"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Amount.Equal(decimal.NewFromInt(509)))
		assert.Equal(t, "INR", body.Currency)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "prov-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	id, err := c.CreateOrder(context.Background(), decimal.NewFromInt(509), "INR")
	require.NoError(t, err)
	assert.Equal(t, "prov-1", id)
}

func TestCreateOrder_EmptyOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.CreateOrder(context.Background(), decimal.NewFromInt(10), "INR")
	assert.Error(t, err)
}

func TestCreateOrder_NotConfigured(t *testing.T) {
	c := NewClient("", time.Second)
	_, err := c.CreateOrder(context.Background(), decimal.NewFromInt(10), "INR")
	assert.Error(t, err)
}

func TestGetOrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/orders/prov-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"order_id":   "prov-1",
			"status":     "captured",
			"payment_id": "pay-9",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	res, err := c.GetOrderStatus(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "captured", res.Status)
	assert.Equal(t, "pay-9", res.ProviderPaymentID)
}

func TestGetOrderStatus_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetOrderStatus(context.Background(), "prov-1")

	var rle *payment.RateLimitedError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
}

func TestGetOrderStatus_UnknownOrderIsPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	res, err := c.GetOrderStatus(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)
}

func TestGetOrderStatus_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetOrderStatus(context.Background(), "prov-1")
	assert.Error(t, err)
}
