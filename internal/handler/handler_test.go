package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickkart/checkout/internal/domain/cart"
	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/domain/order"
	"github.com/quickkart/checkout/internal/domain/payment"
	"github.com/quickkart/checkout/internal/domain/wallet"
)

type stubCarts struct {
	cart *cart.Cart
	err  error
}

func (s *stubCarts) Get(context.Context, int64) (*cart.Cart, error) { return s.cart, s.err }
func (s *stubCarts) AddItem(context.Context, int64, string, int, decimal.Decimal) (*cart.Cart, error) {
	return s.cart, s.err
}
func (s *stubCarts) UpdateQuantity(context.Context, int64, string, int) (*cart.Cart, error) {
	return s.cart, s.err
}
func (s *stubCarts) RemoveItem(context.Context, int64, string) (*cart.Cart, error) {
	return s.cart, s.err
}
func (s *stubCarts) Clear(context.Context, int64) error { return s.err }

type stubOrders struct {
	order   *order.Order
	err     error
	applied []payment.Event
}

func (s *stubOrders) PlaceOrder(context.Context, int64, delivery.Destination, string) (*order.Order, error) {
	return s.order, s.err
}
func (s *stubOrders) Get(context.Context, string) (*order.Order, error)      { return s.order, s.err }
func (s *stubOrders) ListByUser(context.Context, int64) ([]order.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []order.Order{*s.order}, nil
}
func (s *stubOrders) Cancel(context.Context, string) (*order.Order, error) { return s.order, s.err }
func (s *stubOrders) Refund(context.Context, string) (*order.Order, error) { return s.order, s.err }
func (s *stubOrders) Ship(context.Context, string) (*order.Order, error)   { return s.order, s.err }
func (s *stubOrders) RetryPayment(context.Context, string) (*order.Order, error) {
	return s.order, s.err
}
func (s *stubOrders) PayWithWallet(context.Context, string) (*order.Order, error) {
	return s.order, s.err
}
func (s *stubOrders) ApplyPaymentEvent(_ context.Context, ev payment.Event) error {
	s.applied = append(s.applied, ev)
	return s.err
}

type stubWallets struct {
	wallet *wallet.Wallet
	err    error
}

func (s *stubWallets) GetWallet(context.Context, int64) (*wallet.Wallet, error) {
	return s.wallet, s.err
}
func (s *stubWallets) Credit(context.Context, int64, decimal.Decimal, string, string) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.wallet.Balance, nil
}
func (s *stubWallets) History(context.Context, int64, *time.Time, *time.Time) ([]wallet.Transaction, error) {
	return nil, s.err
}

type stubPayments struct {
	event payment.Event
	err   error
}

func (s *stubPayments) Reconcile(context.Context, payment.Callback) (payment.Event, error) {
	return s.event, s.err
}

type stubDelivery struct {
	charge decimal.Decimal
	err    error
}

func (s *stubDelivery) Resolve(context.Context, delivery.Destination) (decimal.Decimal, error) {
	return s.charge, s.err
}

type stubCoupons struct {
	quote *coupon.Quote
	err   error
}

func (s *stubCoupons) Quote(context.Context, string, int64, string, decimal.Decimal) (*coupon.Quote, error) {
	return s.quote, s.err
}

type env struct {
	carts    *stubCarts
	orders   *stubOrders
	wallets  *stubWallets
	payments *stubPayments
	delivery *stubDelivery
	coupons  *stubCoupons
	router   http.Handler
}

func newEnv() *env {
	e := &env{
		carts: &stubCarts{cart: &cart.Cart{UserID: 7}},
		orders: &stubOrders{order: &order.Order{
			Number:     "ord-1",
			UserID:     7,
			GrandTotal: decimal.NewFromInt(509),
			Status:     order.StatusAwaitingPayment,
			CreatedAt:  time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC),
		}},
		wallets:  &stubWallets{wallet: &wallet.Wallet{UserID: 7, Balance: decimal.NewFromInt(400)}},
		payments: &stubPayments{},
		delivery: &stubDelivery{charge: decimal.NewFromInt(49)},
		coupons: &stubCoupons{quote: &coupon.Quote{
			Coupon:   coupon.Coupon{Code: "FESTIVE10"},
			Discount: decimal.NewFromInt(40),
		}},
	}
	e.router = NewHandler(e.carts, e.orders, e.wallets, e.payments, e.delivery, e.coupons).Routes()
	return e
}

func (e *env) do(t *testing.T, method, path, body string, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestPlaceOrder_Created(t *testing.T) {
	e := newEnv()

	w := e.do(t, http.MethodPost, "/api/orders", `{"pin_code":"560001"}`, "7")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp orderResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ord-1", resp.Number)
	assert.Equal(t, string(order.StatusAwaitingPayment), resp.Status)

	created, err := time.Parse(time.RFC3339, resp.CreatedAt)
	require.NoError(t, err)
	assert.True(t, created.Equal(time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)))
}

func TestPlaceOrder_MissingUser(t *testing.T) {
	e := newEnv()

	w := e.do(t, http.MethodPost, "/api/orders", `{"pin_code":"560001"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	e := newEnv()
	e.orders.err = order.ErrEmptyCart

	w := e.do(t, http.MethodPost, "/api/orders", `{"pin_code":"560001"}`, "7")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "empty_cart", resp.Code)
}

func TestCancelOrder_IllegalTransition(t *testing.T) {
	e := newEnv()
	e.orders.err = &order.IllegalTransitionError{
		OrderNumber: "ord-1",
		From:        order.StatusShipped,
		To:          order.StatusCancelled,
	}

	w := e.do(t, http.MethodPost, "/api/orders/ord-1/cancel", "", "7")
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "illegal_transition", resp.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	e := newEnv()
	e.orders.err = order.ErrOrderNotFound

	w := e.do(t, http.MethodGet, "/api/orders/ghost", "", "7")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPayWithWallet_Insufficient(t *testing.T) {
	e := newEnv()
	e.orders.err = wallet.ErrInsufficientBalance

	w := e.do(t, http.MethodPost, "/api/orders/ord-1/pay-wallet", "", "7")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreditWallet_Duplicate(t *testing.T) {
	e := newEnv()
	e.wallets.err = wallet.ErrDuplicateTransaction

	w := e.do(t, http.MethodPost, "/api/wallet/credit",
		`{"amount":"200","source":"ORDER_REFUNDED","order_number":"ord-1"}`, "7")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetWallet(t *testing.T) {
	e := newEnv()

	w := e.do(t, http.MethodGet, "/api/wallet", "", "7")
	require.Equal(t, http.StatusOK, w.Code)

	var resp walletResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Balance.Equal(decimal.NewFromInt(400)))
}

func TestPaymentCallback_AppliesEvent(t *testing.T) {
	e := newEnv()
	e.payments.event = payment.Event{
		Kind:        payment.EventSucceeded,
		OrderNumber: "ord-1",
		PaymentID:   "pay-1",
	}

	w := e.do(t, http.MethodPost, "/api/payments/callback",
		`{"provider_order_id":"prov-1","provider_payment_id":"pay-9","status":"captured"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, e.orders.applied, 1)
	assert.Equal(t, payment.EventSucceeded, e.orders.applied[0].Kind)
}

func TestPaymentCallback_NoneEventSkipsApply(t *testing.T) {
	e := newEnv()
	e.payments.event = payment.Event{Kind: payment.EventNone}

	w := e.do(t, http.MethodPost, "/api/payments/callback",
		`{"provider_order_id":"prov-1","status":"pending"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, e.orders.applied)
}

func TestPaymentCallback_UnknownPayment(t *testing.T) {
	e := newEnv()
	e.payments.err = payment.ErrPaymentNotFound

	w := e.do(t, http.MethodPost, "/api/payments/callback",
		`{"provider_order_id":"ghost","status":"captured"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeliveryQuote(t *testing.T) {
	e := newEnv()

	w := e.do(t, http.MethodPost, "/api/delivery/quote", `{"pin_code":"560001"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp deliveryQuoteResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Charge.Equal(decimal.NewFromInt(49)))
}

func TestDeliveryQuote_InvalidDestination(t *testing.T) {
	e := newEnv()
	e.delivery.err = delivery.ErrInvalidDestination

	w := e.do(t, http.MethodPost, "/api/delivery/quote", `{"pin_code":""}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCouponQuote_Exhausted(t *testing.T) {
	e := newEnv()
	e.coupons.err = coupon.ErrCouponExhausted

	w := e.do(t, http.MethodPost, "/api/coupons/quote", `{"code":"LTD","cart_total":"100"}`, "7")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAddCartItem_InvalidQuantity(t *testing.T) {
	e := newEnv()
	e.carts.err = cart.ErrInvalidQuantity

	w := e.do(t, http.MethodPost, "/api/cart/items",
		`{"product_id":"p1","quantity":0,"unit_price":"10"}`, "7")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMalformedBody(t *testing.T) {
	e := newEnv()

	w := e.do(t, http.MethodPost, "/api/orders", `{not json`, "7")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
