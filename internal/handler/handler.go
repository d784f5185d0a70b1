// Package handler exposes the checkout engine's boundary operations over
// HTTP. Authentication and sessions live outside this service: callers are
// identified by the X-User-ID header set by the API gateway.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quickkart/checkout/internal/domain/cart"
	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/domain/order"
	"github.com/quickkart/checkout/internal/domain/payment"
	"github.com/quickkart/checkout/internal/domain/wallet"
)

// CartService is the cart surface used by the handlers.
type CartService interface {
	Get(ctx context.Context, userID int64) (*cart.Cart, error)
	AddItem(ctx context.Context, userID int64, productID string, quantity int, unitPrice decimal.Decimal) (*cart.Cart, error)
	UpdateQuantity(ctx context.Context, userID int64, productID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, userID int64, productID string) (*cart.Cart, error)
	Clear(ctx context.Context, userID int64) error
}

// OrderService is the order surface used by the handlers.
type OrderService interface {
	PlaceOrder(ctx context.Context, userID int64, dest delivery.Destination, couponCode string) (*order.Order, error)
	Get(ctx context.Context, number string) (*order.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]order.Order, error)
	Cancel(ctx context.Context, number string) (*order.Order, error)
	Refund(ctx context.Context, number string) (*order.Order, error)
	Ship(ctx context.Context, number string) (*order.Order, error)
	RetryPayment(ctx context.Context, number string) (*order.Order, error)
	PayWithWallet(ctx context.Context, number string) (*order.Order, error)
	ApplyPaymentEvent(ctx context.Context, ev payment.Event) error
}

// WalletService is the wallet surface used by the handlers.
type WalletService interface {
	GetWallet(ctx context.Context, userID int64) (*wallet.Wallet, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, source, orderNumber string) (decimal.Decimal, error)
	History(ctx context.Context, userID int64, from, to *time.Time) ([]wallet.Transaction, error)
}

// PaymentService reconciles provider callbacks into order events.
type PaymentService interface {
	Reconcile(ctx context.Context, cb payment.Callback) (payment.Event, error)
}

// DeliveryService resolves shipping charges.
type DeliveryService interface {
	Resolve(ctx context.Context, dest delivery.Destination) (decimal.Decimal, error)
}

// CouponService validates coupons and computes discounts.
type CouponService interface {
	Quote(ctx context.Context, code string, userID int64, orderNumber string, cartTotal decimal.Decimal) (*coupon.Quote, error)
}

// Handler bundles the boundary operations into one chi router.
type Handler struct {
	carts    CartService
	orders   OrderService
	wallets  WalletService
	payments PaymentService
	delivery DeliveryService
	coupons  CouponService
}

// NewHandler constructs a Handler with the required services.
func NewHandler(
	carts CartService,
	orders OrderService,
	wallets WalletService,
	payments PaymentService,
	deliverySvc DeliveryService,
	coupons CouponService,
) *Handler {
	return &Handler{
		carts:    carts,
		orders:   orders,
		wallets:  wallets,
		payments: payments,
		delivery: deliverySvc,
		coupons:  coupons,
	}
}

// Routes builds the API router.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddCartItem)
			r.Patch("/items/{productID}", h.UpdateCartItem)
			r.Delete("/items/{productID}", h.RemoveCartItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.PlaceOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{number}", h.GetOrder)
			r.Post("/{number}/cancel", h.CancelOrder)
			r.Post("/{number}/refund", h.RefundOrder)
			r.Post("/{number}/ship", h.ShipOrder)
			r.Post("/{number}/retry-payment", h.RetryPayment)
			r.Post("/{number}/pay-wallet", h.PayWithWallet)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Post("/credit", h.CreditWallet)
			r.Get("/transactions", h.WalletHistory)
		})

		r.Post("/payments/callback", h.PaymentCallback)
		r.Post("/delivery/quote", h.DeliveryQuote)
		r.Post("/coupons/quote", h.CouponQuote)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// userID extracts the caller's user id from the X-User-ID header.
func userID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return false
	}
	return true
}

func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	zctx.From(r.Context()).Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}
