package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/domain/order"
	"github.com/quickkart/checkout/internal/domain/wallet"
)

type placeOrderRequest struct {
	PinCode    string `json:"pin_code"`
	State      string `json:"state"`
	District   string `json:"district"`
	CouponCode string `json:"coupon_code,omitempty"`
}

type orderItemResponse struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type orderResponse struct {
	Number         string              `json:"number"`
	Items          []orderItemResponse `json:"items"`
	DeliveryCharge decimal.Decimal     `json:"delivery_charge"`
	CouponCode     string              `json:"coupon_code,omitempty"`
	DiscountAmount decimal.Decimal     `json:"discount_amount"`
	GrandTotal     decimal.Decimal     `json:"grand_total"`
	Status         string              `json:"status"`
	CreatedAt      string              `json:"created_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		}
	}
	return orderResponse{
		Number:         o.Number,
		Items:          items,
		DeliveryCharge: o.DeliveryCharge,
		CouponCode:     o.CouponCode,
		DiscountAmount: o.DiscountAmount,
		GrandTotal:     o.GrandTotal,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
	}
}

// PlaceOrder turns the caller's cart into a priced order and starts payment.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	var req placeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	dest := delivery.Destination{
		PinCode:  req.PinCode,
		State:    req.State,
		District: req.District,
	}
	o, err := h.orders.PlaceOrder(r.Context(), uid, dest, req.CouponCode)
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	list, err := h.orders.ListByUser(r.Context(), uid)
	if err != nil {
		internalError(w, r, "list orders", err)
		return
	}

	resp := make([]orderResponse, len(list))
	for i := range list {
		resp[i] = toOrderResponse(&list[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder returns one order by its number.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// CancelOrder cancels a non-terminal order, refunding paid ones first.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.orders.Cancel)
}

// RefundOrder refunds a paid or shipped order.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.orders.Refund)
}

// ShipOrder marks a paid order as shipped.
func (h *Handler) ShipOrder(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.orders.Ship)
}

// RetryPayment starts a fresh payment attempt for a failed order.
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.orders.RetryPayment)
}

// PayWithWallet settles an awaiting order from the user's wallet balance.
func (h *Handler) PayWithWallet(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.orders.PayWithWallet)
}

func (h *Handler) orderTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, number string) (*order.Order, error)) {
	o, err := op(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		mapOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func mapOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var ite *order.IllegalTransitionError
	switch {
	case errors.Is(err, order.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, order.ErrPricingInconsistency):
		writeError(w, http.StatusBadRequest, "pricing_inconsistency", err.Error())
	case errors.Is(err, delivery.ErrInvalidDestination):
		writeError(w, http.StatusBadRequest, "invalid_destination", err.Error())
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.As(err, &ite):
		writeError(w, http.StatusConflict, "illegal_transition", ite.Error())
	case errors.Is(err, coupon.ErrCouponNotFound):
		writeError(w, http.StatusNotFound, "coupon_not_found", err.Error())
	case errors.Is(err, coupon.ErrCouponExpired):
		writeError(w, http.StatusConflict, "coupon_expired", err.Error())
	case errors.Is(err, coupon.ErrCouponExhausted):
		writeError(w, http.StatusConflict, "coupon_exhausted", err.Error())
	case errors.Is(err, coupon.ErrCouponLimitReachedForUser):
		writeError(w, http.StatusConflict, "coupon_limit_reached", err.Error())
	case errors.Is(err, coupon.ErrCouponAlreadyApplied):
		writeError(w, http.StatusConflict, "coupon_already_applied", err.Error())
	case errors.Is(err, wallet.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "insufficient_balance", err.Error())
	case errors.Is(err, wallet.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, "wallet_not_found", err.Error())
	case errors.Is(err, wallet.ErrLedgerDrift):
		internalError(w, r, "wallet ledger drift", err)
	default:
		internalError(w, r, "order operation", err)
	}
}
