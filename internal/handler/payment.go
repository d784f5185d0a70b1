package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/domain/payment"
)

type callbackRequest struct {
	ProviderOrderID   string `json:"provider_order_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
}

// PaymentCallback receives asynchronous provider notifications, reconciles
// them against the matching payment attempt, and applies the resulting order
// transition. Unknown provider statuses acknowledge with 200 and change
// nothing; the poller picks the attempt up later.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProviderOrderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "provider_order_id is required")
		return
	}

	ev, err := h.payments.Reconcile(r.Context(), payment.Callback{
		ProviderOrderID:   req.ProviderOrderID,
		ProviderPaymentID: req.ProviderPaymentID,
		Status:            req.Status,
	})
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
			return
		}
		internalError(w, r, "reconcile callback", err)
		return
	}

	if ev.Kind != payment.EventNone {
		if err := h.orders.ApplyPaymentEvent(r.Context(), ev); err != nil {
			mapOrderError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

type deliveryQuoteRequest struct {
	PinCode  string `json:"pin_code"`
	State    string `json:"state"`
	District string `json:"district"`
}

type deliveryQuoteResponse struct {
	Charge decimal.Decimal `json:"charge"`
}

// DeliveryQuote resolves the shipping charge for a destination.
func (h *Handler) DeliveryQuote(w http.ResponseWriter, r *http.Request) {
	var req deliveryQuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	charge, err := h.delivery.Resolve(r.Context(), delivery.Destination{
		PinCode:  req.PinCode,
		State:    req.State,
		District: req.District,
	})
	if err != nil {
		if errors.Is(err, delivery.ErrInvalidDestination) {
			writeError(w, http.StatusBadRequest, "invalid_destination", err.Error())
			return
		}
		internalError(w, r, "resolve delivery charge", err)
		return
	}
	writeJSON(w, http.StatusOK, deliveryQuoteResponse{Charge: charge})
}

type couponQuoteRequest struct {
	Code      string          `json:"code"`
	CartTotal decimal.Decimal `json:"cart_total"`
}

type couponQuoteResponse struct {
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount"`
}

// CouponQuote validates a coupon for the caller and previews its discount
// without recording a redemption.
func (h *Handler) CouponQuote(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	var req couponQuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	quote, err := h.coupons.Quote(r.Context(), req.Code, uid, "", req.CartTotal)
	if err != nil {
		switch {
		case errors.Is(err, coupon.ErrCouponNotFound):
			writeError(w, http.StatusNotFound, "coupon_not_found", err.Error())
		case errors.Is(err, coupon.ErrCouponExpired):
			writeError(w, http.StatusConflict, "coupon_expired", err.Error())
		case errors.Is(err, coupon.ErrCouponExhausted):
			writeError(w, http.StatusConflict, "coupon_exhausted", err.Error())
		case errors.Is(err, coupon.ErrCouponLimitReachedForUser):
			writeError(w, http.StatusConflict, "coupon_limit_reached", err.Error())
		default:
			internalError(w, r, "quote coupon", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, couponQuoteResponse{
		Code:     quote.Coupon.Code,
		Discount: quote.Discount,
	})
}
