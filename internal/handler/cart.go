package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/cart"
)

type cartItemResponse struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type cartResponse struct {
	Items    []cartItemResponse `json:"items"`
	Subtotal decimal.Decimal    `json:"subtotal"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	items := make([]cartItemResponse, len(c.Items))
	for i, item := range c.Items {
		items[i] = cartItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return cartResponse{Items: items, Subtotal: c.Subtotal()}
}

// GetCart returns the caller's cart, empty when nothing was added yet.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	c, err := h.carts.Get(r.Context(), uid)
	if err != nil {
		internalError(w, r, "get cart", err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type addItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// AddCartItem adds a product to the caller's cart.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "product_id is required")
		return
	}

	c, err := h.carts.AddItem(r.Context(), uid, req.ProductID, req.Quantity, req.UnitPrice)
	if err != nil {
		mapCartError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateCartItem replaces the quantity of one cart line.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	var req updateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.carts.UpdateQuantity(r.Context(), uid, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		mapCartError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// RemoveCartItem removes one product from the cart.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	c, err := h.carts.RemoveItem(r.Context(), uid, chi.URLParam(r, "productID"))
	if err != nil {
		mapCartError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// ClearCart removes all items from the caller's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	if err := h.carts.Clear(r.Context(), uid); err != nil {
		internalError(w, r, "clear cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapCartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, cart.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, "invalid_price", err.Error())
	case errors.Is(err, cart.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item_not_found", err.Error())
	default:
		internalError(w, r, "cart operation", err)
	}
}
