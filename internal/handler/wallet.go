package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/quickkart/checkout/internal/domain/wallet"
)

type walletResponse struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// GetWallet returns the caller's balance; unknown users see a zero wallet.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	wl, err := h.wallets.GetWallet(r.Context(), uid)
	if err != nil {
		internalError(w, r, "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{UserID: wl.UserID, Balance: wl.Balance})
}

type creditRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	OrderNumber string          `json:"order_number,omitempty"`
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

// CreditWallet tops up the caller's wallet.
func (h *Handler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	var req creditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = "TOPUP"
	}

	balance, err := h.wallets.Credit(r.Context(), uid, req.Amount, req.Source, req.OrderNumber)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		case errors.Is(err, wallet.ErrDuplicateTransaction):
			writeError(w, http.StatusConflict, "duplicate_transaction", err.Error())
		case errors.Is(err, wallet.ErrLedgerDrift):
			internalError(w, r, "wallet ledger drift", err)
		default:
			internalError(w, r, "credit wallet", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type walletTxResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	OrderNumber string          `json:"order_number,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WalletHistory returns the caller's ledger rows, optionally bounded by the
// from/to query parameters (RFC 3339).
func (h *Handler) WalletHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid X-User-ID")
		return
	}

	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid from timestamp")
			return
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid to timestamp")
			return
		}
		to = &t
	}

	txs, err := h.wallets.History(r.Context(), uid, from, to)
	if err != nil {
		internalError(w, r, "wallet history", err)
		return
	}

	resp := make([]walletTxResponse, len(txs))
	for i, t := range txs {
		resp[i] = walletTxResponse{
			ID:          t.ID,
			Type:        string(t.Type),
			Amount:      t.Amount,
			Source:      t.Source,
			OrderNumber: t.OrderNumber,
			CreatedAt:   t.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
