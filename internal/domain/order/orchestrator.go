package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quickkart/checkout/internal/domain/cart"
	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/domain/payment"
	"github.com/quickkart/checkout/internal/domain/wallet"
)

// Money-movement sources recorded on wallet ledger rows.
const (
	SourceOrderCancelled = "ORDER_CANCELLED"
	SourceOrderRefunded  = "ORDER_REFUNDED"
	SourceWalletPayment  = "WALLET_PAYMENT"
)

// PaymentStarter starts a provider payment attempt for an order.
// Implemented by payment.Reconciler.
type PaymentStarter interface {
	StartAttempt(ctx context.Context, orderNumber string, amount decimal.Decimal) (*payment.Payment, error)
}

// Ledger is the wallet surface the orchestrator needs for refunds and
// wallet-funded payment. Implemented by wallet.Ledger.
type Ledger interface {
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, source, orderNumber string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal, source, orderNumber string) (decimal.Decimal, error)
}

// CouponQuoter validates a coupon and computes its discount.
// Implemented by coupon.Engine.
type CouponQuoter interface {
	Quote(ctx context.Context, code string, userID int64, orderNumber string, cartTotal decimal.Decimal) (*coupon.Quote, error)
}

// ChargeResolver computes the delivery charge for a destination.
// Implemented by delivery.Resolver.
type ChargeResolver interface {
	Resolve(ctx context.Context, dest delivery.Destination) (decimal.Decimal, error)
}

// Orchestrator turns carts into orders and drives the order state machine.
// State transitions go through conditional updates in the repository, so the
// current-state check at transition time is authoritative and concurrent
// requests for the same order resolve deterministically.
type Orchestrator struct {
	carts    cart.Repository
	orders   Repository
	delivery ChargeResolver
	coupons  CouponQuoter
	payments PaymentStarter
	wallet   Ledger
	now      func() time.Time
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(
	carts cart.Repository,
	orders Repository,
	deliveryResolver ChargeResolver,
	coupons CouponQuoter,
	payments PaymentStarter,
	ledger Ledger,
) *Orchestrator {
	return &Orchestrator{
		carts:    carts,
		orders:   orders,
		delivery: deliveryResolver,
		coupons:  coupons,
		payments: payments,
		wallet:   ledger,
		now:      time.Now,
	}
}

// PlaceOrder snapshots the user's cart, prices it with delivery charge and
// optional coupon discount, persists the order (with its coupon usage row in
// the same transaction), clears the cart, and starts a payment attempt.
// The returned order is in AWAITING_PAYMENT. A provider failure while
// starting the attempt is not fatal: the order stays awaiting payment and the
// attempt is retried by reconciliation.
func (s *Orchestrator) PlaceOrder(ctx context.Context, userID int64, dest delivery.Destination, couponCode string) (*Order, error) {
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]Item, len(c.Items))
	subtotal := decimal.Zero
	for i, ci := range c.Items {
		if ci.Quantity <= 0 || !ci.UnitPrice.IsPositive() {
			return nil, ErrPricingInconsistency
		}
		line := ci.UnitPrice.Mul(decimal.NewFromInt(int64(ci.Quantity)))
		items[i] = Item{
			ProductID: ci.ProductID,
			Quantity:  ci.Quantity,
			UnitPrice: ci.UnitPrice,
			LineTotal: line,
		}
		subtotal = subtotal.Add(line)
	}

	charge, err := s.delivery.Resolve(ctx, dest)
	if err != nil {
		return nil, errors.Wrap(err, "resolve delivery charge")
	}

	number := uuid.New().String()

	discount := decimal.Zero
	var usage *coupon.Usage
	if couponCode != "" {
		quote, err := s.coupons.Quote(ctx, couponCode, userID, number, subtotal)
		if err != nil {
			return nil, err
		}
		discount = quote.Discount
		usage = &coupon.Usage{
			CouponCode:  quote.Coupon.Code,
			UserID:      userID,
			OrderNumber: number,
			UsedAt:      s.now().UTC(),
		}
	}

	total := subtotal.Add(charge).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		Number:         number,
		UserID:         userID,
		Items:          items,
		DeliveryCharge: charge,
		CouponCode:     couponCode,
		DiscountAmount: discount,
		GrandTotal:     total.Round(2),
		Status:         StatusCreated,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.orders.CreateWithUsage(ctx, o, usage); err != nil {
		return nil, err
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		// The order exists; a stale cart is recoverable and must not fail checkout.
		zctx.From(ctx).Warn("clear cart after checkout",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	if _, err := s.transition(ctx, o.Number, []Status{StatusCreated}, StatusAwaitingPayment); err != nil {
		return nil, err
	}
	o.Status = StatusAwaitingPayment

	if _, err := s.payments.StartAttempt(ctx, o.Number, o.GrandTotal); err != nil {
		zctx.From(ctx).Warn("start payment attempt",
			zap.String("order_number", o.Number),
			zap.Error(err),
		)
	}
	return o, nil
}

// Get returns the order identified by number.
func (s *Orchestrator) Get(ctx context.Context, number string) (*Order, error) {
	return s.orders.GetByNumber(ctx, number)
}

// ListByUser returns the user's orders, newest first.
func (s *Orchestrator) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// ApplyPaymentEvent dispatches a reconciliation event to the matching
// state-machine transition. EventNone is a no-op.
func (s *Orchestrator) ApplyPaymentEvent(ctx context.Context, ev payment.Event) error {
	switch ev.Kind {
	case payment.EventSucceeded:
		return s.OnPaymentSucceeded(ctx, ev.OrderNumber, ev.PaymentID)
	case payment.EventFailed:
		return s.OnPaymentFailed(ctx, ev.OrderNumber, ev.PaymentID)
	default:
		return nil
	}
}

// OnPaymentSucceeded moves the order to PAID. Re-delivery of a success event
// for an already-paid order is a no-op.
func (s *Orchestrator) OnPaymentSucceeded(ctx context.Context, number, paymentID string) error {
	current, err := s.transition(ctx, number, []Status{StatusCreated, StatusAwaitingPayment}, StatusPaid)
	if err != nil {
		var ite *IllegalTransitionError
		if errors.As(err, &ite) && current == StatusPaid {
			return nil
		}
		return err
	}
	zctx.From(ctx).Info("order paid",
		zap.String("order_number", number),
		zap.String("payment_id", paymentID),
	)
	return nil
}

// OnPaymentFailed moves the order to FAILED. A repeated failure event for an
// already-failed order is a no-op.
func (s *Orchestrator) OnPaymentFailed(ctx context.Context, number, paymentID string) error {
	current, err := s.transition(ctx, number, []Status{StatusAwaitingPayment}, StatusFailed)
	if err != nil {
		var ite *IllegalTransitionError
		if errors.As(err, &ite) && current == StatusFailed {
			return nil
		}
		return err
	}
	zctx.From(ctx).Info("order payment failed",
		zap.String("order_number", number),
		zap.String("payment_id", paymentID),
	)
	return nil
}

// RetryPayment returns a FAILED order to AWAITING_PAYMENT and starts a fresh
// payment attempt.
func (s *Orchestrator) RetryPayment(ctx context.Context, number string) (*Order, error) {
	if _, err := s.transition(ctx, number, []Status{StatusFailed}, StatusAwaitingPayment); err != nil {
		return nil, err
	}

	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if _, err := s.payments.StartAttempt(ctx, number, o.GrandTotal); err != nil {
		zctx.From(ctx).Warn("start payment attempt",
			zap.String("order_number", number),
			zap.Error(err),
		)
	}
	return o, nil
}

// Cancel moves any non-terminal order to CANCELLED. For a paid order the
// refund credit must land in the wallet first; the order is not marked
// cancelled when the credit fails. A duplicate-transaction result means the
// refund was already credited by an earlier delivery of the same cancel.
func (s *Orchestrator) Cancel(ctx context.Context, number string) (*Order, error) {
	return s.undo(ctx, number, StatusCancelled, SourceOrderCancelled,
		[]Status{StatusCreated, StatusAwaitingPayment, StatusPaid})
}

// Refund moves a PAID or SHIPPED order to REFUNDED after crediting the
// grand total back to the user's wallet.
func (s *Orchestrator) Refund(ctx context.Context, number string) (*Order, error) {
	return s.undo(ctx, number, StatusRefunded, SourceOrderRefunded,
		[]Status{StatusPaid, StatusShipped})
}

func (s *Orchestrator) undo(ctx context.Context, number string, to Status, source string, from []Status) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, f := range from {
		if o.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &IllegalTransitionError{OrderNumber: number, From: o.Status, To: to}
	}

	// Money moves before the state does: a failed credit must block the
	// transition that would claim the refund happened.
	credited := false
	if o.Status == StatusPaid || o.Status == StatusShipped {
		_, err := s.wallet.Credit(ctx, o.UserID, o.GrandTotal, source, number)
		switch {
		case err == nil:
			credited = true
		case !errors.Is(err, wallet.ErrDuplicateTransaction):
			return nil, errors.Wrap(err, "credit refund")
		}
	}

	// Narrow the conditional update to the state observed above so a
	// concurrent transition (e.g. a payment success racing a cancel) makes
	// this request the deterministic loser.
	if _, err := s.transition(ctx, number, []Status{o.Status}, to); err != nil {
		// The loser's credit must not stand: the order ended up in a state
		// this path no longer owns, and a later refund would pay out again.
		var ite *IllegalTransitionError
		if credited && errors.As(err, &ite) {
			if _, derr := s.wallet.Debit(ctx, o.UserID, o.GrandTotal, source, number); derr != nil && !errors.Is(derr, wallet.ErrDuplicateTransaction) {
				zctx.From(ctx).Error("reverse refund credit after lost transition",
					zap.String("order_number", number),
					zap.String("source", source),
					zap.Error(derr),
				)
			}
		}
		return nil, err
	}
	o.Status = to
	return o, nil
}

// Ship moves a PAID order to SHIPPED.
func (s *Orchestrator) Ship(ctx context.Context, number string) (*Order, error) {
	if _, err := s.transition(ctx, number, []Status{StatusPaid}, StatusShipped); err != nil {
		return nil, err
	}
	return s.orders.GetByNumber(ctx, number)
}

// PayWithWallet settles an awaiting order by debiting the user's wallet for
// the grand total, then applies the paid transition. The debit is idempotent
// per order via the ledger's (source, order) key. When the paid transition
// loses a race (a concurrent cancel landed first), a fresh debit is credited
// back so the caller's conflict leaves no money moved.
func (s *Orchestrator) PayWithWallet(ctx context.Context, number string) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusAwaitingPayment && o.Status != StatusCreated {
		return nil, &IllegalTransitionError{OrderNumber: number, From: o.Status, To: StatusPaid}
	}

	_, err = s.wallet.Debit(ctx, o.UserID, o.GrandTotal, SourceWalletPayment, number)
	debited := err == nil
	if err != nil && !errors.Is(err, wallet.ErrDuplicateTransaction) {
		return nil, err
	}

	if err := s.OnPaymentSucceeded(ctx, number, ""); err != nil {
		var ite *IllegalTransitionError
		if debited && errors.As(err, &ite) {
			if _, cerr := s.wallet.Credit(ctx, o.UserID, o.GrandTotal, SourceWalletPayment, number); cerr != nil && !errors.Is(cerr, wallet.ErrDuplicateTransaction) {
				zctx.From(ctx).Error("reverse wallet debit after lost transition",
					zap.String("order_number", number),
					zap.Error(cerr),
				)
			}
		}
		return nil, err
	}
	o.Status = StatusPaid
	return o, nil
}

// transition performs a conditional status update and converts a conflict
// into an IllegalTransitionError carrying the authoritative current state.
func (s *Orchestrator) transition(ctx context.Context, number string, from []Status, to Status) (Status, error) {
	current, err := s.orders.UpdateStatus(ctx, number, from, to)
	if err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			return current, &IllegalTransitionError{OrderNumber: number, From: current, To: to}
		}
		return current, err
	}
	return current, nil
}
