package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventKind classifies the outcome of reconciling one provider response.
type EventKind string

const (
	// EventNone means the attempt stays pending; no order transition fires.
	EventNone EventKind = "NONE"
	// EventSucceeded maps to the order's payment-succeeded transition.
	EventSucceeded EventKind = "SUCCEEDED"
	// EventFailed maps to the order's payment-failed transition.
	EventFailed EventKind = "FAILED"
)

// Event is the order-facing outcome of a reconciliation step.
type Event struct {
	Kind        EventKind
	OrderNumber string
	PaymentID   string
}

// Callback carries the provider identifiers and status delivered by a
// webhook or collected by the poller.
type Callback struct {
	ProviderOrderID   string
	ProviderPaymentID string
	Status            string
}

// Reconciler starts payment attempts and maps provider status vocabulary to
// order events. It always acts on the attempt matching the provider
// identifiers, never "the latest" attempt for the order, so a stale callback
// cannot be attributed to a newer retry.
type Reconciler struct {
	provider Provider
	payments Repository
	currency string
}

// NewReconciler creates a Reconciler using the given provider and store.
func NewReconciler(provider Provider, payments Repository, currency string) *Reconciler {
	return &Reconciler{
		provider: provider,
		payments: payments,
		currency: currency,
	}
}

// StartAttempt registers a provider order for the amount and persists a new
// attempt in CREATED. A provider failure here leaves no attempt row behind;
// the order stays awaiting payment and the caller may retry.
func (r *Reconciler) StartAttempt(ctx context.Context, orderNumber string, amount decimal.Decimal) (*Payment, error) {
	providerOrderID, err := r.provider.CreateOrder(ctx, amount, r.currency)
	if err != nil {
		return nil, errors.Wrap(err, "create provider order")
	}

	p := &Payment{
		ID:              uuid.New().String(),
		OrderNumber:     orderNumber,
		ProviderOrderID: providerOrderID,
		Status:          StatusCreated,
		Amount:          amount,
		Currency:        r.currency,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.payments.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "persist payment attempt")
	}
	return p, nil
}

// Reconcile resolves one provider callback into an order event. Unknown or
// ambiguous provider statuses yield EventNone and leave the attempt pending
// for a later reconciliation pass. A success callback for an attempt already
// PAID is a no-op (idempotent re-delivery).
func (r *Reconciler) Reconcile(ctx context.Context, cb Callback) (Event, error) {
	p, err := r.payments.FindByProviderOrderID(ctx, cb.ProviderOrderID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return Event{Kind: EventNone}, ErrPaymentNotFound
		}
		return Event{Kind: EventNone}, errors.Wrap(err, "find payment")
	}

	if p.Status == StatusPaid {
		return Event{Kind: EventNone, OrderNumber: p.OrderNumber, PaymentID: p.ID}, nil
	}

	switch strings.ToLower(cb.Status) {
	case "captured", "paid":
		if err := r.payments.MarkPaid(ctx, p.ID, cb.ProviderPaymentID); err != nil {
			return Event{Kind: EventNone}, errors.Wrap(err, "mark payment paid")
		}
		return Event{Kind: EventSucceeded, OrderNumber: p.OrderNumber, PaymentID: p.ID}, nil
	case "failed":
		if err := r.payments.MarkFailed(ctx, p.ID); err != nil {
			return Event{Kind: EventNone}, errors.Wrap(err, "mark payment failed")
		}
		return Event{Kind: EventFailed, OrderNumber: p.OrderNumber, PaymentID: p.ID}, nil
	default:
		// Non-terminal provider state: leave the attempt pending.
		return Event{Kind: EventNone, OrderNumber: p.OrderNumber, PaymentID: p.ID}, nil
	}
}

// RunPoller periodically polls the provider for pending attempts and feeds
// resulting events to apply. It honors provider back-off requests and exits
// when the context is cancelled.
func (r *Reconciler) RunPoller(ctx context.Context, interval time.Duration, batchSize int, apply func(context.Context, Event) error) {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.pollBatch(ctx, batchSize, apply); err != nil {
				lg.Warn("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) pollBatch(ctx context.Context, batchSize int, apply func(context.Context, Event) error) error {
	lg := zctx.From(ctx)

	pending, err := r.payments.ListPending(ctx, batchSize)
	if err != nil {
		return errors.Wrap(err, "list pending payments")
	}

	for _, p := range pending {
		res, err := r.provider.GetOrderStatus(ctx, p.ProviderOrderID)
		if err != nil {
			var rle *RateLimitedError
			if errors.As(err, &rle) && rle.RetryAfter > 0 {
				timer := time.NewTimer(rle.RetryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
				continue
			}
			// Ambiguous provider response: keep the attempt pending.
			lg.Debug("provider status unavailable",
				zap.String("provider_order_id", p.ProviderOrderID),
				zap.Error(err),
			)
			continue
		}

		ev, err := r.Reconcile(ctx, Callback{
			ProviderOrderID:   p.ProviderOrderID,
			ProviderPaymentID: res.ProviderPaymentID,
			Status:            res.Status,
		})
		if err != nil {
			lg.Warn("reconcile pending payment",
				zap.String("payment_id", p.ID),
				zap.Error(err),
			)
			continue
		}

		if ev.Kind == EventNone {
			continue
		}
		if err := apply(ctx, ev); err != nil {
			lg.Warn("apply payment event",
				zap.String("order_number", ev.OrderNumber),
				zap.String("event", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}
