package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickkart/checkout/internal/domain/cart"
	"github.com/quickkart/checkout/internal/domain/coupon"
	"github.com/quickkart/checkout/internal/domain/delivery"
	"github.com/quickkart/checkout/internal/domain/payment"
	"github.com/quickkart/checkout/internal/domain/wallet"
)

// mockOrders is an in-memory order.Repository with conditional updates.
type mockOrders struct {
	orders map[string]*Order
	usages map[string]*coupon.Usage
}

func newMockOrders() *mockOrders {
	return &mockOrders{
		orders: make(map[string]*Order),
		usages: make(map[string]*coupon.Usage),
	}
}

func (m *mockOrders) CreateWithUsage(_ context.Context, o *Order, usage *coupon.Usage) error {
	cp := *o
	m.orders[o.Number] = &cp
	if usage != nil {
		m.usages[o.Number] = usage
	}
	return nil
}

func (m *mockOrders) GetByNumber(_ context.Context, number string) (*Order, error) {
	o, ok := m.orders[number]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) ListByUser(_ context.Context, userID int64) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, number string, from []Status, to Status) (Status, error) {
	o, ok := m.orders[number]
	if !ok {
		return "", ErrOrderNotFound
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			return to, nil
		}
	}
	return o.Status, ErrTransitionConflict
}

// mockStarter records payment attempts.
type mockStarter struct {
	attempts []decimal.Decimal
	err      error
}

func (m *mockStarter) StartAttempt(_ context.Context, orderNumber string, amount decimal.Decimal) (*payment.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.attempts = append(m.attempts, amount)
	return &payment.Payment{ID: "pay-1", OrderNumber: orderNumber, Amount: amount}, nil
}

// ledgerCall records one wallet movement.
type ledgerCall struct {
	kind        string
	userID      int64
	amount      decimal.Decimal
	source      string
	orderNumber string
}

// mockLedger records credits and debits, with injectable failures. The
// onCredit/onDebit hooks run after the movement lands, standing in for a
// concurrent request that slips in while the money is in flight.
type mockLedger struct {
	calls     []ledgerCall
	creditErr error
	debitErr  error
	onCredit  func()
	onDebit   func()
}

func (m *mockLedger) Credit(_ context.Context, userID int64, amount decimal.Decimal, source, orderNumber string) (decimal.Decimal, error) {
	if m.creditErr != nil {
		return decimal.Zero, m.creditErr
	}
	m.calls = append(m.calls, ledgerCall{"CREDIT", userID, amount, source, orderNumber})
	if m.onCredit != nil {
		m.onCredit()
	}
	return amount, nil
}

func (m *mockLedger) Debit(_ context.Context, userID int64, amount decimal.Decimal, source, orderNumber string) (decimal.Decimal, error) {
	if m.debitErr != nil {
		return decimal.Zero, m.debitErr
	}
	m.calls = append(m.calls, ledgerCall{"DEBIT", userID, amount, source, orderNumber})
	if m.onDebit != nil {
		m.onDebit()
	}
	return decimal.Zero, nil
}

type stubResolver struct {
	charge decimal.Decimal
	err    error
}

func (s *stubResolver) Resolve(context.Context, delivery.Destination) (decimal.Decimal, error) {
	return s.charge, s.err
}

type stubQuoter struct {
	discount decimal.Decimal
	err      error
}

func (s *stubQuoter) Quote(_ context.Context, code string, _ int64, _ string, _ decimal.Decimal) (*coupon.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &coupon.Quote{
		Coupon:   coupon.Coupon{Code: code, Type: coupon.TypeFixed, Value: s.discount},
		Discount: s.discount,
	}, nil
}

type fixture struct {
	carts    *cartStore
	orders   *mockOrders
	starter  *mockStarter
	ledger   *mockLedger
	resolver *stubResolver
	quoter   *stubQuoter
	orch     *Orchestrator
}

// cartStore is a minimal in-memory cart.Repository.
type cartStore struct {
	carts   map[int64]*cart.Cart
	cleared []int64
}

func (c *cartStore) Get(_ context.Context, userID int64) (*cart.Cart, error) {
	if v, ok := c.carts[userID]; ok {
		return v, nil
	}
	return &cart.Cart{UserID: userID}, nil
}

func (c *cartStore) Upsert(_ context.Context, v *cart.Cart) error {
	c.carts[v.UserID] = v
	return nil
}

func (c *cartStore) Clear(_ context.Context, userID int64) error {
	delete(c.carts, userID)
	c.cleared = append(c.cleared, userID)
	return nil
}

func newFixture() *fixture {
	f := &fixture{
		carts:    &cartStore{carts: make(map[int64]*cart.Cart)},
		orders:   newMockOrders(),
		starter:  &mockStarter{},
		ledger:   &mockLedger{},
		resolver: &stubResolver{charge: decimal.NewFromInt(49)},
		quoter:   &stubQuoter{discount: decimal.NewFromInt(40)},
	}
	f.orch = NewOrchestrator(f.carts, f.orders, f.resolver, f.quoter, f.starter, f.ledger)
	return f
}

func (f *fixture) withCart(userID int64, items ...cart.Item) {
	f.carts.carts[userID] = &cart.Cart{UserID: userID, Items: items}
}

func (f *fixture) placedOrder(t *testing.T, userID int64, status Status) *Order {
	t.Helper()
	f.withCart(userID, cart.Item{ProductID: "p1", Quantity: 5, UnitPrice: decimal.NewFromInt(100)})
	o, err := f.orch.PlaceOrder(context.Background(), userID, delivery.Destination{PinCode: "560001"}, "")
	require.NoError(t, err)
	f.orders.orders[o.Number].Status = status
	o.Status = status
	return o
}

func TestPlaceOrder_PricesCartWithChargeAndDiscount(t *testing.T) {
	f := newFixture()
	f.withCart(7,
		cart.Item{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
		cart.Item{ProductID: "p2", Quantity: 3, UnitPrice: decimal.NewFromInt(100)},
	)

	// subtotal 500 + charge 49 - discount 40 = 509
	o, err := f.orch.PlaceOrder(context.Background(), 7, delivery.Destination{PinCode: "560001"}, "FESTIVE10")
	require.NoError(t, err)

	assert.True(t, o.GrandTotal.Equal(decimal.NewFromInt(509)), "got %s", o.GrandTotal)
	assert.Equal(t, StatusAwaitingPayment, o.Status)
	assert.Equal(t, "FESTIVE10", o.CouponCode)
	assert.Equal(t, []int64{7}, f.carts.cleared)

	// Usage row carries the order number generated before persisting.
	usage := f.orders.usages[o.Number]
	require.NotNil(t, usage)
	assert.Equal(t, o.Number, usage.OrderNumber)

	// Payment attempt started for the grand total.
	require.Len(t, f.starter.attempts, 1)
	assert.True(t, f.starter.attempts[0].Equal(decimal.NewFromInt(509)))
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := newFixture()

	_, err := f.orch.PlaceOrder(context.Background(), 7, delivery.Destination{PinCode: "560001"}, "")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrder_PricingInconsistency(t *testing.T) {
	f := newFixture()
	f.withCart(7, cart.Item{ProductID: "p1", Quantity: 1, UnitPrice: decimal.Zero})

	_, err := f.orch.PlaceOrder(context.Background(), 7, delivery.Destination{PinCode: "560001"}, "")
	assert.ErrorIs(t, err, ErrPricingInconsistency)
	assert.Empty(t, f.orders.orders, "no order may be created from an inconsistent cart")
}

func TestPlaceOrder_CouponRejectionAbortsCheckout(t *testing.T) {
	f := newFixture()
	f.quoter.err = coupon.ErrCouponExhausted
	f.withCart(7, cart.Item{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(100)})

	_, err := f.orch.PlaceOrder(context.Background(), 7, delivery.Destination{PinCode: "560001"}, "LTD")
	assert.ErrorIs(t, err, coupon.ErrCouponExhausted)
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.carts.cleared, "cart must survive a failed checkout")
}

func TestPlaceOrder_ProviderFailureKeepsOrderAwaiting(t *testing.T) {
	f := newFixture()
	f.starter.err = errors.New("gateway down")
	f.withCart(7, cart.Item{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(100)})

	o, err := f.orch.PlaceOrder(context.Background(), 7, delivery.Destination{PinCode: "560001"}, "")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, o.Status)
}

func TestOnPaymentSucceeded_Idempotent(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)

	require.NoError(t, f.orch.OnPaymentSucceeded(context.Background(), o.Number, "pay-1"))
	assert.Equal(t, StatusPaid, f.orders.orders[o.Number].Status)

	// Re-delivered success event is a no-op.
	require.NoError(t, f.orch.OnPaymentSucceeded(context.Background(), o.Number, "pay-1"))
	assert.Equal(t, StatusPaid, f.orders.orders[o.Number].Status)
}

func TestOnPaymentSucceeded_AfterCancelLoses(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusCancelled)

	err := f.orch.OnPaymentSucceeded(context.Background(), o.Number, "pay-1")
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusCancelled, ite.From)
	assert.Equal(t, StatusCancelled, f.orders.orders[o.Number].Status)
}

func TestOnPaymentFailed_ThenRetry(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)

	require.NoError(t, f.orch.OnPaymentFailed(context.Background(), o.Number, "pay-1"))
	assert.Equal(t, StatusFailed, f.orders.orders[o.Number].Status)

	// Repeated failure event is a no-op.
	require.NoError(t, f.orch.OnPaymentFailed(context.Background(), o.Number, "pay-1"))

	attempts := len(f.starter.attempts)
	retried, err := f.orch.RetryPayment(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, retried.Status)
	assert.Len(t, f.starter.attempts, attempts+1, "retry must start a fresh attempt")
}

func TestRetryPayment_OnlyFromFailed(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusPaid)

	_, err := f.orch.RetryPayment(context.Background(), o.Number)
	var ite *IllegalTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestCancel_AwaitingPaymentNoRefund(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)

	cancelled, err := f.orch.Cancel(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Empty(t, f.ledger.calls, "nothing was collected, nothing to refund")
}

func TestCancel_PaidRefundsFirst(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusPaid)

	cancelled, err := f.orch.Cancel(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	require.Len(t, f.ledger.calls, 1)
	call := f.ledger.calls[0]
	assert.Equal(t, "CREDIT", call.kind)
	assert.Equal(t, SourceOrderCancelled, call.source)
	assert.Equal(t, o.Number, call.orderNumber)
	assert.True(t, call.amount.Equal(o.GrandTotal))
}

func TestCancel_RefundFailureBlocksCancel(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusPaid)
	f.ledger.creditErr = errors.New("ledger unavailable")

	_, err := f.orch.Cancel(context.Background(), o.Number)
	require.Error(t, err)
	assert.Equal(t, StatusPaid, f.orders.orders[o.Number].Status,
		"order must not claim a refund that never landed")
}

func TestCancel_DuplicateRefundTolerated(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusPaid)
	f.ledger.creditErr = wallet.ErrDuplicateTransaction

	cancelled, err := f.orch.Cancel(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestRefund_ShippedOrder(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusShipped)

	refunded, err := f.orch.Refund(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)

	require.Len(t, f.ledger.calls, 1)
	assert.Equal(t, SourceOrderRefunded, f.ledger.calls[0].source)
}

func TestRefund_AwaitingPaymentRejected(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)

	_, err := f.orch.Refund(context.Background(), o.Number)
	var ite *IllegalTransitionError
	assert.ErrorAs(t, err, &ite)
	assert.Empty(t, f.ledger.calls)
}

func TestCancel_ShippedRejected(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusShipped)

	_, err := f.orch.Cancel(context.Background(), o.Number)
	var ite *IllegalTransitionError
	assert.ErrorAs(t, err, &ite)
	assert.Empty(t, f.ledger.calls)
}

func TestShip(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusPaid)

	shipped, err := f.orch.Ship(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, shipped.Status)

	_, err = f.orch.Ship(context.Background(), o.Number)
	var ite *IllegalTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestPayWithWallet(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)

	paid, err := f.orch.PayWithWallet(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)

	require.Len(t, f.ledger.calls, 1)
	call := f.ledger.calls[0]
	assert.Equal(t, "DEBIT", call.kind)
	assert.Equal(t, SourceWalletPayment, call.source)
	assert.True(t, call.amount.Equal(o.GrandTotal))
}

func TestPayWithWallet_InsufficientBalance(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)
	f.ledger.debitErr = wallet.ErrInsufficientBalance

	_, err := f.orch.PayWithWallet(context.Background(), o.Number)
	assert.ErrorIs(t, err, wallet.ErrInsufficientBalance)
	assert.Equal(t, StatusAwaitingPayment, f.orders.orders[o.Number].Status)
}

func TestPayWithWallet_LostRaceToCancelReversesDebit(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)
	// A concurrent cancel lands while the debit is in flight.
	f.ledger.onDebit = func() { f.orders.orders[o.Number].Status = StatusCancelled }

	_, err := f.orch.PayWithWallet(context.Background(), o.Number)
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusCancelled, f.orders.orders[o.Number].Status)

	require.Len(t, f.ledger.calls, 2)
	debit, credit := f.ledger.calls[0], f.ledger.calls[1]
	assert.Equal(t, "DEBIT", debit.kind)
	assert.Equal(t, "CREDIT", credit.kind)
	assert.Equal(t, SourceWalletPayment, credit.source)
	assert.Equal(t, o.Number, credit.orderNumber)
	assert.True(t, credit.amount.Equal(debit.amount), "the lost race must return the full debit")
}

func TestPayWithWallet_RedeliveredDebitNotMovedTwice(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)
	f.ledger.debitErr = wallet.ErrDuplicateTransaction

	paid, err := f.orch.PayWithWallet(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)
	assert.Empty(t, f.ledger.calls, "the money already moved on the first delivery")
}

func TestCancel_LostRaceToShipReversesCredit(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusPaid)
	// Ship wins the race while the refund credit is in flight.
	f.ledger.onCredit = func() { f.orders.orders[o.Number].Status = StatusShipped }

	_, err := f.orch.Cancel(context.Background(), o.Number)
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, StatusShipped, f.orders.orders[o.Number].Status)

	require.Len(t, f.ledger.calls, 2)
	credit, debit := f.ledger.calls[0], f.ledger.calls[1]
	assert.Equal(t, "CREDIT", credit.kind)
	assert.Equal(t, "DEBIT", debit.kind)
	assert.Equal(t, SourceOrderCancelled, debit.source)
	assert.Equal(t, o.Number, debit.orderNumber)
	assert.True(t, debit.amount.Equal(credit.amount))

	// The later legitimate refund pays out exactly once.
	f.ledger.onCredit = nil
	refunded, err := f.orch.Refund(context.Background(), o.Number)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)

	net := decimal.Zero
	for _, call := range f.ledger.calls {
		if call.kind == "CREDIT" {
			net = net.Add(call.amount)
		} else {
			net = net.Sub(call.amount)
		}
	}
	assert.True(t, net.Equal(o.GrandTotal), "user must end up refunded the grand total once, got %s", net)
}

func TestApplyPaymentEvent(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t, 7, StatusAwaitingPayment)

	require.NoError(t, f.orch.ApplyPaymentEvent(context.Background(), payment.Event{
		Kind: payment.EventNone, OrderNumber: o.Number,
	}))
	assert.Equal(t, StatusAwaitingPayment, f.orders.orders[o.Number].Status)

	require.NoError(t, f.orch.ApplyPaymentEvent(context.Background(), payment.Event{
		Kind: payment.EventSucceeded, OrderNumber: o.Number, PaymentID: "pay-1",
	}))
	assert.Equal(t, StatusPaid, f.orders.orders[o.Number].Status)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.orch.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
