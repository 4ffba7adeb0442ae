package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"storefront-engine/internal/backend"
	"storefront-engine/internal/cart"
	"storefront-engine/internal/gifts"
	"storefront-engine/internal/model"
	"storefront-engine/internal/payment"
	"storefront-engine/internal/pricing"
	"storefront-engine/internal/state"
	"storefront-engine/internal/stock"
)

// attemptKeyMeta is the order meta key carrying the attempt's idempotency
// key. The webhook return path looks orders up by it before falling back to
// manual creation.
const attemptKeyMeta = "_checkout_attempt_key"

// Payment method identifiers as the backend knows them.
const (
	MethodBankTransfer   = "bacs"
	MethodCashOnDelivery = "cod"
	MethodPayPal         = "paypal"
	MethodCard           = "card"
)

// Config holds the orchestrator parameters.
type Config struct {
	// Currency for provider charges, ISO 4217. Defaults to EUR.
	Currency string

	// CustomerID scopes orders and loyalty points. Zero means guest.
	CustomerID int

	// OrderLookupTries bounds the post-webhook order fetch retry loop.
	OrderLookupTries uint64
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = "EUR"
	}
	if c.OrderLookupTries == 0 {
		c.OrderLookupTries = 5
	}
	return c
}

// Orchestrator creates checkout attempts. One Attempt per user intent; a
// failed or cancelled attempt is discarded and a fresh one created on retry.
type Orchestrator struct {
	store    *cart.Store
	backend  backend.Commerce
	pricing  *pricing.Engine
	gifts    *gifts.Evaluator
	gate     *stock.Gate
	shipping *Shipping

	card     payment.CardProvider
	paypal   payment.RedirectProvider
	webhooks map[string]payment.RedirectProvider

	cfg    Config
	logger *slog.Logger

	// credits tracks background loyalty-point credits so shutdown can
	// drain them.
	credits sync.WaitGroup
}

// Deps bundles the collaborators New wires together.
type Deps struct {
	Store    *cart.Store
	Backend  backend.Commerce
	Pricing  *pricing.Engine
	Gifts    *gifts.Evaluator
	Gate     *stock.Gate
	Shipping *Shipping

	Card   payment.CardProvider
	PayPal payment.RedirectProvider
	// Webhooks maps a payment method id to its redirect provider for
	// methods settled by server-to-server callback.
	Webhooks map[string]payment.RedirectProvider
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    deps.Store,
		backend:  deps.Backend,
		pricing:  deps.Pricing,
		gifts:    deps.Gifts,
		gate:     deps.Gate,
		shipping: deps.Shipping,
		card:     deps.Card,
		paypal:   deps.PayPal,
		webhooks: deps.Webhooks,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Wait drains background point credits. Call on shutdown.
func (o *Orchestrator) Wait() { o.credits.Wait() }

// WebhookSettled reports whether the payment method settles through a
// server-to-server callback provider.
func (o *Orchestrator) WebhookSettled(method string) bool {
	_, ok := o.webhooks[method]
	return ok
}

// Details is everything a checkout attempt needs beyond the cart itself.
type Details struct {
	Method   string // payment method id
	Billing  model.Address
	Shipping model.Address

	// Card is the tokenized card for card payments.
	Card payment.CardDetails
	// DeviceClass selects the card confirmation branch.
	DeviceClass payment.Class
}

// Attempt is one checkout run through the state machine. Not safe for
// concurrent use; a checkout attempt is a single user flow.
type Attempt struct {
	// ID doubles as the idempotency key on provider charges and order meta.
	ID string

	o       *Orchestrator
	details Details

	mu    sync.Mutex
	state State

	// Captured at validation so every later state prices against the same
	// settled snapshot.
	snap         state.Snapshot
	totals       pricing.Totals
	shipMethod   model.ShippingMethod
	issues       []model.StockIssue
	order        *model.OrderRef
	session      *payment.Session
	intentID     string
	methodID     string
	finalizeOnce sync.Once
}

// State returns the attempt's current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Order returns the backend order, once one exists.
func (a *Attempt) Order() *model.OrderRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order
}

// StockIssues returns the findings of the validation stock check, including
// auto-fixed ones.
func (a *Attempt) StockIssues() []model.StockIssue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issues
}

// Totals returns the totals the attempt was validated against.
func (a *Attempt) Totals() pricing.Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// GrandTotal is the amount charged: cart total plus shipping.
func (a *Attempt) GrandTotal() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals.Total + a.shipMethod.Cost
}

func (a *Attempt) transition(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !canTransition(a.state, to) {
		return model.NewValidationError("checkout", fmt.Sprintf("cannot move from %s to %s", a.state, to))
	}
	a.o.logger.Info("checkout transition",
		slog.String("attempt", a.ID),
		slog.String("from", string(a.state)),
		slog.String("to", string(to)))
	a.state = to
	return nil
}

// fail moves to Failed and returns err. The cart is left untouched so the
// user can retry or change method.
func (a *Attempt) fail(err error) error {
	if terr := a.transition(StateFailed); terr != nil {
		a.o.logger.Error("failing checkout", slog.Any("error", terr))
	}
	return err
}

// Begin validates preconditions and runs the stock gate. On success the
// attempt is in ValidatingCart, ready for a Pay call. Validation failures
// and blocking stock issues fail the attempt immediately.
func (o *Orchestrator) Begin(ctx context.Context, details Details) (*Attempt, error) {
	a := &Attempt{
		ID:      uuid.NewString(),
		o:       o,
		details: details,
		state:   StateIdle,
	}
	if err := a.transition(StateValidatingCart); err != nil {
		return nil, err
	}

	// Settle pending debounced work so validation sees final state.
	o.pricing.Flush()
	o.gifts.Flush()
	o.shipping.Flush()

	if err := o.validate(details); err != nil {
		return a, a.fail(err)
	}

	issues, err := o.gate.Check(ctx)
	if err != nil {
		return a, a.fail(err)
	}
	a.issues = issues
	if stock.Blocked(issues) {
		return a, a.fail(model.NewStockError("some items are no longer available in the requested quantity"))
	}

	// The gate may have clamped quantities; re-settle pricing before
	// capturing totals.
	o.pricing.Flush()

	a.mu.Lock()
	a.snap = o.store.Snapshot()
	a.totals = o.pricing.Totals(a.snap)
	a.shipMethod = *o.shipping.Selected()
	a.mu.Unlock()
	return a, nil
}

func (o *Orchestrator) validate(details Details) error {
	if len(o.store.Snapshot().Lines) == 0 {
		return model.NewValidationError("cart", "is empty")
	}
	if details.Method == "" {
		return model.NewValidationError("payment method", "is required")
	}
	required := map[string]string{
		"first name": details.Billing.FirstName,
		"last name":  details.Billing.LastName,
		"address":    details.Billing.Address1,
		"city":       details.Billing.City,
		"postcode":   details.Billing.Postcode,
		"country":    details.Billing.Country,
		"email":      details.Billing.Email,
	}
	for field, value := range required {
		if value == "" {
			return model.NewValidationError(field, "is required")
		}
	}
	if o.shipping.Selected() == nil {
		return model.NewValidationError("shipping method", "must be selected")
	}
	return nil
}

// === Bank transfer / cash on delivery ===

// PayOffline completes checkout for methods settled outside the engine. The
// order is created pending and unpaid; the store's back office confirms
// payment later.
func (a *Attempt) PayOffline(ctx context.Context) error {
	if err := a.transition(StateCreatingOrder); err != nil {
		return err
	}
	order, err := a.o.backend.CreateOrder(ctx, a.buildOrder(false))
	if err != nil {
		return a.fail(err)
	}
	a.setOrder(order)
	return a.succeed(ctx)
}

// === PayPal ===

// StartPayPal creates the pending backend order and the provider approval
// session. The caller sends the user to the session's approval URL and later
// calls CompletePayPal or Cancel.
func (a *Attempt) StartPayPal(ctx context.Context) (*payment.Session, error) {
	if err := a.transition(StateCreatingPendingOrder); err != nil {
		return nil, err
	}
	order, err := a.o.backend.CreateOrder(ctx, a.buildOrder(false))
	if err != nil {
		return nil, a.fail(err)
	}
	a.setOrder(order)

	session, err := a.o.paypal.CreateSession(ctx, a.chargeRequest(order.ID))
	if err != nil {
		// The pending order is now orphaned; best effort cleanup.
		a.deletePendingOrder(order.ID)
		return nil, a.fail(err)
	}
	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	if err := a.transition(StateAwaitingApproval); err != nil {
		return nil, err
	}
	return session, nil
}

// CompletePayPal captures the approved payment and marks the order paid.
// Capture and update failures are not retried: the approved payment is
// surfaced for manual reconciliation instead of risking a double charge.
func (a *Attempt) CompletePayPal(ctx context.Context) error {
	if err := a.transition(StateCapturing); err != nil {
		return err
	}
	a.mu.Lock()
	session := a.session
	order := a.order
	a.mu.Unlock()

	result, err := a.o.paypal.Capture(ctx, session.ID)
	if err != nil {
		return a.fail(err)
	}
	if result.Status != payment.StatusSucceeded {
		return a.fail(model.NewPaymentError(declineMessage(result)))
	}
	if err := a.markPaid(ctx, order.ID, result.TransactionID); err != nil {
		return err
	}
	return a.succeed(ctx)
}

// Cancel abandons the attempt from the provider approval page. The pending
// backend order is deleted best-effort and the cart stays intact.
func (a *Attempt) Cancel(ctx context.Context) error {
	if err := a.transition(StateCancelled); err != nil {
		return err
	}
	a.mu.Lock()
	order := a.order
	a.mu.Unlock()
	if order != nil {
		a.deletePendingOrder(order.ID)
	}
	return nil
}

// === Card ===

// PayCard runs the single-page card flow. Standard devices create an intent
// and confirm it in-browser; constrained devices tokenize a payment method
// and charge server-side. A StatusRequiresAction result parks the attempt in
// StepUpAuthentication; the caller runs the challenge and calls
// CompleteStepUp.
func (a *Attempt) PayCard(ctx context.Context) (*payment.Result, error) {
	if a.details.DeviceClass == payment.ClassConstrained {
		return a.payCardConstrained(ctx)
	}
	return a.payCardStandard(ctx)
}

func (a *Attempt) payCardStandard(ctx context.Context) (*payment.Result, error) {
	if err := a.transition(StateCreatingOrder); err != nil {
		return nil, err
	}
	order, err := a.o.backend.CreateOrder(ctx, a.buildOrder(false))
	if err != nil {
		return nil, a.fail(err)
	}
	a.setOrder(order)

	if err := a.transition(StateCreatingIntent); err != nil {
		return nil, err
	}
	intent, err := a.o.card.CreateIntent(ctx, a.chargeRequest(order.ID))
	if err != nil {
		return nil, a.fail(err)
	}
	a.mu.Lock()
	a.intentID = intent.IntentID
	a.mu.Unlock()

	if err := a.transition(StateConfirmingPayment); err != nil {
		return nil, err
	}
	result, err := a.o.card.Confirm(ctx, intent.IntentID, a.details.Card)
	if err != nil {
		return nil, a.fail(err)
	}
	return a.settleCardResult(ctx, result)
}

func (a *Attempt) payCardConstrained(ctx context.Context) (*payment.Result, error) {
	if err := a.transition(StateCreatingMethod); err != nil {
		return nil, err
	}
	methodID, err := a.o.card.CreateMethod(ctx, a.details.Card)
	if err != nil {
		return nil, a.fail(err)
	}
	a.mu.Lock()
	a.methodID = methodID
	a.mu.Unlock()

	if err := a.transition(StateCreatingOrderWithCard); err != nil {
		return nil, err
	}
	order, err := a.o.backend.CreateOrder(ctx, a.buildOrder(false))
	if err != nil {
		return nil, a.fail(err)
	}
	a.setOrder(order)

	result, err := a.o.card.ChargeMethod(ctx, methodID, a.chargeRequest(order.ID))
	if err != nil {
		return nil, a.fail(err)
	}
	return a.settleCardResult(ctx, result)
}

// settleCardResult routes a provider result: success marks the order paid,
// requires_action parks in step-up, anything else fails with the provider's
// message.
func (a *Attempt) settleCardResult(ctx context.Context, result *payment.Result) (*payment.Result, error) {
	switch result.Status {
	case payment.StatusSucceeded:
		a.mu.Lock()
		order := a.order
		a.mu.Unlock()
		if err := a.markPaid(ctx, order.ID, result.TransactionID); err != nil {
			return nil, err
		}
		return result, a.succeed(ctx)
	case payment.StatusRequiresAction:
		if result.IntentID != "" {
			a.mu.Lock()
			a.intentID = result.IntentID
			a.mu.Unlock()
		}
		if err := a.transition(StateStepUpAuthentication); err != nil {
			return nil, err
		}
		return result, nil
	default:
		return nil, a.fail(model.NewPaymentError(declineMessage(result)))
	}
}

// CompleteStepUp confirms the payment server-side after the in-page
// challenge succeeded.
func (a *Attempt) CompleteStepUp(ctx context.Context) error {
	if a.State() != StateStepUpAuthentication {
		return model.NewValidationError("checkout", "no authentication challenge is pending")
	}
	a.mu.Lock()
	intentID := a.intentID
	order := a.order
	a.mu.Unlock()

	result, err := a.o.card.CompleteStepUp(ctx, intentID)
	if err != nil {
		return a.fail(err)
	}
	if result.Status != payment.StatusSucceeded {
		return a.fail(model.NewPaymentError(declineMessage(result)))
	}
	if err := a.markPaid(ctx, order.ID, result.TransactionID); err != nil {
		return err
	}
	return a.succeed(ctx)
}

// === Webhook-settled methods ===

// StartWebhook creates the provider session for a webhook-settled method.
// No backend order is created yet; the provider's callback or the return
// path materializes it.
func (a *Attempt) StartWebhook(ctx context.Context) (*payment.Session, error) {
	provider, ok := a.o.webhooks[a.details.Method]
	if !ok {
		return nil, a.fail(model.NewValidationError("payment method", "is not supported"))
	}
	if err := a.transition(StateAwaitingWebhook); err != nil {
		return nil, err
	}
	session, err := provider.CreateSession(ctx, a.chargeRequest(0))
	if err != nil {
		return nil, a.fail(err)
	}
	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	return session, nil
}

// ResumeWebhookReturn handles the user arriving back from the provider. The
// provider's callback may already have materialized the order; if not, the
// order is created manually from the attempt's captured checkout data. Both
// paths converge on finalization, and the attempt key on the order meta
// keeps the race from producing two orders.
func (a *Attempt) ResumeWebhookReturn(ctx context.Context) error {
	if a.State() != StateAwaitingWebhook {
		return model.NewValidationError("checkout", "no webhook payment is pending")
	}

	order, err := a.o.backend.FindOrderByKey(ctx, a.ID)
	switch {
	case err == nil:
		a.setOrder(order)
	case isNotFound(err):
		// Webhook has not landed yet: create the order ourselves, marked
		// paid, carrying the attempt key so a late webhook can dedupe.
		created, cerr := a.o.backend.CreateOrder(ctx, a.buildOrder(true))
		if cerr != nil {
			return a.fail(cerr)
		}
		a.setOrder(created)
	default:
		return a.fail(err)
	}

	// The just-created order may not be queryable yet; bounded retry.
	a.mu.Lock()
	orderID := a.order.ID
	a.mu.Unlock()
	settled, err := a.o.backend.GetOrderEventually(ctx, orderID, a.o.cfg.OrderLookupTries)
	if err != nil {
		a.o.logger.Warn("order not yet queryable after webhook return",
			slog.Int("order_id", orderID), slog.Any("error", err))
	} else {
		a.setOrder(settled)
	}
	return a.succeed(ctx)
}

// === Shared mechanics ===

func (a *Attempt) setOrder(order *model.OrderRef) {
	a.mu.Lock()
	a.order = order
	a.mu.Unlock()
}

// markPaid moves through UpdatingOrder and marks the backend order paid with
// the provider transaction reference. A failure here fails the attempt; the
// captured payment is surfaced for manual reconciliation, never re-captured.
func (a *Attempt) markPaid(ctx context.Context, orderID int, transactionID string) error {
	if err := a.transition(StateUpdatingOrder); err != nil {
		return err
	}
	order, err := a.o.backend.UpdateOrder(ctx, orderID, &backend.OrderUpdate{
		Status:        "processing",
		SetPaid:       true,
		TransactionID: transactionID,
	})
	if err != nil {
		a.o.logger.Error("payment captured but order update failed, needs manual reconciliation",
			slog.Int("order_id", orderID),
			slog.String("transaction_id", transactionID),
			slog.Any("error", err))
		return a.fail(model.NewPaymentError("payment was taken but the order could not be updated, please contact support"))
	}
	a.setOrder(order)
	return nil
}

// succeed transitions to Succeeded and finalizes exactly once.
func (a *Attempt) succeed(ctx context.Context) error {
	if err := a.transition(StateSucceeded); err != nil {
		return err
	}
	a.finalizeOnce.Do(func() { a.finalize(ctx) })
	return nil
}

func (a *Attempt) deletePendingOrder(orderID int) {
	// Detached from the caller's context: cancellation of the checkout
	// flow must not strand the cleanup.
	if err := a.o.backend.DeleteOrder(context.Background(), orderID); err != nil {
		a.o.logger.Warn("deleting pending order", slog.Int("order_id", orderID), slog.Any("error", err))
	}
}

func (a *Attempt) chargeRequest(orderID int) payment.ChargeRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return payment.ChargeRequest{
		Amount:    a.totals.Total + a.shipMethod.Cost,
		Currency:  a.o.cfg.Currency,
		OrderID:   orderID,
		AttemptID: a.ID,
		Email:     a.details.Billing.Email,
	}
}

// buildOrder assembles the full order payload from the attempt's captured
// snapshot. Line totals are deposit-aware effective prices; the coupon
// travels as a coupon line and the points discount as order meta.
func (a *Attempt) buildOrder(paid bool) *backend.OrderRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	var lines []backend.OrderLine
	for _, line := range a.snap.Lines {
		unit := a.o.pricing.EffectiveUnitPrice(line)
		meta := append([]model.MetaEntry(nil), line.Meta...)
		if line.IsGift() {
			meta = append(meta, model.MetaEntry{Key: "_auto_gift_rule", Value: fmt.Sprintf("%d", line.Gift.RuleID)})
		}
		lines = append(lines, backend.OrderLine{
			ProductID:   line.Product.ID,
			VariationID: line.Product.VariationID,
			Quantity:    line.Quantity,
			Total:       model.FormatMajor(unit * int64(line.Quantity)),
			Meta:        meta,
		})
	}

	req := &backend.OrderRequest{
		PaymentMethod: a.details.Method,
		SetPaid:       paid,
		Billing:       a.details.Billing,
		Shipping:      a.details.Shipping,
		LineItems:     lines,
		ShippingLines: []backend.ShippingLine{{
			MethodID:    a.shipMethod.ID,
			MethodTitle: a.shipMethod.Title,
			Total:       model.FormatMajor(a.shipMethod.Cost),
		}},
		CustomerID: a.o.cfg.CustomerID,
		Meta: []model.MetaEntry{
			{Key: attemptKeyMeta, Value: a.ID},
		},
	}
	if a.snap.Coupon != nil {
		req.CouponLines = []backend.CouponLine{{Code: a.snap.Coupon.Code}}
	}
	if a.totals.PointsDiscount > 0 {
		req.Meta = append(req.Meta, model.MetaEntry{
			Key:   "_points_discount",
			Value: model.FormatMajor(a.totals.PointsDiscount),
		})
	}
	return req
}

func declineMessage(result *payment.Result) string {
	if result.Message != "" {
		return result.Message
	}
	return "the payment was declined"
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
