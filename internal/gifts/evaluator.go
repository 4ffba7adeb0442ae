// Package gifts keeps the cart's promotional gift lines converged with the
// server's gift rules. The evaluator watches the cart store, debounces bursts
// of changes into a single rule check, and applies the resulting diff as one
// store mutation. Evaluation failures are non-fatal: existing gift lines stay
// as they are until a later evaluation succeeds.
package gifts

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"storefront-engine/internal/backend"
	"storefront-engine/internal/cart"
	"storefront-engine/internal/debounce"
	"storefront-engine/internal/model"
	"storefront-engine/internal/reconcile"
	"storefront-engine/internal/state"
)

// Config holds the evaluator parameters.
type Config struct {
	// Window is the debounce window for rule evaluation. Defaults to 500ms.
	Window time.Duration

	// UserID travels with rule checks for customer-scoped promotions.
	// Zero means anonymous.
	UserID int
}

// Evaluator converges gift lines with server-side gift rules.
type Evaluator struct {
	store   *cart.Store
	backend backend.Commerce
	logger  *slog.Logger
	userID  int

	// subtotal computes the deposit-aware cart subtotal the rules are
	// evaluated against. Supplied by the pricing engine.
	subtotal func(state.Snapshot) int64

	deb *debounce.Debouncer

	mu      sync.Mutex
	lastSig string
}

// New creates the evaluator and subscribes it to the store. subtotal must not
// be nil.
func New(store *cart.Store, be backend.Commerce, cfg Config, subtotal func(state.Snapshot) int64, logger *slog.Logger) *Evaluator {
	if cfg.Window <= 0 {
		cfg.Window = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		store:    store,
		backend:  be,
		logger:   logger,
		userID:   cfg.UserID,
		subtotal: subtotal,
	}
	e.deb = debounce.New(cfg.Window, e.evaluate)
	store.Subscribe(e.onSnapshot)
	return e
}

// Close stops the evaluator.
func (e *Evaluator) Close() { e.deb.Close() }

// Flush forces a pending evaluation to run now.
func (e *Evaluator) Flush() { e.deb.Flush() }

// RemoveGift dismisses a gift line on the user's behalf. The product joins
// the removed set so evaluation does not re-add it.
func (e *Evaluator) RemoveGift(productID int) error {
	return e.store.RemoveGift(productID)
}

// RestoreGift undoes a dismissal. The next evaluation may re-add the line if
// its rule still matches.
func (e *Evaluator) RestoreGift(productID int) error {
	return e.store.RestoreGift(productID)
}

// onSnapshot schedules an evaluation when the purchased content or the
// removed set changed. Changes to gift lines alone never re-trigger, so a
// committed reconciliation cannot loop.
func (e *Evaluator) onSnapshot(snap state.Snapshot) {
	sig := signature(snap)
	e.mu.Lock()
	changed := sig != e.lastSig
	if changed {
		e.lastSig = sig
	}
	e.mu.Unlock()
	if changed {
		e.deb.Trigger()
	}
}

// evaluate asks the server which gifts the cart qualifies for and commits
// the diff. Runs on the debouncer with settled state.
func (e *Evaluator) evaluate(ctx context.Context) {
	snap := e.store.Snapshot()

	var items []backend.GiftItem
	for _, line := range snap.Lines {
		if line.IsGift() {
			continue
		}
		items = append(items, backend.GiftItem{
			ProductID:  line.Product.ID,
			Quantity:   line.Quantity,
			Name:       line.Product.Name,
			Categories: line.Product.Categories,
		})
	}

	results, err := e.backend.CheckGiftRules(ctx, items, e.subtotal(snap), e.userID)
	if err != nil {
		// Keep whatever gift lines exist. A stale gift is better than a
		// flickering one; the next cart change retries.
		e.logger.Warn("gift rule check failed", slog.Any("error", err))
		return
	}

	plan := reconcile.Gifts(snap.Lines, results, snap.RemovedGiftIDs)
	if plan.IsEmpty() {
		return
	}

	add := make([]model.CartLine, 0, len(plan.ToAdd))
	for _, r := range plan.ToAdd {
		add = append(add, reconcile.GiftLine(r))
	}
	if err := e.store.ApplyGiftReconciliation(add, plan.ToRemove, plan.SetQty); err != nil {
		e.logger.Error("applying gift reconciliation", slog.Any("error", err))
	}
}

// signature covers everything a rule evaluation depends on: the non-gift
// lines and the dismissed-gift set.
func signature(snap state.Snapshot) string {
	parts := make([]string, 0, len(snap.Lines)+len(snap.RemovedGiftIDs))
	for _, line := range snap.Lines {
		if line.IsGift() {
			continue
		}
		parts = append(parts, "l"+strconv.Itoa(line.Product.ID)+":"+strconv.Itoa(line.Product.VariationID)+":"+strconv.Itoa(line.Quantity)+":"+strconv.FormatInt(line.Product.Price, 10))
	}
	for _, id := range snap.RemovedGiftIDs {
		parts = append(parts, "r"+strconv.Itoa(id))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
