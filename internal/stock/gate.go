// Package stock validates cart quantities against live inventory right
// before checkout. Recoverable findings are fixed in place by clamping the
// line to what the store can supply; unrecoverable ones block checkout until
// the user removes the line.
package stock

import (
	"context"
	"log/slog"

	"storefront-engine/internal/backend"
	"storefront-engine/internal/cart"
	"storefront-engine/internal/model"
)

// Gate runs the pre-checkout stock validation.
type Gate struct {
	store   *cart.Store
	backend backend.Commerce
	logger  *slog.Logger
}

// New creates a stock gate over the given store and backend.
func New(store *cart.Store, be backend.Commerce, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, backend: be, logger: logger}
}

// Check validates every purchased line against live stock and applies
// auto-fixes. Insufficient quantity is clamped to the available amount and
// reported as fixed; out-of-stock lines are left in the cart and reported as
// blocking so the user decides what to drop. The returned issues include
// fixed ones for display.
//
// A transport failure fails the check outright: checkout must not proceed on
// unverified stock.
func (g *Gate) Check(ctx context.Context) ([]model.StockIssue, error) {
	snap := g.store.Snapshot()

	var items []backend.StockItem
	for _, line := range snap.Lines {
		if line.IsGift() {
			continue
		}
		items = append(items, backend.StockItem{
			ProductID:   line.Product.ID,
			VariationID: line.Product.VariationID,
			Quantity:    line.Quantity,
		})
	}
	if len(items) == 0 {
		return nil, nil
	}

	issues, err := g.backend.CheckStock(ctx, items)
	if err != nil {
		return nil, err
	}

	for i, issue := range issues {
		if issue.Issue != model.StockInsufficient || issue.Available < 1 {
			continue
		}
		if err := g.store.SetQuantity(issue.ProductID, issue.Available, issue.VariationID); err != nil {
			g.logger.Error("clamping line to available stock",
				slog.Int("product_id", issue.ProductID), slog.Any("error", err))
			continue
		}
		issues[i].Fixed = true
		g.logger.Info("line clamped to available stock",
			slog.Int("product_id", issue.ProductID),
			slog.Int("requested", issue.Requested),
			slog.Int("available", issue.Available))
	}
	return issues, nil
}

// Blocked reports whether any issue still prevents checkout.
func Blocked(issues []model.StockIssue) bool {
	for _, issue := range issues {
		if issue.Blocking() {
			return true
		}
	}
	return false
}
