// Package reconcile computes the delta between the gift lines currently in
// the cart and the gift results the backend reports. Rules are authoritative
// and may stop applying as the cart changes, so reconciliation is a full
// diff: add what the server now grants, drop what it no longer does, correct
// quantities that drifted. The user's removed set suppresses re-adds.
package reconcile

import "storefront-engine/internal/model"

// GiftPlan describes the mutations needed to bring gift lines in sync with
// the server's rule results. Apply order: remove → set quantity → add.
type GiftPlan struct {
	ToAdd    []model.GiftRule // granted by the server, absent from the cart
	ToRemove []int            // product ids present in the cart, no longer granted
	SetQty   map[int]int      // product id → corrected quantity
}

// IsEmpty returns true if the cart's gift lines already match the results.
func (p *GiftPlan) IsEmpty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0 && len(p.SetQty) == 0
}

// Gifts diffs the cart's current gift lines against the server's results.
// Matching is by product id: gift lines are keyed by product id alone.
//
//   - A result whose product id is in removed is skipped entirely: the user
//     dismissed it and it must not come back until restored.
//   - An empty results slice removes every gift line.
//   - Quantities are rule-owned; a drifted quantity is corrected, not kept.
func Gifts(current []model.CartLine, results []model.GiftRule, removed []int) *GiftPlan {
	plan := &GiftPlan{}

	removedSet := make(map[int]bool, len(removed))
	for _, id := range removed {
		removedSet[id] = true
	}

	currentByID := make(map[int]model.CartLine)
	for _, line := range current {
		if line.IsGift() {
			currentByID[line.Product.ID] = line
		}
	}

	desiredByID := make(map[int]model.GiftRule)
	for _, r := range results {
		if removedSet[r.ProductID] {
			continue
		}
		desiredByID[r.ProductID] = r
	}

	for id, rule := range desiredByID {
		line, exists := currentByID[id]
		if !exists {
			plan.ToAdd = append(plan.ToAdd, rule)
			continue
		}
		if line.Quantity != rule.Quantity {
			if plan.SetQty == nil {
				plan.SetQty = make(map[int]int)
			}
			plan.SetQty[id] = rule.Quantity
		}
	}

	for id := range currentByID {
		if _, exists := desiredByID[id]; !exists {
			plan.ToRemove = append(plan.ToRemove, id)
		}
	}

	return plan
}

// GiftLine converts a server gift result into the cart line it materializes
// as. The effective price of a gift line is forced to 0 regardless of the
// product's original price; OriginalPrice is kept for display.
func GiftLine(r model.GiftRule) model.CartLine {
	return model.CartLine{
		Kind: model.LineGift,
		Product: model.ProductRef{
			ID:    r.ProductID,
			Name:  r.ProductName,
			Price: 0,
		},
		Quantity: r.Quantity,
		Gift: &model.GiftInfo{
			RuleID:        r.RuleID,
			RuleName:      r.RuleName,
			OriginalPrice: r.OriginalPrice,
		},
	}
}
