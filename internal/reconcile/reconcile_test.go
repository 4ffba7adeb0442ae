package reconcile

import (
	"testing"

	"storefront-engine/internal/model"
)

func gift(id, qty int) model.CartLine {
	return model.CartLine{
		Kind:     model.LineGift,
		Product:  model.ProductRef{ID: id},
		Quantity: qty,
		Gift:     &model.GiftInfo{RuleID: 1},
	}
}

func regular(id, qty int) model.CartLine {
	return model.CartLine{
		Kind:     model.LineRegular,
		Product:  model.ProductRef{ID: id},
		Quantity: qty,
	}
}

func TestGifts_EmptyCartAllAdds(t *testing.T) {
	results := []model.GiftRule{
		{ProductID: 10, Quantity: 1, RuleID: 1},
		{ProductID: 11, Quantity: 2, RuleID: 2},
	}
	plan := Gifts(nil, results, nil)

	if len(plan.ToAdd) != 2 {
		t.Errorf("ToAdd = %d, want 2", len(plan.ToAdd))
	}
	if len(plan.ToRemove) != 0 || len(plan.SetQty) != 0 {
		t.Errorf("unexpected removals/corrections: %+v", plan)
	}
}

func TestGifts_NoResultsRemovesAllGiftLines(t *testing.T) {
	current := []model.CartLine{gift(10, 1), gift(11, 1), regular(20, 3)}
	plan := Gifts(current, nil, nil)

	if len(plan.ToRemove) != 2 {
		t.Errorf("ToRemove = %v, want both gift ids", plan.ToRemove)
	}
	for _, id := range plan.ToRemove {
		if id == 20 {
			t.Error("regular line must never be removed by gift reconciliation")
		}
	}
}

func TestGifts_RemovedSetSuppressesReAdd(t *testing.T) {
	results := []model.GiftRule{{ProductID: 10, Quantity: 1}}
	plan := Gifts(nil, results, []int{10})

	if !plan.IsEmpty() {
		t.Errorf("plan = %+v, want empty (user dismissed gift 10)", plan)
	}
}

func TestGifts_QuantityDriftCorrected(t *testing.T) {
	current := []model.CartLine{gift(10, 3)}
	results := []model.GiftRule{{ProductID: 10, Quantity: 1}}
	plan := Gifts(current, results, nil)

	if got := plan.SetQty[10]; got != 1 {
		t.Errorf("SetQty[10] = %d, want 1", got)
	}
	if len(plan.ToAdd) != 0 || len(plan.ToRemove) != 0 {
		t.Errorf("unexpected adds/removals: %+v", plan)
	}
}

func TestGifts_MatchingStateIsEmptyPlan(t *testing.T) {
	current := []model.CartLine{gift(10, 2)}
	results := []model.GiftRule{{ProductID: 10, Quantity: 2}}

	if plan := Gifts(current, results, nil); !plan.IsEmpty() {
		t.Errorf("plan = %+v, want empty", plan)
	}
}

func TestGiftLineForcesZeroPrice(t *testing.T) {
	line := GiftLine(model.GiftRule{
		ProductID:     10,
		ProductName:   "sample",
		Quantity:      1,
		OriginalPrice: 1500,
		RuleID:        4,
		RuleName:      "holiday",
	})

	if line.Product.Price != 0 {
		t.Errorf("gift price = %d, want 0", line.Product.Price)
	}
	if !line.IsGift() || line.Gift == nil {
		t.Fatal("line must be tagged as gift")
	}
	if line.Gift.OriginalPrice != 1500 || line.Gift.RuleID != 4 {
		t.Errorf("gift info = %+v, want original price and rule preserved", line.Gift)
	}
}
