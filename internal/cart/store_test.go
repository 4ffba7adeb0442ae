package cart

import (
	"errors"
	"testing"

	"storefront-engine/internal/model"
	"storefront-engine/internal/state"
)

func intPtr(n int) *int { return &n }

func newTestStore(t *testing.T) (*Store, *[]model.Notice) {
	t.Helper()
	var notices []model.Notice
	s, err := New(&state.MemStore{}, func(n model.Notice) {
		notices = append(notices, n)
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, &notices
}

func managedProduct(id int, price int64, stock int) model.ProductRef {
	return model.ProductRef{
		ID:            id,
		Name:          "widget",
		Price:         price,
		RegularPrice:  price,
		ManageStock:   true,
		StockQuantity: intPtr(stock),
	}
}

func giftLine(productID int) model.CartLine {
	return model.CartLine{
		Kind:     model.LineGift,
		Product:  model.ProductRef{ID: productID, Name: "free sample"},
		Quantity: 1,
		Gift:     &model.GiftInfo{RuleID: 7, RuleName: "spend 50", OriginalPrice: 500},
	}
}

func TestAddMergesQuantities(t *testing.T) {
	s, _ := newTestStore(t)
	p := model.ProductRef{ID: 1, Name: "mug", Price: 900, RegularPrice: 900}

	if err := s.Add(p, 2, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(p, 3, nil, nil); err != nil {
		t.Fatalf("Add merge: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(snap.Lines))
	}
	if snap.Lines[0].Quantity != 5 {
		t.Errorf("quantity = %d, want 5", snap.Lines[0].Quantity)
	}
}

func TestAddDistinguishesVariations(t *testing.T) {
	s, _ := newTestStore(t)
	s.Add(model.ProductRef{ID: 1, VariationID: 10, Price: 900}, 1, nil, nil)
	s.Add(model.ProductRef{ID: 1, VariationID: 11, Price: 950}, 1, nil, nil)

	if got := len(s.Snapshot().Lines); got != 2 {
		t.Errorf("lines = %d, want 2 (variations are distinct keys)", got)
	}
}

func TestAddRejectsOverStockWithoutMutating(t *testing.T) {
	s, _ := newTestStore(t)
	p := managedProduct(1, 1000, 3)

	if err := s.Add(p, 2, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := s.Add(p, 2, nil, nil) // merged 4 > stock 3
	if !errors.Is(err, model.ErrStock) {
		t.Fatalf("err = %v, want ErrStock", err)
	}
	if got := s.Snapshot().Lines[0].Quantity; got != 2 {
		t.Errorf("quantity = %d, want 2 (failed add must not partially apply)", got)
	}
}

// Scenario C: stock 3, cart quantity 2, SetQuantity(5) → clamped to 3 with an
// advisory, no error.
func TestSetQuantityClampsToStockWithAdvisory(t *testing.T) {
	s, notices := newTestStore(t)
	s.Add(managedProduct(1, 1000, 3), 2, nil, nil)

	if err := s.SetQuantity(1, 5, 0); err != nil {
		t.Fatalf("SetQuantity: %v", err)
	}
	if got := s.Snapshot().Lines[0].Quantity; got != 3 {
		t.Errorf("quantity = %d, want 3", got)
	}
	if len(*notices) != 1 || (*notices)[0].Code != "stock_clamped" {
		t.Errorf("notices = %+v, want one stock_clamped advisory", *notices)
	}
	if (*notices)[0].ExpiresAt.IsZero() {
		t.Error("advisory must carry an expiry")
	}
}

func TestSetQuantityZeroRemoves(t *testing.T) {
	s, _ := newTestStore(t)
	s.Add(model.ProductRef{ID: 1, Price: 500}, 2, nil, nil)

	if err := s.SetQuantity(1, 0, 0); err != nil {
		t.Fatalf("SetQuantity: %v", err)
	}
	if got := len(s.Snapshot().Lines); got != 0 {
		t.Errorf("lines = %d, want 0", got)
	}
}

func TestGiftLineQuantityIsImmutable(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyGiftReconciliation([]model.CartLine{giftLine(42)}, nil, nil)

	if err := s.SetQuantity(42, 5, 0); err != nil {
		t.Fatalf("SetQuantity on gift: %v (want silent no-op)", err)
	}
	if got := s.Snapshot().Lines[0].Quantity; got != 1 {
		t.Errorf("gift quantity = %d, want 1", got)
	}
}

func TestRemoveGiftRecordsRemovedSet(t *testing.T) {
	s, _ := newTestStore(t)
	s.ApplyGiftReconciliation([]model.CartLine{giftLine(42)}, nil, nil)

	if err := s.RemoveGift(42); err != nil {
		t.Fatalf("RemoveGift: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Lines) != 0 {
		t.Errorf("lines = %d, want 0", len(snap.Lines))
	}
	if len(snap.RemovedGiftIDs) != 1 || snap.RemovedGiftIDs[0] != 42 {
		t.Errorf("removed set = %v, want [42]", snap.RemovedGiftIDs)
	}

	if err := s.RestoreGift(42); err != nil {
		t.Fatalf("RestoreGift: %v", err)
	}
	if got := len(s.Snapshot().RemovedGiftIDs); got != 0 {
		t.Errorf("removed set after restore = %d entries, want 0", got)
	}
}

func TestClearResetsEverythingAtOnce(t *testing.T) {
	s, _ := newTestStore(t)
	s.Add(model.ProductRef{ID: 1, Price: 10000}, 1, nil, nil)
	s.SetCoupon(model.Coupon{Code: "SAVE10", DiscountType: model.DiscountPercent, Amount: "10"}, 1000)
	s.SetPointsBalance(500)
	s.SetPointsToRedeem(500)
	s.SetPointsDiscount(500)
	s.ApplyGiftReconciliation([]model.CartLine{giftLine(42)}, nil, nil)
	s.RemoveGift(42)

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Lines) != 0 {
		t.Errorf("lines = %d, want 0", len(snap.Lines))
	}
	if snap.Coupon != nil || snap.CouponDiscount != 0 {
		t.Errorf("coupon = %+v discount = %d, want cleared", snap.Coupon, snap.CouponDiscount)
	}
	if snap.Points != (model.PointsState{}) {
		t.Errorf("points = %+v, want zero state", snap.Points)
	}
	if len(snap.RemovedGiftIDs) != 0 {
		t.Errorf("removed set = %v, want empty", snap.RemovedGiftIDs)
	}
}

func TestClearSurvivesReload(t *testing.T) {
	mem := &state.MemStore{}
	s, err := New(mem, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Add(model.ProductRef{ID: 1, Price: 100}, 1, nil, nil)
	s.Clear()

	reloaded, err := New(mem, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	snap := reloaded.Snapshot()
	if len(snap.Lines) != 0 || snap.Coupon != nil || snap.Points != (model.PointsState{}) || len(snap.RemovedGiftIDs) != 0 {
		t.Errorf("reloaded snapshot not empty: %+v", snap)
	}
}

func TestSetPointsToRedeemClampedToBalance(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetPointsBalance(300)

	s.SetPointsToRedeem(1000)
	if got := s.Snapshot().Points.ToRedeem; got != 300 {
		t.Errorf("toRedeem = %d, want 300 (clamped to balance)", got)
	}

	s.SetPointsToRedeem(-5)
	if got := s.Snapshot().Points.ToRedeem; got != 0 {
		t.Errorf("toRedeem = %d, want 0", got)
	}
}

func TestSubscribersSeeCommittedState(t *testing.T) {
	s, _ := newTestStore(t)
	var seen []int
	s.Subscribe(func(snap state.Snapshot) {
		seen = append(seen, len(snap.Lines))
	})

	s.Add(model.ProductRef{ID: 1, Price: 100}, 1, nil, nil)
	s.Add(model.ProductRef{ID: 2, Price: 200}, 1, nil, nil)

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("subscriber saw %v, want [1 2]", seen)
	}
}

func TestNoopMutationDoesNotNotify(t *testing.T) {
	s, _ := newTestStore(t)
	s.Add(model.ProductRef{ID: 1, Price: 100}, 1, nil, nil)

	calls := 0
	s.Subscribe(func(state.Snapshot) { calls++ })

	// Removing an absent gift id changes nothing.
	s.RestoreGift(99)
	if calls != 0 {
		t.Errorf("subscriber calls = %d, want 0 for no-op mutation", calls)
	}
}
