package pricing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront-engine/internal/backend"
	"storefront-engine/internal/cart"
	"storefront-engine/internal/model"
	"storefront-engine/internal/state"
)

func newTestStore(t *testing.T, sink model.NoticeSink) *cart.Store {
	t.Helper()
	s, err := cart.New(&state.MemStore{}, sink, nil)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func newTestEngine(t *testing.T, s *cart.Store, be backend.Commerce, onDrop func(error)) *Engine {
	t.Helper()
	e := New(s, be, Config{CouponWindow: 5 * time.Millisecond}, nil, onDrop)
	t.Cleanup(e.Close)
	return e
}

// tenPercent answers every coupon request with a 10% discount over the
// submitted items.
func tenPercent(calls *atomic.Int32) func(context.Context, string, []backend.CouponItem, string) (*model.Coupon, int64, error) {
	return func(_ context.Context, code string, items []backend.CouponItem, _ string) (*model.Coupon, int64, error) {
		if calls != nil {
			calls.Add(1)
		}
		var sum int64
		for _, it := range items {
			sum += model.ParseMinorUnits(it.Price) * int64(it.Quantity)
		}
		return &model.Coupon{Code: code, DiscountType: "percent", Amount: "10"}, sum / 10, nil
	}
}

func TestEffectiveUnitPrice(t *testing.T) {
	e := newTestEngine(t, newTestStore(t, nil), &backend.Mock{}, nil)

	tests := []struct {
		name string
		line model.CartLine
		want int64
	}{
		{
			name: "regular product uses current price",
			line: model.CartLine{Kind: model.LineRegular, Product: model.ProductRef{Price: 2500, RegularPrice: 3000}},
			want: 2500,
		},
		{
			name: "gift line is always zero",
			line: model.CartLine{Kind: model.LineGift, Gift: &model.GiftInfo{}, Product: model.ProductRef{Price: 2500}},
			want: 0,
		},
		{
			name: "deposit product with explicit percentage",
			line: model.CartLine{Kind: model.LineRegular, Product: model.ProductRef{
				Price: 2000, RegularPrice: 2000, DepositEnabled: true, DepositPercent: "0.25",
			}},
			want: 500,
		},
		{
			name: "deposit product falls back to default fraction",
			line: model.CartLine{Kind: model.LineRegular, Product: model.ProductRef{
				Price: 2000, RegularPrice: 2000, DepositEnabled: true, DepositPercent: "garbage",
			}},
			want: 800,
		},
		{
			name: "deposit uses regular price even when on sale",
			line: model.CartLine{Kind: model.LineRegular, Product: model.ProductRef{
				Price: 1500, RegularPrice: 2000, DepositEnabled: true, DepositPercent: "0.50",
			}},
			want: 1000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.EffectiveUnitPrice(tt.line); got != tt.want {
				t.Errorf("EffectiveUnitPrice() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCouponThenPoints(t *testing.T) {
	store := newTestStore(t, nil)
	mock := &backend.Mock{ApplyCouponFunc: tenPercent(nil)}
	e := newTestEngine(t, store, mock, nil)

	if err := store.Add(model.ProductRef{ID: 1, Name: "hamper", Price: 10000, RegularPrice: 10000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	got := e.CurrentTotals()
	want := Totals{Subtotal: 10000, CouponDiscount: 1000, Total: 9000}
	if got != want {
		t.Fatalf("after coupon: got %+v, want %+v", got, want)
	}

	if err := store.SetPointsBalance(1200); err != nil {
		t.Fatalf("SetPointsBalance: %v", err)
	}
	if err := store.SetPointsToRedeem(500); err != nil {
		t.Fatalf("SetPointsToRedeem: %v", err)
	}

	got = e.CurrentTotals()
	want = Totals{Subtotal: 10000, CouponDiscount: 1000, PointsDiscount: 500, Total: 8500}
	if got != want {
		t.Fatalf("after points: got %+v, want %+v", got, want)
	}
	if d := store.Snapshot().Points.Discount; d != 500 {
		t.Errorf("persisted points discount = %d, want 500", d)
	}
}

func TestPointsDiscountCappedAfterCoupon(t *testing.T) {
	store := newTestStore(t, nil)
	mock := &backend.Mock{ApplyCouponFunc: tenPercent(nil)}
	e := newTestEngine(t, store, mock, nil)

	if err := store.Add(model.ProductRef{ID: 1, Price: 1000, RegularPrice: 1000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if err := store.SetPointsBalance(100000); err != nil {
		t.Fatalf("SetPointsBalance: %v", err)
	}
	// 5000 points would be worth €50 against a €9 remainder.
	if err := store.SetPointsToRedeem(5000); err != nil {
		t.Fatalf("SetPointsToRedeem: %v", err)
	}

	got := e.CurrentTotals()
	if got.PointsDiscount != 900 {
		t.Errorf("points discount = %d, want capped 900", got.PointsDiscount)
	}
	if got.Total != 0 {
		t.Errorf("total = %d, want 0", got.Total)
	}
}

func TestGiftLinesContributeNothing(t *testing.T) {
	store := newTestStore(t, nil)
	e := newTestEngine(t, store, &backend.Mock{}, nil)

	if err := store.Add(model.ProductRef{ID: 1, Price: 4000, RegularPrice: 4000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	gift := model.CartLine{
		Kind:     model.LineGift,
		Product:  model.ProductRef{ID: 9, Name: "tote", Price: 0, RegularPrice: 1500},
		Quantity: 1,
		Gift:     &model.GiftInfo{RuleID: 3},
	}
	if err := store.ApplyGiftReconciliation([]model.CartLine{gift}, nil, nil); err != nil {
		t.Fatalf("ApplyGiftReconciliation: %v", err)
	}

	if got := e.CurrentTotals().Subtotal; got != 4000 {
		t.Errorf("subtotal = %d, want 4000", got)
	}
}

func TestCouponRecalculatedOnEconomicChange(t *testing.T) {
	store := newTestStore(t, nil)
	var calls atomic.Int32
	mock := &backend.Mock{ApplyCouponFunc: tenPercent(&calls)}
	e := newTestEngine(t, store, mock, nil)

	if err := store.Add(model.ProductRef{ID: 1, Price: 10000, RegularPrice: 10000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls after apply = %d, want 1", n)
	}

	// A second item changes the economic signature and schedules a
	// recomputation.
	if err := store.Add(model.ProductRef{ID: 2, Price: 5000, RegularPrice: 5000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Flush()

	if n := calls.Load(); n != 2 {
		t.Fatalf("calls after cart change = %d, want 2", n)
	}
	got := e.CurrentTotals()
	if got.CouponDiscount != 1500 {
		t.Errorf("recalculated discount = %d, want 1500", got.CouponDiscount)
	}
	if got.Total != 13500 {
		t.Errorf("total = %d, want 13500", got.Total)
	}
}

func TestNoRecalculationWithoutEconomicChange(t *testing.T) {
	store := newTestStore(t, nil)
	var calls atomic.Int32
	mock := &backend.Mock{ApplyCouponFunc: tenPercent(&calls)}
	e := newTestEngine(t, store, mock, nil)

	if err := store.Add(model.ProductRef{ID: 1, Price: 10000, RegularPrice: 10000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	// Points changes are economically irrelevant to the coupon.
	if err := store.SetPointsBalance(300); err != nil {
		t.Fatalf("SetPointsBalance: %v", err)
	}
	if err := store.SetPointsToRedeem(100); err != nil {
		t.Fatalf("SetPointsToRedeem: %v", err)
	}
	e.Flush()

	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (no recomputation for points change)", n)
	}
}

func TestCouponClearedWhenRecalculationRejects(t *testing.T) {
	var notices []model.Notice
	store := newTestStore(t, func(n model.Notice) { notices = append(notices, n) })

	accepted := false
	mock := &backend.Mock{
		ApplyCouponFunc: func(_ context.Context, code string, items []backend.CouponItem, _ string) (*model.Coupon, int64, error) {
			if !accepted {
				accepted = true
				return &model.Coupon{Code: code}, 2000, nil
			}
			return nil, 0, model.NewCouponError(code, "minimum spend not met")
		},
	}
	var dropped error
	e := newTestEngine(t, store, mock, func(err error) { dropped = err })

	if err := store.Add(model.ProductRef{ID: 1, Price: 10000, RegularPrice: 10000}, 2, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.ApplyCoupon(context.Background(), "BIGSPEND"); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	// Dropping below the threshold invalidates the coupon on recompute.
	if err := store.SetQuantity(1, 1, 0); err != nil {
		t.Fatalf("SetQuantity: %v", err)
	}
	e.Flush()

	snap := store.Snapshot()
	if snap.Coupon != nil {
		t.Fatalf("coupon still applied after rejection: %+v", snap.Coupon)
	}
	if snap.CouponDiscount != 0 {
		t.Errorf("coupon discount = %d, want 0", snap.CouponDiscount)
	}
	if !errors.Is(dropped, model.ErrCoupon) {
		t.Errorf("onCouponDrop error = %v, want ErrCoupon", dropped)
	}
	found := false
	for _, n := range notices {
		if n.Code == "coupon_removed" {
			found = true
		}
	}
	if !found {
		t.Errorf("no coupon_removed notice raised, got %+v", notices)
	}
}

func TestTransportFailureKeepsCoupon(t *testing.T) {
	store := newTestStore(t, nil)
	accepted := false
	mock := &backend.Mock{
		ApplyCouponFunc: func(_ context.Context, code string, _ []backend.CouponItem, _ string) (*model.Coupon, int64, error) {
			if !accepted {
				accepted = true
				return &model.Coupon{Code: code}, 1000, nil
			}
			return nil, 0, model.NewNetworkError("store", errors.New("connection refused"))
		},
	}
	e := newTestEngine(t, store, mock, nil)

	if err := store.Add(model.ProductRef{ID: 1, Price: 10000, RegularPrice: 10000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.ApplyCoupon(context.Background(), "SAVE10"); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if err := store.Add(model.ProductRef{ID: 2, Price: 2000, RegularPrice: 2000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Flush()

	snap := store.Snapshot()
	if snap.Coupon == nil {
		t.Fatal("coupon dropped on transport failure")
	}
	if snap.CouponDiscount != 1000 {
		t.Errorf("discount = %d, want previous 1000 kept", snap.CouponDiscount)
	}
}

func TestApplyCouponRejectionLeavesCartUntouched(t *testing.T) {
	store := newTestStore(t, nil)
	mock := &backend.Mock{} // default ApplyCoupon rejects
	e := newTestEngine(t, store, mock, nil)

	if err := store.Add(model.ProductRef{ID: 1, Price: 5000, RegularPrice: 5000}, 1, nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := e.ApplyCoupon(context.Background(), "NOPE")
	if !errors.Is(err, model.ErrCoupon) {
		t.Fatalf("ApplyCoupon error = %v, want ErrCoupon", err)
	}
	if snap := store.Snapshot(); snap.Coupon != nil || snap.CouponDiscount != 0 {
		t.Errorf("rejection mutated cart: %+v", snap)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if !cfg.DepositDefault.Equal(decimal.NewFromFloat(0.40)) {
		t.Errorf("deposit default = %s, want 0.4", cfg.DepositDefault)
	}
	if cfg.PointValue != 1 {
		t.Errorf("point value = %d, want 1", cfg.PointValue)
	}
	if cfg.CouponWindow != 800*time.Millisecond {
		t.Errorf("coupon window = %s, want 800ms", cfg.CouponWindow)
	}
}
