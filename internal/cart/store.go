// Package cart implements the owned cart store: regular and system-managed
// gift lines, the active coupon, loyalty-point state, and the removed-gift
// set, with explicit mutation operations and subscriber notification. Every
// mutation persists the full snapshot before subscribers are notified.
package cart

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront-engine/internal/model"
	"storefront-engine/internal/state"
)

// noticeTTL is how long advisory notices stay visible before the UI may
// auto-dismiss them.
const noticeTTL = 6 * time.Second

// Subscriber receives a snapshot clone after every committed mutation.
// Callbacks run synchronously on the mutating goroutine; long work belongs
// behind a debouncer.
type Subscriber func(state.Snapshot)

// Store owns the persisted cart state. All access goes through its methods;
// the snapshot handed out is always a clone.
type Store struct {
	mu      sync.Mutex
	snap    state.Snapshot
	persist state.Persister
	subs    []Subscriber
	notify  model.NoticeSink
	logger  *slog.Logger
}

// New creates a Store backed by p, restoring any persisted snapshot.
// notify may be nil, in which case advisories are only logged.
func New(p state.Persister, notify model.NoticeSink, logger *slog.Logger) (*Store, error) {
	snap, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("restoring cart state: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		snap:    snap,
		persist: p,
		notify:  notify,
		logger:  logger,
	}, nil
}

// Subscribe registers a callback for committed mutations.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Snapshot returns a clone of the current state.
func (s *Store) Snapshot() state.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Add inserts a line or merges quantity into an existing line with the same
// (productID, variationID) key. For stock-managed products the merged
// quantity must not exceed the stock quantity; violations leave the cart
// unchanged and return a stock error with a human-readable reason.
func (s *Store) Add(product model.ProductRef, qty int, attrs []model.Attribute, meta []model.MetaEntry) error {
	if qty < 1 {
		return model.NewValidationError("quantity", "must be at least 1")
	}

	return s.mutate(func(snap *state.Snapshot) error {
		key := model.LineKey{ProductID: product.ID, VariationID: product.VariationID}
		idx := findLine(snap.Lines, key, model.LineRegular)

		merged := qty
		if idx >= 0 {
			merged += snap.Lines[idx].Quantity
		}
		if product.ManageStock && product.StockQuantity != nil && merged > *product.StockQuantity {
			return model.NewStockError(fmt.Sprintf(
				"only %d of %q available, you requested %d",
				*product.StockQuantity, product.Name, merged))
		}

		if idx >= 0 {
			snap.Lines[idx].Quantity = merged
			return nil
		}
		snap.Lines = append(snap.Lines, model.CartLine{
			Kind:       model.LineRegular,
			Product:    product,
			Quantity:   qty,
			Attributes: attrs,
			Meta:       meta,
		})
		return nil
	})
}

// Remove deletes the regular line with the given key. Removing an absent
// line is a no-op.
func (s *Store) Remove(productID, variationID int) error {
	return s.mutate(func(snap *state.Snapshot) error {
		key := model.LineKey{ProductID: productID, VariationID: variationID}
		idx := findLine(snap.Lines, key, model.LineRegular)
		if idx < 0 {
			return errNoChange
		}
		snap.Lines = append(snap.Lines[:idx], snap.Lines[idx+1:]...)
		return nil
	})
}

// SetQuantity updates a regular line's quantity. A value ≤ 0 removes the
// line. Gift lines silently ignore quantity changes. Stock-managed lines are
// clamped to the available quantity, raising a transient advisory when
// clamping occurs.
func (s *Store) SetQuantity(productID, qty, variationID int) error {
	if qty <= 0 {
		return s.Remove(productID, variationID)
	}

	return s.mutate(func(snap *state.Snapshot) error {
		key := model.LineKey{ProductID: productID, VariationID: variationID}
		if gidx := findLine(snap.Lines, model.LineKey{ProductID: productID}, model.LineGift); gidx >= 0 && findLine(snap.Lines, key, model.LineRegular) < 0 {
			// Quantity of a gift line is fixed by its rule. No-op, not an error.
			return errNoChange
		}
		idx := findLine(snap.Lines, key, model.LineRegular)
		if idx < 0 {
			return model.NewNotFoundError("cart line")
		}

		line := &snap.Lines[idx]
		applied := qty
		if line.Product.ManageStock && line.Product.StockQuantity != nil && qty > *line.Product.StockQuantity {
			applied = *line.Product.StockQuantity
			s.raise("stock_clamped", fmt.Sprintf(
				"only %d of %q available, quantity adjusted", applied, line.Product.Name))
		}
		if line.Quantity == applied {
			return errNoChange
		}
		line.Quantity = applied
		return nil
	})
}

// SetPrice updates a regular line's current unit price (minor units). Used
// when server recalculation reports a fresher price.
func (s *Store) SetPrice(productID int, price int64, variationID int) error {
	return s.mutate(func(snap *state.Snapshot) error {
		key := model.LineKey{ProductID: productID, VariationID: variationID}
		idx := findLine(snap.Lines, key, model.LineRegular)
		if idx < 0 {
			return model.NewNotFoundError("cart line")
		}
		if snap.Lines[idx].Product.Price == price {
			return errNoChange
		}
		snap.Lines[idx].Product.Price = price
		return nil
	})
}

// Clear empties the cart and resets coupon, points, and gift state together.
// Clearing only a subset would leave an inconsistent cart/discount/gift
// combination, so this is the only reset operation offered.
func (s *Store) Clear() error {
	return s.mutate(func(snap *state.Snapshot) error {
		*snap = state.Snapshot{}
		return nil
	})
}

// === Coupon state ===

// SetCoupon records a verified coupon and its server-computed discount.
func (s *Store) SetCoupon(c model.Coupon, discount int64) error {
	return s.mutate(func(snap *state.Snapshot) error {
		cc := c
		snap.Coupon = &cc
		snap.CouponDiscount = clampDiscount(discount, subtotal(snap.Lines))
		return nil
	})
}

// SetCouponDiscount updates the discount for the already-active coupon,
// keeping the ≥0 and ≤subtotal invariant.
func (s *Store) SetCouponDiscount(discount int64) error {
	return s.mutate(func(snap *state.Snapshot) error {
		if snap.Coupon == nil {
			return errNoChange
		}
		snap.CouponDiscount = clampDiscount(discount, subtotal(snap.Lines))
		return nil
	})
}

// ClearCoupon drops the active coupon and its discount. reason, when
// non-empty, is surfaced as an advisory so an implicit invalidation is never
// silent.
func (s *Store) ClearCoupon(reason string) error {
	return s.mutate(func(snap *state.Snapshot) error {
		if snap.Coupon == nil && snap.CouponDiscount == 0 {
			return errNoChange
		}
		snap.Coupon = nil
		snap.CouponDiscount = 0
		if reason != "" {
			s.raise("coupon_removed", reason)
		}
		return nil
	})
}

// === Loyalty points ===

// SetPointsBalance records the server-reported balance, re-clamping ToRedeem.
func (s *Store) SetPointsBalance(balance int) error {
	return s.mutate(func(snap *state.Snapshot) error {
		if balance < 0 {
			balance = 0
		}
		snap.Points.Balance = balance
		if snap.Points.ToRedeem > balance {
			snap.Points.ToRedeem = balance
		}
		return nil
	})
}

// SetPointsToRedeem stages points for redemption, clamped to [0, balance].
// The monetary discount is recomputed by the pricing engine.
func (s *Store) SetPointsToRedeem(points int) error {
	return s.mutate(func(snap *state.Snapshot) error {
		if points < 0 {
			points = 0
		}
		if points > snap.Points.Balance {
			points = snap.Points.Balance
		}
		if snap.Points.ToRedeem == points {
			return errNoChange
		}
		snap.Points.ToRedeem = points
		return nil
	})
}

// SetPointsDiscount records the computed points discount (minor units).
func (s *Store) SetPointsDiscount(discount int64) error {
	return s.mutate(func(snap *state.Snapshot) error {
		if discount < 0 {
			discount = 0
		}
		if snap.Points.Discount == discount {
			return errNoChange
		}
		snap.Points.Discount = discount
		return nil
	})
}

// === Gift lines ===

// ApplyGiftReconciliation commits the gift evaluator's decision: lines to
// add, keys to drop, and quantity corrections, as one mutation.
func (s *Store) ApplyGiftReconciliation(add []model.CartLine, removeIDs []int, setQty map[int]int) error {
	return s.mutate(func(snap *state.Snapshot) error {
		changed := false
		for _, id := range removeIDs {
			if idx := findLine(snap.Lines, model.LineKey{ProductID: id}, model.LineGift); idx >= 0 {
				snap.Lines = append(snap.Lines[:idx], snap.Lines[idx+1:]...)
				changed = true
			}
		}
		for id, qty := range setQty {
			if idx := findLine(snap.Lines, model.LineKey{ProductID: id}, model.LineGift); idx >= 0 && snap.Lines[idx].Quantity != qty {
				snap.Lines[idx].Quantity = qty
				changed = true
			}
		}
		for _, line := range add {
			if line.Kind != model.LineGift || line.Gift == nil {
				return model.NewValidationError("gift line", "missing gift tag")
			}
			if findLine(snap.Lines, model.LineKey{ProductID: line.Product.ID}, model.LineGift) >= 0 {
				continue
			}
			snap.Lines = append(snap.Lines, line)
			changed = true
		}
		if !changed {
			return errNoChange
		}
		return nil
	})
}

// RemoveGift is the user-initiated removal of a gift line. The product id
// joins the removed set so the evaluator does not re-add it until restored
// or the cart is cleared.
func (s *Store) RemoveGift(productID int) error {
	return s.mutate(func(snap *state.Snapshot) error {
		idx := findLine(snap.Lines, model.LineKey{ProductID: productID}, model.LineGift)
		if idx < 0 {
			return model.NewNotFoundError("gift line")
		}
		snap.Lines = append(snap.Lines[:idx], snap.Lines[idx+1:]...)
		for _, id := range snap.RemovedGiftIDs {
			if id == productID {
				return nil
			}
		}
		snap.RemovedGiftIDs = append(snap.RemovedGiftIDs, productID)
		return nil
	})
}

// RestoreGift clears a product id from the removed set so the evaluator may
// re-add its gift line on the next evaluation.
func (s *Store) RestoreGift(productID int) error {
	return s.mutate(func(snap *state.Snapshot) error {
		for i, id := range snap.RemovedGiftIDs {
			if id == productID {
				snap.RemovedGiftIDs = append(snap.RemovedGiftIDs[:i], snap.RemovedGiftIDs[i+1:]...)
				return nil
			}
		}
		return errNoChange
	})
}

// === internals ===

// errNoChange signals that a mutation applied cleanly but changed nothing,
// so persistence and notification are skipped. Never returned to callers.
var errNoChange = fmt.Errorf("no change")

// mutate applies fn under the lock, persists on change, and notifies
// subscribers with a clone outside the lock.
func (s *Store) mutate(fn func(*state.Snapshot) error) error {
	s.mu.Lock()
	if err := fn(&s.snap); err != nil {
		s.mu.Unlock()
		if err == errNoChange {
			return nil
		}
		return err
	}
	if err := s.persist.Save(s.snap); err != nil {
		// The in-memory state stays authoritative for this session; losing a
		// write means a reload falls back to the previous snapshot.
		s.logger.Error("persisting cart snapshot", slog.Any("error", err))
	}
	snap := s.snap.Clone()
	subs := append([]Subscriber(nil), s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

func (s *Store) raise(code, msg string) {
	s.logger.Info("advisory", slog.String("code", code), slog.String("message", msg))
	if s.notify != nil {
		s.notify(model.Notice{
			Code:      code,
			Message:   msg,
			ExpiresAt: time.Now().Add(noticeTTL),
		})
	}
}

func findLine(lines []model.CartLine, key model.LineKey, kind model.LineKind) int {
	for i, l := range lines {
		if l.Kind == kind && l.Key() == key {
			return i
		}
	}
	return -1
}

func subtotal(lines []model.CartLine) int64 {
	var sum int64
	for _, l := range lines {
		if l.IsGift() {
			continue
		}
		sum += l.Product.Price * int64(l.Quantity)
	}
	return sum
}

func clampDiscount(d, subtotal int64) int64 {
	if d < 0 {
		return 0
	}
	if d > subtotal {
		return subtotal
	}
	return d
}
