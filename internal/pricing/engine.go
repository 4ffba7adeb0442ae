// Package pricing derives the authoritative cart totals: deposit-aware
// effective line prices, subtotal, the server-computed coupon discount, and
// the local loyalty-point discount. The engine subscribes to the cart store
// and keeps the persisted discounts current; the coupon discount is
// recomputed remotely, debounced, and guarded by an economic signature so
// unrelated state changes never cause redundant network calls.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront-engine/internal/backend"
	"storefront-engine/internal/cart"
	"storefront-engine/internal/debounce"
	"storefront-engine/internal/model"
	"storefront-engine/internal/state"
)

// Config holds pricing parameters. The deposit default and point value are
// engine configuration so a backend-driven override can be wired later
// without touching call sites.
type Config struct {
	// DepositDefault is the deposit fraction used when a deposit product
	// carries no usable percentage metadata. Defaults to 0.40.
	DepositDefault decimal.Decimal

	// PointValue is the monetary value of one loyalty point in minor units.
	// Defaults to 1 (€0.01).
	PointValue int64

	// CouponWindow is the debounce window for remote coupon recomputation.
	// Defaults to 800ms.
	CouponWindow time.Duration

	// UserEmail travels with coupon-apply requests for email-restricted
	// coupons. Optional.
	UserEmail string
}

func (c Config) withDefaults() Config {
	if c.DepositDefault.Sign() <= 0 {
		c.DepositDefault = decimal.NewFromFloat(0.40)
	}
	if c.PointValue <= 0 {
		c.PointValue = 1
	}
	if c.CouponWindow <= 0 {
		c.CouponWindow = 800 * time.Millisecond
	}
	return c
}

// Totals is the pricing engine's single authoritative output.
type Totals struct {
	Subtotal       int64 `json:"subtotal"`
	CouponDiscount int64 `json:"coupon_discount"`
	PointsDiscount int64 `json:"points_discount"`
	Total          int64 `json:"total"`
}

// Engine watches the cart store and maintains discounts.
type Engine struct {
	store   *cart.Store
	backend backend.Commerce
	cfg     Config
	logger  *slog.Logger

	deb *debounce.Debouncer

	mu      sync.Mutex
	lastSig string

	// onCouponDrop surfaces an implicit coupon invalidation. Never nil.
	onCouponDrop func(error)
}

// New creates the engine and subscribes it to the store. onCouponDrop may be
// nil; drops are then only logged.
func New(store *cart.Store, be backend.Commerce, cfg Config, logger *slog.Logger, onCouponDrop func(error)) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if onCouponDrop == nil {
		onCouponDrop = func(error) {}
	}
	e := &Engine{
		store:        store,
		backend:      be,
		cfg:          cfg.withDefaults(),
		logger:       logger,
		onCouponDrop: onCouponDrop,
	}
	e.deb = debounce.New(e.cfg.CouponWindow, e.recalculateCoupon)
	store.Subscribe(e.onSnapshot)
	return e
}

// Close stops the engine's debounced recomputation.
func (e *Engine) Close() { e.deb.Close() }

// Flush forces any pending coupon recomputation to run now. Used at checkout
// intent so the order is priced against settled state.
func (e *Engine) Flush() { e.deb.Flush() }

// EffectiveUnitPrice returns the price a line actually contributes per unit.
// Gift lines are always 0 regardless of original price. Deposit products
// contribute regularPrice × depositPercentage.
func (e *Engine) EffectiveUnitPrice(line model.CartLine) int64 {
	if line.IsGift() {
		return 0
	}
	if line.Product.DepositEnabled {
		fraction := model.DepositFraction(line.Product.DepositPercent, e.cfg.DepositDefault)
		return model.ApplyFraction(line.Product.RegularPrice, fraction)
	}
	return line.Product.Price
}

// Subtotal sums effective line prices over the whole cart. Gift lines
// contribute 0 by construction.
func (e *Engine) Subtotal(snap state.Snapshot) int64 {
	var sum int64
	for _, line := range snap.Lines {
		sum += e.EffectiveUnitPrice(line) * int64(line.Quantity)
	}
	return sum
}

// Totals computes the current authoritative totals from a snapshot.
// total = max(0, subtotal − couponDiscount − pointsDiscount), always ≥ 0.
func (e *Engine) Totals(snap state.Snapshot) Totals {
	subtotal := e.Subtotal(snap)
	coupon := snap.CouponDiscount
	if coupon > subtotal {
		coupon = subtotal
	}
	points := pointsDiscount(snap.Points.ToRedeem, e.cfg.PointValue, subtotal, coupon)
	total := subtotal - coupon - points
	if total < 0 {
		total = 0
	}
	return Totals{
		Subtotal:       subtotal,
		CouponDiscount: coupon,
		PointsDiscount: points,
		Total:          total,
	}
}

// CurrentTotals is Totals over the live store snapshot.
func (e *Engine) CurrentTotals() Totals {
	return e.Totals(e.store.Snapshot())
}

// ApplyCoupon verifies and applies a coupon against the current cart. The
// discount amount is server-computed; on success both coupon and discount
// are committed to the store.
func (e *Engine) ApplyCoupon(ctx context.Context, code string) error {
	snap := e.store.Snapshot()
	coupon, discount, err := e.backend.ApplyCoupon(ctx, code, e.couponItems(snap), e.cfg.UserEmail)
	if err != nil {
		return err
	}
	subtotal := e.Subtotal(snap)
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	e.mu.Lock()
	e.lastSig = signature(snap.Lines, e.EffectiveUnitPrice)
	e.mu.Unlock()
	return e.store.SetCoupon(*coupon, discount)
}

// RemoveCoupon drops the active coupon on user request.
func (e *Engine) RemoveCoupon() error {
	return e.store.ClearCoupon("")
}

// onSnapshot runs synchronously after every committed store mutation.
func (e *Engine) onSnapshot(snap state.Snapshot) {
	// Points discount is local arithmetic: recompute immediately whenever
	// toRedeem or the subtotal changes.
	subtotal := e.Subtotal(snap)
	coupon := snap.CouponDiscount
	if coupon > subtotal {
		coupon = subtotal
	}
	points := pointsDiscount(snap.Points.ToRedeem, e.cfg.PointValue, subtotal, coupon)
	if points != snap.Points.Discount {
		if err := e.store.SetPointsDiscount(points); err != nil {
			e.logger.Error("updating points discount", slog.Any("error", err))
		}
		return // the follow-up notification re-enters with settled state
	}

	// Coupon recomputation is remote and only worth doing when the
	// economically relevant signature changed.
	if snap.Coupon == nil {
		return
	}
	sig := signature(snap.Lines, e.EffectiveUnitPrice)
	e.mu.Lock()
	changed := sig != e.lastSig
	e.mu.Unlock()
	if changed {
		e.deb.Trigger()
	}
}

// recalculateCoupon re-submits the cart to the coupon endpoint. Runs on the
// debouncer: at most one in-flight recomputation, newest signature wins.
func (e *Engine) recalculateCoupon(ctx context.Context) {
	snap := e.store.Snapshot()
	if snap.Coupon == nil {
		return
	}
	sig := signature(snap.Lines, e.EffectiveUnitPrice)

	coupon, discount, err := e.backend.ApplyCoupon(ctx, snap.Coupon.Code, e.couponItems(snap), e.cfg.UserEmail)
	if err != nil {
		if errors.Is(err, model.ErrCoupon) || errors.Is(err, model.ErrValidation) {
			// The store rejected the coupon against the new cart state:
			// implicit invalidation, never left ambiguously applied.
			reason := model.UserMessage(err)
			e.logger.Info("coupon invalidated on recalculation",
				slog.String("code", snap.Coupon.Code), slog.String("reason", reason))
			if cerr := e.store.ClearCoupon(reason); cerr != nil {
				e.logger.Error("clearing invalidated coupon", slog.Any("error", cerr))
			}
			e.mu.Lock()
			e.lastSig = sig
			e.mu.Unlock()
			e.onCouponDrop(err)
			return
		}
		// Transient transport failure: keep the existing discount, a later
		// cart change will retry.
		e.logger.Warn("coupon recalculation failed", slog.Any("error", err))
		return
	}

	subtotal := e.Subtotal(snap)
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}

	e.mu.Lock()
	e.lastSig = sig
	e.mu.Unlock()

	if err := e.store.SetCoupon(*coupon, discount); err != nil {
		e.logger.Error("committing recalculated discount", slog.Any("error", err))
	}
}

// couponItems converts non-gift lines to the wire format the coupon endpoint
// evaluates. Effective (deposit-aware) prices travel as the unit price.
func (e *Engine) couponItems(snap state.Snapshot) []backend.CouponItem {
	var items []backend.CouponItem
	for _, line := range snap.Lines {
		if line.IsGift() {
			continue
		}
		items = append(items, backend.CouponItem{
			ID:           line.Product.ID,
			Price:        fmt.Sprintf("%d", e.EffectiveUnitPrice(line)),
			RegularPrice: fmt.Sprintf("%d", line.Product.RegularPrice),
			SalePrice:    fmt.Sprintf("%d", line.Product.SalePrice),
			Quantity:     line.Quantity,
			VariationID:  line.Product.VariationID,
			Categories:   line.Product.Categories,
		})
	}
	return items
}

// pointsDiscount computes the loyalty discount per the points invariant:
// min(toRedeem × pointValue, max(0, subtotal − couponDiscount)). Redemption
// is capped after the coupon so the total can never go negative.
func pointsDiscount(toRedeem int, pointValue, subtotal, couponDiscount int64) int64 {
	if toRedeem <= 0 {
		return 0
	}
	cap := subtotal - couponDiscount
	if cap < 0 {
		cap = 0
	}
	d := int64(toRedeem) * pointValue
	if d > cap {
		return cap
	}
	return d
}

// signature is the sorted tuple of (productId, variationId, quantity,
// effective price) over non-gift lines. Coupon recomputation fires only when
// this changes; gift lines are excluded because they are derived from the
// very cart changes that already fired.
func signature(lines []model.CartLine, price func(model.CartLine) int64) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.IsGift() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d:%d:%d:%d",
			line.Product.ID, line.Product.VariationID, line.Quantity, price(line)))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
