package checkout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront-engine/internal/backend"
	"storefront-engine/internal/debounce"
	"storefront-engine/internal/model"
)

// fallbackMethodID identifies the locally synthesized method used when the
// shipping endpoint is unreachable.
const fallbackMethodID = "flat_rate_fallback"

// ShippingConfig holds the shipping calculator parameters.
type ShippingConfig struct {
	// Window is the debounce window for address edits. Defaults to 500ms.
	Window time.Duration

	// FallbackCost is the flat rate charged when the shipping endpoint is
	// unreachable. Minor units.
	FallbackCost int64

	// FallbackTitle is the display name of the synthesized method.
	FallbackTitle string
}

func (c ShippingConfig) withDefaults() ShippingConfig {
	if c.Window <= 0 {
		c.Window = 500 * time.Millisecond
	}
	if c.FallbackTitle == "" {
		c.FallbackTitle = "Flat rate"
	}
	return c
}

// Shipping recomputes available shipping methods when the address settles.
// Address edits during typing collapse into a single backend call; a
// transport failure degrades to a locally synthesized flat-rate method so
// checkout never dead-ends on the shipping step.
type Shipping struct {
	backend backend.Commerce
	cfg     ShippingConfig
	logger  *slog.Logger

	// cartTotal supplies the current pre-shipping total for rate rules
	// (free-shipping thresholds).
	cartTotal func() int64

	deb *debounce.Debouncer

	mu       sync.Mutex
	addr     model.Address
	hasAddr  bool
	methods  []model.ShippingMethod
	selected string // method id

	// onUpdate is invoked with the fresh method list after every
	// recomputation. Optional.
	onUpdate func([]model.ShippingMethod)
}

// NewShipping creates the calculator. cartTotal must not be nil.
func NewShipping(be backend.Commerce, cfg ShippingConfig, cartTotal func() int64, onUpdate func([]model.ShippingMethod), logger *slog.Logger) *Shipping {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Shipping{
		backend:   be,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		cartTotal: cartTotal,
		onUpdate:  onUpdate,
	}
	s.deb = debounce.New(s.cfg.Window, s.recalculate)
	return s
}

// Close stops the calculator.
func (s *Shipping) Close() { s.deb.Close() }

// Flush forces a pending recomputation to run now.
func (s *Shipping) Flush() { s.deb.Flush() }

// SetAddress records the destination and schedules a recomputation.
func (s *Shipping) SetAddress(addr model.Address) {
	s.mu.Lock()
	s.addr = addr
	s.hasAddr = true
	s.mu.Unlock()
	s.deb.Trigger()
}

// Recalculate schedules a recomputation without an address change, for cart
// total changes that cross a free-shipping threshold.
func (s *Shipping) Recalculate() {
	s.mu.Lock()
	has := s.hasAddr
	s.mu.Unlock()
	if has {
		s.deb.Trigger()
	}
}

// Methods returns the last computed method list.
func (s *Shipping) Methods() []model.ShippingMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ShippingMethod, len(s.methods))
	copy(out, s.methods)
	return out
}

// Select picks a method by id for checkout.
func (s *Shipping) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.methods {
		if m.ID == id {
			s.selected = id
			return nil
		}
	}
	return model.NewValidationError("shipping method", "not available for this address")
}

// Selected returns the chosen method, or nil when none is selected.
func (s *Shipping) Selected() *model.ShippingMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.methods {
		if m.ID == s.selected {
			mm := m
			return &mm
		}
	}
	return nil
}

func (s *Shipping) recalculate(ctx context.Context) {
	s.mu.Lock()
	addr := s.addr
	has := s.hasAddr
	s.mu.Unlock()
	if !has {
		return
	}

	methods, err := s.backend.ShippingMethods(ctx, addr, s.cartTotal())
	if err != nil {
		s.logger.Warn("shipping method lookup failed, using local fallback", slog.Any("error", err))
		methods = []model.ShippingMethod{{
			ID:    fallbackMethodID,
			Title: s.cfg.FallbackTitle,
			Cost:  s.cfg.FallbackCost,
		}}
	}

	s.mu.Lock()
	s.methods = methods
	// A previously selected method that vanished falls back to the first
	// offered one rather than leaving checkout with a dangling selection.
	if s.selected != "" && !containsMethod(methods, s.selected) && len(methods) > 0 {
		s.selected = methods[0].ID
	}
	update := s.onUpdate
	s.mu.Unlock()

	if update != nil {
		update(methods)
	}
}

func containsMethod(methods []model.ShippingMethod, id string) bool {
	for _, m := range methods {
		if m.ID == id {
			return true
		}
	}
	return false
}
