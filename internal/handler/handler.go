// Package handler exposes the storefront engine to agents: an MCP tool
// surface over the cart, pricing, gift, shipping, and checkout components,
// plus plain HTTP health endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"storefront-engine/internal/backend"
	"storefront-engine/internal/cart"
	"storefront-engine/internal/checkout"
	"storefront-engine/internal/gifts"
	"storefront-engine/internal/model"
	"storefront-engine/internal/payment"
	"storefront-engine/internal/pricing"
)

// Config holds handler configuration.
type Config struct {
	// CustomerID is the logged-in customer for loyalty-point lookups.
	// Zero means guest.
	CustomerID int
	// CurrencySymbol prefixes formatted totals. Defaults to "€".
	CurrencySymbol string
}

// Handler holds the engine components the tool surface drives.
type Handler struct {
	store    *cart.Store
	backend  backend.Commerce
	pricing  *pricing.Engine
	gifts    *gifts.Evaluator
	shipping *checkout.Shipping
	orch     *checkout.Orchestrator
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	billing  model.Address
	shipAddr model.Address
	hasShip  bool
	notices  []model.Notice
	attempts map[string]*checkout.Attempt
}

// Deps bundles the engine components New wires into the handler.
type Deps struct {
	Store        *cart.Store
	Backend      backend.Commerce
	Pricing      *pricing.Engine
	Gifts        *gifts.Evaluator
	Shipping     *checkout.Shipping
	Orchestrator *checkout.Orchestrator
}

// New creates a Handler over the given engine components.
func New(deps Deps, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CurrencySymbol == "" {
		cfg.CurrencySymbol = "€"
	}
	return &Handler{
		store:    deps.Store,
		backend:  deps.Backend,
		pricing:  deps.Pricing,
		gifts:    deps.Gifts,
		shipping: deps.Shipping,
		orch:     deps.Orchestrator,
		cfg:      cfg,
		logger:   logger,
		attempts: make(map[string]*checkout.Attempt),
	}
}

// NoticeSink returns a sink that buffers advisory notices (stock clamps,
// coupon drops) until the next cart view drains them. Wire it into the cart
// store at startup.
func (h *Handler) NoticeSink() model.NoticeSink {
	return func(n model.Notice) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.notices = append(h.notices, n)
		if len(h.notices) > 32 {
			h.notices = h.notices[len(h.notices)-32:]
		}
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.withDeviceClass(h.NewMCPHandler()))

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// === Device-class plumbing ===
// The card payment path branches on browser capability. Classification
// happens once per HTTP request from the client-hint headers and rides the
// context into the tool handlers.

type ctxKey int

const deviceClassKey ctxKey = 0

func (h *Handler) withDeviceClass(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), deviceClassKey, payment.Classify(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func deviceClassFrom(ctx context.Context) payment.Class {
	if c, ok := ctx.Value(deviceClassKey).(payment.Class); ok {
		return c
	}
	return payment.ClassStandard
}

// === Checkout attempt registry ===
// Multi-step payment flows (PayPal approval, card step-up, async return)
// span several tool calls; attempts are kept by ID between them.

func (h *Handler) rememberAttempt(a *checkout.Attempt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts[a.ID] = a
}

func (h *Handler) attempt(id string) (*checkout.Attempt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.attempts[id]
	if !ok {
		return nil, model.NewNotFoundError("checkout attempt")
	}
	return a, nil
}

// toolError converts engine errors to MCP-friendly errors. EngineErrors
// surface their code and user-facing message; anything else is logged and
// collapsed so raw causes never leak to the agent.
func (h *Handler) toolError(err error) error {
	var ee *model.EngineError
	if errors.As(err, &ee) {
		return fmt.Errorf("%s: %s", ee.Code, ee.Message)
	}
	h.logger.Error("tool call failed", slog.String("error", err.Error()))
	return errors.New("internal error")
}

// === Views ===

// CartView is the tool-facing rendering of the cart: lines priced by the
// pricing engine, settled totals, shipping options, and any buffered notices.
type CartView struct {
	Lines            []LineView             `json:"lines"`
	Coupon           *model.Coupon          `json:"coupon,omitempty"`
	Points           model.PointsState      `json:"points"`
	Totals           pricing.Totals         `json:"totals"`
	FormattedTotal   string                 `json:"formatted_total"`
	ShippingMethods  []model.ShippingMethod `json:"shipping_methods,omitempty"`
	SelectedShipping string                 `json:"selected_shipping,omitempty"`
	Notices          []model.Notice         `json:"notices,omitempty"`
}

// LineView is one cart line with its effective unit price.
type LineView struct {
	ProductID   int    `json:"product_id"`
	VariationID int    `json:"variation_id,omitempty"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
	Gift        bool   `json:"gift,omitempty"`
	GiftRule    string `json:"gift_rule,omitempty"`
}

// cartView flushes pending debounced work and renders the settled cart.
func (h *Handler) cartView() *CartView {
	h.pricing.Flush()
	h.gifts.Flush()
	h.shipping.Flush()

	snap := h.store.Snapshot()
	v := &CartView{
		Coupon:          snap.Coupon,
		Points:          snap.Points,
		Totals:          h.pricing.Totals(snap),
		Lines:           make([]LineView, 0, len(snap.Lines)),
		Notices:         h.drainNotices(),
		ShippingMethods: h.shipping.Methods(),
	}
	v.FormattedTotal = model.FormatPrice(v.Totals.Total, h.cfg.CurrencySymbol)
	if sel := h.shipping.Selected(); sel != nil {
		v.SelectedShipping = sel.ID
	}
	for _, l := range snap.Lines {
		unit := h.pricing.EffectiveUnitPrice(l)
		lv := LineView{
			ProductID:   l.Product.ID,
			VariationID: l.Product.VariationID,
			Name:        l.Product.Name,
			Quantity:    l.Quantity,
			UnitPrice:   unit,
			LineTotal:   unit * int64(l.Quantity),
			Gift:        l.IsGift(),
		}
		if l.Gift != nil {
			lv.GiftRule = l.Gift.RuleName
		}
		v.Lines = append(v.Lines, lv)
	}
	return v
}

func (h *Handler) drainNotices() []model.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.notices
	h.notices = nil
	return n
}

// CheckoutView is the tool-facing rendering of a checkout attempt.
type CheckoutView struct {
	AttemptID      string             `json:"attempt_id"`
	State          string             `json:"state"`
	Total          int64              `json:"total,omitempty"`
	OrderID        int                `json:"order_id,omitempty"`
	OrderStatus    string             `json:"order_status,omitempty"`
	ApprovalURL    string             `json:"approval_url,omitempty"`
	RequiresAction bool               `json:"requires_action,omitempty"`
	ChallengeData  string             `json:"challenge_data,omitempty"`
	StockIssues    []model.StockIssue `json:"stock_issues,omitempty"`
}

func (h *Handler) attemptView(a *checkout.Attempt, sess *payment.Session, res *payment.Result) *CheckoutView {
	v := &CheckoutView{
		AttemptID:   a.ID,
		State:       string(a.State()),
		Total:       a.GrandTotal(),
		StockIssues: a.StockIssues(),
	}
	if order := a.Order(); order != nil {
		v.OrderID = order.ID
		v.OrderStatus = order.Status
	}
	if sess != nil {
		v.ApprovalURL = sess.ApprovalURL
	}
	if res != nil && res.Status == payment.StatusRequiresAction {
		v.RequiresAction = true
		v.ChallengeData = res.ChallengeData
	}
	return v
}
