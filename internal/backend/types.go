// Package backend implements the HTTP client for the commerce platform's
// storefront endpoints: coupon verification and application, stock checks,
// shipping quotes, gift-rule evaluation, orders, and loyalty points. All
// request/response types here mirror the wire format; amounts arrive as
// strings in minor units and are converted at the boundary.
package backend

import (
	"storefront-engine/internal/model"
)

// === Coupon endpoints ===

// CouponItem is one cart line in a coupon-apply request. The full economic
// state travels with the request because discount rules (category
// exclusions, per-item caps, minimum spend) are evaluated server-side.
type CouponItem struct {
	ID           int    `json:"id"`
	Price        string `json:"price"`         // minor units
	RegularPrice string `json:"regular_price"` // minor units
	SalePrice    string `json:"sale_price,omitempty"`
	Quantity     int    `json:"quantity"`
	VariationID  int    `json:"variation_id,omitempty"`
	Categories   []int  `json:"categories,omitempty"`
}

type couponApplyRequest struct {
	Code      string       `json:"code"`
	Items     []CouponItem `json:"items"`
	UserEmail string       `json:"user_email,omitempty"`
}

type wireCoupon struct {
	Code               string   `json:"code"`
	DiscountType       string   `json:"discount_type"`
	Amount             string   `json:"amount"`
	MinimumAmount      string   `json:"minimum_amount,omitempty"`
	MaximumAmount      string   `json:"maximum_amount,omitempty"`
	ProductIDs         []int    `json:"product_ids,omitempty"`
	ExcludedProductIDs []int    `json:"excluded_product_ids,omitempty"`
	ProductCategories  []int    `json:"product_categories,omitempty"`
	ExcludedCategories []int    `json:"excluded_product_categories,omitempty"`
	UsageLimit         int      `json:"usage_limit,omitempty"`
	EmailRestrictions  []string `json:"email_restrictions,omitempty"`
}

type couponApplyResponse struct {
	Coupon   *wireCoupon `json:"coupon"`
	Discount string      `json:"discount"` // minor units
}

func (w *wireCoupon) toModel() *model.Coupon {
	if w == nil {
		return nil
	}
	return &model.Coupon{
		Code:               w.Code,
		DiscountType:       model.DiscountType(w.DiscountType),
		Amount:             w.Amount,
		MinimumAmount:      model.ParseMinorUnits(w.MinimumAmount),
		MaximumAmount:      model.ParseMinorUnits(w.MaximumAmount),
		ProductIDs:         w.ProductIDs,
		ExcludedProductIDs: w.ExcludedProductIDs,
		ProductCategories:  w.ProductCategories,
		ExcludedCategories: w.ExcludedCategories,
		UsageLimit:         w.UsageLimit,
		EmailRestrictions:  w.EmailRestrictions,
	}
}

// === Stock check ===

// StockItem identifies one non-gift cart line in a stock-check request.
type StockItem struct {
	ProductID   int `json:"product_id"`
	VariationID int `json:"variation_id,omitempty"`
	Quantity    int `json:"quantity"`
}

type stockCheckRequest struct {
	Items []StockItem `json:"items"`
}

type stockCheckResponse struct {
	Success     bool             `json:"success"`
	StockIssues []wireStockIssue `json:"stock_issues"`
}

type wireStockIssue struct {
	ID          int    `json:"id"`
	VariationID int    `json:"variation_id,omitempty"`
	Issue       string `json:"issue"`
	Available   int    `json:"available,omitempty"`
	Requested   int    `json:"requested,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (w wireStockIssue) toModel() model.StockIssue {
	return model.StockIssue{
		ProductID:   w.ID,
		VariationID: w.VariationID,
		Issue:       model.StockIssueKind(w.Issue),
		Available:   w.Available,
		Requested:   w.Requested,
		Message:     w.Message,
	}
}

// === Shipping methods ===

type shippingRequest struct {
	Address   model.Address `json:"address"`
	CartTotal string        `json:"cart_total"` // minor units
}

type shippingResponse struct {
	Methods []wireShippingMethod `json:"methods"`
}

type wireShippingMethod struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Cost         string `json:"cost"` // minor units
	FreeShipping bool   `json:"free_shipping,omitempty"`
}

func (w wireShippingMethod) toModel() model.ShippingMethod {
	return model.ShippingMethod{
		ID:           w.ID,
		Title:        w.Title,
		Description:  w.Description,
		Cost:         model.ParseMinorUnits(w.Cost),
		FreeShipping: w.FreeShipping,
	}
}

// === Gift rules ===

// GiftItem is one non-gift cart line in a gift-rule request.
type GiftItem struct {
	ProductID  int    `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Name       string `json:"name,omitempty"`
	Categories []int  `json:"categories,omitempty"`
}

type giftCheckRequest struct {
	Items     []GiftItem `json:"items"`
	CartTotal string     `json:"cart_total"` // minor units, excluding gifts
	UserID    int        `json:"user_id,omitempty"`
}

type giftCheckResponse struct {
	Success bool       `json:"success"`
	Gifts   []wireGift `json:"gifts"`
}

type wireGift struct {
	ProductID     int    `json:"product_id"`
	ProductName   string `json:"product_name,omitempty"`
	Quantity      int    `json:"quantity"`
	OriginalPrice string `json:"original_price"` // minor units
	RuleID        int    `json:"rule_id"`
	RuleName      string `json:"rule_name"`
}

func (w wireGift) toModel() model.GiftRule {
	qty := w.Quantity
	if qty < 1 {
		qty = 1
	}
	return model.GiftRule{
		ProductID:     w.ProductID,
		ProductName:   w.ProductName,
		Quantity:      qty,
		OriginalPrice: model.ParseMinorUnits(w.OriginalPrice),
		RuleID:        w.RuleID,
		RuleName:      w.RuleName,
	}
}

// === Orders ===

// OrderLine is one line item in an order payload. Prices are major-unit
// strings because the order endpoints predate the minor-unit storefront API.
type OrderLine struct {
	ProductID   int               `json:"product_id"`
	VariationID int               `json:"variation_id,omitempty"`
	Quantity    int               `json:"quantity"`
	Total       string            `json:"total"` // major units, e.g. "39.60"
	Meta        []model.MetaEntry `json:"meta_data,omitempty"`
}

// ShippingLine carries the chosen delivery option on an order payload.
type ShippingLine struct {
	MethodID    string `json:"method_id"`
	MethodTitle string `json:"method_title"`
	Total       string `json:"total"` // major units
}

// CouponLine records an applied coupon on an order payload.
type CouponLine struct {
	Code string `json:"code"`
}

// OrderRequest is the full order-creation payload.
type OrderRequest struct {
	PaymentMethod      string            `json:"payment_method"`
	PaymentMethodTitle string            `json:"payment_method_title,omitempty"`
	SetPaid            bool              `json:"set_paid"`
	Billing            model.Address     `json:"billing"`
	Shipping           model.Address     `json:"shipping"`
	LineItems          []OrderLine       `json:"line_items"`
	ShippingLines      []ShippingLine    `json:"shipping_lines,omitempty"`
	CouponLines        []CouponLine      `json:"coupon_lines,omitempty"`
	CustomerID         int               `json:"customer_id,omitempty"`
	CustomerNote       string            `json:"customer_note,omitempty"`
	Meta               []model.MetaEntry `json:"meta_data,omitempty"`
}

// OrderUpdate mutates an existing order, typically to mark it paid with the
// provider's transaction reference.
type OrderUpdate struct {
	Status        string `json:"status,omitempty"`
	SetPaid       bool   `json:"set_paid,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type wireOrder struct {
	ID       int    `json:"id"`
	Status   string `json:"status"`
	OrderKey string `json:"order_key,omitempty"`
	Total    string `json:"total"` // major units
}

func (w *wireOrder) toModel() *model.OrderRef {
	if w == nil {
		return nil
	}
	return &model.OrderRef{
		ID:     w.ID,
		Status: w.Status,
		Key:    w.OrderKey,
		Total:  model.ParseCents(w.Total),
	}
}

// === Loyalty points ===

type pointsResponse struct {
	Balance int `json:"balance"`
}

type pointsMutationRequest struct {
	Points      int    `json:"points"`
	Description string `json:"description"`
	OrderID     int    `json:"order_id,omitempty"`
}

type pointsMutationResponse struct {
	NewBalance int `json:"new_balance"`
}

// === Errors and status ===

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statusResponse struct {
	PluginVersion string `json:"plugin_version"`
}
