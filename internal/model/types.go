// Package model defines the domain types shared by the cart, pricing, gift,
// stock, and checkout components, along with money helpers and the error
// taxonomy. All monetary amounts are int64 minor units (cents) unless a field
// says otherwise.
package model

import "time"

// LineKind discriminates regular cart lines from system-owned gift lines.
// Gift lines are created and destroyed only by the gift evaluator; their
// quantity is fixed by the rule that produced them.
type LineKind string

const (
	LineRegular LineKind = "regular"
	LineGift    LineKind = "gift"
)

// ProductRef carries the product fields the pricing engine reads.
// Catalog browsing owns the full product document; this is the slice of it
// that travels with a cart line.
type ProductRef struct {
	ID           int    `json:"id"`
	VariationID  int    `json:"variation_id,omitempty"`
	Name         string `json:"name"`
	SKU          string `json:"sku,omitempty"`
	Price        int64  `json:"price"`         // current unit price, minor units
	RegularPrice int64  `json:"regular_price"` // minor units
	SalePrice    int64  `json:"sale_price,omitempty"`
	Categories   []int  `json:"categories,omitempty"`

	// Stock management. StockQuantity is nil when the product does not
	// declare a numeric stock quantity.
	ManageStock   bool `json:"manage_stock,omitempty"`
	StockQuantity *int `json:"stock_quantity,omitempty"`

	// Deposit pricing. When DepositEnabled, the effective cart price is
	// RegularPrice × DepositPercent. DepositPercent is a fraction read from
	// product metadata ("0.40" = 40%); zero or negative means "use default".
	DepositEnabled bool   `json:"deposit_enabled,omitempty"`
	DepositPercent string `json:"deposit_percent,omitempty"`
}

// Attribute is a selected product attribute on a cart line (e.g. size: XL).
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MetaEntry is an opaque key/value carried on a cart line and forwarded to
// the backend on order creation.
type MetaEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GiftInfo records the server rule that produced a gift line.
type GiftInfo struct {
	RuleID        int    `json:"rule_id"`
	RuleName      string `json:"rule_name"`
	OriginalPrice int64  `json:"original_price"` // minor units, informational only
}

// CartLine is one entry in the cart. Uniqueness key is (Product.ID,
// Product.VariationID) for regular lines and Product.ID alone for gift lines.
// Gift is non-nil exactly when Kind == LineGift.
type CartLine struct {
	Kind       LineKind    `json:"kind"`
	Product    ProductRef  `json:"product"`
	Quantity   int         `json:"quantity"`
	Attributes []Attribute `json:"attributes,omitempty"`
	Meta       []MetaEntry `json:"meta,omitempty"`
	Gift       *GiftInfo   `json:"gift,omitempty"`
}

// IsGift reports whether the line is system-owned.
func (l CartLine) IsGift() bool { return l.Kind == LineGift }

// Key returns the line's uniqueness key within the cart.
func (l CartLine) Key() LineKey {
	if l.IsGift() {
		return LineKey{ProductID: l.Product.ID}
	}
	return LineKey{ProductID: l.Product.ID, VariationID: l.Product.VariationID}
}

// LineKey identifies a cart line.
type LineKey struct {
	ProductID   int
	VariationID int
}

// DiscountType enumerates the coupon discount modes the backend computes.
type DiscountType string

const (
	DiscountPercent      DiscountType = "percent"
	DiscountFixedCart    DiscountType = "fixed_cart"
	DiscountFixedProduct DiscountType = "fixed_product"
)

// Coupon is a verified coupon plus the constraints the backend reported.
// The discount amount itself is always server-computed; the constraint fields
// exist so the UI can explain a rejection, not so the client can re-derive
// eligibility.
type Coupon struct {
	Code         string       `json:"code"`
	DiscountType DiscountType `json:"discount_type"`
	Amount       string       `json:"amount"` // "10.00" percent or fixed amount, as reported

	MinimumAmount      int64    `json:"minimum_amount,omitempty"` // minor units
	MaximumAmount      int64    `json:"maximum_amount,omitempty"`
	ProductIDs         []int    `json:"product_ids,omitempty"`
	ExcludedProductIDs []int    `json:"excluded_product_ids,omitempty"`
	ProductCategories  []int    `json:"product_categories,omitempty"`
	ExcludedCategories []int    `json:"excluded_categories,omitempty"`
	UsageLimit         int      `json:"usage_limit,omitempty"`
	EmailRestrictions  []string `json:"email_restrictions,omitempty"`
}

// PointsState tracks the loyalty-point balance and staged redemption.
// Invariant: 0 ≤ ToRedeem ≤ Balance. Discount is minor units and is capped
// after the coupon discount so redemption can never push the total negative.
type PointsState struct {
	Balance  int   `json:"balance"`
	ToRedeem int   `json:"to_redeem"`
	Discount int64 `json:"discount"`
}

// GiftRule is one server-computed gift result. The client never invents gift
// eligibility; these come back from the gift-rule endpoint verbatim.
type GiftRule struct {
	ProductID     int    `json:"product_id"`
	ProductName   string `json:"product_name,omitempty"`
	Quantity      int    `json:"quantity"`
	OriginalPrice int64  `json:"original_price"`
	RuleID        int    `json:"rule_id"`
	RuleName      string `json:"rule_name"`
}

// StockIssueKind classifies a stock-check finding.
type StockIssueKind string

const (
	// StockInsufficient means some stock is available but less than requested.
	// Auto-fixable: the gate clamps the line to the available amount.
	StockInsufficient StockIssueKind = "insufficient_quantity"

	// StockOut means the product cannot be purchased at all. Blocking.
	StockOut StockIssueKind = "out_of_stock"
)

// StockIssue is one reported problem from the stock-check endpoint, annotated
// by the gate with whether it was auto-fixed.
type StockIssue struct {
	ProductID   int            `json:"product_id"`
	VariationID int            `json:"variation_id,omitempty"`
	Issue       StockIssueKind `json:"issue"`
	Available   int            `json:"available,omitempty"`
	Requested   int            `json:"requested,omitempty"`
	Message     string         `json:"message,omitempty"`
	Fixed       bool           `json:"fixed"`
}

// Blocking reports whether the issue prevents checkout. Only an applied
// auto-fix clears an issue; an insufficient-quantity finding that could not
// be clamped still blocks.
func (i StockIssue) Blocking() bool {
	return !i.Fixed
}

// Address holds billing or shipping fields for order creation and shipping
// quotes.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// ShippingMethod is one quoted delivery option.
type ShippingMethod struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Cost         int64  `json:"cost"` // minor units
	FreeShipping bool   `json:"free_shipping,omitempty"`
}

// OrderRef is the slice of the backend order entity this engine tracks.
// Orders are created and mutated only through the backend's order endpoints.
type OrderRef struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Key    string `json:"order_key,omitempty"`
	Total  int64  `json:"total"` // minor units
}

// Notice is a transient advisory surfaced to the user (stock clamping,
// coupon drops). ExpiresAt lets the UI auto-dismiss it.
type Notice struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NoticeSink receives advisory notices. Implementations must not block.
type NoticeSink func(Notice)
