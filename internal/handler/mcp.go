// MCP transport handler for the storefront engine using the official MCP Go
// SDK. Exposes cart, coupon, points, gift, shipping, and checkout operations
// as MCP tools.
package handler

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront-engine/internal/checkout"
	"storefront-engine/internal/model"
	"storefront-engine/internal/payment"
)

// === Tool Input Types ===

// ViewCartInput is the (empty) input schema for view_cart.
type ViewCartInput struct{}

// AddToCartInput is the input schema for add_to_cart. The product document
// comes from catalog browsing, which the agent does directly against the
// store; the engine only needs the pricing-relevant slice of it.
type AddToCartInput struct {
	Product    model.ProductRef  `json:"product" jsonschema:"product to add,required"`
	Quantity   int               `json:"quantity" jsonschema:"quantity,required"`
	Attributes []model.Attribute `json:"attributes,omitempty" jsonschema:"selected product attributes"`
	Meta       []model.MetaEntry `json:"meta,omitempty" jsonschema:"opaque line metadata forwarded to the order"`
}

// LineRefInput identifies a cart line.
type LineRefInput struct {
	ProductID   int `json:"product_id" jsonschema:"product ID,required"`
	VariationID int `json:"variation_id,omitempty" jsonschema:"variation ID, zero for simple products"`
}

// SetQuantityInput is the input schema for set_quantity.
type SetQuantityInput struct {
	ProductID   int `json:"product_id" jsonschema:"product ID,required"`
	VariationID int `json:"variation_id,omitempty" jsonschema:"variation ID, zero for simple products"`
	Quantity    int `json:"quantity" jsonschema:"new quantity, zero removes the line,required"`
}

// ApplyCouponInput is the input schema for apply_coupon.
type ApplyCouponInput struct {
	Code string `json:"code" jsonschema:"coupon code,required"`
}

// SetPointsInput is the input schema for set_points_to_redeem.
type SetPointsInput struct {
	Points int `json:"points" jsonschema:"points to redeem at checkout, zero cancels redemption,required"`
}

// GiftRefInput identifies a gift line by its product.
type GiftRefInput struct {
	ProductID int `json:"product_id" jsonschema:"gift product ID,required"`
}

// SetAddressInput is the input schema for set_address. Shipping quotes are
// recalculated against the shipping address, or the billing address when no
// separate shipping address is given.
type SetAddressInput struct {
	Billing  model.Address  `json:"billing" jsonschema:"billing address and contact,required"`
	Shipping *model.Address `json:"shipping,omitempty" jsonschema:"shipping address when it differs from billing"`
}

// SelectShippingInput is the input schema for select_shipping.
type SelectShippingInput struct {
	MethodID string `json:"method_id" jsonschema:"shipping method ID from the quoted options,required"`
}

// StartCheckoutInput is the input schema for start_checkout.
type StartCheckoutInput struct {
	Method    string `json:"method" jsonschema:"payment method ID (bacs, cod, paypal, card, or an async gateway),required"`
	CardToken string `json:"card_token,omitempty" jsonschema:"tokenized card reference, required for card payments"`
}

// AttemptRefInput identifies a checkout attempt from an earlier
// start_checkout call.
type AttemptRefInput struct {
	AttemptID string `json:"attempt_id" jsonschema:"checkout attempt ID,required"`
}

// NewMCPServer creates an MCP server with the engine's tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-engine",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront cart and checkout engine. Use the cart tools to build " +
				"an order, then set_address, select_shipping, and start_checkout to pay. " +
				"All prices are minor currency units.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "view_cart",
		Description: "View the cart: lines, discounts, points, totals, and shipping options.",
	}, h.mcpViewCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product to the cart, or increase its quantity if already present.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_quantity",
		Description: "Set the quantity of a cart line. Zero removes the line.",
	}, h.mcpSetQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove a line from the cart.",
	}, h.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Empty the cart, including coupon, points, and gifts.",
	}, h.mcpClearCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_coupon",
		Description: "Verify a coupon against the store and apply its discount.",
	}, h.mcpApplyCoupon)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_coupon",
		Description: "Remove the applied coupon.",
	}, h.mcpRemoveCoupon)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_points_to_redeem",
		Description: "Stage loyalty points for redemption at checkout.",
	}, h.mcpSetPoints)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_points",
		Description: "Refresh the customer's loyalty-point balance from the store.",
	}, h.mcpRefreshPoints)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_gift",
		Description: "Dismiss an automatic gift line. It will not be re-added while dismissed.",
	}, h.mcpRemoveGift)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "restore_gift",
		Description: "Restore a previously dismissed gift line.",
	}, h.mcpRestoreGift)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_address",
		Description: "Set billing and shipping addresses. Shipping options are requoted.",
	}, h.mcpSetAddress)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_shipping",
		Description: "Select a shipping method from the quoted options.",
	}, h.mcpSelectShipping)

	mcp.AddTool(server, &mcp.Tool{
		Name: "start_checkout",
		Description: "Validate the cart and start payment with the chosen method. " +
			"May return an approval URL or a step-up challenge to complete.",
	}, h.mcpStartCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_checkout",
		Description: "Get the current state of a checkout attempt.",
	}, h.mcpGetCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "complete_paypal",
		Description: "Capture a PayPal payment after the buyer approved it.",
	}, h.mcpCompletePayPal)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_checkout",
		Description: "Cancel a checkout attempt awaiting approval. The cart is kept.",
	}, h.mcpCancelCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "complete_step_up",
		Description: "Finish a card payment after the step-up authentication challenge.",
	}, h.mcpCompleteStepUp)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume_payment_return",
		Description: "Resolve an async payment after the gateway redirected the buyer back.",
	}, h.mcpResumePaymentReturn)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Cart Tools ===

func (h *Handler) mcpViewCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ViewCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	return nil, h.cartView(), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.store.Add(input.Product, input.Quantity, input.Attributes, input.Meta); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpSetQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetQuantityInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.store.SetQuantity(input.ProductID, input.Quantity, input.VariationID); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpRemoveItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LineRefInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.store.Remove(input.ProductID, input.VariationID); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ViewCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.store.Clear(); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

// === Coupon and Points Tools ===

func (h *Handler) mcpApplyCoupon(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ApplyCouponInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.pricing.ApplyCoupon(ctx, input.Code); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpRemoveCoupon(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ViewCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.pricing.RemoveCoupon(); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpSetPoints(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetPointsInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.store.SetPointsToRedeem(input.Points); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpRefreshPoints(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ViewCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if h.cfg.CustomerID == 0 {
		return nil, nil, h.toolError(model.NewValidationError("customer", "points require a logged-in customer"))
	}
	balance, err := h.backend.GetPoints(ctx, h.cfg.CustomerID)
	if err != nil {
		return nil, nil, h.toolError(err)
	}
	if err := h.store.SetPointsBalance(balance); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

// === Gift Tools ===

func (h *Handler) mcpRemoveGift(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GiftRefInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.gifts.RemoveGift(input.ProductID); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

func (h *Handler) mcpRestoreGift(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GiftRefInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.gifts.RestoreGift(input.ProductID); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

// === Shipping Tools ===

func (h *Handler) mcpSetAddress(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetAddressInput,
) (*mcp.CallToolResult, *CartView, error) {
	h.mu.Lock()
	h.billing = input.Billing
	h.hasShip = input.Shipping != nil
	if input.Shipping != nil {
		h.shipAddr = *input.Shipping
	}
	h.mu.Unlock()

	addr := input.Billing
	if input.Shipping != nil {
		addr = *input.Shipping
	}
	h.shipping.SetAddress(addr)
	return nil, h.cartView(), nil
}

func (h *Handler) mcpSelectShipping(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SelectShippingInput,
) (*mcp.CallToolResult, *CartView, error) {
	h.shipping.Flush()
	if err := h.shipping.Select(input.MethodID); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.cartView(), nil
}

// === Checkout Tools ===

func (h *Handler) mcpStartCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input StartCheckoutInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	if !h.knownMethod(input.Method) {
		return nil, nil, h.toolError(model.NewValidationError("method", "unknown payment method "+input.Method))
	}

	h.mu.Lock()
	details := checkout.Details{
		Method:      input.Method,
		Billing:     h.billing,
		Shipping:    h.billing,
		Card:        payment.CardDetails{Token: input.CardToken},
		DeviceClass: deviceClassFrom(ctx),
	}
	if h.hasShip {
		details.Shipping = h.shipAddr
	}
	h.mu.Unlock()

	a, err := h.orch.Begin(ctx, details)
	if a != nil {
		h.rememberAttempt(a)
	}
	if err != nil {
		// Stock problems carry an issue list the agent can act on.
		if a != nil && len(a.StockIssues()) > 0 {
			return nil, h.attemptView(a, nil, nil), nil
		}
		return nil, nil, h.toolError(err)
	}

	switch {
	case input.Method == checkout.MethodPayPal:
		sess, err := a.StartPayPal(ctx)
		if err != nil {
			return nil, nil, h.toolError(err)
		}
		return nil, h.attemptView(a, sess, nil), nil

	case input.Method == checkout.MethodCard:
		res, err := a.PayCard(ctx)
		if err != nil {
			return nil, nil, h.toolError(err)
		}
		return nil, h.attemptView(a, nil, res), nil

	case h.orch.WebhookSettled(input.Method):
		sess, err := a.StartWebhook(ctx)
		if err != nil {
			return nil, nil, h.toolError(err)
		}
		return nil, h.attemptView(a, sess, nil), nil

	default:
		// Bank transfer or cash on delivery, settled outside the engine.
		if err := a.PayOffline(ctx); err != nil {
			return nil, nil, h.toolError(err)
		}
		return nil, h.attemptView(a, nil, nil), nil
	}
}

// knownMethod reports whether the payment method id maps to a supported flow.
func (h *Handler) knownMethod(method string) bool {
	switch method {
	case checkout.MethodBankTransfer, checkout.MethodCashOnDelivery,
		checkout.MethodPayPal, checkout.MethodCard:
		return true
	}
	return h.orch.WebhookSettled(method)
}

func (h *Handler) mcpGetCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AttemptRefInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	a, err := h.attempt(input.AttemptID)
	if err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.attemptView(a, nil, nil), nil
}

func (h *Handler) mcpCompletePayPal(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AttemptRefInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	a, err := h.attempt(input.AttemptID)
	if err != nil {
		return nil, nil, h.toolError(err)
	}
	if err := a.CompletePayPal(ctx); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.attemptView(a, nil, nil), nil
}

func (h *Handler) mcpCancelCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AttemptRefInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	a, err := h.attempt(input.AttemptID)
	if err != nil {
		return nil, nil, h.toolError(err)
	}
	if err := a.Cancel(ctx); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.attemptView(a, nil, nil), nil
}

func (h *Handler) mcpCompleteStepUp(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AttemptRefInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	a, err := h.attempt(input.AttemptID)
	if err != nil {
		return nil, nil, h.toolError(err)
	}
	if err := a.CompleteStepUp(ctx); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.attemptView(a, nil, nil), nil
}

func (h *Handler) mcpResumePaymentReturn(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AttemptRefInput,
) (*mcp.CallToolResult, *CheckoutView, error) {
	a, err := h.attempt(input.AttemptID)
	if err != nil {
		return nil, nil, h.toolError(err)
	}
	if err := a.ResumeWebhookReturn(ctx); err != nil {
		return nil, nil, h.toolError(err)
	}
	return nil, h.attemptView(a, nil, nil), nil
}
