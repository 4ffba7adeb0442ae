package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/mod/semver"

	"storefront-engine/internal/model"
	"storefront-engine/internal/transport"
)

// apiPath is the base path for the storefront plugin's endpoints.
// Must include the /wp-json prefix for proper routing.
const apiPath = "/wp-json/storefront/v1"

// minPluginVersion is the oldest storefront plugin this engine has been
// validated against. Older plugins lack the gift-rule and stock-check
// endpoints.
const minPluginVersion = "v2.3.0"

// userAgent identifies this client to the store. Required: the store's
// CDN/WAF rate-limits requests without a User-Agent.
const userAgent = "StorefrontEngine/1.0"

// Commerce is the backend surface the engine consumes. The HTTP Client is
// the production implementation; Mock backs tests.
type Commerce interface {
	VerifyCoupon(ctx context.Context, code string) (*model.Coupon, error)
	ApplyCoupon(ctx context.Context, code string, items []CouponItem, userEmail string) (*model.Coupon, int64, error)
	CheckStock(ctx context.Context, items []StockItem) ([]model.StockIssue, error)
	ShippingMethods(ctx context.Context, addr model.Address, cartTotal int64) ([]model.ShippingMethod, error)
	CheckGiftRules(ctx context.Context, items []GiftItem, cartTotal int64, userID int) ([]model.GiftRule, error)
	CreateOrder(ctx context.Context, req *OrderRequest) (*model.OrderRef, error)
	UpdateOrder(ctx context.Context, orderID int, upd *OrderUpdate) (*model.OrderRef, error)
	DeleteOrder(ctx context.Context, orderID int) error
	GetOrder(ctx context.Context, orderID int) (*model.OrderRef, error)
	FindOrderByKey(ctx context.Context, idempotencyKey string) (*model.OrderRef, error)
	GetOrderEventually(ctx context.Context, orderID int, maxTries uint64) (*model.OrderRef, error)
	GetPoints(ctx context.Context, userID int) (int, error)
	AddPoints(ctx context.Context, userID, points int, description string, orderID int) (int, error)
	RedeemPoints(ctx context.Context, userID, points int, description string, orderID int) (int, error)
}

// Config holds backend client configuration.
type Config struct {
	StoreURL  string
	APIKey    string
	APISecret string
}

// Client talks to the storefront plugin's JSON endpoints over HTTPS.
// Stateless: every call carries full context, nothing is cached.
type Client struct {
	httpClient *http.Client
	storeURL   string
	apiKey     string
	apiSecret  string
}

// New creates a backend client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("API credentials are required")
	}

	// Use Chrome TLS fingerprint transport to avoid JA3-based rate limiting.
	// See internal/transport for rationale.
	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport.NewChromeTransport(30 * time.Second),
		},
		storeURL:  strings.TrimSuffix(cfg.StoreURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
	}, nil
}

// CheckCompatibility verifies the installed storefront plugin is recent
// enough for this engine. Call once at startup; a transport failure here is
// non-fatal (the store may block the status endpoint) and returns nil.
func (c *Client) CheckCompatibility(ctx context.Context) error {
	var status statusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil
	}
	v := status.PluginVersion
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("storefront plugin reported invalid version %q", status.PluginVersion)
	}
	if semver.Compare(v, minPluginVersion) < 0 {
		return fmt.Errorf("storefront plugin %s is older than minimum supported %s", v, minPluginVersion)
	}
	return nil
}

// VerifyCoupon checks a coupon code without applying it.
func (c *Client) VerifyCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	var resp couponApplyResponse
	path := "/coupons/verify?code=" + url.QueryEscape(code)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Coupon == nil {
		return nil, model.NewCouponError(code, "not found")
	}
	return resp.Coupon.toModel(), nil
}

// ApplyCoupon submits the full cart contents and returns the coupon plus the
// server-computed discount in minor units. The backend is the sole source of
// truth for the discount amount.
func (c *Client) ApplyCoupon(ctx context.Context, code string, items []CouponItem, userEmail string) (*model.Coupon, int64, error) {
	req := couponApplyRequest{Code: code, Items: items, UserEmail: userEmail}
	var resp couponApplyResponse
	if err := c.do(ctx, http.MethodPost, "/coupons/apply", req, &resp); err != nil {
		return nil, 0, err
	}
	if resp.Coupon == nil {
		return nil, 0, model.NewCouponError(code, "rejected by store")
	}
	return resp.Coupon.toModel(), model.ParseMinorUnits(resp.Discount), nil
}

// CheckStock validates requested quantities against live stock.
func (c *Client) CheckStock(ctx context.Context, items []StockItem) ([]model.StockIssue, error) {
	var resp stockCheckResponse
	if err := c.do(ctx, http.MethodPost, "/stock/check", stockCheckRequest{Items: items}, &resp); err != nil {
		return nil, err
	}
	issues := make([]model.StockIssue, len(resp.StockIssues))
	for i, w := range resp.StockIssues {
		issues[i] = w.toModel()
	}
	return issues, nil
}

// ShippingMethods quotes delivery options for an address and cart total.
// Transport failures propagate; the caller synthesizes the flat-rate
// fallback because the fallback cost is engine configuration, not store data.
func (c *Client) ShippingMethods(ctx context.Context, addr model.Address, cartTotal int64) ([]model.ShippingMethod, error) {
	req := shippingRequest{Address: addr, CartTotal: fmt.Sprintf("%d", cartTotal)}
	var resp shippingResponse
	if err := c.do(ctx, http.MethodPost, "/shipping/methods", req, &resp); err != nil {
		return nil, err
	}
	methods := make([]model.ShippingMethod, len(resp.Methods))
	for i, w := range resp.Methods {
		methods[i] = w.toModel()
	}
	return methods, nil
}

// CheckGiftRules asks which promotional gifts apply to the given non-gift
// cart contents and total.
func (c *Client) CheckGiftRules(ctx context.Context, items []GiftItem, cartTotal int64, userID int) ([]model.GiftRule, error) {
	req := giftCheckRequest{Items: items, CartTotal: fmt.Sprintf("%d", cartTotal), UserID: userID}
	var resp giftCheckResponse
	if err := c.do(ctx, http.MethodPost, "/gifts/check", req, &resp); err != nil {
		return nil, model.NewGiftError(err)
	}
	gifts := make([]model.GiftRule, len(resp.Gifts))
	for i, w := range resp.Gifts {
		gifts[i] = w.toModel()
	}
	return gifts, nil
}

// CreateOrder creates a backend order from the full payload.
func (c *Client) CreateOrder(ctx context.Context, req *OrderRequest) (*model.OrderRef, error) {
	var resp wireOrder
	if err := c.do(ctx, http.MethodPost, "/orders", req, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

// UpdateOrder mutates an existing order (status, paid flag, transaction id).
func (c *Client) UpdateOrder(ctx context.Context, orderID int, upd *OrderUpdate) (*model.OrderRef, error) {
	var resp wireOrder
	path := fmt.Sprintf("/orders/%d", orderID)
	if err := c.do(ctx, http.MethodPut, path, upd, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

// DeleteOrder removes a pending order. Used for best-effort cleanup after a
// cancelled provider approval.
func (c *Client) DeleteOrder(ctx context.Context, orderID int) error {
	path := fmt.Sprintf("/orders/%d", orderID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetOrder fetches one order by id.
func (c *Client) GetOrder(ctx context.Context, orderID int) (*model.OrderRef, error) {
	var resp wireOrder
	path := fmt.Sprintf("/orders/%d", orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

// FindOrderByKey looks up an order by the engine's idempotency key. Used on
// the webhook-settled return path to detect an order the webhook already
// materialized. Not-found is reported as model.ErrNotFound.
func (c *Client) FindOrderByKey(ctx context.Context, idempotencyKey string) (*model.OrderRef, error) {
	var resp wireOrder
	path := "/orders/lookup?idempotency_key=" + url.QueryEscape(idempotencyKey)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		return nil, model.NewNotFoundError("order")
	}
	return resp.toModel(), nil
}

// GetOrderEventually fetches an order with bounded retry and increasing
// backoff. A just-created order may not be queryable yet on the
// webhook-settled path, so plain GetOrder is wrapped in at most maxTries
// attempts. Only not-found is retried; other failures surface immediately.
func (c *Client) GetOrderEventually(ctx context.Context, orderID int, maxTries uint64) (*model.OrderRef, error) {
	var order *model.OrderRef
	op := func() error {
		var err error
		order, err = c.GetOrder(ctx, orderID)
		if err != nil {
			if isNotFound(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
			backoff.WithMaxInterval(5*time.Second),
		), maxTries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return order, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

// GetPoints returns the user's loyalty-point balance.
func (c *Client) GetPoints(ctx context.Context, userID int) (int, error) {
	var resp pointsResponse
	path := fmt.Sprintf("/points/%d", userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// AddPoints credits points to the user and returns the new balance.
func (c *Client) AddPoints(ctx context.Context, userID, points int, description string, orderID int) (int, error) {
	req := pointsMutationRequest{Points: points, Description: description, OrderID: orderID}
	var resp pointsMutationResponse
	path := fmt.Sprintf("/points/%d/add", userID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}
	return resp.NewBalance, nil
}

// RedeemPoints debits staged points, tied to the order id so a redemption
// cannot be double-applied server-side.
func (c *Client) RedeemPoints(ctx context.Context, userID, points int, description string, orderID int) (int, error) {
	req := pointsMutationRequest{Points: points, Description: description, OrderID: orderID}
	var resp pointsMutationResponse
	path := fmt.Sprintf("/points/%d/redeem", userID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}
	return resp.NewBalance, nil
}

// === Helper methods ===

// do executes one JSON request against the storefront API. out may be nil
// for calls that discard the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.storeURL+apiPath+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewNetworkError("store", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewNetworkError("store", err)
	}

	if resp.StatusCode >= 400 {
		return c.parseErrorResponse(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// setHeaders sets the headers every storefront API request carries. The
// plugin authenticates with key/secret Basic Auth.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.SetBasicAuth(c.apiKey, c.apiSecret)
}

// parseErrorResponse converts a storefront error payload to an EngineError.
func (c *Client) parseErrorResponse(statusCode int, body []byte) error {
	var werr wireError
	json.Unmarshal(body, &werr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError("resource")
	case 400, 422:
		msg := werr.Message
		if msg == "" {
			msg = "invalid request"
		}
		if strings.HasPrefix(werr.Code, "coupon") {
			return model.NewCouponError("", msg)
		}
		return model.NewValidationError("request", msg)
	case 402:
		msg := werr.Message
		if msg == "" {
			msg = "payment was declined"
		}
		return model.NewPaymentError(msg)
	default:
		return model.NewNetworkError("store",
			fmt.Errorf("status %d: %s - %s", statusCode, werr.Code, werr.Message))
	}
}
