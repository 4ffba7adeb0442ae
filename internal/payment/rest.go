package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront-engine/internal/model"
	"storefront-engine/internal/transport"
)

// bridgePath is the base path for the storefront plugin's payment bridge.
// The plugin holds the gateway credentials and proxies provider calls, so
// none of them ever reach this process.
const bridgePath = "/wp-json/storefront/v1/payments"

// RestConfig configures the providers backed by the payment bridge.
type RestConfig struct {
	StoreURL  string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// bridgeClient is the shared HTTP plumbing for the bridge providers.
type bridgeClient struct {
	httpClient *http.Client
	storeURL   string
	apiKey     string
	apiSecret  string
}

func newBridgeClient(cfg RestConfig) (*bridgeClient, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("API credentials are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &bridgeClient{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport.NewChromeTransport(timeout),
		},
		storeURL:  strings.TrimSuffix(cfg.StoreURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
	}, nil
}

func (c *bridgeClient) do(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.storeURL+bridgePath+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewNetworkError("payment bridge", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewNetworkError("payment bridge", err)
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &e)
		if e.Message == "" {
			e.Message = "the payment was declined"
		}
		return model.NewPaymentError(e.Message)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// wireResult is the bridge's uniform charge outcome.
type wireResult struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	IntentID      string `json:"intent_id"`
	ChallengeData string `json:"challenge_data"`
	Message       string `json:"message"`
}

func (w wireResult) toResult() *Result {
	r := &Result{
		TransactionID: w.TransactionID,
		IntentID:      w.IntentID,
		ChallengeData: w.ChallengeData,
		Message:       w.Message,
	}
	switch w.Status {
	case "succeeded":
		r.Status = StatusSucceeded
	case "requires_action":
		r.Status = StatusRequiresAction
	case "pending":
		r.Status = StatusPending
	default:
		r.Status = StatusDeclined
	}
	return r
}

type chargeWire struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	OrderID   int    `json:"order_id,omitempty"`
	AttemptID string `json:"attempt_id"`
	Email     string `json:"email,omitempty"`
}

func toChargeWire(req ChargeRequest) chargeWire {
	return chargeWire{
		Amount:    req.Amount,
		Currency:  req.Currency,
		OrderID:   req.OrderID,
		AttemptID: req.AttemptID,
		Email:     req.Email,
	}
}

// RestCard implements CardProvider against the bridge's card gateway.
type RestCard struct {
	c *bridgeClient
}

// NewRestCard creates a card provider backed by the payment bridge.
func NewRestCard(cfg RestConfig) (*RestCard, error) {
	c, err := newBridgeClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RestCard{c: c}, nil
}

func (p *RestCard) CreateIntent(ctx context.Context, req ChargeRequest) (*Result, error) {
	var resp wireResult
	if err := p.c.do(ctx, "/card/intents", toChargeWire(req), &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

func (p *RestCard) Confirm(ctx context.Context, intentID string, card CardDetails) (*Result, error) {
	body := struct {
		Token string `json:"token"`
	}{Token: card.Token}
	var resp wireResult
	if err := p.c.do(ctx, "/card/intents/"+intentID+"/confirm", body, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

func (p *RestCard) CreateMethod(ctx context.Context, card CardDetails) (string, error) {
	body := struct {
		Token string `json:"token"`
	}{Token: card.Token}
	var resp struct {
		MethodID string `json:"method_id"`
	}
	if err := p.c.do(ctx, "/card/methods", body, &resp); err != nil {
		return "", err
	}
	if resp.MethodID == "" {
		return "", model.NewPaymentError("the card could not be saved")
	}
	return resp.MethodID, nil
}

func (p *RestCard) ChargeMethod(ctx context.Context, methodID string, req ChargeRequest) (*Result, error) {
	var resp wireResult
	if err := p.c.do(ctx, "/card/methods/"+methodID+"/charge", toChargeWire(req), &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

func (p *RestCard) CompleteStepUp(ctx context.Context, intentID string) (*Result, error) {
	var resp wireResult
	if err := p.c.do(ctx, "/card/intents/"+intentID+"/complete", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

// RestRedirect implements RedirectProvider against a named bridge gateway
// ("paypal", or an async method id for webhook-settled gateways).
type RestRedirect struct {
	c       *bridgeClient
	gateway string
}

// NewRestRedirect creates a redirect provider for the given bridge gateway.
func NewRestRedirect(cfg RestConfig, gateway string) (*RestRedirect, error) {
	if gateway == "" {
		return nil, fmt.Errorf("gateway is required")
	}
	c, err := newBridgeClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RestRedirect{c: c, gateway: gateway}, nil
}

func (p *RestRedirect) CreateSession(ctx context.Context, req ChargeRequest) (*Session, error) {
	var resp struct {
		SessionID   string `json:"session_id"`
		ApprovalURL string `json:"approval_url"`
	}
	if err := p.c.do(ctx, "/"+p.gateway+"/sessions", toChargeWire(req), &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" || resp.ApprovalURL == "" {
		return nil, model.NewPaymentError("the payment session could not be created")
	}
	return &Session{ID: resp.SessionID, ApprovalURL: resp.ApprovalURL}, nil
}

func (p *RestRedirect) Capture(ctx context.Context, sessionID string) (*Result, error) {
	var resp wireResult
	if err := p.c.do(ctx, "/"+p.gateway+"/sessions/"+sessionID+"/capture", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}
