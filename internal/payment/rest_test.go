package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront-engine/internal/model"
)

// testBridge builds a bridgeClient pointed at the test server, bypassing the
// fingerprint transport.
func testBridge(srv *httptest.Server) *bridgeClient {
	return &bridgeClient{
		httpClient: srv.Client(),
		storeURL:   srv.URL,
		apiKey:     "key",
		apiSecret:  "secret",
	}
}

func TestRestCardCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/storefront/v1/payments/card/intents" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "key" || pass != "secret" {
			t.Error("missing basic auth")
		}
		var req chargeWire
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Amount != 10500 || req.Currency != "EUR" {
			t.Errorf("charge = %+v", req)
		}
		json.NewEncoder(w).Encode(wireResult{Status: "succeeded", IntentID: "pi_9", TransactionID: "txn_9"})
	}))
	defer srv.Close()

	p := &RestCard{c: testBridge(srv)}
	res, err := p.CreateIntent(context.Background(), ChargeRequest{Amount: 10500, Currency: "EUR", AttemptID: "a1"})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if res.Status != StatusSucceeded || res.IntentID != "pi_9" {
		t.Errorf("result = %+v", res)
	}
}

func TestRestCardDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"message": "insufficient funds"})
	}))
	defer srv.Close()

	p := &RestCard{c: testBridge(srv)}
	_, err := p.Confirm(context.Background(), "pi_9", CardDetails{Token: "tok"})
	if !errors.Is(err, model.ErrPayment) {
		t.Fatalf("err = %v, want payment error", err)
	}
	if got := model.UserMessage(err); got != "insufficient funds" {
		t.Errorf("message = %q", got)
	}
}

func TestRestRedirectCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/storefront/v1/payments/paypal/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"session_id":   "sess_1",
			"approval_url": "https://provider.example/approve/sess_1",
		})
	}))
	defer srv.Close()

	p := &RestRedirect{c: testBridge(srv), gateway: "paypal"}
	sess, err := p.CreateSession(context.Background(), ChargeRequest{Amount: 100, Currency: "EUR"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID != "sess_1" || sess.ApprovalURL == "" {
		t.Errorf("session = %+v", sess)
	}
}

func TestRestRedirectSessionMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	p := &RestRedirect{c: testBridge(srv), gateway: "paypal"}
	if _, err := p.CreateSession(context.Background(), ChargeRequest{}); !errors.Is(err, model.ErrPayment) {
		t.Fatalf("err = %v, want payment error", err)
	}
}

func TestWireResultStatusMapping(t *testing.T) {
	tests := []struct {
		wire string
		want Status
	}{
		{"succeeded", StatusSucceeded},
		{"requires_action", StatusRequiresAction},
		{"pending", StatusPending},
		{"declined", StatusDeclined},
		{"anything_else", StatusDeclined},
	}
	for _, tt := range tests {
		if got := (wireResult{Status: tt.wire}).toResult().Status; got != tt.want {
			t.Errorf("toResult(%q) = %s, want %s", tt.wire, got, tt.want)
		}
	}
}
