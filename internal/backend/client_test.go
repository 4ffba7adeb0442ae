package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront-engine/internal/model"
)

// testClient builds a Client pointed at the test server, bypassing the
// fingerprint transport.
func testClient(srv *httptest.Server) *Client {
	return &Client{
		httpClient: srv.Client(),
		storeURL:   srv.URL,
		apiKey:     "key",
		apiSecret:  "secret",
	}
}

func TestApplyCouponParsesDiscount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-json/storefront/v1/coupons/apply" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "key" || pass != "secret" {
			t.Error("missing basic auth")
		}
		var req couponApplyRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Code != "SAVE10" || len(req.Items) != 1 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(couponApplyResponse{
			Coupon:   &wireCoupon{Code: "SAVE10", DiscountType: "percent", Amount: "10"},
			Discount: "1000",
		})
	}))
	defer srv.Close()

	c := testClient(srv)
	coupon, discount, err := c.ApplyCoupon(context.Background(), "SAVE10",
		[]CouponItem{{ID: 1, Price: "10000", Quantity: 1}}, "")
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if coupon.Code != "SAVE10" || coupon.DiscountType != model.DiscountPercent {
		t.Errorf("coupon = %+v", coupon)
	}
	if discount != 1000 {
		t.Errorf("discount = %d, want 1000", discount)
	}
}

func TestApplyCouponRejectionIsCouponError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(wireError{Code: "coupon_min_spend", Message: "minimum spend of €50 not met"})
	}))
	defer srv.Close()

	_, _, err := testClient(srv).ApplyCoupon(context.Background(), "SAVE10", nil, "")
	if !errors.Is(err, model.ErrCoupon) {
		t.Fatalf("err = %v, want ErrCoupon", err)
	}
	if msg := model.UserMessage(err); msg != "minimum spend of €50 not met" {
		t.Errorf("user message = %q, want the store's reason", msg)
	}
}

func TestCheckStockMapsIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(stockCheckResponse{
			Success: false,
			StockIssues: []wireStockIssue{
				{ID: 1, Issue: "insufficient_quantity", Available: 1, Requested: 3},
				{ID: 2, Issue: "out_of_stock"},
			},
		})
	}))
	defer srv.Close()

	issues, err := testClient(srv).CheckStock(context.Background(),
		[]StockItem{{ProductID: 1, Quantity: 3}, {ProductID: 2, Quantity: 1}})
	if err != nil {
		t.Fatalf("CheckStock: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("issues = %d, want 2", len(issues))
	}
	if issues[0].Issue != model.StockInsufficient || issues[0].Available != 1 {
		t.Errorf("issue[0] = %+v", issues[0])
	}
	if issues[1].Issue != model.StockOut {
		t.Errorf("issue[1] = %+v", issues[1])
	}
}

func TestCheckGiftRulesWrapsFailuresAsGiftError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv).CheckGiftRules(context.Background(), nil, 0, 0)
	if !errors.Is(err, model.ErrGiftEvaluation) {
		t.Fatalf("err = %v, want ErrGiftEvaluation", err)
	}
}

func TestCheckGiftRulesClampsQuantity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(giftCheckResponse{
			Success: true,
			Gifts:   []wireGift{{ProductID: 7, Quantity: 0, OriginalPrice: "1500", RuleID: 1, RuleName: "promo"}},
		})
	}))
	defer srv.Close()

	gifts, err := testClient(srv).CheckGiftRules(context.Background(), nil, 10000, 0)
	if err != nil {
		t.Fatalf("CheckGiftRules: %v", err)
	}
	if gifts[0].Quantity != 1 {
		t.Errorf("quantity = %d, want 1 (zero-quantity gift is meaningless)", gifts[0].Quantity)
	}
	if gifts[0].OriginalPrice != 1500 {
		t.Errorf("original price = %d, want 1500", gifts[0].OriginalPrice)
	}
}

func TestFindOrderByKeyNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv).FindOrderByKey(context.Background(), "abc")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateOrderParsesMajorUnitTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SetPaid {
			t.Error("pending order must not be created paid")
		}
		json.NewEncoder(w).Encode(wireOrder{ID: 42, Status: "pending", Total: "89.00"})
	}))
	defer srv.Close()

	order, err := testClient(srv).CreateOrder(context.Background(), &OrderRequest{
		PaymentMethod: "bacs",
		LineItems:     []OrderLine{{ProductID: 1, Quantity: 1, Total: "89.00"}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != 42 || order.Total != 8900 {
		t.Errorf("order = %+v, want id 42 total 8900", order)
	}
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"current version passes", "2.4.1", false},
		{"minimum version passes", "2.3.0", false},
		{"older version fails", "2.2.9", true},
		{"garbage version fails", "not-a-version", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(statusResponse{PluginVersion: tt.version})
			}))
			defer srv.Close()

			err := testClient(srv).CheckCompatibility(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckCompatibility(%q) err = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}

func TestNetworkErrorNeverLeaksTransportDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	srv.Close() // force a connection error

	_, err := testClient(srv).GetOrder(context.Background(), 1)
	if !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if msg := model.UserMessage(err); msg != "store request failed, please try again" {
		t.Errorf("user message = %q, want generic retry-able message", msg)
	}
}
