package exchange

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-copytrade/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Label responses as JSON like the real API does; resty only
		// unmarshals SetResult/SetError targets for JSON content types.
		w.Header().Set("Content-Type", "application/json")
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	auth := newTestAuth(t)
	auth.SetCredentials(Credentials{
		ApiKey:     "key",
		Secret:     "dGVzdC1zZWNyZXQ=",
		Passphrase: "pass",
	})
	return NewClient(server.URL, auth, discardLogger()), server
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/derive-api-key" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("POLY_SIGNATURE") == "" {
			t.Error("missing L1 signature header")
		}
		json.NewEncoder(w).Encode(Credentials{ApiKey: "k", Secret: "cw==", Passphrase: "p"})
	}))

	// Credentials already set: no request made.
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Clear and re-derive.
	client.auth.SetCredentials(Credentials{})
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.auth.creds.ApiKey != "k" {
		t.Errorf("creds = %+v", client.auth.creds)
	}
}

func TestGetCashBalance(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("asset_type"); got != "COLLATERAL" {
			t.Errorf("asset_type = %q", got)
		}
		if r.Header.Get("POLY_API_KEY") == "" {
			t.Error("missing L2 headers")
		}
		json.NewEncoder(w).Encode(balanceResponse{Balance: "123450000"})
	}))

	balance, err := client.GetCashBalance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(balance-123.45) > 1e-9 {
		t.Errorf("balance = %v, want 123.45", balance)
	}
}

func TestPlaceLimitOrder(t *testing.T) {
	t.Parallel()

	var posted orderRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/neg-risk":
			json.NewEncoder(w).Encode(negRiskResponse{NegRisk: false})
		case "/order":
			if r.Header.Get("POLY_SIGNATURE") == "" {
				t.Error("missing L2 signature")
			}
			if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
				t.Errorf("decode order: %v", err)
			}
			json.NewEncoder(w).Encode(orderResponse{
				Success: true, OrderID: "0xorder", Status: "matched",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	result, err := client.PlaceLimitOrder(context.Background(), "7141567903617710",
		decimal.NewFromFloat(0.40), decimal.NewFromFloat(100), types.BUY)
	if err != nil {
		t.Fatal(err)
	}

	if !result.Success || result.OrderID != "0xorder" {
		t.Errorf("result = %+v", result)
	}
	if result.Status != types.OrderMatched {
		t.Errorf("status = %s, want MATCHED", result.Status)
	}
	if posted.OrderType != "GTC" {
		t.Errorf("orderType = %s", posted.OrderType)
	}
	if posted.Order == nil || posted.Order.Signature == "" {
		t.Error("posted order not signed")
	}
	if posted.Order.TokenID != "7141567903617710" {
		t.Errorf("tokenId = %s", posted.Order.TokenID)
	}
}

func TestPlaceLimitOrderRejection(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/neg-risk":
			json.NewEncoder(w).Encode(negRiskResponse{})
		case "/order":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(orderResponse{
				Success: false, ErrorMsg: "not enough balance / allowance",
			})
		}
	}))

	result, err := client.PlaceLimitOrder(context.Background(), "1",
		decimal.NewFromFloat(0.40), decimal.NewFromFloat(100), types.BUY)
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Error("expected rejection")
	}
	if result.ErrorMsg != "not enough balance / allowance" {
		t.Errorf("error = %q", result.ErrorMsg)
	}
}

func TestOrderStatus(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/order/0xorder" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(openOrder{
			ID: "0xorder", Status: "live",
			OriginalSize: "100", SizeMatched: "30.5", Price: "0.40",
		})
	}))

	status, err := client.OrderStatus(context.Background(), "0xorder")
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != types.OrderLive {
		t.Errorf("status = %s, want LIVE", status.Status)
	}
	if math.Abs(status.SizeMatched-30.5) > 1e-9 {
		t.Errorf("sizeMatched = %v", status.SizeMatched)
	}
	if math.Abs(status.Price-0.40) > 1e-9 {
		t.Errorf("price = %v", status.Price)
	}
}

func TestCancelOrders(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/orders" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var ids []string
		if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
			t.Errorf("decode ids: %v", err)
		}
		json.NewEncoder(w).Encode(cancelResponse{
			Canceled:    []string{"a"},
			NotCanceled: map[string]string{"b": "order already matched"},
		})
	}))

	result, err := client.CancelOrders(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Canceled) != 1 || result.Canceled[0] != "a" {
		t.Errorf("canceled = %v", result.Canceled)
	}
	if result.NotCanceled["b"] != "order already matched" {
		t.Errorf("notCanceled = %v", result.NotCanceled)
	}
}

func TestCancelOrdersEmptyIsNoop(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	result, err := client.CancelOrders(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Canceled) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestNegRiskCaching(t *testing.T) {
	t.Parallel()

	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/neg-risk" {
			t.Errorf("path = %s", r.URL.Path)
		}
		calls++
		json.NewEncoder(w).Encode(negRiskResponse{NegRisk: true})
	}))

	for i := 0; i < 3; i++ {
		negRisk, err := client.isNegRisk(context.Background(), "token-1")
		if err != nil {
			t.Fatal(err)
		}
		if !negRisk {
			t.Error("negRisk = false, want true")
		}
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (cached)", calls)
	}
}
