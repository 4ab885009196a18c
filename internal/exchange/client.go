// Package exchange implements the authenticated Polymarket CLOB client:
// API key derivation, balance reads, signed order submission, order status
// and cancellation.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-copytrade/pkg/types"
)

// DefaultCLOBAPIBase is the Polymarket CLOB REST endpoint.
const DefaultCLOBAPIBase = "https://clob.polymarket.com"

// Client is the authenticated CLOB client. It satisfies the broker surface
// the executor needs (balance, place, status) plus the cancel operations the
// control loop uses at startup and shutdown.
type Client struct {
	http    *resty.Client
	auth    *Auth
	limiter *RateLimiter
	logger  *slog.Logger

	mu      sync.Mutex
	negRisk map[string]bool // tokenID -> settles on the neg-risk exchange
}

// NewClient creates a CLOB client. auth must hold a valid private key;
// L2 credentials are derived lazily via Authenticate.
func NewClient(baseURL string, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)

	return &Client{
		http:    httpClient,
		auth:    auth,
		limiter: NewRateLimiter(),
		logger:  logger.With("component", "exchange"),
		negRisk: make(map[string]bool),
	}
}

// Authenticate derives L2 API credentials from the wallet's private key.
// Safe to call when credentials are already set.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.auth.HasL2Credentials() {
		return nil
	}

	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return fmt.Errorf("l1 headers: %w", err)
	}

	var creds Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&creds).
		Get("/auth/derive-api-key")
	if err != nil {
		return fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(creds)
	c.logger.Info("derived api credentials", "address", c.auth.Address().Hex())
	return nil
}

// balanceResponse is the /balance-allowance shape. Balance is the raw USDC
// amount in 6-decimal units.
type balanceResponse struct {
	Balance string `json:"balance"`
}

// GetCashBalance returns the funder wallet's available USDC in dollars.
func (c *Client) GetCashBalance(ctx context.Context) (float64, error) {
	if err := c.limiter.Wait(ctx, CategoryRead); err != nil {
		return 0, err
	}

	path := "/balance-allowance"
	headers, err := c.auth.L2Headers(http.MethodGet, path, "")
	if err != nil {
		return 0, fmt.Errorf("l2 headers: %w", err)
	}

	var result balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"asset_type":     "COLLATERAL",
			"signature_type": strconv.Itoa(c.auth.sigType),
		}).
		SetResult(&result).
		Get(path)
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("fetch balance: status %d: %s", resp.StatusCode(), resp.String())
	}

	raw, err := strconv.ParseFloat(result.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", result.Balance, err)
	}
	return raw / 1_000_000, nil
}

// orderRequest wraps a signed order for POST /order.
type orderRequest struct {
	Order     *SignedOrder `json:"order"`
	Owner     string       `json:"owner"`
	OrderType string       `json:"orderType"`
}

// orderResponse is the POST /order result shape.
type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// PlaceLimitOrder signs and submits a GTC limit order. Price and shares are
// truncated to 2 decimals at this boundary.
func (c *Client) PlaceLimitOrder(ctx context.Context, asset string, price, shares decimal.Decimal, side types.Side) (*types.PlaceOrderResult, error) {
	if err := c.limiter.Wait(ctx, CategoryOrder); err != nil {
		return nil, err
	}

	negRisk, err := c.isNegRisk(ctx, asset)
	if err != nil {
		// Default to the standard exchange when the lookup fails; the venue
		// rejects a wrong-exchange signature rather than mis-settling.
		c.logger.Warn("neg-risk lookup failed, assuming standard exchange",
			"asset", asset, "error", err)
		negRisk = false
	}

	order, err := c.auth.buildOrder(asset, price, shares, side, negRisk)
	if err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	payload := orderRequest{
		Order:     order,
		Owner:     c.auth.creds.ApiKey,
		OrderType: "GTC",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	path := "/order"
	headers, err := c.auth.L2Headers(http.MethodPost, path, string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && result.ErrorMsg == "" {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &types.PlaceOrderResult{
		Success:  result.Success,
		OrderID:  result.OrderID,
		Status:   normalizeOrderState(result.Status),
		ErrorMsg: result.ErrorMsg,
	}, nil
}

// openOrder is the GET /data/order/{id} shape. Numeric fields arrive as
// decimal strings.
type openOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// OrderStatus fetches the current state of one resting order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*types.OrderStatusInfo, error) {
	if err := c.limiter.Wait(ctx, CategoryRead); err != nil {
		return nil, err
	}

	path := "/data/order/" + orderID
	headers, err := c.auth.L2Headers(http.MethodGet, path, "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result openOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch order status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch order status: status %d: %s", resp.StatusCode(), resp.String())
	}

	sizeMatched, _ := strconv.ParseFloat(result.SizeMatched, 64)
	originalSize, _ := strconv.ParseFloat(result.OriginalSize, 64)
	price, _ := strconv.ParseFloat(result.Price, 64)

	return &types.OrderStatusInfo{
		Status:       normalizeOrderState(result.Status),
		SizeMatched:  sizeMatched,
		OriginalSize: originalSize,
		Price:        price,
	}, nil
}

// cancelResponse is the shape of both DELETE /orders and DELETE /cancel-all.
type cancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// CancelOrders cancels the given order IDs in one batch.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResult, error) {
	if len(orderIDs) == 0 {
		return &types.CancelResult{}, nil
	}
	if err := c.limiter.Wait(ctx, CategoryCancel); err != nil {
		return nil, err
	}

	body, err := json.Marshal(orderIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal order ids: %w", err)
	}

	path := "/orders"
	headers, err := c.auth.L2Headers(http.MethodDelete, path, string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result cancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&result).
		Delete(path)
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &types.CancelResult{
		Canceled:    result.Canceled,
		NotCanceled: result.NotCanceled,
	}, nil
}

// CancelAll cancels every open order belonging to this API key.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResult, error) {
	if err := c.limiter.Wait(ctx, CategoryCancel); err != nil {
		return nil, err
	}

	path := "/cancel-all"
	headers, err := c.auth.L2Headers(http.MethodDelete, path, "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result cancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete(path)
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &types.CancelResult{
		Canceled:    result.Canceled,
		NotCanceled: result.NotCanceled,
	}, nil
}

// negRiskResponse is the GET /neg-risk shape.
type negRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

// isNegRisk reports whether a token settles through the neg-risk exchange.
// Results are cached for the process lifetime; a market never migrates.
func (c *Client) isNegRisk(ctx context.Context, tokenID string) (bool, error) {
	c.mu.Lock()
	cached, ok := c.negRisk[tokenID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx, CategoryRead); err != nil {
		return false, err
	}

	var result negRiskResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/neg-risk")
	if err != nil {
		return false, fmt.Errorf("fetch neg-risk: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("fetch neg-risk: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.mu.Lock()
	c.negRisk[tokenID] = result.NegRisk
	c.mu.Unlock()
	return result.NegRisk, nil
}

// normalizeOrderState maps the venue's order status strings (which vary in
// casing and spelling across endpoints) onto the canonical states.
func normalizeOrderState(s string) types.OrderState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MATCHED":
		return types.OrderMatched
	case "LIVE":
		return types.OrderLive
	case "CANCELED", "CANCELLED":
		return types.OrderCanceled
	case "UNMATCHED":
		return types.OrderUnmatched
	case "DELAYED":
		return types.OrderDelayed
	default:
		return types.OrderState(strings.ToUpper(strings.TrimSpace(s)))
	}
}
