// Package executor submits diff orders to the CLOB sequentially, classifies
// each outcome, and reconciles resting orders back into trading state.
//
// Orders are never submitted in parallel: the engine emits sells before buys
// and the budget math depends on that ordering, and the venue rate-limits
// aggressively anyway. All mutation of TradingState happens on the caller's
// goroutine, after network I/O for the batch completes.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-copytrade/internal/state"
	"polymarket-copytrade/pkg/types"
)

const (
	// DefaultInterOrderDelay smooths request rate between submissions.
	DefaultInterOrderDelay = 200 * time.Millisecond
	// DefaultFillCheckDelay is how long to wait before querying the status
	// of an order that did not match at post time.
	DefaultFillCheckDelay = 2 * time.Second
	// DefaultBaseBackoff is the first retry delay; it doubles per attempt.
	DefaultBaseBackoff = 500 * time.Millisecond
	// DefaultMaxRetries bounds submission attempts for transient errors.
	DefaultMaxRetries = 3
)

// OrderBroker is the CLOB surface the executor needs. Implemented by
// exchange.Client in live mode and by test doubles elsewhere. Price and
// shares are quantized to the venue's 2-decimal tick/lot before this
// boundary is crossed.
type OrderBroker interface {
	GetCashBalance(ctx context.Context) (float64, error)
	PlaceLimitOrder(ctx context.Context, asset string, price, shares decimal.Decimal, side types.Side) (*types.PlaceOrderResult, error)
	OrderStatus(ctx context.Context, orderID string) (*types.OrderStatusInfo, error)
}

// Executor drives order submission with retry and fill classification.
// The delay fields exist so tests can run without real sleeps.
type Executor struct {
	broker OrderBroker
	logger *slog.Logger

	InterOrderDelay time.Duration
	FillCheckDelay  time.Duration
	BaseBackoff     time.Duration
	MaxRetries      int
}

// New creates an executor with venue-tuned delays.
func New(broker OrderBroker, logger *slog.Logger) *Executor {
	return &Executor{
		broker:          broker,
		logger:          logger.With("component", "executor"),
		InterOrderDelay: DefaultInterOrderDelay,
		FillCheckDelay:  DefaultFillCheckDelay,
		BaseBackoff:     DefaultBaseBackoff,
		MaxRetries:      DefaultMaxRetries,
	}
}

// ExecuteOrders submits orders strictly sequentially and returns one result
// per order.
//
// Balance guard: if the batch contains any buy, the cash balance is queried
// once up front. A balance below $1 (or a failed query) skips every buy in
// the batch; sells still execute.
func (e *Executor) ExecuteOrders(ctx context.Context, orders []types.SimulatedOrder) []types.ExecutionResult {
	results := make([]types.ExecutionResult, 0, len(orders))

	hasBuys := false
	for _, o := range orders {
		if o.Side == types.BUY {
			hasBuys = true
			break
		}
	}

	skipBuys := false
	if hasBuys {
		balance, err := e.broker.GetCashBalance(ctx)
		if err != nil {
			e.logger.Warn("failed to check balance, skipping all buy orders", "error", err)
			skipBuys = true
		} else {
			e.logger.Info("USDC balance", "balance", balance)
			if balance < 1.0 {
				e.logger.Warn("balance below $1, skipping all buy orders", "balance", balance)
				skipBuys = true
			}
		}
	}

	for idx, order := range orders {
		if order.Side == types.BUY && skipBuys {
			results = append(results, types.ExecutionResult{
				OrderIndex: idx,
				Status:     types.ExecSkipped,
				ErrorMsg:   "insufficient balance",
			})
			continue
		}

		results = append(results, e.executeSingle(ctx, idx, order))

		if idx+1 < len(orders) {
			time.Sleep(e.InterOrderDelay)
		}
	}

	return results
}

func failed(index int, orderID, msg string) types.ExecutionResult {
	return types.ExecutionResult{
		OrderIndex: index,
		Status:     types.ExecFailed,
		OrderID:    orderID,
		ErrorMsg:   msg,
	}
}

func (e *Executor) executeSingle(ctx context.Context, index int, order types.SimulatedOrder) types.ExecutionResult {
	// The venue's tick/lot is 2 decimal places. Truncate, never round up.
	price := decimal.NewFromFloat(order.Price).Truncate(2)
	shares := decimal.NewFromFloat(order.Shares).Truncate(2)
	if shares.IsZero() {
		return failed(index, "", fmt.Sprintf("shares truncated to zero from %v", order.Shares))
	}

	e.logger.Info("placing order",
		"side", order.Side, "shares", shares.String(), "price", price.String(),
		"title", order.Market.Title, "outcome", order.Market.Outcome)

	resp, err := e.placeWithRetry(ctx, order.Market.Asset, price, shares, order.Side)
	if err != nil {
		return failed(index, "", err.Error())
	}

	if !resp.Success {
		msg := resp.ErrorMsg
		if msg == "" {
			msg = fmt.Sprintf("status: %s", resp.Status)
		}
		e.logger.Warn("order post failed", "error", msg)
		return failed(index, resp.OrderID, msg)
	}

	orderID := resp.OrderID
	intendedShares, _ := shares.Float64()

	// Matched at post time: filled at the intended size and price.
	if resp.Status == types.OrderMatched {
		cost := intendedShares * order.Price
		e.logger.Info("order filled immediately", "order_id", orderID, "shares", intendedShares, "cost", cost)
		return types.ExecutionResult{
			OrderIndex:    index,
			Status:        types.ExecFilled,
			OrderID:       orderID,
			FilledShares:  intendedShares,
			FilledCostUSD: cost,
		}
	}

	time.Sleep(e.FillCheckDelay)

	status, err := e.broker.OrderStatus(ctx, orderID)
	if err != nil {
		// Post succeeded but the status reply was lost. Assume filled so the
		// next cycle cannot double-post; keep the error for observability.
		e.logger.Warn("failed to check order status, assuming filled", "order_id", orderID, "error", err)
		cost := intendedShares * order.Price
		return types.ExecutionResult{
			OrderIndex:    index,
			Status:        types.ExecFilled,
			OrderID:       orderID,
			FilledShares:  intendedShares,
			FilledCostUSD: cost,
			ErrorMsg:      fmt.Sprintf("status check failed: %v", err),
		}
	}

	return e.classifyStatus(index, orderID, order, intendedShares, status)
}

func (e *Executor) classifyStatus(
	index int,
	orderID string,
	order types.SimulatedOrder,
	intendedShares float64,
	status *types.OrderStatusInfo,
) types.ExecutionResult {
	filledCost := status.SizeMatched * status.Price

	switch status.Status {
	case types.OrderMatched:
		e.logger.Info("order fully filled", "order_id", orderID, "shares", status.SizeMatched, "cost", filledCost)
		return types.ExecutionResult{
			OrderIndex:    index,
			Status:        types.ExecFilled,
			OrderID:       orderID,
			FilledShares:  status.SizeMatched,
			FilledCostUSD: filledCost,
		}

	case types.OrderLive:
		if status.SizeMatched > 0 {
			e.logger.Info("order partially filled",
				"order_id", orderID, "matched", status.SizeMatched, "original", status.OriginalSize)
			return types.ExecutionResult{
				OrderIndex:    index,
				Status:        types.ExecPartialFill,
				OrderID:       orderID,
				FilledShares:  status.SizeMatched,
				FilledCostUSD: filledCost,
			}
		}
		e.logger.Info("order resting on book", "order_id", orderID, "original", status.OriginalSize)
		return types.ExecutionResult{
			OrderIndex: index,
			Status:     types.ExecResting,
			OrderID:    orderID,
		}

	case types.OrderCanceled, types.OrderUnmatched:
		if status.SizeMatched > 0 {
			e.logger.Info("order cancelled with partial fill", "order_id", orderID, "matched", status.SizeMatched)
			return types.ExecutionResult{
				OrderIndex:    index,
				Status:        types.ExecPartialFill,
				OrderID:       orderID,
				FilledShares:  status.SizeMatched,
				FilledCostUSD: filledCost,
			}
		}
		e.logger.Warn("order cancelled with no fills", "order_id", orderID)
		return failed(index, orderID, fmt.Sprintf("order %s", strings.ToLower(string(status.Status))))

	default:
		// Delayed or unknown. Optimistic: the post succeeded, so treat as
		// filled at intended size rather than risk double-posting next cycle.
		e.logger.Warn("order in unexpected status, assuming filled", "order_id", orderID, "status", status.Status)
		cost := intendedShares * order.Price
		return types.ExecutionResult{
			OrderIndex:    index,
			Status:        types.ExecFilled,
			OrderID:       orderID,
			FilledShares:  intendedShares,
			FilledCostUSD: cost,
			ErrorMsg:      fmt.Sprintf("unexpected status: %s", status.Status),
		}
	}
}

// placeWithRetry submits a limit order, retrying transient failures with
// exponential backoff (BaseBackoff doubling per attempt, MaxRetries total).
// Non-transient errors return immediately.
func (e *Executor) placeWithRetry(
	ctx context.Context,
	asset string,
	price, shares decimal.Decimal,
	side types.Side,
) (*types.PlaceOrderResult, error) {
	var lastErr error

	for attempt := 0; attempt < e.MaxRetries; attempt++ {
		resp, err := e.broker.PlaceLimitOrder(ctx, asset, price, shares, side)
		if err == nil {
			return resp, nil
		}
		if !isTransientError(err.Error()) || attempt+1 >= e.MaxRetries {
			return nil, fmt.Errorf("post order: %w", err)
		}
		delay := e.BaseBackoff * (1 << attempt)
		e.logger.Warn("transient error posting order, retrying",
			"attempt", attempt+1, "max", e.MaxRetries, "delay", delay, "error", err)
		lastErr = err
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("retry exhausted: %w", lastErr)
}

// isTransientError reports whether an error message looks like a retryable
// network or server failure. Substring matching is crude but the broker
// surfaces HTTP status text verbatim.
func isTransientError(errStr string) bool {
	lower := strings.ToLower(errStr)
	for _, marker := range []string{
		"429", "too many requests",
		"500", "internal server error",
		"502", "bad gateway",
		"503", "service unavailable",
		"504", "gateway timeout",
		"timeout", "timed out", "connection",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// CheckRestingOrders queries the status of every tracked resting order and
// resolves fills and cancels into state. Runs before each rebalancing pass
// so the engine diffs against fresh effective holdings.
//
// Still-live orders (including partial fills that remain open) stay tracked
// until they fully fill or cancel. Status query errors leave the entry in
// place for the next cycle.
func (e *Executor) CheckRestingOrders(ctx context.Context, st *state.TradingState) {
	if len(st.Resting) == 0 {
		return
	}

	e.logger.Info("checking resting orders", "count", len(st.Resting))

	orderIDs := make([]string, len(st.Resting))
	for i, r := range st.Resting {
		orderIDs[i] = r.OrderID
	}

	for _, orderID := range orderIDs {
		status, err := e.broker.OrderStatus(ctx, orderID)
		if err != nil {
			e.logger.Warn("failed to check resting order", "order_id", orderID, "error", err)
			continue
		}

		switch status.Status {
		case types.OrderMatched:
			e.logger.Info("resting order filled",
				"order_id", orderID, "shares", status.SizeMatched, "price", status.Price)
			st.ResolveRestingFill(orderID, status.SizeMatched, status.Price)

		case types.OrderLive:
			if status.SizeMatched > 0 {
				e.logger.Info("resting order partially filled, still live",
					"order_id", orderID, "matched", status.SizeMatched)
			}

		case types.OrderCanceled, types.OrderUnmatched:
			if status.SizeMatched > 0 {
				e.logger.Info("resting order cancelled with partial fill",
					"order_id", orderID, "matched", status.SizeMatched)
				st.ResolveRestingFill(orderID, status.SizeMatched, status.Price)
			} else {
				e.logger.Info("resting order cancelled with no fills", "order_id", orderID)
				st.ResolveRestingCancel(orderID)
			}

		default:
			e.logger.Warn("resting order in unexpected status", "order_id", orderID, "status", status.Status)
		}
	}

	if len(st.Resting) > 0 {
		e.logger.Info("orders still resting on book", "count", len(st.Resting))
	}
}
