// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the agent: positions, diff
// orders, execution results, and reporter events. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// MarketPosition identifies one tradable outcome token of a prediction
// market. Produced by the data source; treated as immutable.
type MarketPosition struct {
	Asset        string `json:"asset"`       // CLOB token ID (opaque)
	ConditionID  string `json:"conditionId"` // CTF condition ID
	Title        string `json:"title"`       // e.g. "Will X happen by Y?"
	Outcome      string `json:"outcome"`     // e.g. "Yes"
	OutcomeIndex int    `json:"outcomeIndex"`
	EventSlug    string `json:"eventSlug"`
}

// Position is the Data API shape for one active position of a wallet.
// The data source filters out resolved markets (curPrice 0 or 1) and
// zero-value entries before handing positions to the engine.
type Position struct {
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
	EventSlug    string  `json:"eventSlug"`
	Size         float64 `json:"size"`         // shares held
	AvgPrice     float64 `json:"avgPrice"`     // average entry price
	CurPrice     float64 `json:"curPrice"`     // last market price
	CurrentValue float64 `json:"currentValue"` // size * curPrice in USD
}

// Market extracts the identifying fields of a position.
func (p Position) Market() MarketPosition {
	return MarketPosition{
		Asset:        p.Asset,
		ConditionID:  p.ConditionID,
		Title:        p.Title,
		Outcome:      p.Outcome,
		OutcomeIndex: p.OutcomeIndex,
		EventSlug:    p.EventSlug,
	}
}

// Trade is the Data API shape for one on-chain trade of a wallet.
// TransactionHash is the dedup key for trade detection.
type Trade struct {
	TransactionHash string  `json:"transactionHash"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	Side            string  `json:"side"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
}

// HeldPosition is an owned position, keyed by asset in the trading state.
// Mutated only by the trading state when fills are applied.
type HeldPosition struct {
	Asset     string  `json:"asset"`
	Title     string  `json:"title"`
	Outcome   string  `json:"outcome"`
	Shares    float64 `json:"shares"`
	TotalCost float64 `json:"totalCost"` // cumulative USD paid
	AvgCost   float64 `json:"avgCost"`   // totalCost / shares
}

// RestingOrder is an order accepted by the CLOB but not yet fully matched
// or cancelled. For buys the order's cost stays reserved out of the budget
// for as long as the order rests.
type RestingOrder struct {
	OrderID string  `json:"orderId"`
	Asset   string  `json:"asset"`
	Title   string  `json:"title"`
	Outcome string  `json:"outcome"`
	Side    Side    `json:"side"`
	Shares  float64 `json:"shares"`
	Price   float64 `json:"price"`
	CostUSD float64 `json:"costUsd"` // shares * price
}

// TargetAllocation is the desired position for one market, derived from the
// target trader's portfolio weight and the agent's budget knobs.
type TargetAllocation struct {
	Market         MarketPosition `json:"market"`
	TraderWeight   float64        `json:"traderWeight"` // fraction of target portfolio, [0,1]
	TargetValueUSD float64        `json:"targetValueUsd"`
	TargetShares   float64        `json:"targetShares"`
	CurPrice       float64        `json:"curPrice"`
}

// SimulatedOrder is a proposed diff order produced by the allocation engine.
// In dry-run mode it is applied to state as-is; in live mode the executor
// submits it to the CLOB.
type SimulatedOrder struct {
	Market  MarketPosition `json:"market"`
	Side    Side           `json:"side"`
	Shares  float64        `json:"shares"`
	Price   float64        `json:"price"`
	CostUSD float64        `json:"costUsd"`
}

// ExecutionStatus classifies the outcome of submitting one order.
type ExecutionStatus string

const (
	ExecFilled      ExecutionStatus = "filled"
	ExecPartialFill ExecutionStatus = "partial_fill"
	ExecResting     ExecutionStatus = "resting"
	ExecFailed      ExecutionStatus = "failed"
	ExecSkipped     ExecutionStatus = "skipped"
)

// ExecutionResult is the outcome of submitting one SimulatedOrder.
// OrderIndex refers back to the position in the submitted order slice.
type ExecutionResult struct {
	OrderIndex    int             `json:"orderIndex"`
	Status        ExecutionStatus `json:"status"`
	OrderID       string          `json:"orderId"`
	FilledShares  float64         `json:"filledShares"`
	FilledCostUSD float64         `json:"filledCostUsd"`
	ErrorMsg      string          `json:"errorMsg,omitempty"`
}

// EventTrigger says why a rebalancing cycle ran.
type EventTrigger string

const (
	TriggerInitialReplication EventTrigger = "initial_replication"
	TriggerTradeDetected      EventTrigger = "trade_detected"
)

// CopytradeEvent is emitted by the reporter as one JSON line per cycle that
// produced orders.
type CopytradeEvent struct {
	Timestamp           string            `json:"timestamp"`
	Trigger             EventTrigger      `json:"trigger"`
	DetectedTradeHashes []string          `json:"detectedTradeHashes"`
	Orders              []SimulatedOrder  `json:"orders"`
	BudgetRemaining     float64           `json:"budgetRemaining"`
	TotalSpent          float64           `json:"totalSpent"`
	ExecutionResults    []ExecutionResult `json:"executionResults,omitempty"`
}

// HoldingSummary is the per-position detail of the exit summary.
type HoldingSummary struct {
	Asset         string  `json:"asset"`
	Title         string  `json:"title"`
	Outcome       string  `json:"outcome"`
	Shares        float64 `json:"shares"`
	AvgCost       float64 `json:"avgCost"`
	CurPrice      float64 `json:"curPrice"`
	CurrentValue  float64 `json:"currentValue"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
}

// ExitSummary is the final accounting emitted on shutdown.
type ExitSummary struct {
	InitialBudget     float64          `json:"initialBudget"`
	BudgetRemaining   float64          `json:"budgetRemaining"`
	TotalSpent        float64          `json:"totalSpent"`
	TotalSellProceeds float64          `json:"totalSellProceeds"`
	RealizedPnl       float64          `json:"realizedPnl"`
	UnrealizedPnl     float64          `json:"unrealizedPnl"`
	TotalPnl          float64          `json:"totalPnl"`
	PnlPercent        float64          `json:"pnlPercent"`
	TotalEvents       uint64           `json:"totalEvents"`
	TotalOrders       uint64           `json:"totalOrders"`
	TotalBuyOrders    uint64           `json:"totalBuyOrders"`
	TotalSellOrders   uint64           `json:"totalSellOrders"`
	Holdings          []HoldingSummary `json:"holdings"`
}

// OrderState is the CLOB's view of an order's lifecycle, as reported by the
// placement and status endpoints. The API returns these lowercase; the
// broker normalizes to the constants below.
type OrderState string

const (
	OrderMatched   OrderState = "MATCHED"
	OrderLive      OrderState = "LIVE"
	OrderCanceled  OrderState = "CANCELED"
	OrderUnmatched OrderState = "UNMATCHED"
	OrderDelayed   OrderState = "DELAYED"
)

// PlaceOrderResult is the broker's response to a limit order submission.
type PlaceOrderResult struct {
	Success  bool       `json:"success"`
	OrderID  string     `json:"orderID"`
	Status   OrderState `json:"status"`
	ErrorMsg string     `json:"errorMsg"`
}

// OrderStatusInfo is the broker's answer to an order status query.
type OrderStatusInfo struct {
	Status       OrderState `json:"status"`
	SizeMatched  float64    `json:"sizeMatched"`
	OriginalSize float64    `json:"originalSize"`
	Price        float64    `json:"price"`
}

// CancelResult reports a batch cancel: which order IDs were cancelled and,
// for the rest, why not.
type CancelResult struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"notCanceled"`
}
