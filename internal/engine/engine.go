// Package engine runs the copytrade control loop: observe the target
// trader, diff their portfolio against ours, and execute (or simulate) the
// orders that close the gap.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polymarket-copytrade/internal/alloc"
	"polymarket-copytrade/internal/executor"
	"polymarket-copytrade/internal/reporter"
	"polymarket-copytrade/internal/state"
	"polymarket-copytrade/pkg/types"
)

// recentTradesLimit is how many of the trader's latest trades each poll
// inspects. New trades beyond this window in one interval would be missed,
// but the subsequent positions fetch still converges the portfolio.
const recentTradesLimit = 50

// MarketDataSource observes wallets through the public Data API.
type MarketDataSource interface {
	ActivePositions(ctx context.Context, address string) ([]types.Position, error)
	RecentTrades(ctx context.Context, address string, limit int) ([]types.Trade, error)
}

// PriceOracle resolves current prices for tokens absent from the trader's
// portfolio (exit pricing).
type PriceOracle interface {
	PriceFor(ctx context.Context, tokenID string) (float64, bool, error)
}

// Broker is the authenticated CLOB surface the engine itself needs, beyond
// what the executor drives. Nil in dry-run mode.
type Broker interface {
	GetCashBalance(ctx context.Context) (float64, error)
	CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResult, error)
	CancelAll(ctx context.Context) (*types.CancelResult, error)
}

// Config are the engine's run parameters. CopyPct and MaxTradePct are
// fractions in [0,1], already divided down from the CLI's percentage flags.
type Config struct {
	TraderAddress string
	OwnAddress    string // funder wallet, used to seed live holdings
	Budget        float64
	CopyPct       float64
	MaxTradePct   float64
	PollInterval  time.Duration
	Live          bool
}

// Engine is the control loop. Everything runs on the goroutine that calls
// Run; the state is never touched concurrently.
type Engine struct {
	cfg    Config
	data   MarketDataSource
	oracle PriceOracle
	broker Broker             // nil in dry-run
	exec   *executor.Executor // nil in dry-run
	st     *state.TradingState
	rep    *reporter.Reporter
	logger *slog.Logger

	seenTrades map[string]bool
	tag        string // short trader ID for log lines
}

// New creates an engine. broker and exec must both be nil (dry-run) or both
// set (live).
func New(
	cfg Config,
	data MarketDataSource,
	oracle PriceOracle,
	broker Broker,
	exec *executor.Executor,
	rep *reporter.Reporter,
	logger *slog.Logger,
) *Engine {
	tag := cfg.TraderAddress
	if len(tag) > 10 {
		tag = tag[:10]
	}
	return &Engine{
		cfg:        cfg,
		data:       data,
		oracle:     oracle,
		broker:     broker,
		exec:       exec,
		st:         state.New(cfg.Budget),
		rep:        rep,
		logger:     logger.With("component", "engine"),
		seenTrades: make(map[string]bool),
		tag:        tag,
	}
}

// State exposes the trading state for tests and the exit path.
func (e *Engine) State() *state.TradingState { return e.st }

// Run executes startup, the initial replication, and the poll loop until ctx
// is cancelled, then performs the shutdown sequence.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Live {
		if err := e.startupLive(ctx); err != nil {
			return err
		}
	}

	if err := e.seedTradeDedup(ctx); err != nil {
		return err
	}

	if err := e.rebalance(ctx, types.TriggerInitialReplication, nil); err != nil {
		return fmt.Errorf("initial replication: %w", err)
	}

	e.logger.Info("entering poll loop",
		"trader", e.tag, "interval", e.cfg.PollInterval, "live", e.cfg.Live)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

// startupLive clears stale orders, seeds holdings from the wallet's existing
// positions, and verifies capital covers the requested budget.
func (e *Engine) startupLive(ctx context.Context) error {
	if res, err := e.broker.CancelAll(ctx); err != nil {
		e.logger.Warn("cancel-all at startup failed", "error", err)
	} else if len(res.Canceled) > 0 {
		e.logger.Info("cancelled stale orders at startup", "count", len(res.Canceled))
	}

	own, err := e.data.ActivePositions(ctx, e.cfg.OwnAddress)
	if err != nil {
		return fmt.Errorf("fetch own positions: %w", err)
	}
	holdingsValue := 0.0
	for _, pos := range own {
		e.st.SeedHolding(pos)
		holdingsValue += pos.Size * pos.CurPrice
		e.logger.Info("seeded existing position",
			"title", pos.Title, "outcome", pos.Outcome,
			"shares", pos.Size, "avg_price", pos.AvgPrice)
	}

	cash, err := e.broker.GetCashBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch cash balance: %w", err)
	}
	capital := cash + holdingsValue
	if capital < e.cfg.Budget {
		return fmt.Errorf("insufficient capital: have $%.2f (cash $%.2f + positions $%.2f), budget requires $%.2f",
			capital, cash, holdingsValue, e.cfg.Budget)
	}

	e.logger.Info("live startup complete",
		"cash", cash, "holdings_value", holdingsValue, "seeded", len(own))
	return nil
}

// seedTradeDedup marks the trader's recent trades as seen so history does
// not replay as fresh signals.
func (e *Engine) seedTradeDedup(ctx context.Context) error {
	trades, err := e.data.RecentTrades(ctx, e.cfg.TraderAddress, recentTradesLimit)
	if err != nil {
		return fmt.Errorf("seed trade dedup: %w", err)
	}
	for _, t := range trades {
		e.seenTrades[t.TransactionHash] = true
	}
	e.logger.Info("seeded trade dedup", "trader", e.tag, "known_trades", len(trades))
	return nil
}

// pollOnce is one tick of the poll loop. Errors are logged and swallowed so
// a single bad cycle never kills the loop.
func (e *Engine) pollOnce(ctx context.Context) {
	if e.cfg.Live {
		e.exec.CheckRestingOrders(ctx, e.st)
	}

	trades, err := e.data.RecentTrades(ctx, e.cfg.TraderAddress, recentTradesLimit)
	if err != nil {
		e.logger.Warn("fetch trades failed, skipping cycle", "error", err)
		return
	}

	var newHashes []string
	for _, t := range trades {
		if e.seenTrades[t.TransactionHash] {
			continue
		}
		e.seenTrades[t.TransactionHash] = true
		newHashes = append(newHashes, t.TransactionHash)
		e.logger.Info("detected trade",
			"trader", e.tag, "side", t.Side, "title", t.Title,
			"outcome", t.Outcome, "size", t.Size, "price", t.Price)
	}
	if len(newHashes) == 0 {
		return
	}

	if err := e.rebalance(ctx, types.TriggerTradeDetected, newHashes); err != nil {
		e.logger.Warn("rebalance failed, skipping cycle", "error", err)
	}
}

// rebalance runs one full allocation pass: fetch the trader's portfolio,
// compute targets from effective capital, diff into orders, execute (or
// simulate), and report.
func (e *Engine) rebalance(ctx context.Context, trigger types.EventTrigger, tradeHashes []string) error {
	positions, err := e.data.ActivePositions(ctx, e.cfg.TraderAddress)
	if err != nil {
		return fmt.Errorf("fetch trader positions: %w", err)
	}

	weights := alloc.ComputeWeights(positions)

	prices := make(map[string]float64, len(positions))
	for _, p := range positions {
		prices[p.Asset] = p.CurPrice
	}

	runningBudget := e.st.EffectiveCapital(prices)
	if runningBudget > e.cfg.Budget {
		runningBudget = e.cfg.Budget
	}

	targets := alloc.ComputeTargets(weights, runningBudget, e.cfg.CopyPct, e.cfg.MaxTradePct)

	exitPrices := e.lookupExitPrices(ctx, targets)
	orders := alloc.ComputeOrders(targets, e.st, e.st.BudgetRemaining, exitPrices, e.tag, e.logger)

	e.st.TotalEvents++
	if len(orders) == 0 {
		e.logger.Info("portfolio already in sync", "trader", e.tag, "trigger", trigger)
		return nil
	}

	var results []types.ExecutionResult
	if e.cfg.Live {
		results = e.exec.ExecuteOrders(ctx, orders)
		e.st.ApplyExecutionResults(orders, results)
	} else {
		e.st.ApplyOrders(orders)
	}

	e.rep.Event(types.CopytradeEvent{
		Trigger:             trigger,
		DetectedTradeHashes: tradeHashes,
		Orders:              orders,
		BudgetRemaining:     e.st.BudgetRemaining,
		TotalSpent:          e.st.TotalSpent,
		ExecutionResults:    results,
	})
	return nil
}

// lookupExitPrices resolves current prices for held assets absent from the
// target set, one oracle query per asset. Lookup failures leave the asset
// out of the map; the allocation engine then skips that exit for the cycle.
func (e *Engine) lookupExitPrices(ctx context.Context, targets []types.TargetAllocation) map[string]float64 {
	targetAssets := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetAssets[t.Market.Asset] = true
	}

	exitPrices := make(map[string]float64)
	for asset, held := range e.st.Holdings {
		if targetAssets[asset] || held.Shares <= 0 {
			continue
		}
		price, ok, err := e.oracle.PriceFor(ctx, asset)
		if err != nil {
			e.logger.Warn("exit price lookup failed", "asset", asset, "error", err)
			continue
		}
		if !ok {
			e.logger.Warn("no exit price for asset", "asset", asset, "title", held.Title)
			continue
		}
		exitPrices[asset] = price
	}
	return exitPrices
}

// shutdown cancels resting orders (live mode), refunds their reservations,
// and emits the exit summary. Runs with a fresh short-lived context because
// the loop context is already cancelled.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if e.cfg.Live && len(e.st.Resting) > 0 {
		orderIDs := make([]string, len(e.st.Resting))
		for i, r := range e.st.Resting {
			orderIDs[i] = r.OrderID
		}
		e.logger.Info("cancelling resting orders", "count", len(orderIDs))

		res, err := e.broker.CancelOrders(ctx, orderIDs)
		if err != nil {
			e.logger.Warn("cancel resting orders failed", "error", err)
		} else {
			for _, id := range res.Canceled {
				e.st.ResolveRestingCancel(id)
			}
			for id, reason := range res.NotCanceled {
				e.logger.Warn("order not cancelled", "order_id", id, "reason", reason)
			}
		}
	}

	latestPrices := make(map[string]float64, len(e.st.Holdings))
	for asset := range e.st.Holdings {
		price, ok, err := e.oracle.PriceFor(ctx, asset)
		if err != nil || !ok {
			continue
		}
		latestPrices[asset] = price
	}

	e.rep.ExitSummary(e.st.ExitSummary(latestPrices))
	e.logger.Info("shutdown complete", "trader", e.tag)
}
