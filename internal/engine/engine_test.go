package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"polymarket-copytrade/internal/reporter"
	"polymarket-copytrade/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func approx(t *testing.T, got, want, tolerance float64, label string) {
	t.Helper()
	if math.Abs(got-want) > tolerance {
		t.Errorf("%s = %v, want %v (±%v)", label, got, want, tolerance)
	}
}

type fakeData struct {
	positions    []types.Position
	positionsErr error
	trades       []types.Trade
	tradesErr    error

	ownPositions []types.Position
}

func (f *fakeData) ActivePositions(ctx context.Context, address string) ([]types.Position, error) {
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	if address == "own" {
		return f.ownPositions, nil
	}
	return f.positions, nil
}

func (f *fakeData) RecentTrades(ctx context.Context, address string, limit int) ([]types.Trade, error) {
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return f.trades, nil
}

type fakeOracle struct {
	prices map[string]float64
	err    error
}

func (f *fakeOracle) PriceFor(ctx context.Context, tokenID string) (float64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	price, ok := f.prices[tokenID]
	return price, ok, nil
}

type fakeBroker struct {
	cash      float64
	cashErr   error
	cancelled [][]string
}

func (f *fakeBroker) GetCashBalance(ctx context.Context) (float64, error) {
	return f.cash, f.cashErr
}

func (f *fakeBroker) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResult, error) {
	f.cancelled = append(f.cancelled, orderIDs)
	return &types.CancelResult{Canceled: orderIDs}, nil
}

func (f *fakeBroker) CancelAll(ctx context.Context) (*types.CancelResult, error) {
	return &types.CancelResult{}, nil
}

func position(asset string, size, curPrice float64) types.Position {
	return types.Position{
		Asset:        asset,
		Title:        "market " + asset,
		Outcome:      "Yes",
		Size:         size,
		AvgPrice:     curPrice,
		CurPrice:     curPrice,
		CurrentValue: size * curPrice,
	}
}

// newDryRunEngine wires an engine in dry-run mode with a capturing reporter.
func newDryRunEngine(data *fakeData, oracle *fakeOracle, budget float64) (*Engine, *bytes.Buffer) {
	var out bytes.Buffer
	rep := reporter.New(&out, discardLogger())
	cfg := Config{
		TraderAddress: "0xtrader",
		Budget:        budget,
		CopyPct:       1.0,
		MaxTradePct:   1.0,
		PollInterval:  time.Second,
		Live:          false,
	}
	return New(cfg, data, oracle, nil, nil, rep, discardLogger()), &out
}

func decodeEvents(t *testing.T, out *bytes.Buffer) []types.CopytradeEvent {
	t.Helper()
	var events []types.CopytradeEvent
	scanner := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for scanner.Scan() {
		var ev types.CopytradeEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestInitialReplicationDryRun(t *testing.T) {
	t.Parallel()

	data := &fakeData{
		positions: []types.Position{
			position("a", 100, 0.60), // $60, weight 0.6
			position("b", 100, 0.40), // $40, weight 0.4
		},
	}
	eng, out := newDryRunEngine(data, &fakeOracle{}, 100)

	if err := eng.rebalance(context.Background(), types.TriggerInitialReplication, nil); err != nil {
		t.Fatal(err)
	}

	st := eng.State()
	approx(t, st.Holdings["a"].Shares, 100, 1e-6, "a shares")
	approx(t, st.Holdings["b"].Shares, 100, 1e-6, "b shares")
	approx(t, st.BudgetRemaining, 0, 1e-6, "budget fully deployed")

	events := decodeEvents(t, out)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Trigger != types.TriggerInitialReplication {
		t.Errorf("trigger = %s", events[0].Trigger)
	}
	if len(events[0].Orders) != 2 {
		t.Errorf("got %d orders, want 2", len(events[0].Orders))
	}
	if events[0].Timestamp == "" {
		t.Error("event timestamp not set")
	}
}

func TestPollNoNewTradesProducesNoOrders(t *testing.T) {
	t.Parallel()

	data := &fakeData{
		positions: []types.Position{position("a", 100, 0.50)},
		trades: []types.Trade{
			{TransactionHash: "0xaaa", Asset: "a", Side: "BUY"},
		},
	}
	eng, out := newDryRunEngine(data, &fakeOracle{}, 100)

	ctx := context.Background()
	if err := eng.seedTradeDedup(ctx); err != nil {
		t.Fatal(err)
	}
	if err := eng.rebalance(ctx, types.TriggerInitialReplication, nil); err != nil {
		t.Fatal(err)
	}
	ordersBefore := eng.State().TotalOrders
	out.Reset()

	// Two polls with the same trade list: dedup suppresses both.
	eng.pollOnce(ctx)
	eng.pollOnce(ctx)

	if got := eng.State().TotalOrders; got != ordersBefore {
		t.Errorf("orders grew from %d to %d with no new trades", ordersBefore, got)
	}
	if events := decodeEvents(t, out); len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestPollNewTradeTriggersRebalance(t *testing.T) {
	t.Parallel()

	data := &fakeData{
		positions: []types.Position{position("a", 100, 0.50)},
		trades:    []types.Trade{{TransactionHash: "0xaaa"}},
	}
	eng, out := newDryRunEngine(data, &fakeOracle{}, 100)

	ctx := context.Background()
	if err := eng.seedTradeDedup(ctx); err != nil {
		t.Fatal(err)
	}
	if err := eng.rebalance(ctx, types.TriggerInitialReplication, nil); err != nil {
		t.Fatal(err)
	}
	out.Reset()

	// Trader splits into a second market and the feed shows a new hash.
	data.positions = []types.Position{
		position("a", 100, 0.50), // $50, weight 0.5
		position("b", 100, 0.50), // $50, weight 0.5
	}
	data.trades = []types.Trade{
		{TransactionHash: "0xbbb", Asset: "b", Side: "BUY", Size: 100, Price: 0.50},
		{TransactionHash: "0xaaa"},
	}

	eng.pollOnce(ctx)

	events := decodeEvents(t, out)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Trigger != types.TriggerTradeDetected {
		t.Errorf("trigger = %s", ev.Trigger)
	}
	if len(ev.DetectedTradeHashes) != 1 || ev.DetectedTradeHashes[0] != "0xbbb" {
		t.Errorf("detected hashes = %v", ev.DetectedTradeHashes)
	}

	// Half the a position is sold to fund the b buy; sells come first.
	if len(ev.Orders) != 2 || ev.Orders[0].Side != types.SELL || ev.Orders[1].Side != types.BUY {
		t.Fatalf("orders = %+v, want sell then buy", ev.Orders)
	}
	if eng.State().BudgetRemaining < -1e-6 {
		t.Errorf("budget went negative: %v", eng.State().BudgetRemaining)
	}
}

func TestTraderExitSellsViaOraclePrice(t *testing.T) {
	t.Parallel()

	data := &fakeData{
		positions: []types.Position{position("a", 100, 0.50)},
		trades:    []types.Trade{},
	}
	oracle := &fakeOracle{prices: map[string]float64{"a": 0.55}}
	eng, out := newDryRunEngine(data, oracle, 100)

	ctx := context.Background()
	if err := eng.rebalance(ctx, types.TriggerInitialReplication, nil); err != nil {
		t.Fatal(err)
	}
	out.Reset()

	// Trader exits the position entirely.
	data.positions = nil
	data.trades = []types.Trade{{TransactionHash: "0xexit", Asset: "a", Side: "SELL"}}

	eng.pollOnce(ctx)

	st := eng.State()
	if _, ok := st.Holdings["a"]; ok {
		t.Error("holding should be exited")
	}

	events := decodeEvents(t, out)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	order := events[0].Orders[0]
	if order.Side != types.SELL {
		t.Errorf("side = %s, want SELL", order.Side)
	}
	approx(t, order.Price, 0.55, 1e-9, "exit at oracle price")
}

func TestTraderExitWithoutPriceSkipsSell(t *testing.T) {
	t.Parallel()

	data := &fakeData{
		positions: []types.Position{position("a", 100, 0.50)},
	}
	eng, _ := newDryRunEngine(data, &fakeOracle{}, 100)

	ctx := context.Background()
	if err := eng.rebalance(ctx, types.TriggerInitialReplication, nil); err != nil {
		t.Fatal(err)
	}

	data.positions = nil
	data.trades = []types.Trade{{TransactionHash: "0xexit"}}

	eng.pollOnce(ctx)

	// No oracle price: the position must survive untouched for a later cycle.
	approx(t, eng.State().Holdings["a"].Shares, 100, 1e-6, "holding kept")
}

func TestPollSwallowsDataErrors(t *testing.T) {
	t.Parallel()

	data := &fakeData{
		positions: []types.Position{position("a", 100, 0.50)},
	}
	eng, _ := newDryRunEngine(data, &fakeOracle{}, 100)

	ctx := context.Background()
	if err := eng.rebalance(ctx, types.TriggerInitialReplication, nil); err != nil {
		t.Fatal(err)
	}
	spentBefore := eng.State().TotalSpent

	data.tradesErr = errors.New("502 bad gateway")
	eng.pollOnce(ctx)

	data.tradesErr = nil
	data.trades = []types.Trade{{TransactionHash: "0xnew"}}
	data.positionsErr = errors.New("503 service unavailable")
	eng.pollOnce(ctx)

	approx(t, eng.State().TotalSpent, spentBefore, 1e-9, "no state change on failed cycles")
}

func TestRunningBudgetCappedAtConfiguredBudget(t *testing.T) {
	t.Parallel()

	data := &fakeData{
		positions: []types.Position{position("a", 100, 0.50)},
	}
	eng, _ := newDryRunEngine(data, &fakeOracle{}, 100)

	ctx := context.Background()
	if err := eng.rebalance(ctx, types.TriggerInitialReplication, nil); err != nil {
		t.Fatal(err)
	}

	// Price doubles: effective capital is now ~150 but targets must still be
	// computed from at most the configured budget.
	data.positions = []types.Position{position("a", 100, 1.0 - 1e-9)}
	data.trades = []types.Trade{{TransactionHash: "0xup"}}
	eng.pollOnce(ctx)

	if eng.State().TotalSpent > 100+1e-6 {
		t.Errorf("total spent %v exceeds configured budget", eng.State().TotalSpent)
	}
}

func TestStartupLiveCapitalCheck(t *testing.T) {
	t.Parallel()

	newLiveEngine := func(data *fakeData, broker Broker, budget float64) *Engine {
		cfg := Config{
			TraderAddress: "0xtrader",
			OwnAddress:    "own",
			Budget:        budget,
			CopyPct:       1.0,
			MaxTradePct:   1.0,
			PollInterval:  time.Second,
			Live:          true,
		}
		rep := reporter.New(io.Discard, discardLogger())
		return New(cfg, data, &fakeOracle{}, broker, nil, rep, discardLogger())
	}

	t.Run("sufficient capital seeds holdings", func(t *testing.T) {
		t.Parallel()

		data := &fakeData{
			ownPositions: []types.Position{position("held", 100, 0.40)}, // $40
		}
		broker := &fakeBroker{cash: 70}
		eng := newLiveEngine(data, broker, 100)

		if err := eng.startupLive(context.Background()); err != nil {
			t.Fatal(err)
		}
		approx(t, eng.State().Holdings["held"].Shares, 100, 1e-9, "seeded shares")
		approx(t, eng.State().BudgetRemaining, 60, 1e-9, "budget charged for seed")
	})

	t.Run("insufficient capital terminates", func(t *testing.T) {
		t.Parallel()

		data := &fakeData{
			ownPositions: []types.Position{position("held", 100, 0.40)},
		}
		broker := &fakeBroker{cash: 10} // 10 + 40 < 100
		eng := newLiveEngine(data, broker, 100)

		if err := eng.startupLive(context.Background()); err == nil {
			t.Fatal("expected capital check failure")
		}
	})

	t.Run("balance error terminates", func(t *testing.T) {
		t.Parallel()

		data := &fakeData{}
		broker := &fakeBroker{cashErr: errors.New("timeout")}
		eng := newLiveEngine(data, broker, 100)

		if err := eng.startupLive(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}
