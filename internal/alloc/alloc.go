// Package alloc is the allocation engine: it turns the target trader's
// portfolio into diff orders against the agent's current holdings.
//
// All three operations are pure: no I/O, no clock. The engine reads the
// trading state but never mutates it.
package alloc

import (
	"log/slog"
	"sort"

	"polymarket-copytrade/internal/state"
	"polymarket-copytrade/pkg/types"
)

// MinOrderUSD is the venue-enforced minimum notional for opening (buy)
// orders. The CLOB rejects buys below $1; sells have no minimum so dust
// positions can always be closed.
const MinOrderUSD = 1.00

// Weight is one market's share of the target trader's portfolio value.
type Weight struct {
	Market   types.MarketPosition
	Weight   float64 // currentValue / total portfolio value, [0,1]
	CurPrice float64
}

// ComputeWeights derives portfolio weights from active positions. Returns
// nil when the portfolio has no positive value. Input ordering is preserved.
//
// Positions are assumed pre-filtered by the data source to tradable markets
// (currentValue > 0, 0 < curPrice < 1).
func ComputeWeights(positions []types.Position) []Weight {
	total := 0.0
	for _, p := range positions {
		total += p.CurrentValue
	}
	if total <= 0 {
		return nil
	}

	weights := make([]Weight, len(positions))
	for i, p := range positions {
		weights[i] = Weight{
			Market:   p.Market(),
			Weight:   p.CurrentValue / total,
			CurPrice: p.CurPrice,
		}
	}
	return weights
}

// ComputeTargets scales weights into per-market target allocations.
//
// copyPct (coverage knob) and maxTradePct (per-position concentration cap)
// are fractions in [0,1]. Each raw target weight*budget*copyPct is clipped
// to maxTradePct*budget. Input ordering is preserved.
func ComputeTargets(weights []Weight, budget, copyPct, maxTradePct float64) []types.TargetAllocation {
	maxPerMarket := maxTradePct * budget

	targets := make([]types.TargetAllocation, len(weights))
	for i, w := range weights {
		rawTarget := w.Weight * budget * copyPct
		targetUSD := rawTarget
		if targetUSD > maxPerMarket {
			targetUSD = maxPerMarket
		}
		targetShares := 0.0
		if w.CurPrice > 0 {
			targetShares = targetUSD / w.CurPrice
		}
		targets[i] = types.TargetAllocation{
			Market:         w.Market,
			TraderWeight:   w.Weight,
			TargetValueUSD: targetUSD,
			TargetShares:   targetShares,
			CurPrice:       w.CurPrice,
		}
	}
	return targets
}

// ComputeOrders diffs targets against effective holdings and produces the
// order sequence whose execution moves state toward the targets:
//
//   - All sells precede all buys; sell proceeds fund later buys.
//   - Buys below MinOrderUSD are dropped; sells have no minimum.
//   - Cumulative buy cost never exceeds budgetRemaining plus sell proceeds.
//     The first unaffordable buy is downsized to the remaining budget (if
//     the downsized cost still clears MinOrderUSD); later buys are dropped.
//
// Held assets absent from the target set are exited at the price from
// priceMap. A missing exit price skips that asset for the cycle; the price
// is never guessed.
// tag labels log lines with the target trader's short ID.
func ComputeOrders(
	targets []types.TargetAllocation,
	st *state.TradingState,
	budgetRemaining float64,
	priceMap map[string]float64,
	tag string,
	logger *slog.Logger,
) []types.SimulatedOrder {
	var sells, buys []types.SimulatedOrder

	targetAssets := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetAssets[t.Market.Asset] = true
	}

	// Diff each target against effective holdings (resting orders included,
	// so a prior cycle's unfilled order is never re-ordered).
	for _, target := range targets {
		held := st.EffectiveHeldShares(target.Market.Asset)
		diff := target.TargetShares - held

		if diff > 0 {
			cost := diff * target.CurPrice
			if cost >= MinOrderUSD {
				buys = append(buys, types.SimulatedOrder{
					Market:  target.Market,
					Side:    types.BUY,
					Shares:  diff,
					Price:   target.CurPrice,
					CostUSD: cost,
				})
			}
		} else if diff < 0 {
			sellShares := -diff
			sells = append(sells, types.SimulatedOrder{
				Market:  target.Market,
				Side:    types.SELL,
				Shares:  sellShares,
				Price:   target.CurPrice,
				CostUSD: sellShares * target.CurPrice,
			})
		}
	}

	// Exit holdings the trader no longer has. Sorted for stable output;
	// these are all sells so ordering cannot affect the budget math.
	exitAssets := make([]string, 0, len(st.Holdings))
	for asset, held := range st.Holdings {
		if !targetAssets[asset] && held.Shares > 0 {
			exitAssets = append(exitAssets, asset)
		}
	}
	sort.Strings(exitAssets)

	for _, asset := range exitAssets {
		held := st.Holdings[asset]
		effective := st.EffectiveHeldShares(asset)
		if effective <= 0 {
			// Already covered by a resting sell.
			continue
		}
		price, ok := priceMap[asset]
		if !ok {
			logger.Warn("no market price for exited asset, skipping sell",
				"trader", tag, "asset", asset, "title", held.Title)
			continue
		}
		reason := "trader exited"
		if price == 0 || price == 1 {
			reason = "resolved"
		}
		logger.Info("position exit",
			"trader", tag, "title", held.Title, "outcome", held.Outcome,
			"price", price, "reason", reason)
		sells = append(sells, types.SimulatedOrder{
			Market: types.MarketPosition{
				Asset:   asset,
				Title:   held.Title,
				Outcome: held.Outcome,
			},
			Side:    types.SELL,
			Shares:  effective,
			Price:   price,
			CostUSD: effective * price,
		})
	}

	// Sells first: each frees budget the buys may consume.
	orders := make([]types.SimulatedOrder, 0, len(sells)+len(buys))
	available := budgetRemaining
	for _, sell := range sells {
		available += sell.CostUSD
		orders = append(orders, sell)
	}

	for _, buy := range buys {
		if available < MinOrderUSD {
			break
		}
		if buy.CostUSD <= available {
			available -= buy.CostUSD
			orders = append(orders, buy)
			continue
		}
		// Downsize to what the remaining budget affords.
		affordableShares := available / buy.Price
		cost := affordableShares * buy.Price
		if cost >= MinOrderUSD {
			downsized := buy
			downsized.Shares = affordableShares
			downsized.CostUSD = cost
			orders = append(orders, downsized)
			available -= cost
		}
	}

	return orders
}
