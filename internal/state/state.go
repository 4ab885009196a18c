// Package state tracks the agent's trading state: holdings, cash budget,
// resting orders, and realized P&L.
//
// TradingState is owned exclusively by the control loop goroutine. The
// executor mutates it only through the reconciliation entry points, on the
// same goroutine, never during network I/O, so there is no locking here.
package state

import (
	"sort"

	"polymarket-copytrade/pkg/types"
)

// TradingState is the aggregate root for the agent's portfolio accounting.
//
// Budget invariant, maintained by every mutation:
//
//	budgetRemaining = initialBudget - totalSpent + totalSellProceeds - Σ restingBuy.costUsd
type TradingState struct {
	// Holdings maps asset token ID to the owned position. A position whose
	// shares drop to zero (or below) is removed from the map.
	Holdings map[string]types.HeldPosition

	// Resting holds orders accepted by the CLOB but not yet terminal.
	// Bounded by position count, so a slice is fine; no index needed.
	Resting []types.RestingOrder

	InitialBudget     float64
	BudgetRemaining   float64
	TotalSpent        float64
	TotalSellProceeds float64
	RealizedPnl       float64

	TotalEvents     uint64
	TotalOrders     uint64
	TotalBuyOrders  uint64
	TotalSellOrders uint64
}

// New creates an empty trading state with the full budget available.
func New(budget float64) *TradingState {
	return &TradingState{
		Holdings:        make(map[string]types.HeldPosition),
		InitialBudget:   budget,
		BudgetRemaining: budget,
	}
}

// SeedHolding loads a pre-existing on-exchange position at startup.
// The position's cost basis is charged against the budget so the engine
// treats it like capital already deployed.
func (s *TradingState) SeedHolding(pos types.Position) {
	totalCost := pos.Size * pos.AvgPrice
	s.Holdings[pos.Asset] = types.HeldPosition{
		Asset:     pos.Asset,
		Title:     pos.Title,
		Outcome:   pos.Outcome,
		Shares:    pos.Size,
		TotalCost: totalCost,
		AvgCost:   pos.AvgPrice,
	}
	s.BudgetRemaining -= totalCost
	s.TotalSpent += totalCost
}

// EffectiveCapital is the running budget: cash plus the current market value
// of holdings and resting buy orders. Missing prices fall back to the
// holding's average cost (or the resting order's limit price).
func (s *TradingState) EffectiveCapital(prices map[string]float64) float64 {
	capital := s.BudgetRemaining
	for asset, held := range s.Holdings {
		price, ok := prices[asset]
		if !ok {
			price = held.AvgCost
		}
		capital += held.Shares * price
	}
	for _, r := range s.Resting {
		if r.Side != types.BUY {
			continue
		}
		price, ok := prices[r.Asset]
		if !ok {
			price = r.Price
		}
		capital += r.Shares * price
	}
	return capital
}

// EffectiveHeldShares returns holdings adjusted by unfilled resting orders:
// held + restingBuys - restingSells. The allocation engine diffs against
// this, not raw holdings, so successive cycles cannot double-order while an
// order is still on the book.
func (s *TradingState) EffectiveHeldShares(asset string) float64 {
	shares := 0.0
	if held, ok := s.Holdings[asset]; ok {
		shares = held.Shares
	}
	for _, r := range s.Resting {
		if r.Asset != asset {
			continue
		}
		if r.Side == types.BUY {
			shares += r.Shares
		} else {
			shares -= r.Shares
		}
	}
	return shares
}

// AddRestingOrder tracks a resting order. For buys the order cost is
// reserved out of the remaining budget immediately.
func (s *TradingState) AddRestingOrder(order types.RestingOrder) {
	if order.Side == types.BUY {
		s.BudgetRemaining -= order.CostUSD
	}
	s.Resting = append(s.Resting, order)
}

// ResolveRestingFill moves a filled resting order into holdings. No-op if
// the order ID is not tracked.
//
// For buys the budget was already reserved at placement; only the difference
// between the reservation and the actual fill cost is settled here. For
// sells the proceeds are credited now and P&L realized against average cost.
func (s *TradingState) ResolveRestingFill(orderID string, filledShares, fillPrice float64) {
	idx := s.findResting(orderID)
	if idx < 0 {
		return
	}
	resting := s.Resting[idx]
	s.Resting = append(s.Resting[:idx], s.Resting[idx+1:]...)

	filledCost := filledShares * fillPrice

	switch resting.Side {
	case types.BUY:
		// Return over-reservation (or charge under-reservation).
		s.BudgetRemaining += resting.CostUSD - filledCost
		s.TotalSpent += filledCost
		s.TotalBuyOrders++

		held, ok := s.Holdings[resting.Asset]
		if !ok {
			held = types.HeldPosition{
				Asset:   resting.Asset,
				Title:   resting.Title,
				Outcome: resting.Outcome,
			}
		}
		held.Shares += filledShares
		held.TotalCost += filledCost
		if held.Shares > 0 {
			held.AvgCost = held.TotalCost / held.Shares
		} else {
			held.AvgCost = 0
		}
		s.Holdings[resting.Asset] = held

	case types.SELL:
		s.BudgetRemaining += filledCost
		s.TotalSellProceeds += filledCost
		s.TotalSellOrders++

		if held, ok := s.Holdings[resting.Asset]; ok {
			s.RealizedPnl += (fillPrice - held.AvgCost) * filledShares
			held.Shares -= filledShares
			held.TotalCost -= held.AvgCost * filledShares
			if held.Shares <= 0 {
				delete(s.Holdings, resting.Asset)
			} else {
				s.Holdings[resting.Asset] = held
			}
		}
	}
	s.TotalOrders++
}

// ResolveRestingCancel drops a resting order that was cancelled without
// filling, refunding the reservation for buys. No-op if not tracked.
func (s *TradingState) ResolveRestingCancel(orderID string) {
	idx := s.findResting(orderID)
	if idx < 0 {
		return
	}
	resting := s.Resting[idx]
	s.Resting = append(s.Resting[:idx], s.Resting[idx+1:]...)
	if resting.Side == types.BUY {
		s.BudgetRemaining += resting.CostUSD
	}
}

func (s *TradingState) findResting(orderID string) int {
	for i, r := range s.Resting {
		if r.OrderID == orderID {
			return i
		}
	}
	return -1
}

// ApplyOrders applies simulated orders as if each filled immediately at its
// stated price. This is the dry-run fill path and the inner routine of
// ApplyExecutionResults.
func (s *TradingState) ApplyOrders(orders []types.SimulatedOrder) {
	for _, order := range orders {
		switch order.Side {
		case types.BUY:
			s.BudgetRemaining -= order.CostUSD
			s.TotalSpent += order.CostUSD
			s.TotalBuyOrders++

			held, ok := s.Holdings[order.Market.Asset]
			if !ok {
				held = types.HeldPosition{
					Asset:   order.Market.Asset,
					Title:   order.Market.Title,
					Outcome: order.Market.Outcome,
				}
			}
			held.Shares += order.Shares
			held.TotalCost += order.CostUSD
			if held.Shares > 0 {
				held.AvgCost = held.TotalCost / held.Shares
			} else {
				held.AvgCost = 0
			}
			s.Holdings[order.Market.Asset] = held

		case types.SELL:
			s.BudgetRemaining += order.CostUSD
			s.TotalSellProceeds += order.CostUSD
			s.TotalSellOrders++

			if held, ok := s.Holdings[order.Market.Asset]; ok {
				s.RealizedPnl += (order.Price - held.AvgCost) * order.Shares
				held.Shares -= order.Shares
				held.TotalCost -= held.AvgCost * order.Shares
				if held.Shares <= 0 {
					delete(s.Holdings, order.Market.Asset)
				} else {
					s.Holdings[order.Market.Asset] = held
				}
			}
		}
		s.TotalOrders++
	}
}

// ApplyExecutionResults reconciles live execution results back into state.
//
//   - Filled / PartialFill: the filled portion is applied as an immediate
//     fill at the effective price (filledCost / filledShares).
//   - PartialFill additionally tracks the unfilled remainder as a resting
//     order at the original intended price.
//   - Resting: the whole order is tracked as resting.
//   - Failed / Skipped: no state change.
func (s *TradingState) ApplyExecutionResults(orders []types.SimulatedOrder, results []types.ExecutionResult) {
	var filled []types.SimulatedOrder
	for _, res := range results {
		if res.Status != types.ExecFilled && res.Status != types.ExecPartialFill {
			continue
		}
		if res.OrderIndex < 0 || res.OrderIndex >= len(orders) {
			continue
		}
		original := orders[res.OrderIndex]
		price := original.Price
		if res.FilledShares > 0 {
			price = res.FilledCostUSD / res.FilledShares
		}
		filled = append(filled, types.SimulatedOrder{
			Market:  original.Market,
			Side:    original.Side,
			Shares:  res.FilledShares,
			Price:   price,
			CostUSD: res.FilledCostUSD,
		})
	}
	s.ApplyOrders(filled)

	for _, res := range results {
		if res.OrderIndex < 0 || res.OrderIndex >= len(orders) {
			continue
		}
		original := orders[res.OrderIndex]
		switch res.Status {
		case types.ExecResting:
			s.AddRestingOrder(types.RestingOrder{
				OrderID: res.OrderID,
				Asset:   original.Market.Asset,
				Title:   original.Market.Title,
				Outcome: original.Market.Outcome,
				Side:    original.Side,
				Shares:  original.Shares,
				Price:   original.Price,
				CostUSD: original.CostUSD,
			})
		case types.ExecPartialFill:
			remaining := original.Shares - res.FilledShares
			if remaining > 0 && res.OrderID != "" {
				s.AddRestingOrder(types.RestingOrder{
					OrderID: res.OrderID,
					Asset:   original.Market.Asset,
					Title:   original.Market.Title,
					Outcome: original.Market.Outcome,
					Side:    original.Side,
					Shares:  remaining,
					Price:   original.Price,
					CostUSD: remaining * original.Price,
				})
			}
		}
	}
}

// ExitSummary computes the final accounting. latestPrices maps asset to
// current price; missing prices value the holding at zero (worthless at
// exit) rather than guessing.
func (s *TradingState) ExitSummary(latestPrices map[string]float64) types.ExitSummary {
	assets := make([]string, 0, len(s.Holdings))
	for asset := range s.Holdings {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	var holdings []types.HoldingSummary
	unrealized := 0.0

	for _, asset := range assets {
		held := s.Holdings[asset]
		curPrice := latestPrices[asset]
		positionUnrealized := (curPrice - held.AvgCost) * held.Shares
		unrealized += positionUnrealized
		holdings = append(holdings, types.HoldingSummary{
			Asset:         held.Asset,
			Title:         held.Title,
			Outcome:       held.Outcome,
			Shares:        held.Shares,
			AvgCost:       held.AvgCost,
			CurPrice:      curPrice,
			CurrentValue:  held.Shares * curPrice,
			UnrealizedPnl: positionUnrealized,
		})
	}

	totalPnl := s.RealizedPnl + unrealized
	pnlPercent := 0.0
	if s.InitialBudget > 0 {
		pnlPercent = totalPnl / s.InitialBudget * 100
	}

	return types.ExitSummary{
		InitialBudget:     s.InitialBudget,
		BudgetRemaining:   s.BudgetRemaining,
		TotalSpent:        s.TotalSpent,
		TotalSellProceeds: s.TotalSellProceeds,
		RealizedPnl:       s.RealizedPnl,
		UnrealizedPnl:     unrealized,
		TotalPnl:          totalPnl,
		PnlPercent:        pnlPercent,
		TotalEvents:       s.TotalEvents,
		TotalOrders:       s.TotalOrders,
		TotalBuyOrders:    s.TotalBuyOrders,
		TotalSellOrders:   s.TotalSellOrders,
		Holdings:          holdings,
	}
}
