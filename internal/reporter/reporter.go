// Package reporter emits the agent's machine-readable output stream.
//
// Events go to stdout as one JSON object per line so downstream tooling can
// consume them with a line reader; all human-oriented logging goes to stderr
// via slog and never mixes with this stream.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"polymarket-copytrade/pkg/types"
)

// Reporter writes copytrade events and the final exit summary.
type Reporter struct {
	out    io.Writer
	logger *slog.Logger
}

// New creates a reporter writing to out (normally os.Stdout).
func New(out io.Writer, logger *slog.Logger) *Reporter {
	return &Reporter{
		out:    out,
		logger: logger.With("component", "reporter"),
	}
}

// Event emits one rebalancing cycle as a JSON line. The timestamp is set
// here so callers never have to.
func (r *Reporter) Event(event types.CopytradeEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)

	line, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("marshal event", "error", err)
		return
	}
	fmt.Fprintln(r.out, string(line))
}

// ExitSummary emits the final accounting, JSON line first, then a
// human-readable block for terminal users.
func (r *Reporter) ExitSummary(summary types.ExitSummary) {
	line, err := json.Marshal(summary)
	if err != nil {
		r.logger.Error("marshal exit summary", "error", err)
		return
	}
	fmt.Fprintln(r.out, string(line))

	var b strings.Builder
	b.WriteString("\n=== Exit Summary ===\n")
	fmt.Fprintf(&b, "Initial budget:     $%.2f\n", summary.InitialBudget)
	fmt.Fprintf(&b, "Budget remaining:   $%.2f\n", summary.BudgetRemaining)
	fmt.Fprintf(&b, "Total spent:        $%.2f\n", summary.TotalSpent)
	fmt.Fprintf(&b, "Sell proceeds:      $%.2f\n", summary.TotalSellProceeds)
	fmt.Fprintf(&b, "Realized P&L:       $%+.2f\n", summary.RealizedPnl)
	fmt.Fprintf(&b, "Unrealized P&L:     $%+.2f\n", summary.UnrealizedPnl)
	fmt.Fprintf(&b, "Total P&L:          $%+.2f (%+.2f%%)\n", summary.TotalPnl, summary.PnlPercent)
	fmt.Fprintf(&b, "Events: %d  Orders: %d (%d buys, %d sells)\n",
		summary.TotalEvents, summary.TotalOrders, summary.TotalBuyOrders, summary.TotalSellOrders)

	if len(summary.Holdings) > 0 {
		b.WriteString("Open holdings:\n")
		for _, h := range summary.Holdings {
			fmt.Fprintf(&b, "  %-40s %-5s %8.2f sh @ $%.2f avg, now $%.2f ($%+.2f)\n",
				truncate(h.Title, 40), h.Outcome, h.Shares, h.AvgCost, h.CurPrice, h.UnrealizedPnl)
		}
	}

	fmt.Fprint(r.out, b.String())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
