package monitor

import (
	"math"
	"strings"

	"github.com/Rajchodisetti/commander/internal/pipeline"
)

// Exit-policy trigger reasons.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
)

// Observe converts the selected candidate into at most one order intent,
// optionally overridden by the exit policy, and classifies the latest broker
// order-status observation. An exit trigger on a held position replaces any
// entry intent with a single SELL for the full held quantity.
func Observe(st *pipeline.RunState) {
	st.Intents = nil
	summary := &pipeline.MonitorSummary{}

	if st.Selected != nil {
		if intent := buildEntryIntent(st); intent != nil {
			st.Intents = []pipeline.Intent{*intent}
		}
		if st.Policy.ExitPolicyEnabled {
			if exit, reason := exitIntent(st); exit != nil {
				st.Intents = []pipeline.Intent{*exit}
				summary.ExitReason = reason
			}
		}
	}

	summary.IntentCount = len(st.Intents)
	summary.Order = classifyOrder(st.OrderStatus)
	st.MonitorSummary = summary
}

func buildEntryIntent(st *pipeline.RunState) *pipeline.Intent {
	sym := st.Selected.Symbol
	qty := 1
	if st.Policy.SizingEnabled {
		qty = SizePosition(st.Quotes[sym], st.Cash, st.Policy)
		if qty <= 0 {
			// zero-quantity intents are never emitted
			return nil
		}
	}
	return &pipeline.Intent{
		Symbol: sym,
		Side:   "BUY",
		Qty:    qty,
		Thesis: "scanner_top_pick",
		Risk: &pipeline.RiskInfo{
			RiskScore:  st.Selected.RiskScore,
			Confidence: st.Selected.Confidence,
		},
	}
}

// SizePosition computes an entry quantity from a risk budget: cash at risk per
// trade divided by the per-share stop distance, capped by a notional ratio and
// a hard max, floored to the lot size, and zeroed below the minimum.
func SizePosition(price, cash float64, pol pipeline.Policy) int {
	if price <= 0 || cash <= 0 {
		return 0
	}
	stopPct := pol.StopLossPct
	if stopPct <= 0 {
		stopPct = 0.02
	}
	riskRatio := pol.RiskPerTradeRatio
	if riskRatio <= 0 {
		riskRatio = 0.01
	}

	qty := int(math.Floor(cash * riskRatio / (price * stopPct)))

	if pol.PositionNotionalRatio > 0 {
		if cap := int(math.Floor(cash * pol.PositionNotionalRatio / price)); cap < qty {
			qty = cap
		}
	}
	if pol.MaxPositionQty > 0 && qty > pol.MaxPositionQty {
		qty = pol.MaxPositionQty
	}
	if pol.LotSize > 1 {
		qty -= qty % pol.LotSize
	}
	if qty < pol.MinPositionQty || qty < 0 {
		return 0
	}
	return qty
}

// exitIntent checks the held position of the selected symbol against the
// stop-loss/take-profit thresholds on its unrealized P&L ratio.
func exitIntent(st *pipeline.RunState) (*pipeline.Intent, string) {
	pos, ok := st.Positions[st.Selected.Symbol]
	if !ok || pos.Qty <= 0 || pos.AvgEntryPrice <= 0 {
		return nil, ""
	}
	last := pos.LastPrice
	if q := st.Quotes[st.Selected.Symbol]; q > 0 {
		last = q
	}
	if last <= 0 {
		return nil, ""
	}

	pnl := last/pos.AvgEntryPrice - 1
	reason := ""
	switch {
	case st.Policy.StopLossPct > 0 && pnl <= -st.Policy.StopLossPct:
		reason = ExitStopLoss
	case st.Policy.TakeProfitPct > 0 && pnl >= st.Policy.TakeProfitPct:
		reason = ExitTakeProfit
	default:
		return nil, ""
	}

	return &pipeline.Intent{
		Symbol: st.Selected.Symbol,
		Side:   "SELL",
		Qty:    pos.Qty,
		Thesis: reason,
		Meta:   map[string]any{"pnl_ratio": pnl, "exit_reason": reason},
	}, reason
}

// classifyOrder derives the lifecycle view from the latest order-status
// observation: explicit status keywords first, fill ratio second.
func classifyOrder(os *pipeline.OrderStatus) *pipeline.OrderView {
	if os == nil {
		return nil
	}
	status := strings.ToLower(strings.TrimSpace(os.Status))

	switch {
	case strings.Contains(status, "partial"):
		return &pipeline.OrderView{Stage: pipeline.StagePartialFill, Progress: fillRatio(os)}
	case strings.Contains(status, "fill"):
		return &pipeline.OrderView{Stage: pipeline.StageFilled, Terminal: true, Progress: 1}
	case strings.Contains(status, "cancel"):
		return &pipeline.OrderView{Stage: pipeline.StageCancelled, Terminal: true, Progress: fillRatio(os)}
	case strings.Contains(status, "reject"):
		return &pipeline.OrderView{Stage: pipeline.StageRejected, Terminal: true}
	case status == "new" || status == "open" || status == "accepted" || status == "working":
		return &pipeline.OrderView{Stage: pipeline.StageWorking, Progress: fillRatio(os)}
	}

	// No recognized keyword; fall back to fill quantity vs order quantity.
	if os.OrderQty > 0 {
		r := fillRatio(os)
		switch {
		case r >= 1:
			return &pipeline.OrderView{Stage: pipeline.StageFilled, Terminal: true, Progress: 1}
		case r > 0:
			return &pipeline.OrderView{Stage: pipeline.StagePartialFill, Progress: r}
		default:
			return &pipeline.OrderView{Stage: pipeline.StageWorking}
		}
	}
	return &pipeline.OrderView{Stage: pipeline.StageUnknown}
}

func fillRatio(os *pipeline.OrderStatus) float64 {
	if os.OrderQty <= 0 {
		return 0
	}
	r := os.FilledQty / os.OrderQty
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
