package execution

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Rajchodisetti/commander/internal/eventlog"
	"github.com/Rajchodisetti/commander/internal/observ"
	"github.com/Rajchodisetti/commander/internal/pipeline"
)

// Supervisor issues the allow/deny verdict on a proposed action.
type Supervisor interface {
	Allow(action string, context map[string]any) (bool, string)
}

// Executor places the actual order request.
type Executor interface {
	Execute(req map[string]any) (map[string]any, error)
}

// Execution modes. Mock bypasses the Supervisor verdict entirely; real must
// honor it.
const (
	ModeMock = "mock"
	ModeReal = "real"
)

// Degrade-policy block reasons, in check order.
const (
	BlockManualApproval   = "degrade_manual_approval_required"
	BlockAllowlistMissing = "degrade_allowlist_missing"
	BlockSymbolNotAllowed = "degrade_symbol_not_allowed"
	BlockPriceUnparsable  = "degrade_price_unparsable"
	BlockNotionalExceeded = "degrade_notional_exceeded"
)

// DefaultDegradeNotionalRatio tightens the notional cap while degraded.
const DefaultDegradeNotionalRatio = 0.25

// Options carries the environment-level execution settings; per-run policy
// fields override where both exist.
type Options struct {
	Mode                 string
	SymbolAllowlist      []string
	MaxOrderNotional     float64
	DegradeNotionalRatio float64
}

// Gate runs the safe-degrade policy in front of the Supervisor/Executor pair.
type Gate struct {
	Log        *eventlog.Logger
	Supervisor Supervisor
	Executor   Executor
	Opts       Options
}

// ExecuteFromPacket gates and executes the decision packet on the state. The
// returned verdict is immutable; degrade blocks are verdicts, not errors.
func (g *Gate) ExecuteFromPacket(ctx context.Context, st *pipeline.RunState) (*pipeline.Verdict, error) {
	if st.Packet == nil {
		return nil, fmt.Errorf("no decision packet on run %s", st.RunID)
	}
	intent := st.Packet.Intent
	g.emit(st, "start", map[string]any{
		"symbol": intent.Symbol, "side": intent.Side, "qty": intent.Qty,
		"degrade_mode": st.Resilience.DegradeMode,
	})

	if st.Resilience.DegradeMode {
		if reason := g.degradeBlock(st); reason != "" {
			observ.IncCounter("degrade_blocks_total", map[string]string{"reason": reason})
			g.emit(st, "degrade_policy_block", map[string]any{"reason": reason, "symbol": intent.Symbol})
			v := &pipeline.Verdict{Allowed: false, Reason: reason}
			st.ExecResult = v
			g.emit(st, "end", map[string]any{"allowed": false, "reason": reason})
			return v, nil
		}
	}

	mode := strings.ToLower(strings.TrimSpace(g.Opts.Mode))
	if mode == "" {
		mode = ModeMock
	}
	if mode == ModeReal {
		if g.Supervisor == nil {
			v := &pipeline.Verdict{Allowed: false, Reason: "supervisor_missing"}
			st.ExecResult = v
			g.emit(st, "verdict", map[string]any{"allowed": false, "reason": v.Reason})
			g.emit(st, "end", map[string]any{"allowed": false, "reason": v.Reason})
			return v, nil
		}
		allowed, reason := g.Supervisor.Allow("execute_order", map[string]any{
			"run_id": st.RunID, "symbol": intent.Symbol, "side": intent.Side, "qty": intent.Qty,
		})
		g.emit(st, "verdict", map[string]any{"allowed": allowed, "reason": reason})
		if !allowed {
			v := &pipeline.Verdict{Allowed: false, Reason: reason}
			st.ExecResult = v
			g.emit(st, "end", map[string]any{"allowed": false, "reason": reason})
			return v, nil
		}
	}

	if g.Executor == nil {
		err := fmt.Errorf("executor not configured for run %s", st.RunID)
		g.emit(st, "error", map[string]any{"error": err.Error()})
		return nil, err
	}

	req := map[string]any{
		"run_id": st.RunID,
		"symbol": intent.Symbol,
		"side":   intent.Side,
		"qty":    intent.Qty,
	}
	if price, ok := st.Packet.ExecContext["price"]; ok {
		req["price"] = price
	}

	payload, err := g.Executor.Execute(req)
	if err != nil {
		g.emit(st, "error", map[string]any{"error": err.Error()})
		return nil, err
	}
	g.emit(st, "execution", map[string]any{"order": req, "payload": payload})

	v := &pipeline.Verdict{Allowed: true, Reason: "executed", Order: req, Payload: payload}
	st.ExecResult = v
	g.emit(st, "end", map[string]any{"allowed": true, "reason": v.Reason})
	return v, nil
}

// degradeBlock applies the safe-degrade checks in order, returning the first
// failing reason or "" when every check passes.
func (g *Gate) degradeBlock(st *pipeline.RunState) string {
	if !manualApproval(st.Packet.ExecContext) {
		return BlockManualApproval
	}
	if len(g.Opts.SymbolAllowlist) == 0 {
		return BlockAllowlistMissing
	}
	if sym := st.Packet.Intent.Symbol; sym != "" && !inList(g.Opts.SymbolAllowlist, sym) {
		return BlockSymbolNotAllowed
	}
	if g.Opts.MaxOrderNotional > 0 {
		ratio := notionalRatio(st.Policy.DegradeNotionalRatio, g.Opts.DegradeNotionalRatio)
		price, ok := parsePrice(st.Packet.ExecContext["price"])
		if !ok {
			return BlockPriceUnparsable
		}
		cap := math.Floor(g.Opts.MaxOrderNotional * ratio)
		if float64(st.Packet.Intent.Qty)*price > cap {
			return BlockNotionalExceeded
		}
	}
	return ""
}

// manualApproval accepts the equivalent operator signals legacy packets used.
func manualApproval(execCtx map[string]any) bool {
	for _, key := range []string{"manual_approval", "manual_ok", "operator_ack"} {
		if truthy(execCtx[key]) {
			return true
		}
	}
	if by, _ := execCtx["approved_by"].(string); strings.TrimSpace(by) != "" {
		return true
	}
	return false
}

// notionalRatio resolves the degrade ratio: policy wins over environment,
// each independently clamped to (0, 1].
func notionalRatio(policy, env float64) float64 {
	ratio := clampRatio(policy)
	if ratio == 0 {
		ratio = clampRatio(env)
	}
	if ratio == 0 {
		ratio = DefaultDegradeNotionalRatio
	}
	return ratio
}

func clampRatio(r float64) float64 {
	if r <= 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func parsePrice(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if t > 0 {
			return t, true
		}
	case int:
		if t > 0 {
			return float64(t), true
		}
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil && f > 0 {
			return f, true
		}
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

func inList(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func (g *Gate) emit(st *pipeline.RunState, event string, payload map[string]any) {
	if g.Log == nil {
		return
	}
	if err := g.Log.Append(st.RunID, eventlog.StageExecuteFromPacket, event, payload); err != nil {
		observ.IncCounter("eventlog_append_errors_total", map[string]string{"stage": eventlog.StageExecuteFromPacket})
	}
}
