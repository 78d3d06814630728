package spine

import (
	"context"

	"github.com/Rajchodisetti/commander/internal/decision"
	"github.com/Rajchodisetti/commander/internal/monitor"
	"github.com/Rajchodisetti/commander/internal/pipeline"
	"github.com/Rajchodisetti/commander/internal/scanner"
	"github.com/Rajchodisetti/commander/internal/skills"
)

// Strategist is the external candidate-generation collaborator. It fills
// Symbols (and optionally candles/sentiment) on the run state.
type Strategist interface {
	Propose(ctx context.Context, st *pipeline.RunState) error
}

// Executor is the post-approve collaborator stub the spine hands control to.
type Executor func(ctx context.Context, st *pipeline.RunState) error

// Nodes wires the external collaborators into one spine run.
type Nodes struct {
	Strategist Strategist
	Skills     skills.Runner
	Executor   Executor
}

// Run executes Strategist once, then loops hydrate?->Scanner->Monitor->Decision
// while the decision is retry_scan. The loop bound lives in the decision
// node's retry counter, not here. On approve the Executor runs, if present.
func Run(ctx context.Context, st *pipeline.RunState, n Nodes) error {
	if n.Strategist != nil {
		if err := n.Strategist.Propose(ctx, st); err != nil {
			return err
		}
	}

	for {
		if st.Hydrate || n.Skills != nil {
			Hydrate(ctx, st, n.Skills)
		}
		scanner.Scan(st)
		monitor.Observe(st)
		if action, _ := decision.Decide(st); action != decision.ActionRetryScan {
			break
		}
	}

	if st.Decision == decision.ActionApprove && n.Executor != nil {
		return n.Executor(ctx, st)
	}
	return nil
}

// Hydrate pulls live quotes and open-order counts through the skill runner
// before a scanner pass. Skill failures are recorded, never fatal; a scan on
// stale inputs beats no scan.
func Hydrate(ctx context.Context, st *pipeline.RunState, runner skills.Runner) {
	if runner == nil {
		return
	}
	if st.SkillResults == nil {
		st.SkillResults = map[string]any{}
	}

	for _, sym := range st.Symbols {
		data, err := runSkill(ctx, runner, st.RunID, skills.SkillMarketQuote, map[string]any{"symbol": sym})
		if err != nil {
			st.SkillResults["market_quote:"+sym] = map[string]any{"error": err.Error()}
			continue
		}
		st.SkillResults["market_quote:"+sym] = data
		if price, ok := toFloat(data["price"]); ok && price > 0 {
			if st.Quotes == nil {
				st.Quotes = map[string]float64{}
			}
			st.Quotes[sym] = price
		}
	}

	data, err := runSkill(ctx, runner, st.RunID, skills.SkillAccountOrders, nil)
	if err != nil {
		st.SkillResults["account_orders"] = map[string]any{"error": err.Error()}
		return
	}
	st.SkillResults["account_orders"] = data
	if counts, ok := data["open_orders"].(map[string]any); ok {
		if st.OpenOrders == nil {
			st.OpenOrders = map[string]int{}
		}
		for sym, v := range counts {
			if n, ok := toFloat(v); ok {
				st.OpenOrders[sym] = int(n)
			}
		}
	}
}

func runSkill(ctx context.Context, runner skills.Runner, runID, skill string, args map[string]any) (map[string]any, error) {
	payload, err := runner.Run(ctx, runID, skill, args)
	if err != nil {
		return nil, err
	}
	return skills.Unwrap(payload)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
