package spine

import (
	"context"
	"errors"
	"testing"

	"github.com/Rajchodisetti/commander/internal/pipeline"
)

type fixedStrategist struct {
	symbols []string
	base    map[string]pipeline.BaseScore
	err     error
}

func (f *fixedStrategist) Propose(_ context.Context, st *pipeline.RunState) error {
	if f.err != nil {
		return f.err
	}
	st.Symbols = f.symbols
	st.BaseOverrides = f.base
	return nil
}

type fakeSkills struct {
	quotes     map[string]float64
	openOrders map[string]any
	calls      int
}

func (f *fakeSkills) Run(_ context.Context, runID, skill string, args map[string]any) (map[string]any, error) {
	f.calls++
	switch skill {
	case "market_quote":
		sym, _ := args["symbol"].(string)
		if price, ok := f.quotes[sym]; ok {
			return map[string]any{"status": "ready", "data": map[string]any{"price": price}}, nil
		}
		return map[string]any{"status": "error", "message": "no quote"}, nil
	case "account_orders":
		return map[string]any{"status": "ready", "data": map[string]any{"open_orders": f.openOrders}}, nil
	}
	return map[string]any{"status": "error", "message": "unknown skill"}, nil
}

func TestRunApprovesAndCallsExecutor(t *testing.T) {
	executed := false
	n := Nodes{
		Strategist: &fixedStrategist{
			symbols: []string{"AAPL"},
			base:    map[string]pipeline.BaseScore{"AAPL": {Score: 0.6, RiskScore: 0.2, Confidence: 0.9}},
		},
		Executor: func(_ context.Context, st *pipeline.RunState) error {
			executed = true
			return nil
		},
	}
	st := &pipeline.RunState{RunID: "run-1"}
	if err := Run(context.Background(), st, n); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Decision != "approve" {
		t.Fatalf("want approve, got %s/%s", st.Decision, st.DecisionReason)
	}
	if !executed {
		t.Fatal("approve must reach the executor")
	}
}

func TestRunSkipsExecutorUnlessApproved(t *testing.T) {
	executed := false
	n := Nodes{
		Strategist: &fixedStrategist{
			symbols: []string{"AAPL"},
			base:    map[string]pipeline.BaseScore{"AAPL": {Score: 0.6, RiskScore: 0.9, Confidence: 0.9}},
		},
		Executor: func(_ context.Context, st *pipeline.RunState) error {
			executed = true
			return nil
		},
	}
	st := &pipeline.RunState{RunID: "run-1"}
	if err := Run(context.Background(), st, n); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Decision != "reject" || executed {
		t.Fatalf("reject must not execute: decision=%s executed=%v", st.Decision, executed)
	}
}

func TestRetryLoopBoundedByDecisionPolicy(t *testing.T) {
	n := Nodes{
		Strategist: &fixedStrategist{
			symbols: []string{"AAPL"},
			base:    map[string]pipeline.BaseScore{"AAPL": {Score: 0.6, RiskScore: 0.2, Confidence: 0.1}},
		},
	}
	st := &pipeline.RunState{
		RunID:  "run-1",
		Policy: pipeline.Policy{MaxScanRetries: 3},
	}
	if err := Run(context.Background(), st, n); err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.ScanRetries != 3 {
		t.Fatalf("loop must stop at the policy bound, got %d retries", st.ScanRetries)
	}
	if st.Decision != "reject" || st.DecisionReason != "low_confidence_reject" {
		t.Fatalf("want terminal reject, got %s/%s", st.Decision, st.DecisionReason)
	}
}

func TestStrategistErrorPropagates(t *testing.T) {
	boom := errors.New("universe service down")
	st := &pipeline.RunState{RunID: "run-1"}
	err := Run(context.Background(), st, Nodes{Strategist: &fixedStrategist{err: boom}})
	if !errors.Is(err, boom) {
		t.Fatalf("want strategist error propagated, got %v", err)
	}
}

func TestHydratePopulatesQuotesAndOpenOrders(t *testing.T) {
	sk := &fakeSkills{
		quotes:     map[string]float64{"AAPL": 187.5},
		openOrders: map[string]any{"AAPL": 2.0, "MSFT": 1.0},
	}
	st := &pipeline.RunState{RunID: "run-1", Symbols: []string{"AAPL", "MSFT"}}

	Hydrate(context.Background(), st, sk)

	if st.Quotes["AAPL"] != 187.5 {
		t.Fatalf("quote not hydrated: %+v", st.Quotes)
	}
	if _, ok := st.Quotes["MSFT"]; ok {
		t.Fatalf("failed quote lookup must not fake a price: %+v", st.Quotes)
	}
	if st.OpenOrders["AAPL"] != 2 || st.OpenOrders["MSFT"] != 1 {
		t.Fatalf("open orders not hydrated: %+v", st.OpenOrders)
	}
	if _, ok := st.SkillResults["market_quote:MSFT"]; !ok {
		t.Fatal("skill failures must be recorded, not dropped")
	}
}

func TestHydrateWithoutRunnerIsNoOp(t *testing.T) {
	st := &pipeline.RunState{RunID: "run-1", Symbols: []string{"AAPL"}}
	Hydrate(context.Background(), st, nil)
	if st.Quotes != nil || st.SkillResults != nil {
		t.Fatalf("nil runner must leave state untouched: %+v", st)
	}
}
