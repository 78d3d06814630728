package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Rajchodisetti/commander/internal/commander"
	"github.com/Rajchodisetti/commander/internal/config"
	"github.com/Rajchodisetti/commander/internal/eventlog"
	"github.com/Rajchodisetti/commander/internal/execution"
	"github.com/Rajchodisetti/commander/internal/observ"
	"github.com/Rajchodisetti/commander/internal/pipeline"
	"github.com/Rajchodisetti/commander/internal/resilience"
)

// staticStrategist proposes a fixed symbol universe; the real strategist is an
// external collaborator.
type staticStrategist struct {
	symbols []string
}

func (s *staticStrategist) Propose(_ context.Context, st *pipeline.RunState) error {
	if len(st.Symbols) == 0 {
		st.Symbols = s.symbols
	}
	return nil
}

// recordingExecutor is the graph-spine post-approve stub: it records the
// approved intent instead of reaching a broker.
func recordingExecutor(_ context.Context, st *pipeline.RunState) error {
	if len(st.Intents) == 0 {
		return nil
	}
	st.GuardSummary = map[string]any{
		"allowed": true,
		"reason":  "graph_spine_stub",
		"symbol":  st.Intents[0].Symbol,
	}
	return nil
}

type mockExecutor struct{}

func (mockExecutor) Execute(req map[string]any) (map[string]any, error) {
	return map[string]any{"status": "accepted", "order": req}, nil
}

func main() {
	var (
		configPath = flag.String("config", "config/commander.yaml", "path to yaml config")
		mode       = flag.String("mode", "", "explicit run mode (bypasses state/env resolution)")
		control    = flag.String("control", "", "runtime control: retry|pause|cancel|resume")
		symbols    = flag.String("symbols", "AAPL,MSFT,NVDA", "comma-separated symbol universe")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("load config: %v", err)
		}
		cfg = config.Root{Runtime: config.FromEnv()}
	}

	logPath := cfg.Runtime.EventLogPath
	if logPath == "" {
		logPath = "data/events.jsonl"
	}
	journal, err := eventlog.New(logPath)
	if err != nil {
		log.Fatalf("open event log: %v", err)
	}

	var store resilience.Store
	if cfg.Runtime.ResilienceStatePath != "" {
		store = resilience.NewFileStore(cfg.Runtime.ResilienceStatePath)
	}

	rt := &commander.Runtime{
		Cfg:        cfg.Runtime,
		Log:        journal,
		Store:      store,
		Strategist: &staticStrategist{symbols: config.SplitList(*symbols)},
		Executor:   recordingExecutor,
		Gate: &execution.Gate{
			Log:      journal,
			Executor: mockExecutor{},
			Opts: execution.Options{
				Mode:                 cfg.Runtime.ExecutionMode,
				SymbolAllowlist:      cfg.Runtime.SymbolAllowlist,
				MaxOrderNotional:     cfg.Runtime.MaxOrderNotional,
				DegradeNotionalRatio: cfg.Runtime.DegradeNotionalRatio,
			},
		},
	}

	st := &pipeline.RunState{
		Policy:  cfg.Policy,
		Control: *control,
	}

	final, err := rt.Run(context.Background(), st, *mode)
	if err != nil {
		observ.Log("run_failed", map[string]any{"run_id": final.RunID, "error": err.Error()})
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"run_id":     final.RunID,
		"status":     final.Status,
		"decision":   final.Decision,
		"reason":     final.DecisionReason,
		"intents":    final.Intents,
		"resilience": final.Resilience,
	}, "", "  ")
	fmt.Println(string(out))
}
