package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commander.yaml")
	body := `
runtime:
  mode: integrated_chain
  allow_decision_packet: true
  incident_threshold: 3
  cooldown_sec: 300
  execution_mode: real
  symbol_allowlist: [AAPL, MSFT]
  max_order_notional: 50000
  degrade_notional_ratio: 0.2
  event_log_path: data/events.jsonl
policy:
  min_confidence: 0.65
  max_risk: 0.8
  max_scan_retries: 2
  weight_news: 0.2
  stop_loss_pct: 0.05
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Runtime.Mode != "integrated_chain" || !c.Runtime.AllowDecisionPacket {
		t.Fatalf("runtime misparsed: %+v", c.Runtime)
	}
	if c.Runtime.IncidentThreshold != 3 || c.Runtime.CooldownSec != 300 {
		t.Fatalf("resilience knobs misparsed: %+v", c.Runtime)
	}
	if len(c.Runtime.SymbolAllowlist) != 2 || c.Runtime.SymbolAllowlist[0] != "AAPL" {
		t.Fatalf("allowlist misparsed: %+v", c.Runtime.SymbolAllowlist)
	}
	if c.Policy.MinConfidence != 0.65 || c.Policy.MaxScanRetries != 2 || c.Policy.WeightNews != 0.2 {
		t.Fatalf("policy misparsed: %+v", c.Policy)
	}
}

func TestEnvFallbackUnderFileValues(t *testing.T) {
	t.Setenv("COMMANDER_RUNTIME_MODE", "decision_packet")
	t.Setenv("COMMANDER_INCIDENT_THRESHOLD", "5")
	t.Setenv("COMMANDER_COOLDOWN_SEC", "not-a-number") // silently 0
	t.Setenv("COMMANDER_SYMBOL_ALLOWLIST", "NVDA, AMD ,")
	t.Setenv("COMMANDER_ALLOW_DECISION_PACKET", "yes")

	path := filepath.Join(t.TempDir(), "commander.yaml")
	if err := os.WriteFile(path, []byte("runtime:\n  incident_threshold: 2\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Runtime.IncidentThreshold != 2 {
		t.Fatalf("file value must win over env, got %d", c.Runtime.IncidentThreshold)
	}
	if c.Runtime.Mode != "decision_packet" || !c.Runtime.AllowDecisionPacket {
		t.Fatalf("env must fill unset fields, got %+v", c.Runtime)
	}
	if c.Runtime.CooldownSec != 0 {
		t.Fatalf("unparsable env int must normalize to 0, got %d", c.Runtime.CooldownSec)
	}
	want := []string{"NVDA", "AMD"}
	if len(c.Runtime.SymbolAllowlist) != 2 || c.Runtime.SymbolAllowlist[0] != want[0] || c.Runtime.SymbolAllowlist[1] != want[1] {
		t.Fatalf("allowlist env parse: %+v", c.Runtime.SymbolAllowlist)
	}
}

func TestSplitList(t *testing.T) {
	if got := SplitList(""); got != nil {
		t.Fatalf("empty list: %v", got)
	}
	got := SplitList(" A ,, B,C ")
	if len(got) != 3 || got[0] != "A" || got[2] != "C" {
		t.Fatalf("split: %v", got)
	}
}
