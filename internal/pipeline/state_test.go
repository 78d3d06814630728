package pipeline

import "testing"

func TestParseModeNormalizesUnknown(t *testing.T) {
	cases := map[string]Mode{
		"graph_spine":      ModeGraphSpine,
		"decision_packet":  ModeDecisionPacket,
		"integrated_chain": ModeIntegratedChain,
		" Integrated_Chain ": ModeIntegratedChain,
		"":      ModeGraphSpine,
		"turbo": ModeGraphSpine,
	}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Fatalf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseControlIgnoresUnknown(t *testing.T) {
	cases := map[string]Control{
		"retry":  ControlRetry,
		"pause":  ControlPause,
		"cancel": ControlCancel,
		"RESUME": ControlResume,
		"":       ControlNone,
		"reboot": ControlNone,
	}
	for in, want := range cases {
		if got := ParseControl(in); got != want {
			t.Fatalf("ParseControl(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlanAgentsOrdered(t *testing.T) {
	p := PlanFor(ModeGraphSpine)
	if p.Agents[0] != "commander" || p.Agents[len(p.Agents)-1] != "executor" {
		t.Fatalf("graph spine plan order: %v", p.Agents)
	}
	if PlanFor("nonsense").Mode != ModeGraphSpine {
		t.Fatalf("unknown mode plan must default to graph spine")
	}
}
