package pipeline

import (
	"strings"

	"github.com/Rajchodisetti/commander/internal/features"
	"github.com/Rajchodisetti/commander/internal/resilience"
)

// Mode selects which runner the commander dispatches to.
type Mode string

const (
	ModeGraphSpine      Mode = "graph_spine"
	ModeDecisionPacket  Mode = "decision_packet"
	ModeIntegratedChain Mode = "integrated_chain"
)

// ParseMode normalizes unrecognized strings to the graph-spine default.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDecisionPacket:
		return ModeDecisionPacket
	case ModeIntegratedChain:
		return ModeIntegratedChain
	default:
		return ModeGraphSpine
	}
}

// Control values the runtime honors at admission; anything else is a no-op.
type Control string

const (
	ControlNone   Control = ""
	ControlRetry  Control = "retry"
	ControlPause  Control = "pause"
	ControlCancel Control = "cancel"
	ControlResume Control = "resume"
)

// ParseControl returns ControlNone for unrecognized values.
func ParseControl(s string) Control {
	switch Control(strings.ToLower(strings.TrimSpace(s))) {
	case ControlRetry:
		return ControlRetry
	case ControlPause:
		return ControlPause
	case ControlCancel:
		return ControlCancel
	case ControlResume:
		return ControlResume
	default:
		return ControlNone
	}
}

// Runtime statuses recorded on RunState.
const (
	StatusRunning      = "running"
	StatusCooldownWait = "cooldown_wait"
	StatusCancelled    = "cancelled"
	StatusPaused       = "paused"
	StatusRetrying     = "retrying"
	StatusResuming     = "resuming"
	StatusOK           = "ok"
	StatusError        = "error"
)

// BaseScore is the pre-adjustment scoring triple for one symbol.
type BaseScore struct {
	Score      float64 `json:"score"`
	RiskScore  float64 `json:"risk_score"`
	Confidence float64 `json:"confidence"`
}

// RiskInfo travels with candidates, intents and packets.
type RiskInfo struct {
	RiskScore  float64 `json:"risk_score"`
	Confidence float64 `json:"confidence"`
}

// Candidate is one scored symbol; recomputed every scanner pass.
type Candidate struct {
	Symbol     string             `json:"symbol"`
	Score      float64            `json:"score"`
	RiskScore  float64            `json:"risk_score"`
	Confidence float64            `json:"confidence"`
	Features   *features.Row      `json:"features,omitempty"`
	Components map[string]float64 `json:"components,omitempty"`
}

// Intent is a proposed order, not yet verified or executed. Monitor emits at
// most one per call.
type Intent struct {
	Symbol string         `json:"symbol"`
	Side   string         `json:"side"` // BUY | SELL
	Qty    int            `json:"qty"`
	Thesis string         `json:"thesis"`
	Risk   *RiskInfo      `json:"risk,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// DecisionPacket bundles what the execution stage consumes.
type DecisionPacket struct {
	Intent      Intent         `json:"intent"`
	Risk        RiskInfo       `json:"risk"`
	ExecContext map[string]any `json:"exec_context,omitempty"`
}

// Verdict is the immutable outcome of one execute call.
type Verdict struct {
	Allowed bool           `json:"allowed"`
	Reason  string         `json:"reason"`
	Order   map[string]any `json:"order,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Order lifecycle stages derived from broker order-status observations.
const (
	StageWorking     = "working"
	StagePartialFill = "partial_fill"
	StageFilled      = "filled"
	StageCancelled   = "cancelled"
	StageRejected    = "rejected"
	StageUnknown     = "unknown"
)

// OrderView is the monitor's read of the latest order-status observation.
type OrderView struct {
	Stage    string  `json:"stage"`
	Terminal bool    `json:"terminal"`
	Progress float64 `json:"progress"` // [0,1]
}

// OrderStatus is the raw broker observation the monitor classifies.
type OrderStatus struct {
	Status    string  `json:"status"`
	FilledQty float64 `json:"filled_qty"`
	OrderQty  float64 `json:"order_qty"`
}

// Position is a held lot the exit policy evaluates.
type Position struct {
	Qty           int     `json:"qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	LastPrice     float64 `json:"last_price"`
}

// MonitorSummary is the monitor's per-run report.
type MonitorSummary struct {
	IntentCount int        `json:"intent_count"`
	ExitReason  string     `json:"exit_reason,omitempty"`
	Order       *OrderView `json:"order,omitempty"`
}

// Plan is the observability-only route annotation for a run.
type Plan struct {
	Mode   Mode     `json:"mode"`
	Agents []string `json:"agents"`
}

// PlanFor returns the ordered agent list for a mode. Purely observational.
func PlanFor(m Mode) *Plan {
	switch m {
	case ModeDecisionPacket:
		return &Plan{Mode: m, Agents: []string{
			"commander", "packet_builder", "decision", "supervisor", "executor",
		}}
	case ModeIntegratedChain:
		return &Plan{Mode: m, Agents: []string{
			"commander", "strategist", "hydrator", "scanner", "monitor",
			"decision", "supervisor", "executor",
		}}
	default:
		return &Plan{Mode: ModeGraphSpine, Agents: []string{
			"commander", "strategist", "hydrator", "scanner", "monitor",
			"decision", "executor",
		}}
	}
}

// RunState is the mutable context for exactly one run. Owned by that run,
// never shared across concurrent runs, discarded at run end; only event-log
// entries and the resilience record outlive it.
type RunState struct {
	RunID string `json:"run_id"`

	// Admission inputs.
	Mode                Mode   `json:"runtime_mode,omitempty"`
	Control             string `json:"runtime_control,omitempty"`
	AllowDecisionPacket bool   `json:"allow_decision_packet,omitempty"`
	Hydrate             bool   `json:"hydrate,omitempty"`
	NowEpoch            int64  `json:"now_epoch,omitempty"` // clock override; 0 = wall clock

	// Runtime bookkeeping.
	Status     string `json:"runtime_status,omitempty"`
	Transition string `json:"runtime_transition,omitempty"`
	Plan       *Plan  `json:"run_plan,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`

	Policy     Policy                        `json:"policy"`
	Resilience resilience.State              `json:"resilience"`
	Circuits   map[string]resilience.Circuit `json:"circuits,omitempty"`

	// Pipeline inputs.
	Symbols         []string                    `json:"symbols,omitempty"`
	Candles         map[string][]features.Candle `json:"candles,omitempty"`
	NewsSentiment   map[string]float64          `json:"news_sentiment,omitempty"`
	GlobalSentiment float64                     `json:"global_sentiment,omitempty"`
	Quotes          map[string]float64          `json:"quotes,omitempty"`
	OpenOrders      map[string]int              `json:"open_orders,omitempty"`
	BaseOverrides   map[string]BaseScore        `json:"base_overrides,omitempty"`
	Cash            float64                     `json:"cash,omitempty"`
	Positions       map[string]Position         `json:"positions,omitempty"`
	OrderStatus     *OrderStatus                `json:"order_status,omitempty"`
	CachedRisk      *RiskInfo                   `json:"cached_risk,omitempty"`

	// Pipeline outputs.
	Candidates     []Candidate     `json:"candidates,omitempty"`
	Selected       *Candidate      `json:"selected,omitempty"`
	Intents        []Intent        `json:"intents,omitempty"`
	MonitorSummary *MonitorSummary `json:"monitor_summary,omitempty"`
	Decision       string          `json:"decision,omitempty"`
	DecisionReason string          `json:"decision_reason,omitempty"`
	ScanRetries    int             `json:"scan_retries,omitempty"`
	Packet         *DecisionPacket `json:"decision_packet,omitempty"`
	ExecResult     *Verdict        `json:"execution_result,omitempty"`
	GuardSummary   map[string]any  `json:"portfolio_guard,omitempty"`
	SkillResults   map[string]any  `json:"skill_results,omitempty"`
}
