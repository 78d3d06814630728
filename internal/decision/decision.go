package decision

import (
	"github.com/Rajchodisetti/commander/internal/observ"
	"github.com/Rajchodisetti/commander/internal/pipeline"
)

// Actions the policy gate can emit. All are normal control-flow results,
// never errors.
const (
	ActionApprove   = "approve"
	ActionReject    = "reject"
	ActionNoop      = "noop"
	ActionRetryScan = "retry_scan"
)

// Reasons attached to each action.
const (
	ReasonNoCandidate        = "no_candidate"
	ReasonRiskTooHigh        = "risk_too_high"
	ReasonLowConfidenceRetry = "low_confidence_retry"
	ReasonLowConfidenceRej   = "low_confidence_reject"
	ReasonWithinPolicy       = "within_policy"
)

// Decide applies the deterministic policy gate over risk/confidence and
// records the outcome on the state. Approve means eligible to proceed, not
// guaranteed execution.
func Decide(st *pipeline.RunState) (string, string) {
	action, reason := evaluate(st)
	st.Decision = action
	st.DecisionReason = reason
	observ.IncCounter("decisions_total", map[string]string{"action": action})
	return action, reason
}

func evaluate(st *pipeline.RunState) (string, string) {
	if st.Selected == nil && len(st.Intents) == 0 {
		return ActionNoop, ReasonNoCandidate
	}

	risk, conf := riskSource(st)
	pol := st.Policy

	if risk >= pol.MaxRiskOrDefault() {
		return ActionReject, ReasonRiskTooHigh
	}

	if conf < pol.MinConfidenceOrDefault() {
		if st.ScanRetries < pol.MaxScanRetriesOrDefault() {
			st.ScanRetries++
			return ActionRetryScan, ReasonLowConfidenceRetry
		}
		return ActionReject, ReasonLowConfidenceRej
	}

	return ActionApprove, ReasonWithinPolicy
}

// riskSource resolves (risk_score, confidence) by priority: selected
// candidate, then first intent, then the cached risk field, then zeros.
func riskSource(st *pipeline.RunState) (float64, float64) {
	if st.Selected != nil {
		return st.Selected.RiskScore, st.Selected.Confidence
	}
	if len(st.Intents) > 0 && st.Intents[0].Risk != nil {
		return st.Intents[0].Risk.RiskScore, st.Intents[0].Risk.Confidence
	}
	if st.CachedRisk != nil {
		return st.CachedRisk.RiskScore, st.CachedRisk.Confidence
	}
	return 0.0, 0.0
}
