package commander

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/commander/internal/config"
	"github.com/Rajchodisetti/commander/internal/decision"
	"github.com/Rajchodisetti/commander/internal/eventlog"
	"github.com/Rajchodisetti/commander/internal/execution"
	"github.com/Rajchodisetti/commander/internal/monitor"
	"github.com/Rajchodisetti/commander/internal/observ"
	"github.com/Rajchodisetti/commander/internal/pipeline"
	"github.com/Rajchodisetti/commander/internal/resilience"
	"github.com/Rajchodisetti/commander/internal/scanner"
	"github.com/Rajchodisetti/commander/internal/skills"
	"github.com/Rajchodisetti/commander/internal/spine"
)

// DegradeReason values the runtime writes when forcing degrade mode.
const (
	ReasonCooldownActive    = "incident_cooldown_active"
	ReasonIncidentThreshold = "incident_threshold_reached"
)

// Runtime is the canonical entry point: it resolves the run mode, applies
// runtime control, enforces the incident/cooldown admission guard, dispatches
// to the selected mode and registers incidents on failure. One Run call is
// fully synchronous; admission state shared across runs must be serialized by
// the caller's Store.
type Runtime struct {
	Cfg        config.Runtime
	Log        *eventlog.Logger
	Store      resilience.Store
	Strategist spine.Strategist
	Skills     skills.Runner
	Executor   spine.Executor // post-approve stub for graph-spine runs
	Gate       *execution.Gate
}

// Run drives one invocation. mode overrides state/environment resolution when
// non-empty and bypasses the decision-packet allow guard. Errors raised by the
// dispatched runner are registered as incidents and re-raised unchanged.
func (r *Runtime) Run(ctx context.Context, st *pipeline.RunState, mode string) (*pipeline.RunState, error) {
	if st == nil {
		st = &pipeline.RunState{}
	}
	if st.RunID == "" {
		st.RunID = uuid.NewString()
	}

	if r.Store != nil {
		loaded, err := r.Store.Load()
		if err != nil {
			return st, fmt.Errorf("load resilience state: %w", err)
		}
		st.Resilience = loaded
		defer func() {
			if err := r.Store.Save(st.Resilience); err != nil {
				observ.IncCounter("resilience_save_errors_total", nil)
				observ.Log("resilience_save_failed", map[string]any{
					"run_id":         st.RunID,
					"error":          err.Error(),
					"incident_count": st.Resilience.IncidentCount,
				})
			}
		}()
	}
	st.Resilience = st.Resilience.Normalize()
	for name, c := range st.Circuits {
		c.State = resilience.ParseCircuitStatus(string(c.State))
		if c.FailCount < 0 {
			c.FailCount = 0
		}
		if c.OpenUntilEpoch < 0 {
			c.OpenUntilEpoch = 0
		}
		st.Circuits[name] = c
	}
	st.Status = pipeline.StatusRunning

	resolved := r.resolveMode(st, mode)
	st.Plan = pipeline.PlanFor(resolved)
	r.emit(st, "route", map[string]any{"mode": string(resolved), "agents": st.Plan.Agents})

	control := pipeline.ParseControl(st.Control)
	stop := false
	switch control {
	case pipeline.ControlCancel:
		st.Status = pipeline.StatusCancelled
		stop = true
	case pipeline.ControlPause:
		st.Status = pipeline.StatusPaused
		stop = true
	case pipeline.ControlResume:
		st.Status = pipeline.StatusResuming
	case pipeline.ControlRetry:
		st.Status = pipeline.StatusRetrying
		st.RetryCount++
	}
	if control != pipeline.ControlNone {
		st.Transition = string(control)
		r.emit(st, "transition", map[string]any{"control": string(control), "status": st.Status})
	}
	if stop {
		r.emit(st, "end", map[string]any{"status": st.Status})
		return st, nil
	}

	// Operator resume is the single path that clears incident/cooldown state.
	if control == pipeline.ControlResume {
		before := st.Resilience
		st.Resilience = resilience.Reset()
		r.emit(st, "intervention", map[string]any{
			"before": before.Map(),
			"after":  st.Resilience.Map(),
		})
	}

	now := st.NowEpoch
	if now == 0 {
		now = time.Now().Unix()
	}
	threshold, cooldownSec := r.resiliencePolicy(st)

	inCooldown := st.Resilience.CooldownUntilEpoch > now
	degradeReason := ReasonCooldownActive
	if !inCooldown && threshold > 0 && cooldownSec > 0 && st.Resilience.IncidentCount >= threshold {
		st.Resilience.CooldownUntilEpoch = now + cooldownSec
		degradeReason = ReasonIncidentThreshold
		inCooldown = true
	}
	if inCooldown {
		st.Status = pipeline.StatusCooldownWait
		st.Transition = "cooldown"
		st.Resilience.DegradeMode = true
		st.Resilience.DegradeReason = degradeReason
		observ.IncCounter("cooldown_blocks_total", nil)
		r.emit(st, "transition", map[string]any{
			"transition":     "cooldown",
			"cooldown_until": st.Resilience.CooldownUntilEpoch,
		})
		r.emit(st, "resilience", st.Resilience.Map())
		r.emit(st, "end", map[string]any{"status": st.Status})
		return st, nil
	}

	if err := r.dispatch(ctx, st, resolved); err != nil {
		st.Resilience.IncidentCount++
		st.Resilience.LastErrorType = fmt.Sprintf("%T", err)
		if threshold > 0 && cooldownSec > 0 && st.Resilience.IncidentCount >= threshold {
			st.Resilience.CooldownUntilEpoch = now + cooldownSec
			st.Resilience.DegradeMode = true
			st.Resilience.DegradeReason = ReasonIncidentThreshold
		}
		st.Status = pipeline.StatusError
		observ.IncCounter("incidents_total", nil)
		observ.SetGauge("incident_count", float64(st.Resilience.IncidentCount), nil)
		r.emit(st, "error", map[string]any{
			"error":           err.Error(),
			"error_type":      st.Resilience.LastErrorType,
			"incident_count":  st.Resilience.IncidentCount,
			"cooldown_opened": st.Resilience.CooldownUntilEpoch > now,
		})
		return st, err
	}

	st.Status = pipeline.StatusOK
	endPayload := map[string]any{"status": st.Status, "mode": string(resolved), "decision": st.Decision}
	if st.GuardSummary != nil {
		endPayload["portfolio_guard"] = compactGuard(st.GuardSummary)
	}
	r.emit(st, "end", endPayload)
	return st, nil
}

// resolveMode: explicit caller mode wins and bypasses the decision-packet
// guard; otherwise state, then environment, then graph_spine. State/env
// selection of decision_packet is silently downgraded without the allow flag.
func (r *Runtime) resolveMode(st *pipeline.RunState, explicit string) pipeline.Mode {
	if explicit != "" {
		return pipeline.ParseMode(explicit)
	}
	raw := string(st.Mode)
	if raw == "" {
		raw = r.Cfg.Mode
	}
	resolved := pipeline.ParseMode(raw)
	if resolved == pipeline.ModeDecisionPacket && !st.AllowDecisionPacket && !r.Cfg.AllowDecisionPacket {
		resolved = pipeline.ModeGraphSpine
	}
	return resolved
}

// resiliencePolicy resolves the admission knobs: run-scoped policy over
// environment defaults, each clamped to >= 0.
func (r *Runtime) resiliencePolicy(st *pipeline.RunState) (int, int64) {
	threshold := st.Policy.IncidentThreshold
	if threshold == 0 {
		threshold = r.Cfg.IncidentThreshold
	}
	if threshold < 0 {
		threshold = 0
	}
	cooldownSec := st.Policy.CooldownSec
	if cooldownSec == 0 {
		cooldownSec = r.Cfg.CooldownSec
	}
	if cooldownSec < 0 {
		cooldownSec = 0
	}
	return threshold, cooldownSec
}

func (r *Runtime) dispatch(ctx context.Context, st *pipeline.RunState, mode pipeline.Mode) error {
	switch mode {
	case pipeline.ModeDecisionPacket:
		return r.runDecisionPacket(ctx, st)
	case pipeline.ModeIntegratedChain:
		return r.runIntegratedChain(ctx, st)
	default:
		return spine.Run(ctx, st, spine.Nodes{
			Strategist: r.Strategist,
			Skills:     r.Skills,
			Executor:   r.Executor,
		})
	}
}

// runDecisionPacket decides over a caller-built packet, then executes it when
// approved.
func (r *Runtime) runDecisionPacket(ctx context.Context, st *pipeline.RunState) error {
	if st.Packet != nil && len(st.Intents) == 0 {
		in := st.Packet.Intent
		if in.Risk == nil {
			risk := st.Packet.Risk
			in.Risk = &risk
		}
		st.Intents = []pipeline.Intent{in}
	}
	if action, _ := decision.Decide(st); action != decision.ActionApprove {
		return nil
	}
	return r.executePacket(ctx, st)
}

// runIntegratedChain runs the visible Strategist->Scanner->Monitor->Decision
// chain once and, on approve, synthesizes a packet from the first monitor
// intent and executes it.
func (r *Runtime) runIntegratedChain(ctx context.Context, st *pipeline.RunState) error {
	if r.Strategist != nil {
		if err := r.Strategist.Propose(ctx, st); err != nil {
			return err
		}
	}
	if st.Hydrate || r.Skills != nil {
		spine.Hydrate(ctx, st, r.Skills)
	}
	scanner.Scan(st)
	monitor.Observe(st)
	if action, _ := decision.Decide(st); action != decision.ActionApprove {
		return nil
	}
	if len(st.Intents) == 0 {
		return nil
	}

	in := st.Intents[0]
	risk := pipeline.RiskInfo{}
	if in.Risk != nil {
		risk = *in.Risk
	}
	execCtx := map[string]any{"source": "integrated_chain"}
	if price := st.Quotes[in.Symbol]; price > 0 {
		execCtx["price"] = price
	}
	st.Packet = &pipeline.DecisionPacket{Intent: in, Risk: risk, ExecContext: execCtx}
	return r.executePacket(ctx, st)
}

func (r *Runtime) executePacket(ctx context.Context, st *pipeline.RunState) error {
	if r.Gate == nil {
		return fmt.Errorf("execution gate not configured for run %s", st.RunID)
	}
	_, err := r.Gate.ExecuteFromPacket(ctx, st)
	return err
}

// compactGuard keeps end events small: verdict fields when present, the whole
// summary otherwise.
func compactGuard(guard map[string]any) map[string]any {
	out := map[string]any{}
	for _, k := range []string{"allowed", "reason", "verdict"} {
		if v, ok := guard[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return guard
	}
	return out
}

func (r *Runtime) emit(st *pipeline.RunState, event string, payload map[string]any) {
	if r.Log == nil {
		return
	}
	if err := r.Log.Append(st.RunID, eventlog.StageCommanderRouter, event, payload); err != nil {
		observ.IncCounter("eventlog_append_errors_total", map[string]string{"stage": eventlog.StageCommanderRouter})
	}
}
