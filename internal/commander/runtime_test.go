package commander

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/commander/internal/config"
	"github.com/Rajchodisetti/commander/internal/eventlog"
	"github.com/Rajchodisetti/commander/internal/execution"
	"github.com/Rajchodisetti/commander/internal/observ"
	"github.com/Rajchodisetti/commander/internal/pipeline"
	"github.com/Rajchodisetti/commander/internal/resilience"
)

type countingStrategist struct {
	calls int
	err   error
}

func (c *countingStrategist) Propose(_ context.Context, st *pipeline.RunState) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	st.Symbols = []string{"AAPL"}
	if st.BaseOverrides == nil {
		st.BaseOverrides = map[string]pipeline.BaseScore{
			"AAPL": {Score: 0.55, RiskScore: 0.20, Confidence: 0.90},
		}
	}
	return nil
}

type brokerDown struct{ dep string }

func (e *brokerDown) Error() string { return "broker unreachable: " + e.dep }

func newRuntime(strat *countingStrategist) *Runtime {
	return &Runtime{
		Cfg:        config.Runtime{},
		Strategist: strat,
	}
}

func TestCooldownShortCircuitsBeforeAnyRunner(t *testing.T) {
	strat := &countingStrategist{}
	rt := newRuntime(strat)

	st := &pipeline.RunState{
		NowEpoch:   1000,
		Resilience: resilience.State{CooldownUntilEpoch: 1500},
	}
	out, err := rt.Run(context.Background(), st, "")

	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCooldownWait, out.Status)
	assert.Equal(t, "cooldown", out.Transition)
	assert.True(t, out.Resilience.DegradeMode)
	assert.Equal(t, ReasonCooldownActive, out.Resilience.DegradeReason)
	assert.Zero(t, strat.calls, "no mode runner may execute during cooldown")
}

func TestIncidentThresholdOpensExactWindow(t *testing.T) {
	strat := &countingStrategist{}
	rt := newRuntime(strat)

	st := &pipeline.RunState{
		NowEpoch:   1000,
		Policy:     pipeline.Policy{IncidentThreshold: 3, CooldownSec: 60},
		Resilience: resilience.State{IncidentCount: 3},
	}
	out, err := rt.Run(context.Background(), st, "")

	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCooldownWait, out.Status)
	assert.Equal(t, int64(1060), out.Resilience.CooldownUntilEpoch, "window must open at exactly now+cooldown_sec")
	assert.True(t, out.Resilience.DegradeMode)
	assert.Equal(t, ReasonIncidentThreshold, out.Resilience.DegradeReason,
		"a guard-opened window records the threshold reason, same as the error path")
	assert.Zero(t, strat.calls)
}

func TestThresholdIgnoredWithoutCooldownSec(t *testing.T) {
	strat := &countingStrategist{}
	rt := newRuntime(strat)

	st := &pipeline.RunState{
		NowEpoch:   1000,
		Policy:     pipeline.Policy{IncidentThreshold: 3},
		Resilience: resilience.State{IncidentCount: 5},
	}
	out, err := rt.Run(context.Background(), st, "")

	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusOK, out.Status)
	assert.Equal(t, 1, strat.calls, "admission must pass when cooldown_sec is zero")
}

func TestResumeClearsResilienceRecord(t *testing.T) {
	strat := &countingStrategist{}
	rt := newRuntime(strat)

	journal := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := eventlog.New(journal)
	require.NoError(t, err)
	rt.Log = log

	st := &pipeline.RunState{
		RunID:    "run-resume",
		NowEpoch: 1000,
		Control:  "resume",
		Resilience: resilience.State{
			DegradeMode:        true,
			DegradeReason:      "incident_cooldown_active",
			IncidentCount:      9,
			CooldownUntilEpoch: 99999,
			LastErrorType:      "*commander.brokerDown",
		},
	}
	out, err := rt.Run(context.Background(), st, "")

	require.NoError(t, err)
	assert.Equal(t, resilience.Reset(), out.Resilience.Normalize())
	assert.Equal(t, 1, strat.calls, "resume continues into the pipeline")
	assert.Equal(t, pipeline.StatusOK, out.Status)

	recs, err := eventlog.Read(journal)
	require.NoError(t, err)
	var intervention *eventlog.Record
	for i := range recs {
		if recs[i].Event == "intervention" {
			intervention = &recs[i]
			break
		}
	}
	require.NotNil(t, intervention, "resume must journal a before/after snapshot")
	before, _ := intervention.Payload["before"].(map[string]any)
	after, _ := intervention.Payload["after"].(map[string]any)
	require.NotNil(t, before)
	require.NotNil(t, after)
	assert.Equal(t, float64(9), before["incident_count"])
	assert.Equal(t, true, before["degrade_mode"])
	assert.Equal(t, float64(0), after["incident_count"])
	assert.Equal(t, false, after["degrade_mode"])
}

func TestCancelAndPauseStopBeforePipeline(t *testing.T) {
	for control, wantStatus := range map[string]string{
		"cancel": pipeline.StatusCancelled,
		"pause":  pipeline.StatusPaused,
	} {
		strat := &countingStrategist{}
		rt := newRuntime(strat)

		out, err := rt.Run(context.Background(), &pipeline.RunState{NowEpoch: 1000, Control: control}, "")

		require.NoError(t, err)
		assert.Equal(t, wantStatus, out.Status, control)
		assert.Equal(t, control, out.Transition)
		assert.Zero(t, strat.calls, control)
	}
}

func TestRetryControlIncrementsCounterAndContinues(t *testing.T) {
	strat := &countingStrategist{}
	rt := newRuntime(strat)

	out, err := rt.Run(context.Background(), &pipeline.RunState{NowEpoch: 1000, Control: "retry"}, "")

	require.NoError(t, err)
	assert.Equal(t, 1, out.RetryCount)
	assert.Equal(t, 1, strat.calls)
}

func TestUnknownControlIsNoOp(t *testing.T) {
	strat := &countingStrategist{}
	rt := newRuntime(strat)

	out, err := rt.Run(context.Background(), &pipeline.RunState{NowEpoch: 1000, Control: "reboot"}, "")

	require.NoError(t, err)
	assert.Empty(t, out.Transition)
	assert.Equal(t, 1, strat.calls)
}

func TestRunnerErrorRegistersIncidentAndReRaises(t *testing.T) {
	cause := &brokerDown{dep: "quotes"}
	strat := &countingStrategist{err: cause}
	rt := newRuntime(strat)
	incidentsBefore := observ.CounterValue("incidents_total", nil)

	st := &pipeline.RunState{NowEpoch: 1000}
	out, err := rt.Run(context.Background(), st, "")

	require.Error(t, err)
	assert.Same(t, error(cause), err, "original error must be re-raised, not wrapped")
	assert.Equal(t, 1, out.Resilience.IncidentCount)
	assert.Equal(t, fmt.Sprintf("%T", cause), out.Resilience.LastErrorType)
	assert.Equal(t, pipeline.StatusError, out.Status)
	assert.False(t, out.Resilience.DegradeMode, "no threshold configured, no forced degrade")
	assert.Equal(t, incidentsBefore+1, observ.CounterValue("incidents_total", nil))
	assert.Equal(t, float64(out.Resilience.IncidentCount), observ.GaugeValue("incident_count", nil))
}

func TestRunnerErrorCrossingThresholdOpensCooldown(t *testing.T) {
	cause := &brokerDown{dep: "orders"}
	strat := &countingStrategist{err: cause}
	rt := newRuntime(strat)

	st := &pipeline.RunState{
		NowEpoch:   1000,
		Policy:     pipeline.Policy{IncidentThreshold: 2, CooldownSec: 120},
		Resilience: resilience.State{IncidentCount: 1},
	}
	out, err := rt.Run(context.Background(), st, "")

	require.Error(t, err)
	assert.Equal(t, 2, out.Resilience.IncidentCount)
	assert.Equal(t, int64(1120), out.Resilience.CooldownUntilEpoch)
	assert.True(t, out.Resilience.DegradeMode)
	assert.Equal(t, ReasonIncidentThreshold, out.Resilience.DegradeReason)
}

func TestDecisionPacketModeGuard(t *testing.T) {
	rt := newRuntime(&countingStrategist{})

	// state-selected decision_packet without the allow flag downgrades
	st := &pipeline.RunState{NowEpoch: 1000, Mode: pipeline.ModeDecisionPacket}
	out, err := rt.Run(context.Background(), st, "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.ModeGraphSpine, out.Plan.Mode)

	// the allow flag permits it
	st = &pipeline.RunState{NowEpoch: 1000, Mode: pipeline.ModeDecisionPacket, AllowDecisionPacket: true}
	out, err = rt.Run(context.Background(), st, "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.ModeDecisionPacket, out.Plan.Mode)

	// an explicit caller-supplied mode bypasses the guard
	st = &pipeline.RunState{NowEpoch: 1000}
	out, err = rt.Run(context.Background(), st, "decision_packet")
	require.NoError(t, err)
	assert.Equal(t, pipeline.ModeDecisionPacket, out.Plan.Mode)
}

func TestUnknownModeNormalizesToGraphSpine(t *testing.T) {
	rt := newRuntime(&countingStrategist{})
	out, err := rt.Run(context.Background(), &pipeline.RunState{NowEpoch: 1000, Mode: "turbo"}, "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.ModeGraphSpine, out.Plan.Mode)
	assert.Len(t, out.Plan.Agents, 7)
}

func TestPlanAgentCounts(t *testing.T) {
	assert.Len(t, pipeline.PlanFor(pipeline.ModeDecisionPacket).Agents, 5)
	assert.Len(t, pipeline.PlanFor(pipeline.ModeIntegratedChain).Agents, 8)
	assert.Len(t, pipeline.PlanFor(pipeline.ModeGraphSpine).Agents, 7)
}

func TestDecisionPacketModeDecidesAndExecutes(t *testing.T) {
	exec := &packetExecutor{}
	rt := newRuntime(&countingStrategist{})
	rt.Gate = &execution.Gate{Executor: exec}

	st := &pipeline.RunState{
		NowEpoch: 1000,
		Packet: &pipeline.DecisionPacket{
			Intent: pipeline.Intent{Symbol: "AAPL", Side: "BUY", Qty: 2},
			Risk:   pipeline.RiskInfo{RiskScore: 0.2, Confidence: 0.9},
		},
	}
	out, err := rt.Run(context.Background(), st, "decision_packet")

	require.NoError(t, err)
	assert.Equal(t, "approve", out.Decision)
	require.NotNil(t, out.ExecResult)
	assert.True(t, out.ExecResult.Allowed)
	assert.Equal(t, 1, exec.calls)
}

func TestDecisionPacketModeRejectSkipsExecution(t *testing.T) {
	exec := &packetExecutor{}
	rt := newRuntime(&countingStrategist{})
	rt.Gate = &execution.Gate{Executor: exec}

	st := &pipeline.RunState{
		NowEpoch: 1000,
		Packet: &pipeline.DecisionPacket{
			Intent: pipeline.Intent{Symbol: "AAPL", Side: "BUY", Qty: 2},
			Risk:   pipeline.RiskInfo{RiskScore: 0.95, Confidence: 0.9},
		},
	}
	out, err := rt.Run(context.Background(), st, "decision_packet")

	require.NoError(t, err)
	assert.Equal(t, "reject", out.Decision)
	assert.Zero(t, exec.calls)
}

func TestIntegratedChainSynthesizesPacket(t *testing.T) {
	exec := &packetExecutor{}
	rt := newRuntime(&countingStrategist{})
	rt.Gate = &execution.Gate{Executor: exec}

	out, err := rt.Run(context.Background(), &pipeline.RunState{NowEpoch: 1000}, "integrated_chain")

	require.NoError(t, err)
	assert.Equal(t, "approve", out.Decision)
	require.NotNil(t, out.Packet)
	assert.Equal(t, "AAPL", out.Packet.Intent.Symbol)
	assert.Equal(t, 1, exec.calls)
	require.NotNil(t, out.ExecResult)
	assert.True(t, out.ExecResult.Allowed)
}

func TestGraphSpineRetriesScanOnLowConfidence(t *testing.T) {
	strat := &countingStrategist{}
	rt := newRuntime(strat)

	st := &pipeline.RunState{
		NowEpoch: 1000,
		Policy:   pipeline.Policy{MinConfidence: 0.95, MaxScanRetries: 2},
		BaseOverrides: map[string]pipeline.BaseScore{
			"AAPL": {Score: 0.55, RiskScore: 0.20, Confidence: 0.50},
		},
	}
	out, err := rt.Run(context.Background(), st, "")

	require.NoError(t, err)
	assert.Equal(t, "reject", out.Decision)
	assert.Equal(t, "low_confidence_reject", out.DecisionReason)
	assert.Equal(t, 2, out.ScanRetries, "retry loop must run to the policy bound")
	assert.Equal(t, 1, strat.calls, "strategist runs once per invocation")
}

func TestStoreLoadedAtEntrySavedAtExit(t *testing.T) {
	store := &memStore{state: resilience.State{IncidentCount: 1}}
	cause := &brokerDown{dep: "fills"}
	rt := newRuntime(&countingStrategist{err: cause})
	rt.Store = store

	_, err := rt.Run(context.Background(), &pipeline.RunState{NowEpoch: 1000}, "")

	require.Error(t, err)
	assert.Equal(t, 2, store.state.IncidentCount, "incident must persist through the store")
	assert.Equal(t, 1, store.loads)
	assert.Equal(t, 1, store.saves)
}

type packetExecutor struct{ calls int }

func (p *packetExecutor) Execute(req map[string]any) (map[string]any, error) {
	p.calls++
	return map[string]any{"status": "accepted"}, nil
}

func TestSaveFailureSurfacesInObservability(t *testing.T) {
	before := observ.CounterValue("resilience_save_errors_total", nil)
	rt := newRuntime(&countingStrategist{})
	rt.Store = &failingStore{}

	out, err := rt.Run(context.Background(), &pipeline.RunState{NowEpoch: 1000}, "")

	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusOK, out.Status, "a failed save must not fail the run")
	assert.Equal(t, before+1, observ.CounterValue("resilience_save_errors_total", nil))
}

type failingStore struct{}

func (f *failingStore) Load() (resilience.State, error) { return resilience.State{}, nil }

func (f *failingStore) Save(resilience.State) error { return errors.New("disk full") }

type memStore struct {
	state resilience.State
	loads int
	saves int
}

func (m *memStore) Load() (resilience.State, error) {
	m.loads++
	return m.state, nil
}

func (m *memStore) Save(s resilience.State) error {
	m.saves++
	m.state = s
	return nil
}
