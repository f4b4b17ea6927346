package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nickel_agent/internal/domain"
)

var shortageBaseline = domain.Baseline{OrderQty: 100, CurrentStock: 50}

func TestInventoryShortageEnqueuesRelatedAgents(t *testing.T) {
	stubs := newStubSet(map[domain.AgentID]domain.Result{
		domain.AgentInventory: {"risk_level": domain.RiskWarning, "shortage_qty": 450.0},
	})
	svc, _, _ := newHarness(t, stubs, Config{})

	state, err := svc.Run(context.Background(), "재고 분석해줘", shortageBaseline)
	require.NoError(t, err)

	for _, id := range []domain.AgentID{domain.AgentFinance, domain.AgentPrice, domain.AgentLogistics} {
		assert.True(t, state.IsExecuted(id) || state.IsPending(id), "%s should be scheduled", id)
	}
	assert.Contains(t, []domain.ConclusionLevel{domain.ConclusionCritical, domain.ConclusionWarning}, state.Conclusion.Level)
	assert.NotEqual(t, domain.ConclusionSuccess, state.Conclusion.Level)
	assertTerminalInvariants(t, svc.Planner(), state)
}

func TestInventoryShortageOnlyQuestionTriggersReplan(t *testing.T) {
	stubs := newStubSet(map[domain.AgentID]domain.Result{
		domain.AgentInventory: {"risk_level": domain.RiskWarning},
		domain.AgentPrice:     {"price_trend": domain.TrendUp, "main_factors": "LME stock"},
	})
	svc, _, _ := newHarness(t, stubs, Config{})

	state, err := svc.Run(context.Background(), "inventory level", shortageBaseline)
	require.NoError(t, err)

	assert.Equal(t, []domain.AgentID{
		domain.AgentPlan,
		domain.AgentInventory,
		domain.AgentCustoms,
		domain.AgentLogistics,
		domain.AgentPrice,
		domain.AgentFinance,
	}, state.ExecutedAgents)
	assert.Empty(t, state.PendingAgents)
	assert.Equal(t, domain.ConclusionCritical, state.Conclusion.Level)
	assert.Contains(t, state.Conclusion.Message, "LME stock")
	assert.Len(t, state.Notices, 4)
	assertTerminalInvariants(t, svc.Planner(), state)
}

func TestSafeStockFallingPriceConcludesSuccess(t *testing.T) {
	stubs := newStubSet(map[domain.AgentID]domain.Result{
		domain.AgentInventory: {"risk_level": domain.RiskSafe},
		domain.AgentPrice:     {"price_trend": domain.TrendDown},
	})
	svc, _, _ := newHarness(t, stubs, Config{})

	state, err := svc.Run(context.Background(), "가격 재고", domain.Baseline{OrderQty: 100, CurrentStock: 5000})
	require.NoError(t, err)

	assert.Equal(t, domain.ConclusionSuccess, state.Conclusion.Level)
	assert.Contains(t, state.Recommendations, "[Recommendation] There is no rush to purchase.")
	assert.True(t, state.IsExecuted(domain.AgentFinance), "falling price enqueues finance")
	assertTerminalInvariants(t, svc.Planner(), state)
}

func TestPanickingAgentRecordedAsError(t *testing.T) {
	stubs := newStubSet(nil)
	stubs[domain.AgentQuality].panic = "sensor offline"
	svc, _, _ := newHarness(t, stubs, Config{})

	state, err := svc.Run(context.Background(), "품질 확인", domain.Baseline{})
	require.NoError(t, err)

	assert.True(t, state.IsExecuted(domain.AgentQuality))
	out := state.Output(domain.AgentQuality)
	require.True(t, out.HasError())
	assert.Contains(t, out.ErrorMessage(), "sensor offline")
	assert.Equal(t, domain.SummaryStatusError, state.AgentSummaries[domain.AgentQuality].Status)
	assert.Contains(t, state.AgentSummaries[domain.AgentQuality].Summary, "sensor offline")
}

func TestFailingAgentStillUnblocksDependents(t *testing.T) {
	stubs := newStubSet(nil)
	stubs[domain.AgentPrice].err = errors.New("price feed unavailable")
	svc, _, _ := newHarness(t, stubs, Config{})

	state, err := svc.Run(context.Background(), "원가 계산", domain.Baseline{})
	require.NoError(t, err)

	assert.True(t, state.Output(domain.AgentPrice).HasError())
	assert.True(t, state.IsExecuted(domain.AgentFinance))
	assert.Equal(t, 1, stubs[domain.AgentFinance].calls)
}

func TestEmptyResultRecordedAsError(t *testing.T) {
	stubs := newStubSet(map[domain.AgentID]domain.Result{domain.AgentCustoms: {}})
	svc, _, _ := newHarness(t, stubs, Config{})

	state, err := svc.Run(context.Background(), "관세", domain.Baseline{})
	require.NoError(t, err)
	assert.Equal(t, "no result", state.Output(domain.AgentCustoms).ErrorMessage())
}

func TestFinanceWaitsForDependencies(t *testing.T) {
	stubs := newStubSet(nil)
	svc, _, _ := newHarness(t, stubs, Config{})

	state, err := svc.Run(context.Background(), "finance", domain.Baseline{})
	require.NoError(t, err)

	pos := map[domain.AgentID]int{}
	for i, id := range state.ExecutedAgents {
		pos[id] = i
	}
	require.Contains(t, pos, domain.AgentFinance)
	for _, dep := range []domain.AgentID{domain.AgentPrice, domain.AgentCustoms, domain.AgentInventory} {
		require.Contains(t, pos, dep)
		assert.Less(t, pos[dep], pos[domain.AgentFinance])
	}

	seen := stubs[domain.AgentFinance].seen
	require.Len(t, seen, 1)
	assert.NotNil(t, seen[0].Output(domain.AgentPrice))
	assert.NotNil(t, seen[0].Output(domain.AgentCustoms))
	assert.NotNil(t, seen[0].Output(domain.AgentInventory))
}

func TestSnapshotIsolatesLiveState(t *testing.T) {
	stubs := newStubSet(nil)
	svc, _, _ := newHarness(t, stubs, Config{})
	mutator := &mutatingAgent{id: domain.AgentLogistics}
	reg := stubs.registry(t)
	reg.agents[domain.AgentLogistics] = mutator
	svc.registry = reg

	state, err := svc.Run(context.Background(), "물류", domain.Baseline{})
	require.NoError(t, err)
	assert.Equal(t, []domain.AgentID{domain.AgentPlan, domain.AgentLogistics}, state.ExecutedAgents)
	assert.NotContains(t, state.AgentOutputs, domain.AgentPrice)
}

type mutatingAgent struct{ id domain.AgentID }

func (m *mutatingAgent) ID() domain.AgentID { return m.id }

func (m *mutatingAgent) Execute(_ context.Context, state domain.AnalysisState) (domain.Result, error) {
	state.ExecutedAgents = append(state.ExecutedAgents, domain.AgentPrice)
	state.AgentOutputs[domain.AgentPrice] = domain.Result{"price_trend": domain.TrendUp}
	return domain.Result{"delay_risk": "low"}, nil
}

func TestStepCeilingLeavesRemainderPending(t *testing.T) {
	stubs := newStubSet(nil)
	svc, store, _ := newHarness(t, stubs, Config{MaxSteps: 2})

	state, err := svc.Run(context.Background(), "종합 분석", domain.Baseline{})
	require.NoError(t, err)

	assert.Len(t, state.ExecutedAgents, 3)
	assert.NotEmpty(t, state.PendingAgents)
	assertTerminalInvariants(t, svc.Planner(), state)

	decisions, err := store.ListRunDecisions(context.Background(), state.RunID, 0)
	require.NoError(t, err)
	assert.True(t, hasAction(decisions, "step_limit_reached"))
}

func TestCyclicDependenciesStall(t *testing.T) {
	stubs := newStubSet(nil)
	svc, store, _ := newHarness(t, stubs, Config{Dependencies: map[domain.AgentID][]domain.AgentID{
		domain.AgentPrice:   {domain.AgentCustoms},
		domain.AgentCustoms: {domain.AgentPrice},
	}})

	state, err := svc.Run(context.Background(), "price", domain.Baseline{})
	require.NoError(t, err)

	assert.Equal(t, []domain.AgentID{domain.AgentPlan}, state.ExecutedAgents)
	assert.Equal(t, []domain.AgentID{domain.AgentCustoms, domain.AgentPrice}, state.PendingAgents)
	assert.Equal(t, domain.SummaryStatusPending, state.AgentSummaries[domain.AgentPrice].Status)
	assert.Equal(t, domain.ConfidenceLow, state.Confidence.Level)

	decisions, err := store.ListRunDecisions(context.Background(), state.RunID, 0)
	require.NoError(t, err)
	assert.True(t, hasAction(decisions, "schedule_stalled"))
}

func TestTriggersIdempotentOnTerminalState(t *testing.T) {
	stubs := newStubSet(map[domain.AgentID]domain.Result{
		domain.AgentInventory: {"risk_level": domain.RiskWarning},
		domain.AgentPrice:     {"price_trend": domain.TrendUp},
	})
	svc, _, _ := newHarness(t, stubs, Config{})

	state, err := svc.Run(context.Background(), "재고", shortageBaseline)
	require.NoError(t, err)

	before := append([]domain.AgentID(nil), state.PendingAgents...)
	assert.Empty(t, svc.replan(state))
	assert.Empty(t, svc.replan(state))
	assert.Equal(t, before, state.PendingAgents)
}

func TestRunPersistsHistoryAndEvents(t *testing.T) {
	stubs := newStubSet(nil)
	svc, store, bus := newHarness(t, stubs, Config{})
	subID, events := bus.Subscribe("")
	defer bus.Unsubscribe(subID)
	ctx := context.Background()

	state, err := svc.Run(ctx, "물류 운송", domain.Baseline{PONumber: "PO-2024-001"})
	require.NoError(t, err)

	run, err := store.GetRun(ctx, state.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, "PO-2024-001", run.Baseline.PONumber)

	loaded, err := store.LoadState(ctx, state.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.ExecutedAgents, loaded.ExecutedAgents)
	assert.Equal(t, state.Conclusion, loaded.Conclusion)

	outputs, err := store.ListAgentOutputs(ctx, state.RunID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, domain.AgentLogistics, outputs[0].AgentID)

	decisions, err := store.ListRunDecisions(ctx, state.RunID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, decisions)
	assert.Equal(t, "plan_registered", decisions[0].Action)
	assert.Equal(t, "run_completed", decisions[len(decisions)-1].Action)

	var kinds []domain.RunEventKind
	for len(events) > 0 {
		ev := <-events
		assert.Equal(t, state.RunID, ev.RunID)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []domain.RunEventKind{
		domain.RunEventPlanned,
		domain.RunEventAgentStarted,
		domain.RunEventAgentFinished,
		domain.RunEventCompleted,
	}, kinds)
}

func TestRunWithoutStoreOrEvents(t *testing.T) {
	stubs := newStubSet(nil)
	svc := New(stubs.registry(t), nil, nil, Config{}, nil)

	state, err := svc.Run(context.Background(), "hello", domain.Baseline{})
	require.NoError(t, err)
	assert.Len(t, state.ExecutedAgents, 6)
	assert.Equal(t, domain.ConfidenceMedium, state.Confidence.Level)
}

func TestRunRequiresRegistry(t *testing.T) {
	svc := New(nil, nil, nil, Config{}, nil)
	_, err := svc.Run(context.Background(), "q", domain.Baseline{})
	require.Error(t, err)
}

func TestTerminalInvariantsAcrossQuestions(t *testing.T) {
	questions := []string{
		"재고 분석해줘", "가격 전망", "관세율", "물류 현황", "품질 리스크", "원가",
		"price and customs", "shipping quality", "hello", "",
	}
	outcomes := []map[domain.AgentID]domain.Result{
		nil,
		{domain.AgentInventory: {"risk_level": domain.RiskWarning}},
		{domain.AgentPrice: {"price_trend": domain.TrendUp}},
		{domain.AgentInventory: {"risk_level": domain.RiskWarning}, domain.AgentPrice: {"price_trend": domain.TrendDown}},
	}
	for _, q := range questions {
		for _, o := range outcomes {
			svc := New(newStubSet(o).registry(t), nil, nil, Config{}, nil)
			state, err := svc.Run(context.Background(), q, domain.Baseline{})
			require.NoError(t, err)
			assertTerminalInvariants(t, svc.Planner(), state)
			assert.Len(t, state.AgentSummaries, len(SkillAgentIDs))
		}
	}
}

func assertTerminalInvariants(t *testing.T, planner *Planner, state *domain.AnalysisState) {
	t.Helper()
	require.NotEmpty(t, state.ExecutedAgents)
	assert.Equal(t, domain.AgentPlan, state.ExecutedAgents[0])

	seen := map[domain.AgentID]bool{}
	for i, id := range state.ExecutedAgents {
		assert.False(t, seen[id], "%s executed twice", id)
		seen[id] = true
		assert.False(t, state.IsPending(id), "%s both executed and pending", id)
		if i == 0 {
			continue
		}
		assert.True(t, planner.DependenciesMet(id, state.ExecutedAgents[:i]), "%s ran before its dependencies", id)
		assert.Contains(t, state.AgentOutputs, id)
	}
	for id := range state.AgentOutputs {
		assert.True(t, seen[id], "output recorded for unexecuted %s", id)
	}
}

func hasAction(decisions []domain.DecisionLog, action string) bool {
	for _, d := range decisions {
		if d.Action == action {
			return true
		}
	}
	return false
}

// cancelingAgent cancels the caller's context while it runs, as a client
// disconnecting mid-analysis would.
type cancelingAgent struct {
	*stubAgent
	cancel context.CancelFunc
}

func (a cancelingAgent) Execute(ctx context.Context, state domain.AnalysisState) (domain.Result, error) {
	a.cancel()
	return a.stubAgent.Execute(ctx, state)
}

func TestRunHistoryCompletesAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stubs := newStubSet(nil)
	agents := []SkillAgent{cancelingAgent{stubAgent: stubs[domain.AgentLogistics], cancel: cancel}}
	for id, a := range stubs {
		if id != domain.AgentLogistics {
			agents = append(agents, a)
		}
	}
	reg, err := NewRegistry(agents...)
	require.NoError(t, err)
	store := newTestStore(t)
	svc := New(reg, store, nil, Config{}, nil)

	state, err := svc.Run(ctx, "where is my shipment", shortageBaseline)
	require.NoError(t, err)
	require.True(t, state.IsExecuted(domain.AgentLogistics))
	require.Error(t, ctx.Err())

	run, err := store.GetRun(context.Background(), state.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)

	outputs, err := store.ListAgentOutputs(context.Background(), state.RunID)
	require.NoError(t, err)
	assert.Len(t, outputs, len(state.ExecutedAgents)-1)

	decisions, err := store.ListRunDecisions(context.Background(), state.RunID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, decisions)
	assert.Equal(t, "run_completed", decisions[len(decisions)-1].Action)
}

func TestTrimTextKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("니켈 가격 상승 ", 30)
	got := trimText(msg, 160)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 160, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", trimText("  short ", 160))
}
