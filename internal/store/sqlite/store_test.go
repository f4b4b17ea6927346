package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nickel_agent/internal/domain"
)

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	runID := uuid.NewString()
	baseline := domain.Baseline{OrderQty: 100, CurrentStock: 50, LeadTimeDays: 7}
	require.NoError(t, store.CreateRun(ctx, domain.AnalysisRun{
		ID:       runID,
		Question: "재고 분석해줘",
		Baseline: baseline,
	}))

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.Equal(t, baseline, run.Baseline)
	assert.Empty(t, run.State)

	_, err = store.LoadState(ctx, runID)
	require.Error(t, err)

	state := domain.NewAnalysisState(runID, "재고 분석해줘", baseline)
	state.ExecutedAgents = append(state.ExecutedAgents, domain.AgentInventory)
	state.AgentOutputs[domain.AgentInventory] = domain.Result{"risk_level": "warning"}
	state.Conclusion = domain.Conclusion{Level: domain.ConclusionWarning, Message: "buy"}
	state.Confidence = domain.Confidence{Level: domain.ConfidenceLow}
	require.NoError(t, store.CompleteRun(ctx, runID, state))

	run, err = store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, domain.ConclusionWarning, run.ConclusionLevel)
	assert.Equal(t, domain.ConfidenceLow, run.ConfidenceLevel)

	loaded, err := store.LoadState(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, []domain.AgentID{domain.AgentPlan, domain.AgentInventory}, loaded.ExecutedAgents)
	assert.Equal(t, "warning", loaded.Output(domain.AgentInventory).String("risk_level"))
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	err = store.CompleteRun(context.Background(), "missing", domain.NewAnalysisState("missing", "q", domain.Baseline{}))
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	base := time.Now().UTC().Add(-time.Hour)
	for i, q := range []string{"first", "second", "third"} {
		require.NoError(t, store.CreateRun(ctx, domain.AnalysisRun{
			ID:        uuid.NewString(),
			Question:  q,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "third", runs[0].Question)
	assert.Equal(t, "second", runs[1].Question)
}

func TestAgentOutputsAndDecisions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	runID := uuid.NewString()
	require.NoError(t, store.CreateRun(ctx, domain.AnalysisRun{ID: runID, Question: "q"}))

	require.NoError(t, store.RecordAgentOutput(ctx, domain.AgentOutputRecord{
		RunID: runID, AgentID: domain.AgentInventory, Step: 1, Output: []byte(`{"risk_level":"safe"}`),
	}))
	require.NoError(t, store.RecordAgentOutput(ctx, domain.AgentOutputRecord{
		RunID: runID, AgentID: domain.AgentPrice, Step: 2, Failed: true, Output: []byte(`{"error":"boom"}`),
	}))

	outputs, err := store.ListAgentOutputs(ctx, runID)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, domain.AgentInventory, outputs[0].AgentID)
	assert.False(t, outputs[0].Failed)
	assert.True(t, outputs[1].Failed)
	assert.JSONEq(t, `{"error":"boom"}`, string(outputs[1].Output))

	for _, action := range []string{"plan_registered", "agents_enqueued", "run_completed"} {
		require.NoError(t, store.LogDecision(ctx, domain.DecisionLog{RunID: runID, Actor: "orchestrator", Action: action}))
	}
	decisions, err := store.ListRunDecisions(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, decisions, 3)
	assert.Equal(t, "plan_registered", decisions[0].Action)
	assert.Equal(t, "run_completed", decisions[2].Action)
	assert.True(t, json.Valid(decisions[0].Payload))
}

func TestFailRunLogsReason(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	runID := uuid.NewString()
	require.NoError(t, store.CreateRun(ctx, domain.AnalysisRun{ID: runID, Question: "q"}))
	require.NoError(t, store.FailRun(ctx, runID, "registry missing"))

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)

	decisions, err := store.ListRunDecisions(ctx, runID, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "registry missing", decisions[0].Reason)
}

func TestFileChangeLogNormalizesPath(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	require.NoError(t, store.LogFileChange(ctx, domain.FileChangeLog{
		Actor:     "inventory",
		Operation: domain.FileOperationWrite,
		Path:      "./inventory\\ledger.csv",
		Allowed:   true,
		Reason:    "atomic write",
	}))
	changes, err := store.ListFileChanges(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "inventory/ledger.csv", changes[0].Path)
	assert.True(t, changes[0].Allowed)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}
