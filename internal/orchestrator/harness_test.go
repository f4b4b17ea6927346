package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nickel_agent/internal/domain"
	"nickel_agent/internal/messaging/inproc"
	sqlitestore "nickel_agent/internal/store/sqlite"
)

// stubAgent returns a fixed result and counts its calls.
type stubAgent struct {
	id     domain.AgentID
	result domain.Result
	err    error
	panic  any
	calls  int
	seen   []domain.AnalysisState
}

func (a *stubAgent) ID() domain.AgentID { return a.id }

func (a *stubAgent) Execute(_ context.Context, state domain.AnalysisState) (domain.Result, error) {
	a.calls++
	a.seen = append(a.seen, state)
	if a.panic != nil {
		panic(a.panic)
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.result.Clone(), nil
}

type stubSet map[domain.AgentID]*stubAgent

func newStubSet(overrides map[domain.AgentID]domain.Result) stubSet {
	defaults := map[domain.AgentID]domain.Result{
		domain.AgentInventory: {"risk_level": domain.RiskSafe, "current_inventory": 500.0},
		domain.AgentPrice:     {"price_trend": domain.TrendStable, "predicted_price": 16000.0},
		domain.AgentCustoms:   {"risk_level": "low", "mfn_rate": 3.0},
		domain.AgentLogistics: {"delay_risk": "low"},
		domain.AgentQuality:   {"status": "Safe", "stage": 0},
		domain.AgentFinance:   {"total_cost": 1234567.0},
	}
	for id, r := range overrides {
		defaults[id] = r
	}
	set := stubSet{}
	for id, r := range defaults {
		set[id] = &stubAgent{id: id, result: r}
	}
	return set
}

func (s stubSet) registry(t *testing.T) *Registry {
	t.Helper()
	agents := make([]SkillAgent, 0, len(s))
	for _, a := range s {
		agents = append(agents, a)
	}
	reg, err := NewRegistry(agents...)
	require.NoError(t, err)
	return reg
}

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newHarness(t *testing.T, stubs stubSet, cfg Config) (*Service, *sqlitestore.Store, *inproc.Bus) {
	t.Helper()
	store := newTestStore(t)
	bus := inproc.New(256)
	return New(stubs.registry(t), store, bus, cfg, nil), store, bus
}
