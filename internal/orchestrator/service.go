package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nickel_agent/internal/domain"
)

const orchestratorActor = "orchestrator"

// DefaultMaxSteps bounds the scheduling loop against a cyclic dependency table.
const DefaultMaxSteps = 10

type Store interface {
	CreateRun(ctx context.Context, run domain.AnalysisRun) error
	CompleteRun(ctx context.Context, runID string, state *domain.AnalysisState) error
	RecordAgentOutput(ctx context.Context, rec domain.AgentOutputRecord) error
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
}

type EventPublisher interface {
	Publish(event domain.RunEvent) error
}

type Config struct {
	MaxSteps     int
	Dependencies map[domain.AgentID][]domain.AgentID
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.Dependencies == nil {
		c.Dependencies = DefaultDependencies()
	}
	return c
}

type Service struct {
	registry *Registry
	planner  *Planner
	store    Store
	events   EventPublisher
	cfg      Config
	logger   *zap.Logger
}

// New builds a Service. store and events may be nil.
func New(registry *Registry, store Store, events EventPublisher, cfg Config, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		planner:  NewPlanner(cfg.Dependencies),
		store:    store,
		events:   events,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Service) Planner() *Planner {
	return s.planner
}

// Run plans, schedules and summarizes one analysis. Skill agent failures are
// recorded in the state and never returned as errors.
func (s *Service) Run(ctx context.Context, question string, baseline domain.Baseline) (*domain.AnalysisState, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("skill registry is required")
	}
	state := domain.NewAnalysisState(uuid.NewString(), question, baseline)
	s.createRun(ctx, state)

	state.AddPending(s.planner.Plan(question)...)
	s.logDecision(ctx, state.RunID, "plan_registered", "initial plan derived from question", map[string]any{
		"question": question,
		"pending":  state.PendingAgents,
	})
	s.publish(state.RunID, domain.RunEventPlanned, state.PendingAgents, "analysis plan prepared")

	if len(state.PendingAgents) == 0 {
		summarizeEmptyPlan(state)
		s.finish(ctx, state)
		return state, nil
	}

	s.schedule(ctx, state)
	Summarize(state)
	s.finish(ctx, state)
	return state, nil
}

func (s *Service) schedule(ctx context.Context, state *domain.AnalysisState) {
	for step := 1; step <= s.cfg.MaxSteps; step++ {
		if len(state.PendingAgents) == 0 {
			return
		}
		next, ok := s.nextRunnable(state)
		if !ok {
			s.logDecision(ctx, state.RunID, "schedule_stalled", "no pending agent has its dependencies satisfied", map[string]any{
				"pending":  state.PendingAgents,
				"executed": state.ExecutedAgents,
			})
			s.logger.Warn("scheduling stalled",
				zap.String("run_id", state.RunID),
				zap.Any("pending", state.PendingAgents))
			return
		}

		state.RemovePending(next)
		info := DefaultAgentInfo(next)
		s.publish(state.RunID, domain.RunEventAgentStarted, []domain.AgentID{next}, info.Title+" running")

		started := time.Now()
		result := s.invoke(ctx, next, state.Snapshot())
		state.AgentOutputs[next] = result
		state.ExecutedAgents = append(state.ExecutedAgents, next)

		s.logger.Info("skill agent finished",
			zap.String("run_id", state.RunID),
			zap.String("agent", string(next)),
			zap.Int("step", step),
			zap.Bool("failed", result.HasError()),
			zap.Duration("elapsed", time.Since(started)))
		s.recordOutput(ctx, state.RunID, next, step, result)
		s.publish(state.RunID, domain.RunEventAgentFinished, []domain.AgentID{next}, info.Title+" finished")

		added := s.replan(state)
		if len(added) > 0 {
			s.logDecision(ctx, state.RunID, "agents_enqueued", "trigger rule enqueued related analysis", map[string]any{
				"after": next,
				"added": added,
			})
			for _, id := range added {
				notice := fmt.Sprintf("Related analysis: running %s as well.", DefaultAgentInfo(id).Title)
				state.Notices = append(state.Notices, notice)
			}
			s.publish(state.RunID, domain.RunEventEnqueued, added, "additional analysis enqueued")
		}
	}
	if len(state.PendingAgents) > 0 {
		s.logDecision(ctx, state.RunID, "step_limit_reached", "scheduling ceiling reached with agents still pending", map[string]any{
			"max_steps": s.cfg.MaxSteps,
			"pending":   state.PendingAgents,
		})
	}
}

// nextRunnable picks the first pending agent, in sorted order, whose
// dependencies have all executed.
func (s *Service) nextRunnable(state *domain.AnalysisState) (domain.AgentID, bool) {
	pending := append([]domain.AgentID(nil), state.PendingAgents...)
	domain.SortAgentIDs(pending)
	for _, id := range pending {
		if s.planner.DependenciesMet(id, state.ExecutedAgents) {
			return id, true
		}
	}
	return "", false
}

func (s *Service) invoke(ctx context.Context, id domain.AgentID, snapshot domain.AnalysisState) (result domain.Result) {
	agent, ok := s.registry.Lookup(id)
	if !ok {
		return domain.ErrorResult("no skill agent registered for %s", id)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("skill agent panicked",
				zap.String("agent", string(id)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = domain.ErrorResult("exception during execution: %v", r)
		}
	}()

	out, err := agent.Execute(ctx, snapshot)
	if err != nil {
		return domain.ErrorResult("exception during execution: %v", err)
	}
	if len(out) == 0 {
		return domain.ErrorResult("no result")
	}
	return out
}

// replan evaluates trigger rules over the cumulative outputs and enqueues
// related agents together with their dependency closure.
func (s *Service) replan(state *domain.AnalysisState) []domain.AgentID {
	triggered := Triggers(state)
	if len(triggered) == 0 {
		return nil
	}
	return state.AddPending(s.planner.Closure(triggered...)...)
}

// Triggers returns the agents the trigger rules want to add, excluding any
// already executed or pending.
func Triggers(state *domain.AnalysisState) []domain.AgentID {
	want := map[domain.AgentID]bool{}
	if state.Output(domain.AgentInventory).String("risk_level") == domain.RiskWarning {
		want[domain.AgentPrice] = true
		want[domain.AgentFinance] = true
		want[domain.AgentLogistics] = true
	}
	switch state.Output(domain.AgentPrice).String("price_trend") {
	case domain.TrendUp, domain.TrendDown:
		want[domain.AgentFinance] = true
	}

	out := make([]domain.AgentID, 0, len(want))
	for id := range want {
		if state.IsExecuted(id) || state.IsPending(id) {
			continue
		}
		out = append(out, id)
	}
	domain.SortAgentIDs(out)
	return out
}

// Run history writes outlive the caller's context: a client that goes away
// mid-run still leaves a completed record behind.
func (s *Service) createRun(ctx context.Context, state *domain.AnalysisState) {
	if s.store == nil {
		return
	}
	now := time.Now().UTC()
	if err := s.store.CreateRun(context.WithoutCancel(ctx), domain.AnalysisRun{
		ID:        state.RunID,
		Question:  state.UserQuestion,
		Baseline:  state.Baseline,
		Status:    domain.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		s.logger.Warn("create run record failed", zap.String("run_id", state.RunID), zap.Error(err))
	}
}

func (s *Service) finish(ctx context.Context, state *domain.AnalysisState) {
	state.FinishedAt = time.Now().UTC()
	s.logDecision(ctx, state.RunID, "run_completed", "report synthesized", map[string]any{
		"conclusion": state.Conclusion.Level,
		"confidence": state.Confidence.Level,
		"executed":   state.ExecutedAgents,
		"pending":    state.PendingAgents,
	})
	s.publish(state.RunID, domain.RunEventCompleted, nil, trimText(state.Conclusion.Message, 160))
	if s.store == nil {
		return
	}
	if err := s.store.CompleteRun(context.WithoutCancel(ctx), state.RunID, state); err != nil {
		s.logger.Warn("complete run record failed", zap.String("run_id", state.RunID), zap.Error(err))
	}
}

func (s *Service) recordOutput(ctx context.Context, runID string, id domain.AgentID, step int, result domain.Result) {
	if s.store == nil {
		return
	}
	_ = s.store.RecordAgentOutput(context.WithoutCancel(ctx), domain.AgentOutputRecord{
		RunID:   runID,
		AgentID: id,
		Step:    step,
		Failed:  result.HasError(),
		Output:  mustJSON(result),
	})
}

func (s *Service) logDecision(ctx context.Context, runID, action, reason string, payload map[string]any) {
	if s.store == nil {
		return
	}
	_ = s.store.LogDecision(context.WithoutCancel(ctx), domain.DecisionLog{
		RunID:   runID,
		Actor:   orchestratorActor,
		Action:  action,
		Reason:  reason,
		Payload: mustJSON(payload),
	})
}

func (s *Service) publish(runID string, kind domain.RunEventKind, agents []domain.AgentID, message string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(domain.RunEvent{
		RunID:   runID,
		Kind:    kind,
		Agents:  append([]domain.AgentID(nil), agents...),
		Message: message,
		At:      time.Now().UTC(),
	})
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func trimText(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
