package orchestrator

import (
	"context"
	"fmt"

	"nickel_agent/internal/domain"
)

// SkillAgent is one domain analysis unit. Execute receives a snapshot of the
// analysis state; only the returned Result is merged back.
type SkillAgent interface {
	ID() domain.AgentID
	Execute(ctx context.Context, state domain.AnalysisState) (domain.Result, error)
}

// SkillFunc adapts a plain function to SkillAgent.
type SkillFunc struct {
	AgentID domain.AgentID
	Fn      func(ctx context.Context, state domain.AnalysisState) (domain.Result, error)
}

func (f SkillFunc) ID() domain.AgentID { return f.AgentID }

func (f SkillFunc) Execute(ctx context.Context, state domain.AnalysisState) (domain.Result, error) {
	return f.Fn(ctx, state)
}

type AgentInfo struct {
	Icon  string
	Title string
}

// SkillAgentIDs is the fixed set of skill agents known to the system, sorted.
var SkillAgentIDs = []domain.AgentID{
	domain.AgentCustoms,
	domain.AgentFinance,
	domain.AgentInventory,
	domain.AgentLogistics,
	domain.AgentPrice,
	domain.AgentQuality,
}

// DefaultDependencies lists, per agent, the agents whose output it needs
// before it may run.
func DefaultDependencies() map[domain.AgentID][]domain.AgentID {
	return map[domain.AgentID][]domain.AgentID{
		domain.AgentFinance: {domain.AgentPrice, domain.AgentCustoms, domain.AgentInventory},
	}
}

var defaultAgentInfo = map[domain.AgentID]AgentInfo{
	domain.AgentPrice:     {Icon: "📈", Title: "Purchase price analysis"},
	domain.AgentCustoms:   {Icon: "🚢", Title: "Import customs analysis"},
	domain.AgentLogistics: {Icon: "🚚", Title: "Transport and logistics analysis"},
	domain.AgentQuality:   {Icon: "🔬", Title: "Quality management analysis"},
	domain.AgentFinance:   {Icon: "💰", Title: "Finance and cost analysis"},
	domain.AgentInventory: {Icon: "📦", Title: "Inventory management analysis"},
}

func DefaultAgentInfo(id domain.AgentID) AgentInfo {
	if info, ok := defaultAgentInfo[id]; ok {
		return info
	}
	return AgentInfo{Title: string(id)}
}

// Registry maps agent identifiers to implementations. Every identifier in
// SkillAgentIDs must be registered before a run.
type Registry struct {
	agents map[domain.AgentID]SkillAgent
}

func NewRegistry(agents ...SkillAgent) (*Registry, error) {
	r := &Registry{agents: make(map[domain.AgentID]SkillAgent, len(agents))}
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(agent SkillAgent) error {
	if agent == nil {
		return fmt.Errorf("skill agent is nil")
	}
	id := agent.ID()
	if !isSkillAgent(id) {
		return fmt.Errorf("unknown skill agent id %q", id)
	}
	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("duplicate skill agent %q", id)
	}
	r.agents[id] = agent
	return nil
}

func (r *Registry) Lookup(id domain.AgentID) (SkillAgent, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.agents[id]
	return a, ok
}

func isSkillAgent(id domain.AgentID) bool {
	for _, known := range SkillAgentIDs {
		if known == id {
			return true
		}
	}
	return false
}
