package orchestrator

import (
	"strings"

	"nickel_agent/internal/domain"
)

type keywordRule struct {
	agent    domain.AgentID
	keywords []string
}

var planningRules = []keywordRule{
	{agent: domain.AgentInventory, keywords: []string{"재고", "수량", "inventory", "stock", "quantity"}},
	{agent: domain.AgentPrice, keywords: []string{"가격", "시세", "구매", "price", "quote", "purchase"}},
	{agent: domain.AgentCustoms, keywords: []string{"통관", "관세", "customs", "tariff"}},
	{agent: domain.AgentLogistics, keywords: []string{"물류", "운송", "logistics", "shipping", "shipment"}},
	{agent: domain.AgentQuality, keywords: []string{"품질", "quality"}},
	{agent: domain.AgentFinance, keywords: []string{"원가", "비용", "재무", "cost", "finance"}},
}

var comprehensiveKeywords = []string{"종합", "전체", "분석", "comprehensive", "overall", "analyze", "analysis"}

// DefaultPlan runs when the question names no agent or asks for a general
// analysis.
var DefaultPlan = []domain.AgentID{
	domain.AgentInventory,
	domain.AgentPrice,
	domain.AgentLogistics,
	domain.AgentFinance,
}

type Planner struct {
	deps map[domain.AgentID][]domain.AgentID
}

func NewPlanner(deps map[domain.AgentID][]domain.AgentID) *Planner {
	if deps == nil {
		deps = DefaultDependencies()
	}
	return &Planner{deps: deps}
}

// Plan returns the sorted set of agents to run for question, including the
// dependency closure.
func (p *Planner) Plan(question string) []domain.AgentID {
	q := strings.ToLower(question)
	plan := map[domain.AgentID]bool{}
	for _, rule := range planningRules {
		if containsAny(q, rule.keywords) {
			plan[rule.agent] = true
		}
	}
	if len(plan) == 0 || containsAny(q, comprehensiveKeywords) {
		for _, id := range DefaultPlan {
			plan[id] = true
		}
	}

	seeds := make([]domain.AgentID, 0, len(plan))
	for id := range plan {
		seeds = append(seeds, id)
	}
	return p.Closure(seeds...)
}

// Closure returns ids plus every transitive dependency, sorted. Cycles in the
// dependency table terminate through the visited set.
func (p *Planner) Closure(ids ...domain.AgentID) []domain.AgentID {
	visited := map[domain.AgentID]bool{}
	var visit func(id domain.AgentID)
	visit = func(id domain.AgentID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range p.deps[id] {
			visit(dep)
		}
	}
	for _, id := range ids {
		visit(id)
	}
	out := make([]domain.AgentID, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	domain.SortAgentIDs(out)
	return out
}

// DependenciesMet reports whether every dependency of id is in executed.
func (p *Planner) DependenciesMet(id domain.AgentID, executed []domain.AgentID) bool {
	done := make(map[domain.AgentID]bool, len(executed))
	for _, e := range executed {
		done[e] = true
	}
	for _, dep := range p.deps[id] {
		if !done[dep] {
			return false
		}
	}
	return true
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
