package orchestrator

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"nickel_agent/internal/domain"
)

const defaultRecommendation = "[Recommendation] Monitor the market periodically for a favorable purchase window."

// Summarize fills confidence, per-agent summaries, conclusion and
// recommendations from the agent outputs. It never fails: missing or
// malformed outputs render as skipped or error.
func Summarize(state *domain.AnalysisState) {
	state.Confidence = computeConfidence(state)
	state.AgentSummaries = buildSummaries(state)
	state.Conclusion, state.Recommendations = conclude(state.Output(domain.AgentInventory), state.Output(domain.AgentPrice))
}

func summarizeEmptyPlan(state *domain.AnalysisState) {
	state.AgentSummaries = buildSummaries(state)
	state.Conclusion = domain.Conclusion{
		Level:   domain.ConclusionInfo,
		Message: "There are no analysis agents to run.",
	}
	state.Recommendations = []string{defaultRecommendation}
	state.Confidence = domain.Confidence{
		Level:      domain.ConfidenceLow,
		Reason:     "No agents to analyze.",
		TotalCount: len(SkillAgentIDs),
	}
}

func executedSkills(state *domain.AnalysisState) map[domain.AgentID]bool {
	out := map[domain.AgentID]bool{}
	for _, id := range state.ExecutedAgents {
		if id == domain.AgentPlan {
			continue
		}
		out[id] = true
	}
	return out
}

// ConfidenceFor maps executed/total counts to a level.
func ConfidenceFor(executed, total int) domain.ConfidenceLevel {
	switch {
	case float64(executed) < float64(total)/2:
		return domain.ConfidenceLow
	case executed < total:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceHigh
	}
}

func computeConfidence(state *domain.AnalysisState) domain.Confidence {
	executed := executedSkills(state)
	total := len(SkillAgentIDs)
	count := 0
	missing := make([]string, 0, total)
	for _, id := range SkillAgentIDs {
		if executed[id] {
			count++
			continue
		}
		missing = append(missing, DefaultAgentInfo(id).Title)
	}
	reason := fmt.Sprintf("Executed %d of %d agents.", count, total)
	if len(missing) > 0 {
		reason += fmt.Sprintf(" (not executed: %s)", strings.Join(missing, ", "))
	}
	return domain.Confidence{
		Level:         ConfidenceFor(count, total),
		Reason:        reason,
		ExecutedCount: count,
		TotalCount:    total,
	}
}

func buildSummaries(state *domain.AnalysisState) map[domain.AgentID]domain.AgentSummary {
	executed := executedSkills(state)
	out := make(map[domain.AgentID]domain.AgentSummary, len(SkillAgentIDs))
	for _, id := range SkillAgentIDs {
		info := DefaultAgentInfo(id)
		sum := domain.AgentSummary{
			Icon:    info.Icon,
			Title:   info.Title,
			Summary: "Not included in the analysis plan.",
			Status:  domain.SummaryStatusSkipped,
		}
		result := state.Output(id)
		switch {
		case executed[id] && len(result) > 0 && !result.HasError():
			sum.Status = domain.SummaryStatusSuccess
			sum.Summary = successSummary(id, result)
			sum.Details = result.Clone()
		case executed[id]:
			sum.Status = domain.SummaryStatusError
			msg := "no result"
			if len(result) > 0 {
				msg = result.ErrorMessage()
			}
			sum.Summary = "Error: " + msg
		case state.IsPending(id):
			sum.Status = domain.SummaryStatusPending
			sum.Summary = "Waiting for dependencies."
		}
		out[id] = sum
	}
	return out
}

func successSummary(id domain.AgentID, r domain.Result) string {
	switch id {
	case domain.AgentInventory:
		return "Inventory risk: " + upperOrNA(r.String("risk_level"))
	case domain.AgentPrice:
		return "Price forecast: " + upperOrNA(r.String("price_trend")) + " trend"
	case domain.AgentLogistics:
		return "Transport delay risk: " + upperOrNA(r.String("delay_risk"))
	case domain.AgentQuality:
		return "Quality grade: " + orNA(r.String("status"))
	case domain.AgentCustoms:
		return "Tariff risk: " + upperOrNA(r.String("risk_level"))
	case domain.AgentFinance:
		cost, _ := r.Float("total_cost")
		return "Estimated total cost: ₩" + humanize.Comma(int64(math.Round(cost)))
	}
	return "Analysis completed."
}

func conclude(inventory, price domain.Result) (domain.Conclusion, []string) {
	conclusion := domain.Conclusion{
		Level:   domain.ConclusionInfo,
		Message: "It is difficult to reach a clear conclusion for the requested analysis.",
	}
	recs := []string{defaultRecommendation}

	factors := strings.TrimSpace(price.String("main_factors"))
	trend := price.String("price_trend")

	switch inventory.String("risk_level") {
	case domain.RiskWarning:
		recs = []string{"[Recommendation] Start purchasing at least the safety-stock quantity immediately to avoid production disruption."}
		if trend == domain.TrendUp {
			msg := "Inventory shortage and rising prices are occurring together; this is a highly adverse situation that needs an immediate response."
			if factors != "" {
				msg += fmt.Sprintf(" In particular, **%s** is putting upward pressure on prices.", factors)
			}
			conclusion = domain.Conclusion{Level: domain.ConclusionCritical, Message: msg}
		} else {
			conclusion = domain.Conclusion{
				Level:   domain.ConclusionWarning,
				Message: "Inventory shortage is the most urgent issue. Purchase immediately to avoid production disruption.",
			}
		}
	case domain.RiskSafe:
		switch trend {
		case domain.TrendUp:
			msg := "Inventory is safe, but prices are expected to rise."
			if factors != "" {
				msg += fmt.Sprintf(" Driven by **%s**, consider buying ahead to reduce cost.", factors)
			} else {
				msg += " Consider buying ahead to reduce cost."
			}
			conclusion = domain.Conclusion{Level: domain.ConclusionInfo, Message: msg}
			recs = []string{
				"[Recommendation] No short-term emergency purchase is needed.",
				"[Suggestion] Over the longer term, buying before prices rise further can reduce cost.",
			}
		case domain.TrendDown:
			conclusion = domain.Conclusion{
				Level:   domain.ConclusionSuccess,
				Message: "Inventory is stable and prices are expected to fall; a very favorable situation.",
			}
			recs = []string{
				"[Recommendation] There is no rush to purchase.",
				"[Suggestion] Buy once prices have fallen enough to optimize cost.",
			}
		default:
			conclusion = domain.Conclusion{
				Level:   domain.ConclusionSuccess,
				Message: "Both inventory and prices are stable.",
			}
			recs = []string{"[Recommendation] There is no urgent purchase driver; buy at current price levels as needed."}
		}
	}
	return conclusion, recs
}

func upperOrNA(s string) string {
	return strings.ToUpper(orNA(s))
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
