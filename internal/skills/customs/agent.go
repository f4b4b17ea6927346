package customs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nickel_agent/internal/domain"
)

type Agent struct {
	files  Files
	logger *zap.Logger
}

func NewAgent(files Files, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{files: files, logger: logger}
}

func (a *Agent) ID() domain.AgentID { return domain.AgentCustoms }

func (a *Agent) Execute(ctx context.Context, state domain.AnalysisState) (domain.Result, error) {
	table, err := LoadTable(ctx, a.files)
	if err != nil {
		return nil, err
	}
	country := state.Baseline.OriginCountry
	if country == "" {
		country = table.DefaultCountry
	}

	out := domain.Result{"origin_country": country}
	rate, ok := table.Lookup(country)
	if !ok {
		out["mfn_rate"] = 0.0
		out["risk_level"] = RiskLevel(0)
		out["answer"] = fmt.Sprintf("No MFN rate for nickel imports from %s was found in the tariff table.", country)
		return out, nil
	}
	out["hs_code"] = rate.HSCode
	out["mfn_rate"] = rate.MFNRate
	out["risk_level"] = RiskLevel(rate.MFNRate)
	out["answer"] = fmt.Sprintf("The MFN rate for %s (HS %s) imported from %s is %.2f%%.",
		rate.Description, rate.HSCode, rate.Country, rate.MFNRate)
	a.logger.Debug("tariff looked up", zap.String("country", country), zap.Float64("mfn_rate", rate.MFNRate))
	return out, nil
}
