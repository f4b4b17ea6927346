package finance

import (
	"context"
	"math"

	"go.uber.org/zap"

	"nickel_agent/internal/domain"
)

type Agent struct {
	settings Settings
	logger   *zap.Logger
}

func NewAgent(settings Settings, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{settings: settings.WithDefaults(), logger: logger}
}

func (a *Agent) ID() domain.AgentID { return domain.AgentFinance }

func (a *Agent) Execute(_ context.Context, state domain.AnalysisState) (domain.Result, error) {
	qty := state.Baseline.OrderQty
	if qty <= 0 {
		return domain.ErrorResult("order quantity is required for cost analysis"), nil
	}
	price := state.Output(domain.AgentPrice)
	predicted, ok := price.Float("predicted_price")
	if !ok || price.HasError() {
		return domain.ErrorResult("a price forecast is required for cost analysis"), nil
	}

	options, err := ScoreOptions(predicted, a.settings.Options)
	if err != nil {
		return nil, err
	}
	best := options[0]

	tariffRate := a.settings.DefaultTariffRate
	if c := state.Output(domain.AgentCustoms); c != nil && !c.HasError() {
		if r, ok := c.Float("mfn_rate"); ok {
			tariffRate = r
		}
	}
	cost, err := ComputeLandedCost(qty, best.PriceUSD, tariffRate, a.settings)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("landed cost computed",
		zap.String("best_supplier", best.Supplier),
		zap.Float64("total_krw", cost.TotalKRW),
	)

	ranked := make([]map[string]any, 0, len(options))
	for _, o := range options {
		ranked = append(ranked, map[string]any{
			"supplier":       o.Supplier,
			"price_usd":      round2(o.PriceUSD),
			"lead_time_days": o.LeadTimeDays,
			"payment_terms":  o.PaymentTerms,
			"score":          round2(o.Score),
		})
	}
	var journal []map[string]any
	for _, l := range cost.Journal() {
		journal = append(journal, map[string]any{"account": l.Account, "debit": l.Debit, "credit": l.Credit})
	}
	return domain.Result{
		"total_cost":         math.Round(cost.TotalKRW),
		"unit_cost":          math.Round(cost.UnitCostKRW),
		"total_purchase_usd": round2(cost.PurchaseUSD),
		"tariff_krw":         math.Round(cost.TariffKRW),
		"vat_krw":            math.Round(cost.VATKRW),
		"vat_rate":           cost.VATRate,
		"best_supplier":      best.Supplier,
		"selected_price_usd": round2(best.PriceUSD),
		"tariff_rate":        tariffRate,
		"exchange_rate":      cost.ExchangeRate,
		"options":            ranked,
		"journal_entry":      journal,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
