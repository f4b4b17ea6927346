package inventory

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"nickel_agent/internal/domain"
)

type Recommendation struct {
	AvgDailyUsage    float64 `json:"avg_daily_usage"`
	ReorderPoint     float64 `json:"reorder_point"`
	CurrentInventory float64 `json:"current_inventory"`
	Needed           bool    `json:"is_needed"`
	ShortageQty      float64 `json:"shortage_qty"`
	Recommendation   string  `json:"recommendation"`
	Details          string  `json:"details"`
	FromBaseline     bool    `json:"from_baseline"`
}

// SuggestedOrderQty rounds the shortage up to the next 100 kg.
func (r Recommendation) SuggestedOrderQty() float64 {
	if r.ShortageQty <= 0 {
		return 0
	}
	return (float64(int64(r.ShortageQty/100)) + 1) * 100
}

// Recommend compares stock on hand against the reorder point. With weekly
// usage and lead time in the baseline it simulates from the baseline;
// otherwise it reads usage and stock from the ledger.
func (l *Ledger) Recommend(ctx context.Context, baseline domain.Baseline) (Recommendation, error) {
	var rec Recommendation
	if baseline.HasReorderInputs() {
		rec.FromBaseline = true
		rec.CurrentInventory = baseline.CurrentStock
		rec.AvgDailyUsage = baseline.WeeklyUsage / 7
		rec.ReorderPoint = baseline.SafetyStock + rec.AvgDailyUsage*float64(baseline.LeadTimeDays)
	} else {
		usage, err := l.AverageDailyUsage(ctx)
		if err != nil {
			return Recommendation{}, err
		}
		stock, err := l.CurrentStock(ctx)
		if err != nil {
			return Recommendation{}, err
		}
		rec.AvgDailyUsage = usage
		rec.CurrentInventory = stock
		rec.ReorderPoint = usage * (fallbackLeadTimeDays + fallbackSafetyStockDays)
	}

	rec.Needed = rec.CurrentInventory < rec.ReorderPoint
	if rec.Needed {
		rec.ShortageQty = rec.ReorderPoint - rec.CurrentInventory
		rec.Recommendation = "purchase request recommended"
		rec.Details = fmt.Sprintf("Current stock (%s kg) is below the reorder point (%s kg), short by %s kg.",
			formatKg(rec.CurrentInventory), formatKg(rec.ReorderPoint), formatKg(rec.ShortageQty))
	} else {
		rec.Recommendation = "stock sufficient"
		rec.Details = fmt.Sprintf("Current stock (%s kg) is above the reorder point (%s kg).",
			formatKg(rec.CurrentInventory), formatKg(rec.ReorderPoint))
	}
	return rec, nil
}

type Agent struct {
	ledger *Ledger
	logger *zap.Logger
}

func NewAgent(ledger *Ledger, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{ledger: ledger, logger: logger}
}

func (a *Agent) ID() domain.AgentID { return domain.AgentInventory }

func (a *Agent) Execute(ctx context.Context, state domain.AnalysisState) (domain.Result, error) {
	rec, err := a.ledger.Recommend(ctx, state.Baseline)
	if err != nil {
		return nil, fmt.Errorf("inventory recommendation: %w", err)
	}
	risk := domain.RiskSafe
	if rec.Needed {
		risk = domain.RiskWarning
	}
	a.logger.Debug("inventory evaluated",
		zap.String("risk_level", risk),
		zap.Float64("current_inventory", rec.CurrentInventory),
		zap.Float64("reorder_point", rec.ReorderPoint),
		zap.Bool("from_baseline", rec.FromBaseline))
	out := domain.Result{
		"risk_level":        risk,
		"details":           rec.Details,
		"current_inventory": rec.CurrentInventory,
		"reorder_point":     rec.ReorderPoint,
		"shortage_qty":      rec.ShortageQty,
		"avg_daily_usage":   rec.AvgDailyUsage,
	}
	if state.Baseline.WeeklyUsage > 0 {
		plan, err := Plan(state.Baseline, a.ledger.now())
		if err != nil {
			return nil, fmt.Errorf("demand plan: %w", err)
		}
		out["demand_plan"] = planResult(plan)
	}
	return out, nil
}

func planResult(p DemandPlan) map[string]any {
	sim := make([]map[string]any, 0, len(p.Simulation))
	for _, d := range p.Simulation {
		sim = append(sim, map[string]any{
			"date":     d.Date.Format(dateLayout),
			"stock":    math.Round(d.Stock*10) / 10,
			"incoming": d.Incoming,
		})
	}
	return map[string]any{
		"coverage_days":          math.Round(p.CoverageDays*10) / 10,
		"zero_stock_date":        p.ZeroStockDate.Format(dateLayout),
		"safety_stock_date":      p.SafetyStockDate.Format(dateLayout),
		"incoming_date":          p.IncomingDate.Format(dateLayout),
		"recommended_order_date": p.OrderDate.Format(dateLayout),
		"order_now":              p.OrderNow,
		"stock_at_incoming":      p.StockAtIncoming,
		"shortage_at_incoming":   p.Shortage,
		"stability":              string(p.Stability),
		"order_message":          p.OrderMessage(),
		"stability_message":      p.Stability.Message(),
		"simulation":             sim,
	}
}
