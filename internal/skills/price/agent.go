package price

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

func (a *Agent) ID() domain.AgentID { return domain.AgentPrice }

// Execute forecasts the next price and, when the forecast leaves the stable
// band, names the features most associated with the move.
func (a *Agent) Execute(ctx context.Context, _ domain.AnalysisState) (domain.Result, error) {
	history, err := LoadHistory(ctx, a.files)
	if err != nil {
		return nil, err
	}
	drivers, err := LoadDrivers(ctx, a.files)
	if err != nil {
		return nil, err
	}

	f := Predict(history, drivers.Window, drivers.HorizonDays)
	out := domain.Result{
		"current_price":   f.CurrentPrice,
		"predicted_price": f.PredictedPrice,
		"price_trend":     f.Trend,
		"as_of":           history.Last().Date.Format(dateLayout),
	}
	if f.Trend == domain.TrendUp || f.Trend == domain.TrendDown {
		top := TopFeatures(history, drivers)
		factors := drivers.MainFactors(top)
		out["top_features"] = top
		out["main_factors"] = factors
		out["main_factors_str"] = fmt.Sprintf("The main price drivers appear to be **%s**.", factors)
	}
	a.logger.Debug("price forecast",
		zap.Float64("current", f.CurrentPrice),
		zap.Float64("predicted", f.PredictedPrice),
		zap.String("trend", f.Trend))
	return out, nil
}
