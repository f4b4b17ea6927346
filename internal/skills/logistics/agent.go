package logistics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nickel_agent/internal/domain"
)

type Agent struct {
	files  Files
	logger *zap.Logger
	now    func() time.Time
}

func NewAgent(files Files, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{files: files, logger: logger, now: time.Now}
}

func (a *Agent) ID() domain.AgentID { return domain.AgentLogistics }

func (a *Agent) Execute(ctx context.Context, state domain.AnalysisState) (domain.Result, error) {
	now := a.now()
	catalog, err := LoadCatalog(ctx, a.files, now)
	if err != nil {
		return nil, err
	}
	po := state.Baseline.PONumber
	if po == "" {
		po = DefaultPONumber
	}
	shipment, ok := catalog.Find(po)
	if !ok {
		return domain.ErrorResult("no shipment found for purchase order %s", po), nil
	}

	risk := DelayRisk(shipment.StatusIndex())
	a.logger.Debug("shipment tracked",
		zap.String("po_number", shipment.PONumber),
		zap.Int("status_index", shipment.StatusIndex()),
		zap.String("delay_risk", risk),
	)
	return domain.Result{
		"po_number":      shipment.PONumber,
		"supplier":       shipment.Supplier,
		"vessel":         shipment.Vessel,
		"current_status": shipment.CurrentStatus(),
		"eta_days":       shipment.ETADays(now),
		"delay_risk":     risk,
		"answer":         Answer(shipment, state.UserQuestion, now),
	}, nil
}
