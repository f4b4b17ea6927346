package quality

import (
	"context"

	"go.uber.org/zap"

	"nickel_agent/internal/domain"
)

type Agent struct {
	book   *Book
	logger *zap.Logger
}

func NewAgent(book *Book, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{book: book, logger: logger}
}

func (a *Agent) ID() domain.AgentID { return domain.AgentQuality }

func (a *Agent) Execute(ctx context.Context, state domain.AnalysisState) (domain.Result, error) {
	supplier := state.Baseline.Supplier
	if supplier == "" {
		return domain.Result{
			"status":        "skipped",
			domain.ErrorKey: "no supplier given; quality risk evaluation needs a supplier name",
		}, nil
	}
	risk, err := a.book.SupplierRisk(ctx, supplier)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("supplier risk evaluated",
		zap.String("supplier", supplier),
		zap.Int("consecutive_failures", risk.ConsecutiveFailures),
	)
	return domain.Result{
		"supplier":             supplier,
		"status":               risk.Stage.Status(),
		"stage":                int(risk.Stage),
		"action":               risk.Stage.Action(),
		"consecutive_failures": risk.ConsecutiveFailures,
		"inspections":          risk.Inspections,
	}, nil
}
