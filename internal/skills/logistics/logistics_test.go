package logistics

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nickel_agent/internal/domain"
)

type memFiles map[string]string

func (m memFiles) ReadFile(_ context.Context, _ string, relPath string) ([]byte, error) {
	v, ok := m[relPath]
	if !ok {
		return nil, fmt.Errorf("read file: %w", os.ErrNotExist)
	}
	return []byte(v), nil
}

var fixedNow = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func newTestAgent(files Files) *Agent {
	a := NewAgent(files, nil)
	a.now = func() time.Time { return fixedNow }
	return a
}

func TestDelayRisk(t *testing.T) {
	assert.Equal(t, "high", DelayRisk(-1))
	assert.Equal(t, "high", DelayRisk(0))
	assert.Equal(t, "medium", DelayRisk(1))
	assert.Equal(t, "medium", DelayRisk(3))
	assert.Equal(t, "low", DelayRisk(4))
	assert.Equal(t, "low", DelayRisk(7))
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog(fixedNow)

	first, ok := c.Find("po-2024-001")
	require.True(t, ok)
	assert.Equal(t, 7, first.StatusIndex())
	assert.Equal(t, "Customs cleared and release approved", first.CurrentStatus())
	assert.Equal(t, -5, first.ETADays(fixedNow))

	second, ok := c.Find("PO-2024-002")
	require.True(t, ok)
	assert.Equal(t, 2, second.StatusIndex())
	assert.Equal(t, 4, second.ETADays(fixedNow))

	_, ok = c.Find("PO-1999-999")
	assert.False(t, ok)
}

func TestAnswer(t *testing.T) {
	s, _ := DefaultCatalog(fixedNow).Find("PO-2024-002")
	assert.Contains(t, Answer(s, "When will it arrive?", fixedNow), "in 4 day(s)")
	assert.Contains(t, Answer(s, "send me the documents", fixedNow), "B/L #TJ54321")
	assert.Contains(t, Answer(s, "status?", fixedNow), "En route to Incheon port")

	first, _ := DefaultCatalog(fixedNow).Find(DefaultPONumber)
	assert.Contains(t, Answer(first, "ETA", fixedNow), "arrived on")
}

func TestAgentDefaultsToFirstOrder(t *testing.T) {
	out, err := newTestAgent(memFiles{}).Execute(context.Background(), domain.AnalysisState{UserQuestion: "shipping status"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPONumber, out.String("po_number"))
	assert.Equal(t, "low", out.String("delay_risk"))
	assert.Equal(t, "Valin Group", out.String("supplier"))
	days, ok := out.Float("eta_days")
	require.True(t, ok)
	assert.Equal(t, -5.0, days)
}

func TestAgentUnknownOrder(t *testing.T) {
	state := domain.AnalysisState{Baseline: domain.Baseline{PONumber: "PO-404"}}
	out, err := newTestAgent(memFiles{}).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, out.HasError())
	assert.Contains(t, out.ErrorMessage(), "PO-404")
}

func TestAgentReadsCatalogFile(t *testing.T) {
	files := memFiles{CatalogPath: `
shipments:
  - po_number: PO-7
    supplier: Norilsk
    vessel: ARCTIC
    eta: 2024-06-12T00:00:00Z
    status:
      - at: 2024-06-05T00:00:00Z
        description: Departed Murmansk
      - at: 2024-06-01T00:00:00Z
        description: Order confirmed
`}
	state := domain.AnalysisState{Baseline: domain.Baseline{PONumber: "PO-7"}}
	out, err := newTestAgent(files).Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "Departed Murmansk", out.String("current_status"))
	assert.Equal(t, "medium", out.String("delay_risk"))
	assert.Equal(t, 2, out["eta_days"])
}

func TestAnswerMatchesWholeWords(t *testing.T) {
	s, _ := DefaultCatalog(fixedNow).Find("PO-2024-002")
	assert.Contains(t, Answer(s, "metal shipment status", fixedNow), "is currently")
	assert.Contains(t, Answer(s, "B/L?", fixedNow), "Shipping documents")
}
