package quality

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nickel_agent/internal/domain"
	"nickel_agent/internal/fs"
	"nickel_agent/internal/policy"
	"nickel_agent/internal/skills/inventory"
)

func goodCOA() Analysis {
	return Analysis{"ni": 99.9, "moisture": 0.2, "fe": 0.01, "s": 0.001, "p": 0.001}
}

func newTestBook(t *testing.T) (*Book, *inventory.Ledger) {
	t.Helper()
	engine, err := policy.New(nil)
	require.NoError(t, err)
	gw, err := fs.NewGateway(t.TempDir(), engine, nil)
	require.NoError(t, err)
	ledger := inventory.NewLedger(gw)
	return NewBook(gw, ledger), ledger
}

func day(s string) time.Time {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAssessPassesWithinCOAAndSpec(t *testing.T) {
	actual := goodCOA()
	actual["ni"] = 99.95
	a := Assess(goodCOA(), actual)
	assert.True(t, a.Pass)
	assert.Equal(t, VerdictPass, a.Verdict())
	assert.Equal(t, "normal", a.Remark())
}

func TestAssessFlagsCOADeviations(t *testing.T) {
	actual := goodCOA()
	actual["ni"] = 99.85
	actual["fe"] = 0.015
	a := Assess(goodCOA(), actual)
	assert.False(t, a.Pass)
	assert.Equal(t, VerdictFail, a.Verdict())
	require.Len(t, a.Violations, 2)
	assert.Contains(t, a.Remark(), "ni below COA")
	assert.Contains(t, a.Remark(), "fe above COA")
}

func TestAssessFlagsSpecRange(t *testing.T) {
	coa := goodCOA()
	coa["moisture"] = 0.9
	actual := goodCOA()
	actual["moisture"] = 0.7
	a := Assess(coa, actual)
	assert.False(t, a.Pass)
	assert.Equal(t, []string{"moisture out of spec (0.7 not in 0-0.5)"}, a.Violations)

	delete(actual, "p")
	assert.Contains(t, Assess(coa, actual).Remark(), "p not measured")
}

func TestStageTable(t *testing.T) {
	cases := []struct {
		failures int
		stage    Stage
		status   string
	}{
		{0, StageSafe, "Safe"},
		{1, StageCaution, "Caution"},
		{2, StageWarning, "Warning"},
		{3, StageCritical, "Critical"},
		{7, StageCritical, "Critical"},
	}
	for _, tc := range cases {
		s := StageFor(tc.failures)
		assert.Equal(t, tc.stage, s)
		assert.Equal(t, tc.status, s.Status())
	}
	assert.Equal(t, "New Business Hold", StageCritical.Action())
}

func TestInspectBooksPassedLotIntoStock(t *testing.T) {
	ctx := context.Background()
	book, ledger := newTestBook(t)

	rec, err := book.Inspect(ctx, Inspection{
		Date: day("2024-05-02"), Supplier: "Valin Group", QtyKg: 1000, COA: goodCOA(), Actual: goodCOA(),
	})
	require.NoError(t, err)
	assert.True(t, rec.Passed())
	assert.True(t, strings.HasPrefix(rec.LotNo, "LOT-"))

	stock, err := ledger.CurrentStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, stock)

	bad := goodCOA()
	bad["s"] = 0.003
	rec, err = book.Inspect(ctx, Inspection{
		Date: day("2024-05-03"), Supplier: "Valin Group", LotNo: "LOT-X", QtyKg: 500, COA: goodCOA(), Actual: bad,
	})
	require.NoError(t, err)
	assert.False(t, rec.Passed())

	stock, err = ledger.CurrentStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, stock)

	records, err := book.Inspections(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "LOT-X", records[1].LotNo)
	assert.Equal(t, VerdictFail, records[1].Verdict)
	assert.InDelta(t, 0.003, records[1].Actual["s"], 1e-12)
}

func TestInspectValidatesInput(t *testing.T) {
	book, _ := newTestBook(t)
	_, err := book.Inspect(context.Background(), Inspection{QtyKg: 10})
	assert.True(t, errors.Is(err, ErrInvalidInspection))
	_, err = book.Inspect(context.Background(), Inspection{Supplier: "A"})
	assert.True(t, errors.Is(err, ErrInvalidInspection))
}

func TestEvaluateRiskCountsRecentFailures(t *testing.T) {
	records := []Inspection{
		{Date: day("2024-04-01"), Supplier: "Jinchuan Group", Verdict: VerdictFail},
		{Date: day("2024-04-03"), Supplier: "Jinchuan Group", Verdict: VerdictPass},
		{Date: day("2024-04-05"), Supplier: "Jinchuan Group", Verdict: VerdictFail, LotNo: "L5"},
		{Date: day("2024-04-04"), Supplier: "Jinchuan Group", Verdict: VerdictFail},
		{Date: day("2024-04-06"), Supplier: "Valin Group", Verdict: VerdictFail},
	}
	risk := EvaluateRisk("jinchuan group", records)
	assert.Equal(t, 4, risk.Inspections)
	assert.Equal(t, 2, risk.ConsecutiveFailures)
	assert.Equal(t, StageWarning, risk.Stage)
	assert.Equal(t, "L5", risk.LastLot)

	assert.Equal(t, StageSafe, EvaluateRisk("Unknown", records).Stage)
}

func TestAgent(t *testing.T) {
	ctx := context.Background()
	book, _ := newTestBook(t)
	agent := NewAgent(book, nil)

	out, err := agent.Execute(ctx, domain.AnalysisState{})
	require.NoError(t, err)
	assert.True(t, out.HasError())
	assert.Equal(t, "skipped", out.String("status"))

	bad := goodCOA()
	bad["ni"] = 99.0
	for _, d := range []string{"2024-05-01", "2024-05-02", "2024-05-03"} {
		_, err := book.Inspect(ctx, Inspection{Date: day(d), Supplier: "Valin Group", QtyKg: 100, COA: goodCOA(), Actual: bad})
		require.NoError(t, err)
	}
	out, err = agent.Execute(ctx, domain.AnalysisState{Baseline: domain.Baseline{Supplier: "Valin Group"}})
	require.NoError(t, err)
	assert.False(t, out.HasError())
	assert.Equal(t, "Critical", out.String("status"))
	assert.Equal(t, 3, out["stage"])
	assert.Equal(t, "New Business Hold", out.String("action"))
}
