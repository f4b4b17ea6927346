package customs

import (
	"context"
	"fmt"
	"os"
	"testing"

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

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, "low", RiskLevel(0))
	assert.Equal(t, "low", RiskLevel(3))
	assert.Equal(t, "medium", RiskLevel(3.1))
	assert.Equal(t, "medium", RiskLevel(8))
	assert.Equal(t, "high", RiskLevel(8.5))
}

func TestDutyPaid(t *testing.T) {
	assert.InDelta(t, 1035.0, DutyPaid(1000, 3.5), 1e-9)
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	table := DefaultTable()
	assert.Len(t, table.Search("china", ""), 1)
	assert.Len(t, table.Search("", "ORES"), 1)
	assert.Len(t, table.Search("", ""), len(table.Rates))
	_, ok := table.Lookup("Philippines")
	assert.True(t, ok)
}

func TestAgentUsesDefaultCountry(t *testing.T) {
	agent := NewAgent(memFiles{}, nil)
	out, err := agent.Execute(context.Background(), domain.AnalysisState{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCountry, out.String("origin_country"))
	assert.Equal(t, "low", out.String("risk_level"))
	assert.Equal(t, "7502.10", out.String("hs_code"))
	assert.Contains(t, out.String("answer"), "3.00%")
}

func TestAgentReadsTableFromDataRoot(t *testing.T) {
	files := memFiles{TablePath: `
default_country: Japan
rates:
  - country: Japan
    hs_code: "7502.20"
    desc: Nickel alloys
    mfn_rate: 9.5
`}
	agent := NewAgent(files, nil)
	out, err := agent.Execute(context.Background(), domain.AnalysisState{})
	require.NoError(t, err)
	assert.Equal(t, "Japan", out.String("origin_country"))
	assert.Equal(t, "high", out.String("risk_level"))

	out, err = agent.Execute(context.Background(), domain.AnalysisState{Baseline: domain.Baseline{OriginCountry: "Chile"}})
	require.NoError(t, err)
	assert.Equal(t, "low", out.String("risk_level"))
	rate, ok := out.Float("mfn_rate")
	require.True(t, ok)
	assert.Zero(t, rate)
}

func TestAgentRejectsBadTable(t *testing.T) {
	agent := NewAgent(memFiles{TablePath: "rates: {"}, nil)
	_, err := agent.Execute(context.Background(), domain.AnalysisState{})
	require.Error(t, err)
}
