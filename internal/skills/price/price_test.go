package price

import (
	"context"
	"fmt"
	"os"
	"strings"
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

func historyCSV(prices []float64, extra func(i int) string, extraHeader string) string {
	var b strings.Builder
	b.WriteString("date,Ni_price")
	if extraHeader != "" {
		b.WriteString("," + extraHeader)
	}
	b.WriteString("\n")
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range prices {
		fmt.Fprintf(&b, "%s,%g", start.AddDate(0, 0, i).Format(dateLayout), p)
		if extra != nil {
			b.WriteString("," + extra(i))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func series(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestPredictTrend(t *testing.T) {
	cases := []struct {
		name   string
		prices []float64
		trend  string
	}{
		{"rising", series(100, 1, 10), domain.TrendUp},
		{"falling", series(200, -2, 10), domain.TrendDown},
		{"flat", series(150, 0, 10), domain.TrendStable},
		{"single", []float64{150}, domain.TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := ParseHistory([]byte(historyCSV(tc.prices, nil, "")))
			require.NoError(t, err)
			f := Predict(h, 30, 7)
			assert.Equal(t, tc.trend, f.Trend)
			assert.Equal(t, tc.prices[len(tc.prices)-1], f.CurrentPrice)
		})
	}

	h, err := ParseHistory([]byte(historyCSV(series(100, 1, 10), nil, "")))
	require.NoError(t, err)
	f := Predict(h, 30, 7)
	assert.InDelta(t, 116.0, f.PredictedPrice, 1e-9)
	assert.InDelta(t, 1.0, f.Slope, 1e-9)
}

func TestTrendBand(t *testing.T) {
	assert.Equal(t, domain.TrendStable, Trend(100, 101))
	assert.Equal(t, domain.TrendUp, Trend(100, 101.5))
	assert.Equal(t, domain.TrendStable, Trend(100, 99))
	assert.Equal(t, domain.TrendDown, Trend(100, 98.9))
}

func TestParseHistorySortsAndSkipsBlankPrices(t *testing.T) {
	raw := "date,Ni_price,Cu_price\n2024-03-03,103,9\n2024-03-01,101,\n2024-03-02,,8\n"
	h, err := ParseHistory([]byte(raw))
	require.NoError(t, err)
	require.Len(t, h.Observations, 2)
	assert.Equal(t, 101.0, h.Observations[0].Price)
	assert.NotContains(t, h.Observations[0].Features, "Cu_price")
	assert.Equal(t, 9.0, h.Last().Features["Cu_price"])
	assert.Equal(t, []string{"Cu_price"}, h.Features)

	_, err = ParseHistory([]byte("date,Ni_price\n"))
	assert.ErrorIs(t, err, ErrNoHistory)

	_, err = ParseHistory([]byte("day,price\n2024-01-01,1\n"))
	require.Error(t, err)
}

func TestParseHistoryShortRowIsAnError(t *testing.T) {
	raw := "Ni_price,Cu_price,date\n101,9,2024-03-01\n102\n"
	var err error
	require.NotPanics(t, func() { _, err = ParseHistory([]byte(raw)) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestTopFeaturesAndFactors(t *testing.T) {
	prices := series(100, 1, 20)
	raw := historyCSV(prices, func(i int) string {
		return fmt.Sprintf("%g,%g,%g", 50+float64(i), 50.0, 10+0.1*float64(i))
	}, "Cu_price,PMI_index,lag_1")
	h, err := ParseHistory([]byte(raw))
	require.NoError(t, err)

	d := DefaultDrivers()
	top := TopFeatures(h, d)
	require.NotEmpty(t, top)
	assert.Equal(t, "Cu_price", top[0])
	assert.NotContains(t, top, "PMI_index")

	assert.Equal(t, "copper price and nickel price momentum", d.MainFactors([]string{"lag_1", "Cu_price", "Cu_lag"}))
	assert.Equal(t, "overall market trend", d.MainFactors(nil))
	assert.Equal(t, "commodity markets", d.Describe("PC_COM_2"))
	assert.Equal(t, "market trend", d.Describe("unknown"))
}

func TestLoadDriversOverlay(t *testing.T) {
	files := memFiles{DriversPath: "window: 10\nweights:\n  Cu_price: 2.5\n"}
	d, err := LoadDrivers(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 10, d.Window)
	assert.Equal(t, 7, d.HorizonDays)
	assert.Equal(t, 2.5, d.weight("Cu_price"))
	assert.Equal(t, 1.0, d.weight("lag_1"))

	d, err = LoadDrivers(context.Background(), memFiles{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDrivers().Window, d.Window)

	_, err = LoadDrivers(context.Background(), memFiles{DriversPath: "window: [oops"})
	require.Error(t, err)
}

func TestAgentExecute(t *testing.T) {
	raw := historyCSV(series(16000, 200, 15), func(i int) string {
		return fmt.Sprintf("%g", 9000+50*float64(i))
	}, "Cu_price")
	agent := NewAgent(memFiles{HistoryPath: raw}, nil)
	assert.Equal(t, domain.AgentPrice, agent.ID())

	out, err := agent.Execute(context.Background(), domain.AnalysisState{})
	require.NoError(t, err)
	assert.Equal(t, domain.TrendUp, out.String("price_trend"))
	predicted, ok := out.Float("predicted_price")
	require.True(t, ok)
	assert.Greater(t, predicted, 16000.0+200*14)
	assert.Equal(t, "copper price", out.String("main_factors"))
	assert.Contains(t, out.String("main_factors_str"), "**copper price**")

	flat := NewAgent(memFiles{HistoryPath: historyCSV(series(16000, 0, 5), nil, "")}, nil)
	out, err = flat.Execute(context.Background(), domain.AnalysisState{})
	require.NoError(t, err)
	assert.Equal(t, domain.TrendStable, out.String("price_trend"))
	assert.NotContains(t, out, "main_factors")
}

func TestAgentMissingHistory(t *testing.T) {
	agent := NewAgent(memFiles{}, nil)
	_, err := agent.Execute(context.Background(), domain.AnalysisState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
