package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nickel_agent/internal/config"
	"nickel_agent/internal/domain"
)

func TestDecodeBaselineRequiresOrderQtyAndStock(t *testing.T) {
	_, err := decodeBaseline(nil)
	assert.Error(t, err)

	_, err = decodeBaseline(json.RawMessage(`{"current_stock": 10}`))
	assert.ErrorContains(t, err, "order_qty")

	_, err = decodeBaseline(json.RawMessage(`{"order_qty": 5}`))
	assert.ErrorContains(t, err, "current_stock")

	b, err := decodeBaseline(json.RawMessage(`{"order_qty": 5, "current_stock": 0, "supplier": "Valin Group"}`))
	require.NoError(t, err)
	assert.Equal(t, 5.0, b.OrderQty)
	assert.Equal(t, "Valin Group", b.Supplier)
}

func TestParseAnalysis(t *testing.T) {
	a, err := parseAnalysis("ni=99.9, FE=0.01,")
	require.NoError(t, err)
	assert.Equal(t, 99.9, a["ni"])
	assert.Equal(t, 0.01, a["fe"])

	_, err = parseAnalysis("ni:99")
	assert.Error(t, err)
	_, err = parseAnalysis("ni=abc")
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "valin_group", slug(" Valin Group "))
}

func TestBuildLogger(t *testing.T) {
	l, err := buildLogger(config.LoggingConfig{Level: "warn"}, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	l, err = buildLogger(config.LoggingConfig{Level: "warn"}, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = buildLogger(config.LoggingConfig{Level: "loud"}, false)
	assert.Error(t, err)
}

func TestInventoryPlanCommand(t *testing.T) {
	prev := invPlan
	t.Cleanup(func() { invPlan = prev })
	invPlan = domain.Baseline{CurrentStock: 300, WeeklyUsage: 700, SafetyStock: 200, LeadTimeDays: 5, OrderQty: 1, PlanningWeeks: 2}

	var out bytes.Buffer
	inventoryPlanCmd.SetOut(&out)
	require.NoError(t, inventoryPlanCmd.RunE(inventoryPlanCmd, nil))
	assert.Contains(t, out.String(), "as soon as possible")
	assert.Contains(t, out.String(), "Expected shortage at delivery")
	assert.Contains(t, out.String(), "400 kg")
	assert.Contains(t, out.String(), "delivery")

	invPlan = domain.Baseline{CurrentStock: 300}
	assert.Error(t, inventoryPlanCmd.RunE(inventoryPlanCmd, nil))
}
