package inventory

import (
	"errors"
	"fmt"
	"math"
	"time"

	"nickel_agent/internal/domain"
)

const DefaultPlanningWeeks = 20

var ErrNoWeeklyUsage = errors.New("weekly usage must be positive for demand planning")

// Stability grades stock on hand against the safety stock.
type Stability string

const (
	StabilityStable     Stability = "stable"      // more than 4x safety stock
	StabilityMonitor    Stability = "monitor"     // more than 2x
	StabilityNearSafety Stability = "near_safety" // order with care
)

func StabilityFor(stock, safety float64) Stability {
	switch {
	case stock > safety*4:
		return StabilityStable
	case stock > safety*2:
		return StabilityMonitor
	default:
		return StabilityNearSafety
	}
}

func (s Stability) Message() string {
	switch s {
	case StabilityStable:
		return "Stock is more than four times the safety stock and very stable."
	case StabilityMonitor:
		return "Stock is stable but needs monitoring."
	default:
		return "Stock is close to the safety stock. Order with care."
	}
}

type DailyStock struct {
	Date     time.Time `json:"date"`
	Stock    float64   `json:"stock"`
	Incoming bool      `json:"incoming,omitempty"`
}

// DemandPlan projects baseline stock forward at a constant daily usage.
// Stock and safety stock are kg; the incoming order is the baseline order
// quantity converted from tonnes.
type DemandPlan struct {
	Today           time.Time    `json:"today"`
	DailyUsage      float64      `json:"daily_usage"`
	CoverageDays    float64      `json:"coverage_days"`
	ZeroStockDate   time.Time    `json:"zero_stock_date"`
	SafetyStockDate time.Time    `json:"safety_stock_date"`
	IncomingDate    time.Time    `json:"incoming_date"`
	OrderDate       time.Time    `json:"recommended_order_date"`
	OrderNow        bool         `json:"order_now"`
	IncomingQty     float64      `json:"incoming_qty"`
	StockAtIncoming float64      `json:"stock_at_incoming"`
	Shortage        float64      `json:"shortage_at_incoming"`
	Stability       Stability    `json:"stability"`
	Simulation      []DailyStock `json:"simulation"`
}

func (p DemandPlan) OrderMessage() string {
	if p.OrderNow {
		return "Delivery cannot arrive before stock reaches the safety level. Order as soon as possible."
	}
	return "Recommended order date: " + p.OrderDate.Format(dateLayout)
}

// Plan needs a positive weekly usage. A zero planning horizon uses
// DefaultPlanningWeeks.
func Plan(b domain.Baseline, today time.Time) (DemandPlan, error) {
	if b.WeeklyUsage <= 0 {
		return DemandPlan{}, ErrNoWeeklyUsage
	}
	if b.LeadTimeDays < 0 {
		return DemandPlan{}, fmt.Errorf("lead time must not be negative, got %d", b.LeadTimeDays)
	}
	weeks := b.PlanningWeeks
	if weeks <= 0 {
		weeks = DefaultPlanningWeeks
	}
	today = dateOnly(today)
	daily := b.WeeklyUsage / 7

	p := DemandPlan{
		Today:        today,
		DailyUsage:   daily,
		CoverageDays: b.CurrentStock / daily,
		IncomingDate: today.AddDate(0, 0, b.LeadTimeDays),
		IncomingQty:  b.OrderQty * 1000,
		Stability:    StabilityFor(b.CurrentStock, b.SafetyStock),
	}
	p.ZeroStockDate = addDays(today, p.CoverageDays)

	var untilSafety float64
	if b.CurrentStock > b.SafetyStock {
		untilSafety = (b.CurrentStock - b.SafetyStock) / daily
	}
	p.SafetyStockDate = addDays(today, untilSafety)

	untilOrder := untilSafety - float64(b.LeadTimeDays)
	if untilOrder <= 0 {
		p.OrderNow = true
		p.OrderDate = today
	} else {
		p.OrderDate = addDays(today, untilOrder)
	}

	p.StockAtIncoming = b.CurrentStock - daily*float64(b.LeadTimeDays)
	if p.StockAtIncoming < b.SafetyStock {
		p.Shortage = b.SafetyStock - p.StockAtIncoming
	}
	p.Simulation = Simulate(b.CurrentStock, daily, p.IncomingQty, b.LeadTimeDays, weeks*7, today)
	return p, nil
}

// Simulate steps stock one day at a time: usage first, clamped at zero, then
// the incoming quantity on the arrival day.
func Simulate(stock, daily, incoming float64, arrivalDay, days int, today time.Time) []DailyStock {
	out := make([]DailyStock, 0, days)
	for d := 0; d < days; d++ {
		stock = math.Max(stock-daily, 0)
		row := DailyStock{Date: today.AddDate(0, 0, d), Stock: stock}
		if d == arrivalDay {
			stock += incoming
			row.Stock = stock
			row.Incoming = true
		}
		out = append(out, row)
	}
	return out
}

// addDays drops the fractional part of days.
func addDays(t time.Time, days float64) time.Time {
	return t.AddDate(0, 0, int(math.Floor(days)))
}
