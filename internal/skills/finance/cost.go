package finance

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"nickel_agent/internal/skills/customs"
)

var ErrNoOptions = errors.New("no sourcing options configured")

// Payment terms recognised by the scorer.
const (
	PaymentNet60  = "net60"
	PaymentNet30  = "net30"
	PaymentPrepay = "prepay"
)

// Option is one sourcing channel, priced relative to the forecast price.
type Option struct {
	Supplier     string  `toml:"supplier" json:"supplier"`
	PriceFactor  float64 `toml:"price_factor" json:"price_factor"`
	LeadTimeDays int     `toml:"lead_time_days" json:"lead_time_days"`
	PaymentTerms string  `toml:"payment_terms" json:"payment_terms"`
}

type Settings struct {
	ExchangeRate      float64  `toml:"exchange_rate" json:"exchange_rate"`
	VATRate           float64  `toml:"vat_rate" json:"vat_rate"`
	DefaultTariffRate float64  `toml:"default_tariff_rate" json:"default_tariff_rate"`
	Options           []Option `toml:"options" json:"options"`
}

func DefaultSettings() Settings {
	return Settings{
		ExchangeRate:      1350,
		VATRate:           0.10,
		DefaultTariffRate: 3.5,
		Options: []Option{
			{Supplier: "LME-linked contract", PriceFactor: 1.01, LeadTimeDays: 30, PaymentTerms: PaymentNet60},
			{Supplier: "China spot market", PriceFactor: 1.0, LeadTimeDays: 14, PaymentTerms: PaymentPrepay},
			{Supplier: "Long-term contract", PriceFactor: 1.0, LeadTimeDays: 45, PaymentTerms: PaymentNet30},
		},
	}
}

// WithDefaults fills zero fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.ExchangeRate <= 0 {
		s.ExchangeRate = d.ExchangeRate
	}
	if s.VATRate <= 0 {
		s.VATRate = d.VATRate
	}
	if s.DefaultTariffRate <= 0 {
		s.DefaultTariffRate = d.DefaultTariffRate
	}
	if len(s.Options) == 0 {
		s.Options = d.Options
	}
	return s
}

type ScoredOption struct {
	Option
	PriceUSD float64 `json:"price_usd"`
	Score    float64 `json:"score"`
}

// ScoreOptions weighs price (50%), lead time (30%) and payment terms (20%).
// Cheaper and faster options score higher; when every option ties on a
// criterion each gets 0.5 for it. The result is sorted best first.
func ScoreOptions(predictedPrice float64, options []Option) ([]ScoredOption, error) {
	if len(options) == 0 {
		return nil, ErrNoOptions
	}
	scored := make([]ScoredOption, len(options))
	prices := make([]float64, len(options))
	leads := make([]float64, len(options))
	for i, o := range options {
		factor := o.PriceFactor
		if factor <= 0 {
			factor = 1
		}
		scored[i] = ScoredOption{Option: o, PriceUSD: predictedPrice * factor}
		prices[i] = scored[i].PriceUSD
		leads[i] = float64(o.LeadTimeDays)
	}
	for i := range scored {
		scored[i].Score = normalizedLow(prices, prices[i])*0.5 +
			normalizedLow(leads, leads[i])*0.3 +
			paymentScore(scored[i].PaymentTerms)*0.2
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored, nil
}

func normalizedLow(values []float64, v float64) float64 {
	lo, hi := values[0], values[0]
	for _, x := range values[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if hi == lo {
		return 0.5
	}
	return (hi - v) / (hi - lo + 1e-6)
}

func paymentScore(terms string) float64 {
	switch strings.ToLower(strings.TrimSpace(terms)) {
	case PaymentNet60:
		return 1
	case PaymentNet30:
		return 0.5
	default:
		return 0
	}
}

// LandedCost is the purchase cost in KRW for an order, duty included.
type LandedCost struct {
	QtyTonnes    float64 `json:"qty_tonnes"`
	PriceUSD     float64 `json:"price_usd"`
	PurchaseUSD  float64 `json:"purchase_usd"`
	ExchangeRate float64 `json:"exchange_rate"`
	PurchaseKRW  float64 `json:"purchase_krw"`
	TariffRate   float64 `json:"tariff_rate"`
	TariffKRW    float64 `json:"tariff_krw"`
	TotalKRW     float64 `json:"total_krw"`
	UnitCostKRW  float64 `json:"unit_cost_krw"`
	VATRate      float64 `json:"vat_rate"`
	VATKRW       float64 `json:"vat_krw"`
}

func ComputeLandedCost(qtyTonnes, priceUSD, tariffRate float64, s Settings) (LandedCost, error) {
	if qtyTonnes <= 0 {
		return LandedCost{}, fmt.Errorf("order quantity must be positive, got %g", qtyTonnes)
	}
	purchaseUSD := priceUSD * qtyTonnes
	purchaseKRW := purchaseUSD * s.ExchangeRate
	total := customs.DutyPaid(purchaseKRW, tariffRate)
	return LandedCost{
		QtyTonnes:    qtyTonnes,
		PriceUSD:     priceUSD,
		PurchaseUSD:  purchaseUSD,
		ExchangeRate: s.ExchangeRate,
		PurchaseKRW:  purchaseKRW,
		TariffRate:   tariffRate,
		TariffKRW:    total - purchaseKRW,
		TotalKRW:     total,
		UnitCostKRW:  total / qtyTonnes,
		VATRate:      s.VATRate,
		VATKRW:       total * s.VATRate,
	}, nil
}

// JournalLine is one row of the purchase voucher. Exactly one of Debit and
// Credit is set.
type JournalLine struct {
	Account string  `json:"account"`
	Debit   float64 `json:"debit,omitempty"`
	Credit  float64 `json:"credit,omitempty"`
}

// Journal drafts the purchase voucher: raw material at landed cost and input
// VAT on the debit side, the full amount payable on the credit side.
func (c LandedCost) Journal() []JournalLine {
	return []JournalLine{
		{Account: "raw_material", Debit: math.Round(c.TotalKRW)},
		{Account: "accounts_payable", Credit: math.Round(c.TotalKRW) + math.Round(c.VATKRW)},
		{Account: "input_vat", Debit: math.Round(c.VATKRW)},
	}
}
