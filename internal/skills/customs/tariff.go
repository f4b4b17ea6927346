package customs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TablePath      = "customs/tariffs.yaml"
	DefaultCountry = "China"
	DefaultItem    = "nickel"
)

type Rate struct {
	Country     string  `yaml:"country" json:"country"`
	HSCode      string  `yaml:"hs_code" json:"hs_code"`
	Description string  `yaml:"desc" json:"desc"`
	MFNRate     float64 `yaml:"mfn_rate" json:"mfn_rate"`
}

type Table struct {
	DefaultCountry string `yaml:"default_country"`
	Rates          []Rate `yaml:"rates"`
}

// DefaultTable is the built-in sample used when the data root carries no
// tariff table.
func DefaultTable() Table {
	return Table{
		DefaultCountry: DefaultCountry,
		Rates: []Rate{
			{Country: "China", HSCode: "7502.10", Description: "Nickel, not alloyed (unwrought)", MFNRate: 3.0},
			{Country: "Indonesia", HSCode: "7502.10", Description: "Nickel, not alloyed (unwrought)", MFNRate: 5.0},
			{Country: "Russia", HSCode: "7502.10", Description: "Nickel, not alloyed (unwrought)", MFNRate: 3.0},
			{Country: "Australia", HSCode: "7502.10", Description: "Nickel, not alloyed (unwrought)", MFNRate: 0.0},
			{Country: "Philippines", HSCode: "2604.00", Description: "Nickel ores and concentrates", MFNRate: 2.0},
		},
	}
}

type Files interface {
	ReadFile(ctx context.Context, actor, relPath string) ([]byte, error)
}

func LoadTable(ctx context.Context, files Files) (Table, error) {
	raw, err := files.ReadFile(ctx, "customs", TablePath)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultTable(), nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("read tariff table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Table{}, fmt.Errorf("decode tariff table: %w", err)
	}
	if t.DefaultCountry == "" {
		t.DefaultCountry = DefaultCountry
	}
	return t, nil
}

// Search returns rates whose country and description contain the given
// terms, case-insensitively. Empty terms match everything.
func (t Table) Search(country, item string) []Rate {
	var out []Rate
	for _, r := range t.Rates {
		if country != "" && !containsFold(r.Country, country) {
			continue
		}
		if item != "" && !containsFold(r.Description, item) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (t Table) Lookup(country string) (Rate, bool) {
	rates := t.Search(country, DefaultItem)
	if len(rates) == 0 {
		return Rate{}, false
	}
	return rates[0], true
}

// RiskLevel grades an MFN rate: above 8% high, above 3% medium.
func RiskLevel(mfnRate float64) string {
	switch {
	case mfnRate > 8:
		return "high"
	case mfnRate > 3:
		return "medium"
	default:
		return "low"
	}
}

// DutyPaid returns value with the ad valorem duty at rate percent added.
func DutyPaid(value, rate float64) float64 {
	return value * (1 + rate/100)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
