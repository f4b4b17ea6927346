package price

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type PrefixDescription struct {
	Prefix      string `yaml:"prefix"`
	Description string `yaml:"description"`
}

// Drivers tunes the forecast window and how feature columns are named in
// the report.
type Drivers struct {
	Window      int                 `yaml:"window"`
	HorizonDays int                 `yaml:"horizon_days"`
	TopN        int                 `yaml:"top_n"`
	Prefixes    []PrefixDescription `yaml:"prefixes"`
	Weights     map[string]float64  `yaml:"weights"`
}

func DefaultDrivers() Drivers {
	return Drivers{
		Window:      30,
		HorizonDays: 7,
		TopN:        3,
		Prefixes: []PrefixDescription{
			{Prefix: "lag", Description: "nickel price momentum"},
			{Prefix: "ma", Description: "technical indicators"},
			{Prefix: "PC_COM", Description: "commodity markets"},
			{Prefix: "PMI", Description: "manufacturing activity"},
			{Prefix: "CPI", Description: "inflation"},
			{Prefix: "ret", Description: "investor sentiment"},
			{Prefix: "GB", Description: "US treasury yields"},
			{Prefix: "Cu", Description: "copper price"},
			{Prefix: "Dollar", Description: "dollar index"},
			{Prefix: "Dubai_Oil", Description: "oil price"},
		},
	}
}

// LoadDrivers overlays price/drivers.yaml on the defaults. A missing file
// yields the defaults.
func LoadDrivers(ctx context.Context, files Files) (Drivers, error) {
	d := DefaultDrivers()
	raw, err := files.ReadFile(ctx, "price", DriversPath)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return Drivers{}, fmt.Errorf("read price drivers: %w", err)
	}
	var override Drivers
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Drivers{}, fmt.Errorf("decode price drivers: %w", err)
	}
	if override.Window > 0 {
		d.Window = override.Window
	}
	if override.HorizonDays > 0 {
		d.HorizonDays = override.HorizonDays
	}
	if override.TopN > 0 {
		d.TopN = override.TopN
	}
	if len(override.Prefixes) > 0 {
		d.Prefixes = override.Prefixes
	}
	if len(override.Weights) > 0 {
		d.Weights = override.Weights
	}
	return d, nil
}

// Describe maps a feature column to a human description by its longest
// matching prefix.
func (d Drivers) Describe(feature string) string {
	best := ""
	desc := "market trend"
	for _, p := range d.Prefixes {
		if strings.HasPrefix(feature, p.Prefix) && len(p.Prefix) > len(best) {
			best = p.Prefix
			desc = p.Description
		}
	}
	return desc
}

// MainFactors joins the distinct descriptions of features, in a stable order.
func (d Drivers) MainFactors(features []string) string {
	if len(features) == 0 {
		return "overall market trend"
	}
	seen := map[string]bool{}
	var out []string
	for _, f := range features {
		desc := d.Describe(f)
		if seen[desc] {
			continue
		}
		seen[desc] = true
		out = append(out, desc)
	}
	sort.Strings(out)
	return strings.Join(out, " and ")
}

func (d Drivers) weight(feature string) float64 {
	if w, ok := d.Weights[feature]; ok {
		return w
	}
	return 1
}
