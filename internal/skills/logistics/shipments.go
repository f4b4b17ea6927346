package logistics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

const (
	CatalogPath     = "logistics/shipments.yaml"
	DefaultPONumber = "PO-2024-001"
)

type StatusStep struct {
	At          time.Time `yaml:"at" json:"at"`
	Description string    `yaml:"description" json:"description"`
}

type Shipment struct {
	PONumber   string       `yaml:"po_number" json:"po_number"`
	Supplier   string       `yaml:"supplier" json:"supplier"`
	Item       string       `yaml:"item" json:"item"`
	QuantityKg float64      `yaml:"quantity_kg" json:"quantity_kg"`
	Vessel     string       `yaml:"vessel" json:"vessel"`
	Documents  []string     `yaml:"documents" json:"documents"`
	ETA        time.Time    `yaml:"eta" json:"eta"`
	Status     []StatusStep `yaml:"status" json:"status"`
}

// StatusIndex is the position of the latest reached step, -1 when the
// shipment has no tracking events yet.
func (s Shipment) StatusIndex() int {
	return len(s.Status) - 1
}

func (s Shipment) CurrentStatus() string {
	if len(s.Status) == 0 {
		return "No tracking events"
	}
	return s.Status[len(s.Status)-1].Description
}

// ETADays counts calendar days from now until the ETA; negative once the ETA
// has passed.
func (s Shipment) ETADays(now time.Time) int {
	today := truncateDay(now)
	eta := truncateDay(s.ETA.In(now.Location()))
	return int(eta.Sub(today).Hours() / 24)
}

// DelayRisk grades a shipment by how far along its tracking it is: cargo
// that has reached port (step 4) is low risk, cargo that has at least left
// order confirmation is medium.
func DelayRisk(statusIndex int) string {
	switch {
	case statusIndex >= 4:
		return "low"
	case statusIndex >= 1:
		return "medium"
	default:
		return "high"
	}
}

type Catalog struct {
	Shipments []Shipment `yaml:"shipments"`
}

func (c Catalog) Find(poNumber string) (Shipment, bool) {
	for _, s := range c.Shipments {
		if strings.EqualFold(s.PONumber, strings.TrimSpace(poNumber)) {
			return s, true
		}
	}
	return Shipment{}, false
}

// DefaultCatalog is the built-in demo tracking feed, dated relative to now.
func DefaultCatalog(now time.Time) Catalog {
	day := 24 * time.Hour
	base1 := now.Add(-10 * day)
	base2 := now.Add(-2 * day)
	steps := func(base time.Time, descs ...string) []StatusStep {
		out := make([]StatusStep, 0, len(descs))
		for i, d := range descs {
			out = append(out, StatusStep{At: base.Add(time.Duration(i) * 18 * time.Hour), Description: d})
		}
		return out
	}
	return Catalog{Shipments: []Shipment{
		{
			PONumber:   "PO-2024-001",
			Supplier:   "Valin Group",
			Item:       "Nickel Briquettes",
			QuantityKg: 25000,
			Vessel:     "MSC GULSUN",
			Documents:  []string{"B/L #SH12345", "CI #CI67890", "PL #PL11223"},
			ETA:        base1.Add(5 * day),
			Status: steps(base1,
				"Order confirmed",
				"Cargo loaded at Shanghai port",
				"Departed Shanghai port",
				"In transit (East China Sea)",
				"Arrived at Incheon port",
				"Unloading completed",
				"Import declaration filed",
				"Customs cleared and release approved",
			),
		},
		{
			PONumber:   "PO-2024-002",
			Supplier:   "Jinchuan Group",
			Item:       "Nickel Cathodes",
			QuantityKg: 20000,
			Vessel:     "EVER ACE",
			Documents:  []string{"B/L #TJ54321"},
			ETA:        now.Add(4 * day),
			Status: steps(base2,
				"Order confirmed",
				"Departed Tianjin port",
				"En route to Incheon port",
			),
		},
	}}
}

type Files interface {
	ReadFile(ctx context.Context, actor, relPath string) ([]byte, error)
}

func LoadCatalog(ctx context.Context, files Files, now time.Time) (Catalog, error) {
	raw, err := files.ReadFile(ctx, "logistics", CatalogPath)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultCatalog(now), nil
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("read shipment catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode shipment catalog: %w", err)
	}
	for i := range c.Shipments {
		st := c.Shipments[i].Status
		sort.SliceStable(st, func(a, b int) bool { return st[a].At.Before(st[b].At) })
	}
	return c, nil
}

// Answer replies to a free-form tracking question about one shipment.
func Answer(s Shipment, question string, now time.Time) string {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '/')
	})
	switch {
	case mentions(words, "eta", "arriv", "when", "도착"):
		days := s.ETADays(now)
		if days < 0 {
			return fmt.Sprintf("%s arrived on %s.", s.PONumber, s.ETA.Format(time.DateOnly))
		}
		return fmt.Sprintf("%s (%s) is expected on %s, in %d day(s).", s.PONumber, s.Vessel, s.ETA.Format(time.DateOnly), days)
	case mentions(words, "document", "b/l", "invoice", "서류"):
		if len(s.Documents) == 0 {
			return fmt.Sprintf("No shipping documents have been issued for %s yet.", s.PONumber)
		}
		return fmt.Sprintf("Shipping documents for %s: %s.", s.PONumber, strings.Join(s.Documents, ", "))
	default:
		return fmt.Sprintf("%s from %s is currently: %s.", s.PONumber, s.Supplier, s.CurrentStatus())
	}
}

// mentions reports whether any word starts with one of the prefixes.
func mentions(words []string, prefixes ...string) bool {
	for _, w := range words {
		for _, p := range prefixes {
			if strings.HasPrefix(w, p) {
				return true
			}
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
