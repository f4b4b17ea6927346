package price

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	HistoryPath = "price/history.csv"
	DriversPath = "price/drivers.yaml"
	PriceColumn = "Ni_price"
	dateLayout  = "2006-01-02"
)

var ErrNoHistory = errors.New("price history is empty")

// Files is the read access the price skill needs on the data root.
type Files interface {
	ReadFile(ctx context.Context, actor, relPath string) ([]byte, error)
}

// Observation is one dated row of the history: the nickel price plus every
// other numeric column as a candidate driver.
type Observation struct {
	Date     time.Time
	Price    float64
	Features map[string]float64
}

type History struct {
	Observations []Observation
	Features     []string
}

func (h History) Last() Observation {
	return h.Observations[len(h.Observations)-1]
}

// Tail returns the last n observations, or all of them when n <= 0.
func (h History) Tail(n int) []Observation {
	if n <= 0 || n >= len(h.Observations) {
		return h.Observations
	}
	return h.Observations[len(h.Observations)-n:]
}

func LoadHistory(ctx context.Context, files Files) (History, error) {
	raw, err := files.ReadFile(ctx, "price", HistoryPath)
	if err != nil {
		return History{}, fmt.Errorf("read price history: %w", err)
	}
	return ParseHistory(raw)
}

// ParseHistory reads a CSV with a date column and a Ni_price column. Rows
// with an empty price are skipped; empty feature cells are left out of the
// row's feature map.
func ParseHistory(raw []byte) (History, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return History{}, ErrNoHistory
	}
	if err != nil {
		return History{}, fmt.Errorf("read history header: %w", err)
	}

	dateCol, priceCol := -1, -1
	var features []string
	featureCols := map[int]string{}
	for i, name := range header {
		name = strings.TrimSpace(name)
		switch {
		case strings.EqualFold(name, "date"):
			dateCol = i
		case name == PriceColumn:
			priceCol = i
		case name != "":
			featureCols[i] = name
			features = append(features, name)
		}
	}
	if dateCol < 0 || priceCol < 0 {
		return History{}, fmt.Errorf("history header needs date and %s columns", PriceColumn)
	}
	sort.Strings(features)

	var obs []Observation
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return History{}, fmt.Errorf("read history line %d: %w", line, err)
		}
		if priceCol >= len(rec) || strings.TrimSpace(rec[priceCol]) == "" {
			continue
		}
		if dateCol >= len(rec) {
			return History{}, fmt.Errorf("history line %d: missing date column", line)
		}
		date, err := time.Parse(dateLayout, strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return History{}, fmt.Errorf("history line %d: parse date: %w", line, err)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(rec[priceCol]), 64)
		if err != nil {
			return History{}, fmt.Errorf("history line %d: parse price: %w", line, err)
		}
		o := Observation{Date: date, Price: p, Features: map[string]float64{}}
		for i, name := range featureCols {
			if i >= len(rec) {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				continue
			}
			o.Features[name] = v
		}
		obs = append(obs, o)
	}
	if len(obs) == 0 {
		return History{}, ErrNoHistory
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })
	return History{Observations: obs, Features: features}, nil
}
