package price

import (
	"math"
	"sort"

	"nickel_agent/internal/domain"
)

// trendBand is the relative move beyond which a forecast counts as up or down.
const trendBand = 0.01

type Forecast struct {
	CurrentPrice   float64 `json:"current_price"`
	PredictedPrice float64 `json:"predicted_price"`
	Trend          string  `json:"price_trend"`
	Slope          float64 `json:"slope_per_day"`
}

// Predict extrapolates a least-squares line through the last window prices
// horizon days past the latest observation.
func Predict(h History, window, horizonDays int) Forecast {
	obs := h.Tail(window)
	last := obs[len(obs)-1]
	f := Forecast{CurrentPrice: last.Price, PredictedPrice: last.Price}
	if len(obs) >= 2 {
		origin := obs[0].Date
		xs := make([]float64, len(obs))
		ys := make([]float64, len(obs))
		for i, o := range obs {
			xs[i] = o.Date.Sub(origin).Hours() / 24
			ys[i] = o.Price
		}
		slope, intercept := leastSquares(xs, ys)
		f.Slope = slope
		f.PredictedPrice = intercept + slope*(xs[len(xs)-1]+float64(horizonDays))
	}
	f.Trend = Trend(f.CurrentPrice, f.PredictedPrice)
	return f
}

func Trend(current, predicted float64) string {
	switch {
	case predicted > current*(1+trendBand):
		return domain.TrendUp
	case predicted < current*(1-trendBand):
		return domain.TrendDown
	default:
		return domain.TrendStable
	}
}

// TopFeatures ranks feature columns by how strongly they co-moved with the
// price over the window, scaled by their own relative change and weight.
func TopFeatures(h History, d Drivers) []string {
	obs := h.Tail(d.Window)
	if len(obs) < 3 {
		return nil
	}
	type scored struct {
		name  string
		score float64
	}
	prices := make([]float64, len(obs))
	for i, o := range obs {
		prices[i] = o.Price
	}
	var ranked []scored
	for _, name := range h.Features {
		values := make([]float64, 0, len(obs))
		matched := make([]float64, 0, len(obs))
		for i, o := range obs {
			v, ok := o.Features[name]
			if !ok {
				continue
			}
			values = append(values, v)
			matched = append(matched, prices[i])
		}
		if len(values) < 3 || values[0] == 0 {
			continue
		}
		corr := pearson(values, matched)
		change := values[len(values)-1]/values[0] - 1
		score := math.Abs(corr) * math.Abs(change) * d.weight(name)
		if math.IsNaN(score) || score == 0 {
			continue
		}
		ranked = append(ranked, scored{name: name, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})
	n := d.TopN
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, r.name)
	}
	return out
}

func leastSquares(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	var sx, sy, sxx, sxy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		sxy += xs[i] * ys[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, sy / n
	}
	slope = (n*sxy - sx*sy) / den
	intercept = (sy - slope*sx) / n
	return slope, intercept
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= n
	mb /= n
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}
