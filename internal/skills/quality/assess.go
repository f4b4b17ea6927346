package quality

import (
	"fmt"
	"strings"
)

// Elements lists the assayed properties in ledger column order.
var Elements = []string{"ni", "moisture", "fe", "s", "p"}

// Analysis maps an element to its assayed percentage.
type Analysis map[string]float64

type Range struct {
	Min float64
	Max float64
}

// SpecRanges are the accepted limits for refined nickel, in percent.
var SpecRanges = map[string]Range{
	"ni":       {Min: 99.8, Max: 100},
	"moisture": {Min: 0, Max: 0.5},
	"fe":       {Min: 0, Max: 0.02},
	"s":        {Min: 0, Max: 0.002},
	"p":        {Min: 0, Max: 0.002},
}

const (
	VerdictPass = "pass"
	VerdictFail = "fail"

	remarkNormal = "normal"
)

type Assessment struct {
	Pass       bool
	Violations []string
}

func (a Assessment) Verdict() string {
	if a.Pass {
		return VerdictPass
	}
	return VerdictFail
}

func (a Assessment) Remark() string {
	if len(a.Violations) == 0 {
		return remarkNormal
	}
	return strings.Join(a.Violations, "; ")
}

// Assess checks the measured analysis against the supplier's certificate of
// analysis and the spec ranges. Nickel must not fall below the certificate;
// every impurity must not exceed it.
func Assess(coa, actual Analysis) Assessment {
	var violations []string
	for _, el := range Elements {
		c, hasCOA := coa[el]
		v, hasActual := actual[el]
		if !hasActual {
			violations = append(violations, fmt.Sprintf("%s not measured", el))
			continue
		}
		if hasCOA {
			if el == "ni" && v < c {
				violations = append(violations, fmt.Sprintf("ni below COA (%g < %g)", v, c))
			} else if el != "ni" && v > c {
				violations = append(violations, fmt.Sprintf("%s above COA (%g > %g)", el, v, c))
			}
		}
		if r, ok := SpecRanges[el]; ok && (v < r.Min || v > r.Max) {
			violations = append(violations, fmt.Sprintf("%s out of spec (%g not in %g-%g)", el, v, r.Min, r.Max))
		}
	}
	return Assessment{Pass: len(violations) == 0, Violations: violations}
}
