// Package mi implements the mutual-information estimators used by structure
// learning. All estimates are in nats and clamped at zero.
package mi

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"ensembleda/internal/model"
)

// MinSamples is the number of valid samples each side needs for a nonzero estimate.
const MinSamples = 2

// DefaultSignificance is the level at which structure learning discounts
// discrete estimates.
const DefaultSignificance = 0.001

// Discrete estimates the mutual information between two label sequences from
// add-one smoothed joint frequencies over the observed alphabets. The absence
// label is an ordinary symbol but does not count as a valid sample.
func Discrete(a, b []string) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if countValid(a[:n]) < MinSamples || countValid(b[:n]) < MinSamples {
		return 0
	}

	alphaA := alphabet(a[:n])
	alphaB := alphabet(b[:n])
	joint := make(map[[2]string]float64, len(alphaA)*len(alphaB))
	for i := 0; i < n; i++ {
		joint[[2]string{a[i], b[i]}]++
	}

	denom := float64(n + len(alphaA)*len(alphaB))
	pa := make(map[string]float64, len(alphaA))
	pb := make(map[string]float64, len(alphaB))
	for _, x := range alphaA {
		for _, y := range alphaB {
			p := (joint[[2]string{x, y}] + 1) / denom
			pa[x] += p
			pb[y] += p
		}
	}

	mi := 0.0
	for _, x := range alphaA {
		for _, y := range alphaB {
			p := (joint[[2]string{x, y}] + 1) / denom
			mi += p * math.Log(p/(pa[x]*pb[y]))
		}
	}
	return nonNegative(mi)
}

// Significant discounts the Discrete estimate of a and b by NullThreshold at
// level alpha, so a pair of independent sequences scores zero except with
// probability about alpha. alpha outside (0, 1) returns the raw estimate.
func Significant(a, b []string, alpha float64) float64 {
	raw := Discrete(a, b)
	if raw == 0 || alpha <= 0 || alpha >= 1 {
		return raw
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return nonNegative(raw - NullThreshold(n, len(alphabet(a[:n])), len(alphabet(b[:n])), alpha))
}

// NullThreshold is the mutual information that n samples of two independent
// variables with r and c observed values exceed with probability alpha.
// Under independence 2n times the estimate is approximately chi-squared with
// (r-1)(c-1) degrees of freedom.
func NullThreshold(n, r, c int, alpha float64) float64 {
	dof := (r - 1) * (c - 1)
	if n <= 0 || dof <= 0 || alpha <= 0 || alpha >= 1 {
		return 0
	}
	return distuv.ChiSquared{K: float64(dof)}.Quantile(1-alpha) / (2 * float64(n))
}

func alphabet(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func countValid(values []string) int {
	valid := 0
	for _, v := range values {
		if v != model.Absent && v != "" {
			valid++
		}
	}
	return valid
}

func nonNegative(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	return x
}
