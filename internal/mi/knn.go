package mi

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mathext"
)

// DefaultNeighbors is the k used by the nearest-neighbor estimators.
const DefaultNeighbors = 3

// DiscreteContinuous is the Ross (2014) nearest-neighbor estimator between a
// label sequence and a prepared continuous sample. Samples whose label occurs
// once are skipped.
func DiscreteContinuous(labels []string, c Continuous, k int) float64 {
	n := len(labels)
	if len(c.Values) < n {
		n = len(c.Values)
	}
	if countValid(labels[:n]) < MinSamples || c.Valid < MinSamples {
		return 0
	}
	if k <= 0 {
		k = DefaultNeighbors
	}

	counts := make(map[string]int)
	for _, label := range labels[:n] {
		counts[label]++
	}
	kept := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if counts[labels[i]] > 1 {
			kept = append(kept, i)
		}
	}
	if len(kept) < MinSamples {
		return 0
	}

	radius := make([]float64, len(kept))
	neighbors := make([]int, len(kept))
	for a, i := range kept {
		ki := k
		if counts[labels[i]]-1 < ki {
			ki = counts[labels[i]] - 1
		}
		same := make([]float64, 0, counts[labels[i]]-1)
		for _, j := range kept {
			if j != i && labels[j] == labels[i] {
				same = append(same, math.Abs(c.Values[i]-c.Values[j]))
			}
		}
		sort.Float64s(same)
		radius[a] = math.Nextafter(same[ki-1], 0)
		neighbors[a] = ki
	}

	var sumK, sumLabel, sumM float64
	for a, i := range kept {
		m := 0
		for _, j := range kept {
			if math.Abs(c.Values[i]-c.Values[j]) <= radius[a] {
				m++
			}
		}
		sumK += mathext.Digamma(float64(neighbors[a]))
		sumLabel += mathext.Digamma(float64(counts[labels[i]]))
		sumM += mathext.Digamma(float64(m))
	}
	size := float64(len(kept))
	mi := mathext.Digamma(size) + sumK/size - sumLabel/size - sumM/size
	return nonNegative(mi)
}

// ContinuousContinuous is the Kraskov et al. (2004) estimator using the
// Chebyshev distance in the joint space.
func ContinuousContinuous(x, y Continuous, k int) float64 {
	n := len(x.Values)
	if len(y.Values) < n {
		n = len(y.Values)
	}
	if x.Valid < MinSamples || y.Valid < MinSamples || n < MinSamples {
		return 0
	}
	if k <= 0 {
		k = DefaultNeighbors
	}
	if k > n-1 {
		k = n - 1
	}

	var sumX, sumY float64
	joint := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		joint = joint[:0]
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			joint = append(joint, math.Max(math.Abs(x.Values[i]-x.Values[j]), math.Abs(y.Values[i]-y.Values[j])))
		}
		sort.Float64s(joint)
		radius := math.Nextafter(joint[k-1], 0)

		nx, ny := 0, 0
		for j := 0; j < n; j++ {
			if math.Abs(x.Values[i]-x.Values[j]) <= radius {
				nx++
			}
			if math.Abs(y.Values[i]-y.Values[j]) <= radius {
				ny++
			}
		}
		sumX += mathext.Digamma(float64(nx))
		sumY += mathext.Digamma(float64(ny))
	}
	size := float64(n)
	mi := mathext.Digamma(size) + mathext.Digamma(float64(k)) - (sumX/size + sumY/size)
	return nonNegative(mi)
}
