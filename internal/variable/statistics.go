package variable

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"ensembleda/internal/model"
)

// Statistics carries the smoothed univariate distribution of a variable and
// its conditional distribution given each current parent.
// Bivariate is keyed parent -> parent label -> self label.
type Statistics struct {
	Univariate map[string]float64
	Bivariate  map[string]map[string]map[string]float64
}

// Conditional returns P(self=selfLabel | parent=parentLabel), falling back to
// the univariate probability when no conditional is recorded.
func (s Statistics) Conditional(parent, parentLabel, selfLabel string) float64 {
	if dist, ok := s.Bivariate[parent][parentLabel]; ok {
		return dist[selfLabel]
	}
	return s.Univariate[selfLabel]
}

func (s Statistics) clone() Statistics {
	out := Statistics{
		Univariate: copyDist(s.Univariate),
		Bivariate:  make(map[string]map[string]map[string]float64, len(s.Bivariate)),
	}
	for parent, cond := range s.Bivariate {
		out.Bivariate[parent] = copyConditional(cond)
	}
	return out
}

// deriveStatistics reads the statistics implied by a table, weighting every
// parent group equally.
func deriveStatistics(t *Table) Statistics {
	selfLabels := t.selfLabels()
	stats := Statistics{
		Univariate: make(map[string]float64, len(selfLabels)),
		Bivariate:  make(map[string]map[string]map[string]float64),
	}

	groups := 0
	_ = t.groups(func(start int) error {
		groups++
		for j, label := range selfLabels {
			stats.Univariate[label] += t.probabilities[start+j]
		}
		return nil
	})
	for label := range stats.Univariate {
		stats.Univariate[label] /= float64(groups)
	}

	for i, parent := range t.columns[:len(t.columns)-1] {
		cond := make(map[string]map[string]float64, len(t.labels[i]))
		seen := make(map[string]int, len(t.labels[i]))
		_ = t.groups(func(start int) error {
			parentLabel := t.label(start, i)
			dist, ok := cond[parentLabel]
			if !ok {
				dist = make(map[string]float64, len(selfLabels))
				cond[parentLabel] = dist
			}
			for j, label := range selfLabels {
				dist[label] += t.probabilities[start+j]
			}
			seen[parentLabel]++
			return nil
		})
		for parentLabel, dist := range cond {
			for label := range dist {
				dist[label] /= float64(seen[parentLabel])
			}
		}
		stats.Bivariate[parent] = cond
	}
	return stats
}

// Next produces the state that follows prev after observing fittest.
// Fixed parents are not smoothed, which preserves structural zeros; the
// univariate distribution and probabilistic parents get add-one smoothing on
// the labels that are still possible. A parent label without observations
// keeps its previous conditional distribution.
func (v *Variable) Next(prev State, fittest []model.Configuration, learningRate float64, generation int) (State, error) {
	if learningRate < 0 || learningRate > 1 {
		return State{}, fmt.Errorf("learning rate must be in [0, 1], got %v", learningRate)
	}
	out := State{
		Parents: prev.Parents,
		Table:   prev.Table.clone(),
		Stats:   prev.Stats.clone(),
		Scale:   prev.Scale,
		domains: prev.domains,
	}
	selfLabels := out.Table.selfLabels()
	parents := out.Table.Parents()

	if len(fittest) > 0 {
		counts := make(map[string]float64, len(selfLabels))
		for _, cfg := range fittest {
			counts[labelOf(v.domain, cfg.Value(v.name))]++
		}
		emp := empirical(addOne(counts, selfLabels, prev.Stats.Univariate), selfLabels)
		out.Stats.Univariate = blend(prev.Stats.Univariate, emp, selfLabels, learningRate)

		for _, parent := range parents {
			domain := prev.domains[parent]
			observed := make(map[string]map[string]float64)
			for _, cfg := range fittest {
				parentLabel := labelOf(domain, cfg.Value(parent))
				if observed[parentLabel] == nil {
					observed[parentLabel] = make(map[string]float64, len(selfLabels))
				}
				observed[parentLabel][labelOf(v.domain, cfg.Value(v.name))]++
			}

			old := prev.Stats.Bivariate[parent]
			cond := make(map[string]map[string]float64, len(labelsOf(domain)))
			for _, parentLabel := range labelsOf(domain) {
				before, ok := old[parentLabel]
				if !ok {
					before = prev.Stats.Univariate
				}
				counts := observed[parentLabel]
				if total(counts, selfLabels) == 0 {
					cond[parentLabel] = copyDist(before)
					continue
				}
				if !v.IsFixedParent(parent) {
					counts = addOne(counts, selfLabels, prev.Stats.Univariate)
				}
				cond[parentLabel] = blend(before, empirical(counts, selfLabels), selfLabels, learningRate)
			}
			out.Stats.Bivariate[parent] = cond
		}
	}

	if err := v.rebuild(out); err != nil {
		return State{}, err
	}

	if c, ok := v.domain.(Continuous); ok {
		out.Scale = annealedScale(c, generation, v.generations)
		out.Gaussians = make(map[int]Gaussian)
		for _, row := range out.Table.index[v.name][Present] {
			values := out.Table.RowValues(row)
			samples := make([]float64, 0, len(fittest))
			for _, cfg := range fittest {
				if !matchesParents(cfg, parents, values, out.domains) {
					continue
				}
				raw := cfg.Value(v.name)
				if raw == model.Absent {
					continue
				}
				x, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					continue
				}
				samples = append(samples, x)
			}
			out.Gaussians[row] = Gaussian{Mean: FitMean(samples, c.LocInit), Scale: out.Scale}
		}
	}
	return out, nil
}

// rebuild rewrites the table from the statistics. With several parents the
// row weight is the naive-Bayes product of the pairwise conditionals.
func (v *Variable) rebuild(st State) error {
	t := st.Table
	selfLabels := t.selfLabels()
	parents := t.columns[:len(t.columns)-1]

	err := t.groups(func(start int) error {
		for j, label := range selfLabels {
			row := start + j
			assignment := make(map[string]string, len(t.columns))
			for i, column := range t.columns {
				assignment[column] = t.label(row, i)
			}
			if matches := t.Match(assignment); len(matches) != 1 || matches[0] != row {
				return fmt.Errorf("%w: variable %s row %d matches %d rows", ErrStructuralInconsistency, v.name, row, len(matches))
			}

			prior := st.Stats.Univariate[label]
			weight := prior
			switch len(parents) {
			case 0:
			case 1:
				weight = st.Stats.Conditional(parents[0], assignment[parents[0]], label)
			default:
				weight = 1
				for _, parent := range parents {
					weight *= st.Stats.Conditional(parent, assignment[parent], label)
				}
				if prior > 0 {
					weight /= math.Pow(prior, float64(len(parents)-1))
				}
			}
			if math.IsNaN(weight) || weight < 0 {
				weight = 0
			}
			t.probabilities[row] = weight
		}
		return nil
	})
	if err != nil {
		return err
	}
	normalizeGroups(t, st.Stats.Univariate)
	return nil
}

// normalizeGroups makes every parent group a proper distribution. A group
// without mass falls back to the absence label, then to fallback, then to
// the uniform distribution.
func normalizeGroups(t *Table, fallback map[string]float64) {
	selfLabels := t.selfLabels()
	_ = t.groups(func(start int) error {
		sum := 0.0
		for j := range selfLabels {
			sum += t.probabilities[start+j]
		}
		if sum > 0 && !math.IsInf(sum, 0) {
			for j := range selfLabels {
				t.probabilities[start+j] /= sum
			}
			return nil
		}
		for j, label := range selfLabels {
			if label == model.Absent {
				for k := range selfLabels {
					t.probabilities[start+k] = 0
				}
				t.probabilities[start+j] = 1
				return nil
			}
		}
		if mass := total(fallback, selfLabels); mass > 0 {
			for j, label := range selfLabels {
				t.probabilities[start+j] = fallback[label] / mass
			}
			return nil
		}
		for j := range selfLabels {
			t.probabilities[start+j] = 1 / float64(len(selfLabels))
		}
		return nil
	})
}

// FitMean is the sample mean of values, or locInit when there is no data or
// the mean is not a number.
func FitMean(values []float64, locInit float64) float64 {
	if len(values) == 0 {
		return locInit
	}
	mean := stat.Mean(values, nil)
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return locInit
	}
	return mean
}

func annealedScale(c Continuous, generation, horizon int) float64 {
	if horizon <= 0 {
		return c.Scale
	}
	step := c.ScaleInit / float64(horizon)
	return math.Max(0, c.Scale-step*float64(generation+1))
}

func matchesParents(cfg model.Configuration, parents, rowValues []string, domains map[string]Domain) bool {
	for i, parent := range parents {
		if labelOf(domains[parent], cfg.Value(parent)) != rowValues[i] {
			return false
		}
	}
	return true
}

func addOne(counts map[string]float64, labels []string, support map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(labels))
	for _, label := range labels {
		out[label] = counts[label]
		if support[label] > 0 {
			out[label]++
		}
	}
	return out
}

func empirical(counts map[string]float64, labels []string) map[string]float64 {
	sum := total(counts, labels)
	out := make(map[string]float64, len(labels))
	if sum == 0 {
		return out
	}
	for _, label := range labels {
		out[label] = counts[label] / sum
	}
	return out
}

// blend returns (1-lr)*old + lr*emp renormalized over labels. When the
// result has no mass the old distribution is kept.
func blend(old, emp map[string]float64, labels []string, lr float64) map[string]float64 {
	out := make(map[string]float64, len(labels))
	sum := 0.0
	for _, label := range labels {
		out[label] = (1-lr)*old[label] + lr*emp[label]
		sum += out[label]
	}
	if !(sum > 0) {
		return copyDist(old)
	}
	for _, label := range labels {
		out[label] /= sum
	}
	return out
}

func total(dist map[string]float64, labels []string) float64 {
	sum := 0.0
	for _, label := range labels {
		sum += dist[label]
	}
	return sum
}

func copyDist(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyConditional(in map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(in))
	for k, dist := range in {
		out[k] = copyDist(dist)
	}
	return out
}
