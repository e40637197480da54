package fitness

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"

	"ensembleda/internal/ensemble"
)

// Synthetic scores an ensemble on a simulated classification task. Each
// member has a competence derived from its algorithm and how close its
// options are to a hidden optimum; on every instance a member is right with
// probability equal to its competence, decided by hashing so that the same
// ensemble always gets the same score.
type Synthetic struct {
	Base        map[string]float64
	Optima      map[string]float64
	Spans       map[string]float64
	Preferences map[string]string
}

func NewSynthetic() *Synthetic {
	return &Synthetic{
		Base: map[string]float64{
			"J48":           0.72,
			"SimpleCart":    0.70,
			"PART":          0.71,
			"JRip":          0.69,
			"DecisionTable": 0.66,
		},
		Optima: map[string]float64{
			"J48_confidenceFactor":       0.15,
			"J48_minNumObj":              4,
			"SimpleCart_numFoldsPruning": 7,
			"PART_confidenceFactor":      0.2,
			"JRip_optimizations":         3,
		},
		Spans: map[string]float64{
			"J48_confidenceFactor":       0.45,
			"J48_minNumObj":              9,
			"SimpleCart_numFoldsPruning": 8,
			"PART_confidenceFactor":      0.45,
			"JRip_optimizations":         5,
		},
		Preferences: map[string]string{
			"J48_unpruned":         "false",
			"SimpleCart_usePrune":  "true",
			"PART_binarySplits":    "true",
			"JRip_usePruning":      "true",
			"DecisionTable_search": "BestFirst",
		},
	}
}

func (s *Synthetic) Evaluate(ctx context.Context, e ensemble.Ensemble, data Dataset) (Quality, error) {
	if err := validate(data); err != nil {
		return Quality{}, err
	}
	if err := ctx.Err(); err != nil {
		return Quality{}, err
	}
	learn, err := s.accuracy(ctx, e, data, data.Seed, data.Instances)
	if err != nil {
		return Quality{}, err
	}
	validation := learn
	if data.ValidationInstances > 0 {
		validation, err = s.accuracy(ctx, e, data, data.Seed+1, data.ValidationInstances)
		if err != nil {
			return Quality{}, err
		}
	}
	return Quality{Learn: learn, Validation: validation}, nil
}

// Finalize scores the ensemble on learn and validation instances together.
func (s *Synthetic) Finalize(ctx context.Context, e ensemble.Ensemble, data Dataset) (Quality, error) {
	if err := validate(data); err != nil {
		return Quality{}, err
	}
	full, err := s.accuracy(ctx, e, data, data.Seed+2, data.Instances+data.ValidationInstances)
	if err != nil {
		return Quality{}, err
	}
	return Quality{Learn: full, Validation: full}, nil
}

// Competence returns the probability that member predicts correctly.
func (s *Synthetic) Competence(m ensemble.Member) float64 {
	c, ok := s.Base[m.Algorithm]
	if !ok {
		c = 0.6
	}
	options := make([]string, 0, len(m.Options))
	for option := range m.Options {
		options = append(options, option)
	}
	sort.Strings(options)
	for _, option := range options {
		value := m.Options[option]
		name := m.Algorithm + "_" + option
		if want, ok := s.Preferences[name]; ok && value != want {
			c -= 0.03
		}
		opt, ok := s.Optima[name]
		if !ok {
			continue
		}
		x, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		span := s.Spans[name]
		if span <= 0 {
			span = 1
		}
		c -= 0.08 * math.Min(1, math.Abs(x-opt)/span)
	}
	return math.Max(0.05, math.Min(0.99, c))
}

func (s *Synthetic) accuracy(ctx context.Context, e ensemble.Ensemble, data Dataset, seed int64, instances int) (float64, error) {
	if len(e.Members) == 0 {
		return 0, ensemble.ErrEmptyEnsemble
	}
	if e.Aggregator == nil {
		return 0, ensemble.ErrNoAggregationPolicy
	}
	classes := data.Classes
	if classes < 2 {
		classes = 2
	}
	competences := make([]float64, len(e.Members))
	for i, m := range e.Members {
		competences[i] = s.Competence(m)
	}

	correct := 0
	votes := make([][]float64, len(e.Members))
	for i := 0; i < instances; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		for m, member := range e.Members {
			u, pick := draw(seed, i, m, member.Algorithm)
			predicted := 0
			if u >= competences[m] {
				predicted = 1 + pick%(classes-1)
			}
			votes[m] = oneHot(classes, predicted, 0.5+0.5*competences[m])
		}
		if ensemble.Predict(e.Aggregator.Combine(votes, competences)) == 0 {
			correct++
		}
	}
	return float64(correct) / float64(instances), nil
}

func draw(seed int64, instance, member int, algorithm string) (float64, int) {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d/%d/%d/%s", seed, instance, member, algorithm)
	sum := h.Sum64()
	return float64(sum>>11) / float64(1<<53), int(sum & 0xffff)
}

func oneHot(classes, class int, confidence float64) []float64 {
	v := make([]float64, classes)
	rest := (1 - confidence) / float64(classes-1)
	for i := range v {
		v[i] = rest
	}
	v[class] = confidence
	return v
}

func validate(data Dataset) error {
	if data.Instances <= 0 {
		return fmt.Errorf("%w: instances must be > 0", ErrInvalidDataset)
	}
	if data.ValidationInstances < 0 {
		return fmt.Errorf("%w: validation instances must be >= 0", ErrInvalidDataset)
	}
	return nil
}
