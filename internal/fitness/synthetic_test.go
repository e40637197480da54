package fitness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensembleda/internal/ensemble"
)

func j48(options map[string]string) ensemble.Ensemble {
	return ensemble.Ensemble{
		Members:        []ensemble.Member{{Algorithm: "J48", Options: options}},
		AggregatorName: "MajorityVoting",
		Aggregator:     ensemble.MajorityVoting{},
	}
}

var data = Dataset{Name: "synthetic", Instances: 2000, ValidationInstances: 500, Classes: 3, Seed: 7}

func TestSyntheticIsDeterministic(t *testing.T) {
	s := NewSynthetic()
	e := j48(map[string]string{"confidenceFactor": "0.3"})

	first, err := s.Evaluate(context.Background(), e, data)
	require.NoError(t, err)
	second, err := NewSynthetic().Evaluate(context.Background(), e, data)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.GreaterOrEqual(t, first.Learn, 0.0)
	assert.LessOrEqual(t, first.Learn, 1.0)
	assert.InDelta(t, s.Competence(e.Members[0]), first.Learn, 0.05)
}

func TestSyntheticRewardsOptimalOptions(t *testing.T) {
	s := NewSynthetic()
	good := s.Competence(ensemble.Member{Algorithm: "J48", Options: map[string]string{"confidenceFactor": "0.15", "unpruned": "false"}})
	bad := s.Competence(ensemble.Member{Algorithm: "J48", Options: map[string]string{"confidenceFactor": "0.5", "unpruned": "true"}})
	assert.Greater(t, good, bad)
	assert.InDelta(t, 0.72, good, 1e-12)
	assert.InDelta(t, 0.6, s.Competence(ensemble.Member{Algorithm: "Unknown"}), 1e-12)
}

func TestFinalizeUsesAllInstances(t *testing.T) {
	q, err := NewSynthetic().Finalize(context.Background(), j48(nil), data)
	require.NoError(t, err)
	assert.Equal(t, q.Learn, q.Validation)
	assert.InDelta(t, 0.72, q.Learn, 0.05)
}

func TestSyntheticErrors(t *testing.T) {
	s := NewSynthetic()
	ctx := context.Background()

	_, err := s.Evaluate(ctx, j48(nil), Dataset{})
	assert.ErrorIs(t, err, ErrInvalidDataset)
	_, err = s.Evaluate(ctx, j48(nil), Dataset{Instances: 10, ValidationInstances: -1})
	assert.ErrorIs(t, err, ErrInvalidDataset)

	_, err = s.Evaluate(ctx, ensemble.Ensemble{Aggregator: ensemble.MajorityVoting{}}, data)
	assert.ErrorIs(t, err, ensemble.ErrEmptyEnsemble)
	noAgg := j48(nil)
	noAgg.Aggregator = nil
	_, err = s.Evaluate(ctx, noAgg, data)
	assert.ErrorIs(t, err, ensemble.ErrNoAggregationPolicy)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Evaluate(canceled, j48(nil), data)
	assert.ErrorIs(t, err, context.Canceled)
}
