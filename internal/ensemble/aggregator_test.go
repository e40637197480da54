package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var votes = [][]float64{
	{0.6, 0.4},
	{0.2, 0.8},
	{0.7, 0.3},
}

func TestAggregators(t *testing.T) {
	assert.InDeltaSlice(t, []float64{2.0 / 3.0, 1.0 / 3.0}, MajorityVoting{}.Combine(votes, nil), 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, MeanProbability{}.Combine(votes, nil), 1e-12)

	weighted := CompetenceBased{}.Combine(votes, []float64{0, 1, 0})
	assert.InDeltaSlice(t, []float64{0.2, 0.8}, weighted, 1e-12)
	assert.Equal(t, 1, Predict(weighted))
	assert.Equal(t, -1, Predict(nil))

	empty := MajorityVoting{}.Combine(nil, nil)
	assert.Empty(t, empty)
}

func TestAggregatorRegistry(t *testing.T) {
	t.Cleanup(resetAggregatorRegistryForTests)

	assert.Equal(t, []string{"CompetenceBased", "MajorityVoting", "MeanProbability"}, ListAggregators())

	require.NoError(t, RegisterAggregator("FirstMember", func() Aggregator { return MeanProbability{} }))
	assert.ErrorIs(t, RegisterAggregator("FirstMember", func() Aggregator { return MeanProbability{} }), ErrAggregatorExists)
	assert.Error(t, RegisterAggregator("", func() Aggregator { return MeanProbability{} }))
	assert.Error(t, RegisterAggregator("Nil", nil))

	agg, err := ResolveAggregator("FirstMember")
	require.NoError(t, err)
	assert.NotNil(t, agg)
	assert.Contains(t, ListAggregators(), "FirstMember")

	_, err = ResolveAggregator("missing")
	assert.ErrorIs(t, err, ErrAggregatorNotFound)
}
