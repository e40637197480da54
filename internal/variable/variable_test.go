package variable

import (
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensembleda/internal/model"
)

var boolean = Discrete{Labels: []string{"false", "true"}}

func rowOf(t *testing.T, table *Table, assignment map[string]string) int {
	t.Helper()
	rows := table.Match(assignment)
	require.Len(t, rows, 1, "assignment %v", assignment)
	return rows[0]
}

func groupSums(table *Table) []float64 {
	var sums []float64
	width := len(table.selfLabels())
	for start := 0; start < table.Len(); start += width {
		sum := 0.0
		for j := 0; j < width; j++ {
			sum += table.Probability(start + j)
		}
		sums = append(sums, sum)
	}
	return sums
}

// newChain builds A -> B with A fixed as the parent of B.
func newChain(t *testing.T) (*Variable, *Variable) {
	t.Helper()
	a, err := New("A", boolean)
	require.NoError(t, err)
	require.NoError(t, a.Init(nil, []Row{
		{Values: []string{"false"}, Probability: 0.5},
		{Values: []string{"true"}, Probability: 0.5},
	}))
	b, err := New("B", boolean)
	require.NoError(t, err)
	require.NoError(t, b.Init([]*Variable{a}, []Row{
		{Values: []string{"true", "true"}, Probability: 0.9},
		{Values: []string{"true", "false"}, Probability: 0.1},
		{Values: []string{"false", "true"}, Probability: 0.1},
		{Values: []string{"false", "false"}, Probability: 0.9},
	}))
	return a, b
}

func TestUpdateLearnsObservedBranchOnly(t *testing.T) {
	_, b := newChain(t)
	fittest := make([]model.Configuration, 10)
	for i := range fittest {
		fittest[i] = model.Configuration{"A": "true", "B": "true"}
	}

	require.NoError(t, b.UpdateProbabilities(fittest, 1.0, 0))

	table := b.Table()
	assert.InDelta(t, 1.0, table.Probability(rowOf(t, table, map[string]string{"A": "true", "B": "true"})), 1e-12)
	assert.InDelta(t, 0.0, table.Probability(rowOf(t, table, map[string]string{"A": "true", "B": "false"})), 1e-12)
	assert.InDelta(t, 0.1, table.Probability(rowOf(t, table, map[string]string{"A": "false", "B": "true"})), 1e-12)
	assert.InDelta(t, 0.9, table.Probability(rowOf(t, table, map[string]string{"A": "false", "B": "false"})), 1e-12)
}

func TestNextLeavesPreviousStateUntouched(t *testing.T) {
	_, b := newChain(t)
	prev := b.State()
	before := prev.Table.Probabilities()

	next, err := b.Next(prev, []model.Configuration{{"A": "true", "B": "false"}}, 0.5, 0)
	require.NoError(t, err)

	assert.Equal(t, before, prev.Table.Probabilities())
	assert.NotEqual(t, before, next.Table.Probabilities())
	assert.Equal(t, before, b.Table().Probabilities(), "Next must not install the new state")
}

func TestNextRejectsLearningRateOutOfRange(t *testing.T) {
	_, b := newChain(t)
	_, err := b.Next(b.State(), nil, 1.5, 0)
	assert.Error(t, err)
}

func TestProbabilisticParentIsSmoothed(t *testing.T) {
	a, err := New("A", boolean)
	require.NoError(t, err)
	c, err := New("C", boolean)
	require.NoError(t, err)
	require.NoError(t, c.UpdateStructure([]*Variable{a}))
	assert.Equal(t, []string{"A"}, c.ProbabilisticParents())

	fittest := make([]model.Configuration, 4)
	for i := range fittest {
		fittest[i] = model.Configuration{"A": "true", "C": "true"}
	}
	require.NoError(t, c.UpdateProbabilities(fittest, 1.0, 0))

	table := c.Table()
	p := table.Probability(rowOf(t, table, map[string]string{"A": "true", "C": "true"}))
	// Add-one counts give 5/6 rather than certainty.
	assert.InDelta(t, 5.0/6.0, p, 1e-12)
	for _, sum := range groupSums(table) {
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
}

func TestRestructureOrdersColumnsAndKeepsGroupsNormalized(t *testing.T) {
	_, b := newChain(t)
	z, err := New("Z", Discrete{Labels: []string{"x", "y", "z"}})
	require.NoError(t, err)
	c, err := New("C", boolean)
	require.NoError(t, err)

	require.NoError(t, b.UpdateStructure([]*Variable{z, c, z}))

	table := b.Table()
	assert.Equal(t, []string{"A", "C", "Z", "B"}, table.Columns())
	assert.Equal(t, 2*2*3*2, table.Len())
	assert.Equal(t, []string{"A"}, b.FixedParents())
	assert.Equal(t, []string{"C", "Z"}, b.ProbabilisticParents())
	for _, sum := range groupSums(table) {
		assert.InDelta(t, 1.0, sum, 1e-12)
	}

	_, err = b.Restructure(b.State(), []*Variable{b})
	assert.ErrorIs(t, err, ErrStructuralInconsistency)
}

func TestNaiveBayesRowsStayNormalized(t *testing.T) {
	a, b := newChain(t)
	c, err := New("C", boolean)
	require.NoError(t, err)
	require.NoError(t, b.UpdateStructure([]*Variable{c}))

	rng := rand.New(rand.NewSource(3))
	fittest := make([]model.Configuration, 30)
	for i := range fittest {
		fittest[i] = model.Configuration{
			"A": a.ConditionalSample(model.Configuration{}, rng),
			"B": strconv.FormatBool(rng.Intn(3) > 0),
			"C": strconv.FormatBool(rng.Intn(2) == 0),
		}
	}
	require.NoError(t, b.UpdateProbabilities(fittest, 0.7, 0))
	for _, sum := range groupSums(b.Table()) {
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestConditionalSampleUnseenCombination(t *testing.T) {
	_, b := newChain(t)
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, model.Absent, b.ConditionalSample(model.Configuration{"A": "maybe"}, rng))
	assert.Equal(t, model.Absent, b.Mode(model.Configuration{"A": "maybe"}))
	assert.Equal(t, "true", b.Mode(model.Configuration{"A": "true"}))
}

func TestInitValidatesRows(t *testing.T) {
	a, err := New("A", boolean)
	require.NoError(t, err)

	err = a.Init(nil, []Row{{Values: []string{"yes"}, Probability: 1}})
	assert.Error(t, err)
	err = a.Init(nil, []Row{{Values: []string{"true"}, Probability: -1}})
	assert.Error(t, err)
	err = a.Init(nil, []Row{{Values: []string{"true", "x"}, Probability: 1}})
	assert.Error(t, err)

	require.NoError(t, a.Init(nil, []Row{
		{Values: []string{"false"}, Probability: 2},
		{Values: []string{"true"}, Probability: 6},
	}))
	table := a.Table()
	assert.InDelta(t, 0.25, table.Probability(rowOf(t, table, map[string]string{"A": "false"})), 1e-12)
	assert.InDelta(t, 0.75, table.Probability(rowOf(t, table, map[string]string{"A": "true"})), 1e-12)
}

func continuousVariable(t *testing.T) (*Variable, *Variable) {
	t.Helper()
	flag, err := New("J48", boolean)
	require.NoError(t, err)
	g, c, err := ParseDescriptor("(loc=0.5,scale=0.2,a_min=0,a_max=1,scale_init=0.2)")
	require.NoError(t, err)
	c.Optional = true
	v, err := New("J48_confidenceFactor", c)
	require.NoError(t, err)
	require.NoError(t, v.Init([]*Variable{flag}, []Row{
		{Values: []string{"false", model.Absent}, Probability: 1},
		{Values: []string{"true", Descriptor(g, c)}, Probability: 1},
	}))
	return flag, v
}

func TestContinuousCellRefit(t *testing.T) {
	_, v := continuousVariable(t)
	v.SetHorizon(10)

	fittest := []model.Configuration{
		{"J48": "true", "J48_confidenceFactor": "0.2"},
		{"J48": "true", "J48_confidenceFactor": "0.4"},
		{"J48": "true", "J48_confidenceFactor": "0.6"},
		{"J48": "false"},
	}
	require.NoError(t, v.UpdateProbabilities(fittest, 1.0, 0))

	st := v.State()
	present := rowOf(t, st.Table, map[string]string{"J48": "true", "J48_confidenceFactor": Present})
	assert.InDelta(t, 0.4, st.Gaussians[present].Mean, 1e-12)
	assert.InDelta(t, 0.2-0.02, st.Scale, 1e-12)

	// No sample reaches the J48=false branch, so its present cell reverts.
	unused := rowOf(t, st.Table, map[string]string{"J48": "false", "J48_confidenceFactor": Present})
	assert.InDelta(t, 0.5, st.Gaussians[unused].Mean, 1e-12)

	assert.Equal(t, 2.0, FitMean([]float64{1, 2, 3}, 0.5))
	assert.Equal(t, 0.5, FitMean(nil, 0.5))
	assert.Equal(t, 0.5, FitMean([]float64{math.NaN()}, 0.5))
}

func TestContinuousSamplesAreClamped(t *testing.T) {
	_, v := continuousVariable(t)
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 200; i++ {
		raw := v.ConditionalSample(model.Configuration{"J48": "true"}, rng)
		x, err := strconv.ParseFloat(raw, 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, x, 0.0)
		assert.LessOrEqual(t, x, 1.0)
	}
	assert.Equal(t, model.Absent, v.ConditionalSample(model.Configuration{"J48": "false"}, rng))
}

func TestSnapshotRendersDescriptors(t *testing.T) {
	_, v := continuousVariable(t)
	snap := v.Snapshot()
	assert.Equal(t, "continuous", snap.Kind)
	assert.Equal(t, []string{"J48", "J48_confidenceFactor"}, snap.Columns)
	require.Len(t, snap.Rows, 4)
	descriptors := 0
	for _, row := range snap.Rows {
		if IsDescriptor(row.Values[1]) {
			descriptors++
		}
	}
	assert.Equal(t, 2, descriptors)
	assert.Len(t, snap.Gaussians, 2)
}
