package bootstrap

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensembleda/internal/network"
	"ensembleda/internal/variable"
)

func TestDefaultModel(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)

	require.Len(t, m.Definition.Variables, 16)
	assert.Len(t, m.Definition.CannotLink, 2)
	assert.Equal(t, "Aggregator", m.Layout.Aggregator)
	assert.Len(t, m.Layout.Algorithms, 5)

	defs := make(map[string]network.VariableDef)
	for _, def := range m.Definition.Variables {
		defs[def.Name] = def
	}
	cf := defs["J48_confidenceFactor"]
	assert.Equal(t, "J48", cf.FixedParent)
	c, ok := cf.Domain.(variable.Continuous)
	require.True(t, ok)
	assert.True(t, c.Optional)
	assert.Equal(t, 0.05, c.Min)
	assert.Equal(t, 0.5, c.Max)

	agg, ok := defs["Aggregator"].Domain.(variable.Discrete)
	require.True(t, ok)
	assert.Equal(t, []string{"CompetenceBased", "MajorityVoting", "MeanProbability"}, agg.Labels)

	_, err = network.New(m.Definition, network.Config{MaxParents: 1, LearningRate: 0.5})
	assert.NoError(t, err)
}

func TestLoadDirEmptyUsesDefault(t *testing.T) {
	m, err := LoadDir("")
	require.NoError(t, err)
	assert.Len(t, m.Definition.Variables, 16)
}

func TestLoadRejectsMalformedModels(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"no tables": {
			"model.yaml": {Data: []byte("cannot_link: []\n")},
		},
		"name mismatch": {
			"A.csv": {Data: []byte("B,probability\nx,1\n")},
		},
		"no probability column": {
			"A.csv": {Data: []byte("A,weight\nx,1\n")},
		},
		"bad probability": {
			"A.csv": {Data: []byte("A,probability\nx,often\n")},
		},
		"no rows": {
			"A.csv": {Data: []byte("A,probability\n")},
		},
		"two fixed parents": {
			"A.csv": {Data: []byte("B,C,A,probability\nx,y,z,1\n")},
		},
		"mixed continuous": {
			"A.csv": {Data: []byte("A,probability\nlow,0.5\n\"(loc=1,scale=1,a_min=0,a_max=2)\",0.5\n")},
		},
		"unknown cannot_link": {
			"A.csv":      {Data: []byte("A,probability\nx,1\n")},
			"model.yaml": {Data: []byte("cannot_link:\n  - [A, Z]\n")},
		},
		"short cannot_link": {
			"A.csv":      {Data: []byte("A,probability\nx,1\n")},
			"model.yaml": {Data: []byte("cannot_link:\n  - [A]\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(fsys)
			assert.Error(t, err)
		})
	}
}

func TestLoadWithoutDescriptor(t *testing.T) {
	m, err := Load(fstest.MapFS{
		"A.csv": {Data: []byte("A,probability\nx,1\ny,3\n")},
		"B.csv": {Data: []byte("A,B,probability\nx,null,1\ny,on,1\n")},
	})
	require.NoError(t, err)
	require.Len(t, m.Definition.Variables, 2)
	assert.Empty(t, m.Definition.CannotLink)
	assert.Equal(t, "A", m.Definition.Variables[1].FixedParent)
	assert.Equal(t, variable.Discrete{Labels: []string{"null", "on"}}, m.Definition.Variables[1].Domain)
}
