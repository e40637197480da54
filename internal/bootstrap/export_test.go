package bootstrap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensembleda/internal/model"
	"ensembleda/internal/network"
	"ensembleda/internal/variable"
)

func TestWriteVariable(t *testing.T) {
	var buf bytes.Buffer
	err := WriteVariable(&buf, model.VariableSnapshot{
		Name:    "J48_unpruned",
		Columns: []string{"J48", "J48_unpruned"},
		Rows: []model.TableRow{
			{Values: []string{"false", "null"}, Probability: 1},
			{Values: []string{"true", "true"}, Probability: 0.25},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "J48,J48_unpruned,probability\nfalse,null,1\ntrue,true,0.25\n", buf.String())
}

func TestExportDirRoundTrip(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)
	n, err := network.New(m.Definition, network.Config{LearningRate: 0.5})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "tables")
	require.NoError(t, ExportDir(dir, n.Snapshot(0)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 16)

	reloaded, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, reloaded.Definition.Variables, len(m.Definition.Variables))
	for i, def := range reloaded.Definition.Variables {
		want := m.Definition.Variables[i]
		assert.Equal(t, want.Name, def.Name)
		assert.Equal(t, want.FixedParent, def.FixedParent)
		assert.Equal(t, variable.KindOf(want.Domain), variable.KindOf(def.Domain), def.Name)
	}

	again, err := network.New(reloaded.Definition, network.Config{LearningRate: 0.5})
	require.NoError(t, err)
	for _, name := range n.Names() {
		before, _ := n.Variable(name)
		after, _ := again.Variable(name)
		assert.InDeltaSlice(t, before.Table().Probabilities(), after.Table().Probabilities(), 1e-12, name)
	}
}
