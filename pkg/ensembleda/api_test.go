package ensembleda

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensembleda/internal/bootstrap"
	"ensembleda/internal/config"
	"ensembleda/internal/model"
)

func smallConfig() config.RunConfig {
	cfg := config.Default()
	cfg.Individuals = 8
	cfg.Generations = 3
	cfg.BurnIn = 2
	cfg.ThinningFactor = 1
	cfg.EarlyStopGenerations = 0
	cfg.Workers = 2
	cfg.Timeout = 0
	cfg.Dataset.Instances = 60
	cfg.Dataset.ValidationInstances = 20
	return cfg
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
	})
	require.NoError(t, err)
	require.NoError(t, client.Init(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRunPersistsResults(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	var observed []int
	summary, err := client.Run(ctx, RunRequest{
		RunID:    "run-1",
		Config:   smallConfig(),
		Observer: func(d model.GenerationDiagnostics) { observed = append(observed, d.Generation) },
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "exhausted", summary.StopReason)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, []int{0, 1, 2}, observed)
	assert.NotEmpty(t, summary.Best)
	assert.NotEmpty(t, summary.BestEnsemble.Members)
	require.NotEmpty(t, summary.Final)
	assert.Equal(t, "final_overall_best", summary.Final[0].Label)
	assert.GreaterOrEqual(t, summary.BestQuality, 0.0)
	assert.LessOrEqual(t, summary.BestQuality, 1.0)

	diagnostics, err := client.Diagnostics(ctx, DiagnosticsRequest{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, diagnostics, 3)
	for _, d := range diagnostics {
		assert.LessOrEqual(t, d.MinQuality, d.MedianQuality)
		assert.LessOrEqual(t, d.MedianQuality, d.MaxQuality)
		assert.Equal(t, 2, d.BurnInDiscarded)
	}

	latest, err := client.Structure(ctx, StructureRequest{Latest: true, Generation: -1})
	require.NoError(t, err)
	assert.NotEmpty(t, latest.Variables)
	byGeneration, err := client.Structure(ctx, StructureRequest{RunID: "run-1", Generation: 2})
	require.NoError(t, err)
	assert.Equal(t, latest.Generation, byGeneration.Generation)

	best, err := client.Best(ctx, BestRequest{RunID: "run-1"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(best), 3)
	assert.Equal(t, "overall_best", best[0].Label)
	assert.InDelta(t, summary.BestQuality, best[0].Quality, 1e-12)

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 3, runs[0].Completed)

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	for _, file := range []string{"config.json", "best.json", "fitness_series.csv"} {
		_, err := os.Stat(filepath.Join(exported.Directory, file))
		assert.NoError(t, err, file)
	}

	// The exported final tables load back as a model.
	tables, err := bootstrap.LoadDir(filepath.Join(summary.ArtifactsDir, "tables"))
	require.NoError(t, err)
	assert.NotEmpty(t, tables.Definition.Variables)
}

func TestRunTagsRecordsWithRunIDOnce(t *testing.T) {
	var buf bytes.Buffer
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
		Logger:       slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)
	require.NoError(t, client.Init(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.Run(context.Background(), RunRequest{RunID: "run-log", Config: smallConfig()})
	require.NoError(t, err)

	tagged := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, `"run_id"`) {
			continue
		}
		tagged++
		assert.Equal(t, 1, strings.Count(line, `"run_id"`), line)
		assert.Contains(t, line, `"run_id":"run-log"`)
	}
	assert.Positive(t, tagged)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	client := newTestClient(t)
	cfg := smallConfig()
	cfg.Individuals = 0
	_, err := client.Run(context.Background(), RunRequest{Config: cfg})
	assert.Error(t, err)
}

func TestBatchRunsEverySeed(t *testing.T) {
	client := newTestClient(t)
	items, err := client.Batch(context.Background(), BatchRequest{
		Config:  smallConfig(),
		Seeds:   []int64{1, 2, 3},
		Workers: 2,
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	ids := map[string]struct{}{}
	for i, item := range items {
		require.NoError(t, item.Err)
		assert.Equal(t, int64(i+1), item.Seed)
		ids[item.Summary.RunID] = struct{}{}
	}
	assert.Len(t, ids, 3)

	runs, err := client.Runs(context.Background(), RunsRequest{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestBatchRequiresSeeds(t *testing.T) {
	client := newTestClient(t)
	_, err := client.Batch(context.Background(), BatchRequest{Config: smallConfig()})
	assert.Error(t, err)
}

func TestRunIDSelection(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Diagnostics(ctx, DiagnosticsRequest{RunID: "x", Latest: true})
	assert.Error(t, err)
	_, err = client.Best(ctx, BestRequest{})
	assert.Error(t, err)
	_, err = client.Export(ctx, ExportRequest{Latest: true})
	assert.Error(t, err, "no runs yet")
	_, err = client.Diagnostics(ctx, DiagnosticsRequest{RunID: "missing"})
	assert.Error(t, err)
}

func TestExportModelRoundTrip(t *testing.T) {
	client := newTestClient(t)
	out := filepath.Join(t.TempDir(), "model")
	dir, err := client.ExportModel(context.Background(), ModelExportRequest{OutDir: out})
	require.NoError(t, err)

	exported, err := bootstrap.LoadDir(dir)
	require.NoError(t, err)
	original, err := bootstrap.Default()
	require.NoError(t, err)
	require.Len(t, exported.Definition.Variables, len(original.Definition.Variables))
	for i, v := range original.Definition.Variables {
		assert.Equal(t, v.Name, exported.Definition.Variables[i].Name)
		assert.Equal(t, v.FixedParent, exported.Definition.Variables[i].FixedParent)
	}
}

func TestAggregatorsListsBuiltins(t *testing.T) {
	client := newTestClient(t)
	assert.Subset(t, client.Aggregators(), []string{"CompetenceBased", "MajorityVoting", "MeanProbability"})
}
