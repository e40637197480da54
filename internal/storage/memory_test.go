package storage

import (
	"context"
	"testing"

	"ensembleda/internal/model"
)

func sampleRun(id, createdAt string) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              id,
		Seed:            7,
		Individuals:     20,
		Generations:     15,
		Completed:       12,
		StopReason:      "early_stop",
		BestQuality:     0.91,
		Evaluations:     240,
		CreatedAtUTC:    createdAt,
	}
}

// exerciseStore runs the common persistence contract against any backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.SaveRun(ctx, sampleRun("run-a", "2026-01-01T00:00:00Z")); err != nil {
		t.Fatalf("save run a: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-b", "2026-02-01T00:00:00Z")); err != nil {
		t.Fatalf("save run b: %v", err)
	}
	updated := sampleRun("run-a", "2026-01-01T00:00:00Z")
	updated.BestQuality = 0.95
	if err := store.SaveRun(ctx, updated); err != nil {
		t.Fatalf("overwrite run a: %v", err)
	}

	run, ok, err := store.GetRun(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if run.BestQuality != 0.95 || run.StopReason != "early_stop" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%t err=%v", ok, err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	diagnostics := []model.GenerationDiagnostics{
		{Generation: 0, MaxQuality: 0.5, SamplingOrder: []string{"A", "B"}},
		{Generation: 1, MaxQuality: 0.6, Edges: 2},
	}
	if err := store.SaveGenerationDiagnostics(ctx, "run-a", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	gotDiagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get diagnostics: ok=%t err=%v", ok, err)
	}
	if len(gotDiagnostics) != 2 || gotDiagnostics[1].Edges != 2 || gotDiagnostics[0].SamplingOrder[1] != "B" {
		t.Fatalf("unexpected diagnostics: %+v", gotDiagnostics)
	}

	structures := []model.StructureSnapshot{{
		Generation: 3,
		Variables: []model.VariableSnapshot{{
			Name:    "A",
			Kind:    "discrete",
			Columns: []string{"A"},
			Rows:    []model.TableRow{{Values: []string{"x"}, Probability: 1}},
		}},
	}}
	if err := store.SaveStructures(ctx, "run-a", structures); err != nil {
		t.Fatalf("save structures: %v", err)
	}
	gotStructures, ok, err := store.GetStructures(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get structures: ok=%t err=%v", ok, err)
	}
	if len(gotStructures) != 1 || gotStructures[0].Variables[0].Rows[0].Probability != 1 {
		t.Fatalf("unexpected structures: %+v", gotStructures)
	}

	best := []model.BestRecord{{
		VersionedRecord: CurrentVersion(),
		Label:           "overall",
		Generation:      4,
		Quality:         0.9,
		Configuration:   model.Configuration{"A": "x"},
	}}
	if err := store.SaveBest(ctx, "run-a", best); err != nil {
		t.Fatalf("save best: %v", err)
	}
	gotBest, ok, err := store.GetBest(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get best: ok=%t err=%v", ok, err)
	}
	if len(gotBest) != 1 || gotBest[0].Configuration.Value("A") != "x" {
		t.Fatalf("unexpected best: %+v", gotBest)
	}
	if _, ok, err := store.GetBest(ctx, "run-b"); err != nil || ok {
		t.Fatalf("expected no best for run-b, ok=%t err=%v", ok, err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), sampleRun("run-a", "")); err == nil {
		t.Fatal("expected error before init")
	}
}

func TestMemoryStoreRejectsEmptyRunID(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveRun(context.Background(), sampleRun("", "")); err == nil {
		t.Fatal("expected error for empty run id")
	}
}
