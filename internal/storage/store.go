package storage

import (
	"context"

	"ensembleda/internal/model"
)

// Store persists finished runs and their per-generation records.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveStructures(ctx context.Context, runID string, structures []model.StructureSnapshot) error
	GetStructures(ctx context.Context, runID string) ([]model.StructureSnapshot, bool, error)
	SaveBest(ctx context.Context, runID string, best []model.BestRecord) error
	GetBest(ctx context.Context, runID string) ([]model.BestRecord, bool, error)
}
