// Package ensembleda is the public entry point: it wires a bootstrap model,
// the dependency network and the evolutionary loop into runs whose results
// are persisted to a store and to artifact files.
package ensembleda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"ensembleda/internal/bootstrap"
	"ensembleda/internal/config"
	"ensembleda/internal/ensemble"
	"ensembleda/internal/evo"
	"ensembleda/internal/fitness"
	"ensembleda/internal/model"
	"ensembleda/internal/network"
	"ensembleda/internal/runner"
	"ensembleda/internal/stats"
	"ensembleda/internal/storage"
)

const (
	defaultArtifactsDir = "ensembleda_data"
	defaultExportsDir   = "exports"
	defaultDBPath       = "ensembleda.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store  storage.Store
	logger *slog.Logger

	initOnce sync.Once
	initErr  error

	// artifactsMu serializes writes to the shared run index.
	artifactsMu sync.Mutex

	artifactsDir string
	exportsDir   string
}

// RunRequest describes one search run. Model, Evaluator and Finalizer are
// optional; the embedded model and the synthetic evaluator are used when
// they are nil.
type RunRequest struct {
	RunID     string
	Config    config.RunConfig
	Model     *bootstrap.Model
	Evaluator fitness.Evaluator
	Finalizer fitness.Finalizer
	Observer  evo.Observer
}

type FinalItem struct {
	Label         string
	Quality       fitness.Quality
	Configuration model.Configuration
	Ensemble      ensemble.Ensemble
}

type RunSummary struct {
	RunID             string
	ArtifactsDir      string
	StopReason        string
	Completed         int
	Evaluations       int
	BestQuality       float64
	ValidationQuality float64
	Best              model.Configuration
	BestEnsemble      ensemble.Ensemble
	Final             []FinalItem
	Elapsed           time.Duration
}

type BatchRequest struct {
	Config  config.RunConfig
	Seeds   []int64
	Workers int
	Model   *bootstrap.Model
}

type BatchItem struct {
	Seed    int64
	Summary RunSummary
	Err     error
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Seed         int64
	Individuals  int
	Generations  int
	Completed    int
	StopReason   string
	BestQuality  float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

// StructureRequest selects one structure snapshot of a run. A negative
// Generation selects the last snapshot.
type StructureRequest struct {
	RunID      string
	Latest     bool
	Generation int
}

type BestRequest struct {
	RunID  string
	Latest bool
}

type ModelExportRequest struct {
	ModelDir string
	OutDir   string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" && storeKind == storage.KindSQLite {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	// The monitor tags its own records with the run id.
	logger := c.logger.With("run_id", runID)

	m, err := c.resolveModel(req.Model, cfg.ModelDir)
	if err != nil {
		return RunSummary{}, err
	}
	builder, err := ensemble.NewBuilder(m.Layout)
	if err != nil {
		return RunSummary{}, fmt.Errorf("ensemble layout: %w", err)
	}
	net, err := network.New(m.Definition, cfg.Network(logger))
	if err != nil {
		return RunSummary{}, fmt.Errorf("build network: %w", err)
	}

	evaluator := req.Evaluator
	finalizer := req.Finalizer
	if evaluator == nil {
		synthetic := fitness.NewSynthetic()
		evaluator = synthetic
		if finalizer == nil {
			finalizer = synthetic
		}
	}

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		RunID:             runID,
		Network:           net,
		Builder:           builder,
		Evaluator:         evaluator,
		Finalizer:         finalizer,
		Dataset:           cfg.FitnessDataset(),
		Individuals:       cfg.Individuals,
		Generations:       cfg.Generations,
		SelectionShare:    cfg.SelectionShare,
		BurnIn:            cfg.BurnIn,
		Thinning:          cfg.ThinningFactor,
		MaxAttemptsFactor: cfg.MaxAttemptsFactor,
		EarlyStop:         evo.EarlyStopConfig{Window: cfg.EarlyStopGenerations, Tolerance: cfg.EarlyStopTolerance},
		Timeout:           cfg.Timeout,
		Workers:           cfg.Workers,
		CarryOver:         cfg.CarryOver,
		RestartFromBest:   cfg.RestartFromBest,
		Baseline:          cfg.Baseline,
		Logger:            c.logger,
		Observer:          req.Observer,
	})
	if err != nil {
		return RunSummary{}, err
	}

	createdAt := time.Now().UTC()
	result, err := monitor.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	if err := c.persist(ctx, cfg, result, createdAt); err != nil {
		return RunSummary{}, err
	}
	runDir, err := c.writeArtifacts(cfg, result, createdAt)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		RunID:             result.RunID,
		ArtifactsDir:      filepath.Clean(runDir),
		StopReason:        result.StopReason,
		Completed:         result.Completed,
		Evaluations:       result.Evaluations,
		BestQuality:       result.OverallBest.Quality.Learn,
		ValidationQuality: result.OverallBest.Quality.Validation,
		Best:              result.OverallBest.Configuration.Clone(),
		BestEnsemble:      result.OverallBest.Ensemble,
		Elapsed:           result.Elapsed,
	}
	for i, ind := range result.Final {
		summary.Final = append(summary.Final, FinalItem{
			Label:         finalLabel(i),
			Quality:       ind.Quality,
			Configuration: ind.Configuration.Clone(),
			Ensemble:      ind.Ensemble,
		})
	}
	return summary, nil
}

// Batch runs one independent search per seed, req.Workers at a time. A
// failed run does not stop the others.
func (c *Client) Batch(ctx context.Context, req BatchRequest) ([]BatchItem, error) {
	if len(req.Seeds) == 0 {
		return nil, errors.New("batch requires at least one seed")
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	m, err := c.resolveModel(req.Model, req.Config.ModelDir)
	if err != nil {
		return nil, err
	}

	jobs := make([]runner.Job[RunSummary], len(req.Seeds))
	for i, seed := range req.Seeds {
		cfg := req.Config
		cfg.Seed = seed
		jobs[i] = runner.Job[RunSummary]{
			Name: "seed-" + strconv.FormatInt(seed, 10),
			Run: func(ctx context.Context) (RunSummary, error) {
				return c.Run(ctx, RunRequest{Config: cfg, Model: &m})
			},
		}
	}
	results := runner.Run(ctx, jobs, runner.Options{Workers: req.Workers, Logger: c.logger})

	items := make([]BatchItem, len(results))
	for i, r := range results {
		items[i] = BatchItem{Seed: req.Seeds[i], Summary: r.Value, Err: r.Err}
	}
	return items, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Seed:         e.Seed,
			Individuals:  e.Individuals,
			Generations:  e.Generations,
			Completed:    e.Completed,
			StopReason:   e.StopReason,
			BestQuality:  e.FinalBestQuality,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Diagnostics returns per-generation diagnostics from the store, falling
// back to the run's artifact files.
func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "diagnostics")
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) Structure(ctx context.Context, req StructureRequest) (model.StructureSnapshot, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "structure")
	if err != nil {
		return model.StructureSnapshot{}, err
	}
	if err := c.Init(ctx); err != nil {
		return model.StructureSnapshot{}, err
	}

	structures, ok, err := c.store.GetStructures(ctx, runID)
	if err != nil {
		return model.StructureSnapshot{}, err
	}
	if !ok {
		structures, ok, err = stats.ReadStructures(c.artifactsDir, runID)
		if err != nil {
			return model.StructureSnapshot{}, err
		}
	}
	if !ok || len(structures) == 0 {
		return model.StructureSnapshot{}, fmt.Errorf("structures not found for run id: %s", runID)
	}
	if req.Generation < 0 {
		return structures[len(structures)-1], nil
	}
	for _, s := range structures {
		if s.Generation == req.Generation {
			return s, nil
		}
	}
	return model.StructureSnapshot{}, fmt.Errorf("no structure snapshot for generation %d of run %s", req.Generation, runID)
}

func (c *Client) Best(ctx context.Context, req BestRequest) ([]model.BestRecord, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "best")
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	best, ok, err := c.store.GetBest(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		best, ok, err = stats.ReadBest(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("best records not found for run id: %s", runID)
	}
	return best, nil
}

// ExportModel writes the initial tables of a model in the bootstrap format.
func (c *Client) ExportModel(_ context.Context, req ModelExportRequest) (string, error) {
	if req.OutDir == "" {
		return "", errors.New("output directory is required")
	}
	m, err := bootstrap.LoadDir(req.ModelDir)
	if err != nil {
		return "", err
	}
	net, err := network.New(m.Definition, network.Config{LearningRate: 0, Logger: c.logger})
	if err != nil {
		return "", err
	}
	if err := bootstrap.ExportDir(req.OutDir, net.Snapshot(-1)); err != nil {
		return "", err
	}
	return filepath.Clean(req.OutDir), nil
}

// Aggregators lists the registered aggregation policies.
func (c *Client) Aggregators() []string {
	return ensemble.ListAggregators()
}

func (c *Client) resolveModel(m *bootstrap.Model, dir string) (bootstrap.Model, error) {
	if m != nil {
		return *m, nil
	}
	loaded, err := bootstrap.LoadDir(dir)
	if err != nil {
		return bootstrap.Model{}, fmt.Errorf("load model: %w", err)
	}
	return loaded, nil
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", fmt.Errorf("%s requires run id or latest", op)
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) persist(ctx context.Context, cfg config.RunConfig, result evo.RunResult, createdAt time.Time) error {
	run := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              result.RunID,
		Seed:            cfg.Seed,
		Individuals:     cfg.Individuals,
		Generations:     cfg.Generations,
		Completed:       result.Completed,
		StopReason:      result.StopReason,
		BestQuality:     result.OverallBest.Quality.Learn,
		Evaluations:     result.Evaluations,
		CreatedAtUTC:    createdAt.Format(time.RFC3339Nano),
		ElapsedSeconds:  result.Elapsed.Seconds(),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveGenerationDiagnostics(ctx, result.RunID, result.Diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if err := c.store.SaveStructures(ctx, result.RunID, result.Structures); err != nil {
		return fmt.Errorf("save structures: %w", err)
	}
	if err := c.store.SaveBest(ctx, result.RunID, bestRecords(result)); err != nil {
		return fmt.Errorf("save best: %w", err)
	}
	return nil
}

func (c *Client) writeArtifacts(cfg config.RunConfig, result evo.RunResult, createdAt time.Time) (string, error) {
	c.artifactsMu.Lock()
	defer c.artifactsMu.Unlock()

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config:      stats.RunConfig{RunID: result.RunID, RunConfig: cfg},
		Diagnostics: result.Diagnostics,
		Structures:  result.Structures,
		Best:        bestRecords(result),
	})
	if err != nil {
		return "", err
	}
	if n := len(result.Structures); n > 0 {
		if err := bootstrap.ExportDir(stats.TablesDir(c.artifactsDir, result.RunID), result.Structures[n-1]); err != nil {
			return "", err
		}
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            result.RunID,
		Individuals:      cfg.Individuals,
		Generations:      cfg.Generations,
		Completed:        result.Completed,
		Seed:             cfg.Seed,
		Workers:          cfg.Workers,
		StopReason:       result.StopReason,
		FinalBestQuality: result.OverallBest.Quality.Learn,
		CreatedAtUTC:     createdAt.Format(time.RFC3339Nano),
	}); err != nil {
		return "", err
	}
	return runDir, nil
}

func bestRecords(result evo.RunResult) []model.BestRecord {
	if result.Completed == 0 {
		return nil
	}
	records := []model.BestRecord{
		bestRecord("overall_best", result.OverallBest),
		bestRecord("last_best", result.LastBest),
	}
	for i, ind := range result.Final {
		records = append(records, bestRecord(finalLabel(i), ind))
	}
	return records
}

func bestRecord(label string, ind evo.Individual) model.BestRecord {
	return model.BestRecord{
		VersionedRecord:   storage.CurrentVersion(),
		Label:             label,
		Generation:        ind.Generation,
		Quality:           ind.Quality.Learn,
		ValidationQuality: ind.Quality.Validation,
		Configuration:     ind.Configuration.Clone(),
	}
}

// finalLabel names the i-th finalized individual; the overall best is
// always finalized first.
func finalLabel(i int) string {
	if i == 0 {
		return "final_overall_best"
	}
	return "final_last_best"
}
