package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat"

	"ensembleda/internal/ensemble"
	"ensembleda/internal/fitness"
	"ensembleda/internal/model"
	"ensembleda/internal/network"
)

var tracer = otel.Tracer("ensembleda/evo")

// ErrEvaluation marks a failed fitness evaluation. It aborts the run.
var ErrEvaluation = errors.New("fitness evaluation failed")

// State is a phase of the control loop.
type State int

const (
	StateInitializing State = iota
	StateGenerationLoop
	StateEarlyStopped
	StateTimedOut
	StateExhausted
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateGenerationLoop:
		return "generation_loop"
	case StateEarlyStopped:
		return "early_stopped"
	case StateTimedOut:
		return "timed_out"
	case StateExhausted:
		return "exhausted"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Builder materializes a configuration into an ensemble.
type Builder interface {
	Build(cfg model.Configuration) (ensemble.Ensemble, error)
}

// Observer receives the diagnostics of every finished generation.
type Observer func(model.GenerationDiagnostics)

type Individual struct {
	Configuration model.Configuration `json:"configuration"`
	Ensemble      ensemble.Ensemble   `json:"ensemble"`
	Quality       fitness.Quality     `json:"quality"`
	Generation    int                 `json:"generation"`
}

type MonitorConfig struct {
	RunID             string
	Network           *network.Network
	Builder           Builder
	Evaluator         fitness.Evaluator
	Finalizer         fitness.Finalizer
	Dataset           fitness.Dataset
	Individuals       int
	Generations       int
	SelectionShare    float64
	BurnIn            int
	Thinning          int
	MaxAttemptsFactor int
	EarlyStop         EarlyStopConfig
	Timeout           time.Duration
	Workers           int
	CarryOver         int
	RestartFromBest   bool
	Baseline          bool
	Logger            *slog.Logger
	Observer          Observer
	Now               func() time.Time
}

type RunResult struct {
	RunID       string                        `json:"run_id"`
	Stop        State                         `json:"-"`
	StopReason  string                        `json:"stop_reason"`
	Completed   int                           `json:"completed_generations"`
	Evaluations int                           `json:"evaluations"`
	OverallBest Individual                    `json:"overall_best"`
	LastBest    Individual                    `json:"last_best"`
	Final       []Individual                  `json:"final,omitempty"`
	Diagnostics []model.GenerationDiagnostics `json:"diagnostics"`
	Structures  []model.StructureSnapshot     `json:"structures"`
	Elapsed     time.Duration                 `json:"elapsed"`
}

type PopulationMonitor struct {
	cfg    MonitorConfig
	logger *slog.Logger
	state  State
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Network == nil {
		return nil, fmt.Errorf("network is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Individuals <= 0 {
		return nil, fmt.Errorf("individuals must be > 0")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.SelectionShare <= 0 || cfg.SelectionShare > 1 {
		return nil, fmt.Errorf("selection share must be in (0, 1]")
	}
	if cfg.BurnIn < 0 {
		return nil, fmt.Errorf("burn-in must be >= 0")
	}
	if cfg.Thinning <= 0 {
		return nil, fmt.Errorf("thinning factor must be > 0")
	}
	if cfg.CarryOver < 0 || cfg.CarryOver >= cfg.Individuals {
		return nil, fmt.Errorf("carry over must be in [0, individuals)")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0")
	}
	if cfg.MaxAttemptsFactor < 0 {
		return nil, fmt.Errorf("max attempts factor must be >= 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PopulationMonitor{
		cfg:    cfg,
		logger: logger.With("run_id", cfg.RunID),
		state:  StateInitializing,
	}, nil
}

func (m *PopulationMonitor) State() State { return m.state }

func (m *PopulationMonitor) RunID() string { return m.cfg.RunID }

// Run drives generations until the budget is spent, the early-stop tracker
// fires or the timeout elapses, then finalizes the best individuals.
func (m *PopulationMonitor) Run(ctx context.Context) (RunResult, error) {
	ctx, span := tracer.Start(ctx, "evo.run", trace.WithAttributes(
		attribute.String("run_id", m.cfg.RunID),
		attribute.Int("individuals", m.cfg.Individuals),
		attribute.Int("generations", m.cfg.Generations),
	))
	defer span.End()

	result, err := m.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reason := "failed"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reason = "canceled"
		}
		result.StopReason = reason
		runsTotal.WithLabelValues(reason).Inc()
		return result, err
	}
	runsTotal.WithLabelValues(result.StopReason).Inc()
	span.SetAttributes(attribute.String("stop_reason", result.StopReason), attribute.Float64("best_quality", result.OverallBest.Quality.Learn))
	return result, nil
}

func (m *PopulationMonitor) run(ctx context.Context) (RunResult, error) {
	start := m.cfg.Now()
	net := m.cfg.Network
	result := RunResult{
		RunID:       m.cfg.RunID,
		Diagnostics: make([]model.GenerationDiagnostics, 0, m.cfg.Generations),
		Structures:  make([]model.StructureSnapshot, 0, m.cfg.Generations+1),
	}
	result.Structures = append(result.Structures, net.Snapshot(-1))

	tracker := NewEarlyStop(m.cfg.EarlyStop)
	chain := network.NewChainState(nil)
	var ranked []Individual
	haveBest := false
	m.state = StateGenerationLoop

	for gen := 0; gen < m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		population, next, sampled, err := m.sampleGeneration(ctx, chain, ranked, gen)
		if err != nil {
			return result, err
		}
		chain = next

		evaluated, err := m.evaluatePopulation(ctx, population, gen)
		if err != nil {
			return result, err
		}
		result.Evaluations += evaluated

		ranked = Rank(population)
		current := ranked[0]
		if !haveBest || current.Quality.Learn > result.OverallBest.Quality.Learn {
			result.OverallBest = current
			haveBest = true
		}
		result.LastBest = current
		result.Completed = gen + 1

		diag := summarizeGeneration(ranked, gen, sampled, result.OverallBest.Quality.Learn, net)
		result.Diagnostics = append(result.Diagnostics, diag)
		m.report(diag)

		tracker.Observe(current.Quality.Learn)
		if tracker.ShouldStop() {
			m.state = StateEarlyStopped
			break
		}
		if m.cfg.Timeout > 0 && m.cfg.Now().Sub(start) >= m.cfg.Timeout {
			m.state = StateTimedOut
			break
		}

		if err := net.Update(ctx, Configurations(ranked), m.cfg.SelectionShare, gen); err != nil {
			return result, fmt.Errorf("update network at generation %d: %w", gen, err)
		}
		result.Structures = append(result.Structures, net.Snapshot(gen))

		if m.cfg.RestartFromBest {
			chain = network.NewChainState(current.Configuration)
		}
	}
	if m.state == StateGenerationLoop {
		m.state = StateExhausted
	}
	result.Stop = m.state
	result.StopReason = m.state.String()

	final, err := m.finalize(ctx, result)
	if err != nil {
		return result, err
	}
	result.Final = final
	m.state = StateFinalized
	result.Elapsed = m.cfg.Now().Sub(start)

	m.logger.Info("run finished",
		"stop_reason", result.StopReason,
		"generations", result.Completed,
		"evaluations", result.Evaluations,
		"best_quality", result.OverallBest.Quality.Learn,
	)
	return result, nil
}

// sampleGeneration draws the individuals of generation gen. The previous
// generation's leaders are carried over, and generation 0 starts with the
// most probable configuration when baseline seeding is on.
func (m *PopulationMonitor) sampleGeneration(ctx context.Context, chain network.ChainState, previous []Individual, gen int) ([]Individual, network.ChainState, network.SampleStats, error) {
	ctx, span := tracer.Start(ctx, "evo.sample", trace.WithAttributes(attribute.Int("generation", gen)))
	defer span.End()

	population := make([]Individual, 0, m.cfg.Individuals)
	if gen > 0 && m.cfg.CarryOver > 0 {
		population = append(population, previous[:min(m.cfg.CarryOver, len(previous))]...)
	}
	if gen == 0 && m.cfg.Baseline {
		mode := m.cfg.Network.Mode()
		if e, err := m.cfg.Builder.Build(mode); err == nil {
			population = append(population, Individual{Configuration: mode, Ensemble: e, Generation: gen})
		} else {
			m.logger.Debug("baseline configuration rejected", "error", err)
		}
	}

	need := m.cfg.Individuals - len(population)
	opts := network.SampleOptions{BurnIn: m.cfg.BurnIn, Thinning: m.cfg.Thinning}
	if m.cfg.MaxAttemptsFactor > 0 {
		opts.MaxAttempts = m.cfg.MaxAttemptsFactor * m.cfg.Thinning * max(need, 1)
	}
	draws, next, stats, err := network.Sample(ctx, m.cfg.Network, chain, need, opts, m.cfg.Builder.Build)
	recordSampling(stats)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, chain, stats, fmt.Errorf("sample generation %d: %w", gen, err)
	}
	for _, d := range draws {
		population = append(population, Individual{Configuration: d.Configuration, Ensemble: d.Member, Generation: gen})
	}
	span.SetAttributes(
		attribute.Int("accepted", len(draws)),
		attribute.Int("invalid", stats.Invalid),
		attribute.Int("thinned", stats.Thinned),
	)
	return population, next, stats, nil
}

// evaluatePopulation scores every individual created in generation gen.
// Results are written by index so ranking does not depend on scheduling.
func (m *PopulationMonitor) evaluatePopulation(ctx context.Context, population []Individual, gen int) (int, error) {
	ctx, span := tracer.Start(ctx, "evo.evaluate", trace.WithAttributes(attribute.Int("generation", gen)))
	defer span.End()

	p := pool.New().WithContext(ctx).WithMaxGoroutines(m.cfg.Workers).WithCancelOnError().WithFirstError()
	evaluated := 0
	for i := range population {
		if population[i].Generation != gen {
			continue
		}
		evaluated++
		p.Go(func(ctx context.Context) error {
			began := time.Now()
			quality, err := m.cfg.Evaluator.Evaluate(ctx, population[i].Ensemble, m.cfg.Dataset)
			evaluationDuration.Observe(time.Since(began).Seconds())
			if err != nil {
				return fmt.Errorf("%w: generation %d individual %d: %w", ErrEvaluation, gen, i, err)
			}
			population[i].Quality = quality
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return evaluated, err
	}
	return evaluated, nil
}

// finalize retrains the overall best and, when different, the last
// generation's best.
func (m *PopulationMonitor) finalize(ctx context.Context, result RunResult) ([]Individual, error) {
	if m.cfg.Finalizer == nil || len(result.Diagnostics) == 0 {
		return nil, nil
	}
	targets := []Individual{result.OverallBest}
	if result.LastBest.Ensemble.Signature() != result.OverallBest.Ensemble.Signature() {
		targets = append(targets, result.LastBest)
	}
	final := make([]Individual, 0, len(targets))
	for _, ind := range targets {
		quality, err := m.cfg.Finalizer.Finalize(ctx, ind.Ensemble, m.cfg.Dataset)
		if err != nil {
			return nil, fmt.Errorf("%w: finalize: %w", ErrEvaluation, err)
		}
		ind.Quality = quality
		final = append(final, ind)
	}
	return final, nil
}

func (m *PopulationMonitor) report(diag model.GenerationDiagnostics) {
	generationsTotal.Inc()
	bestQuality.Set(diag.OverallBest)
	m.logger.Info("generation",
		"generation", diag.Generation,
		"min", diag.MinQuality,
		"median", diag.MedianQuality,
		"max", diag.MaxQuality,
		"validation", diag.ValidationQuality,
		"burn_in", diag.BurnInDiscarded,
		"thinned", diag.ThinnedDiscarded,
		"invalid", diag.InvalidDiscarded,
		"edges", diag.Edges,
	)
	if m.cfg.Observer != nil {
		m.cfg.Observer(diag)
	}
}

func summarizeGeneration(ranked []Individual, generation int, sampled network.SampleStats, overall float64, net *network.Network) model.GenerationDiagnostics {
	diag := model.GenerationDiagnostics{
		Generation:       generation,
		OverallBest:      overall,
		BurnInDiscarded:  sampled.BurnIn,
		ThinnedDiscarded: sampled.Thinned,
		InvalidDiscarded: sampled.Invalid,
		Sweeps:           sampled.Sweeps,
		Edges:            net.Edges(),
		MeanHeuristic:    net.MeanHeuristic(),
		SamplingOrder:    net.Order(),
	}
	if len(ranked) == 0 {
		return diag
	}

	qualities := make([]float64, len(ranked))
	for i, ind := range ranked {
		qualities[i] = ind.Quality.Learn
	}
	sort.Float64s(qualities)
	diag.MinQuality = qualities[0]
	diag.MaxQuality = qualities[len(qualities)-1]
	diag.MedianQuality = stat.Quantile(0.5, stat.Empirical, qualities, nil)
	diag.MeanQuality = stat.Mean(qualities, nil)
	diag.ValidationQuality = ranked[0].Quality.Validation
	return diag
}
