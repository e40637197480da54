package evo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ensembleda/internal/ensemble"
	"ensembleda/internal/fitness"
	"ensembleda/internal/model"
	"ensembleda/internal/network"
	"ensembleda/internal/variable"
)

type configBuilder struct{}

func (configBuilder) Build(cfg model.Configuration) (ensemble.Ensemble, error) {
	return ensemble.Ensemble{
		Members:        []ensemble.Member{{Algorithm: "stub", Options: map[string]string(cfg.Clone())}},
		AggregatorName: "MajorityVoting",
		Aggregator:     ensemble.MajorityVoting{},
	}, nil
}

type rejectingBuilder struct{}

func (rejectingBuilder) Build(model.Configuration) (ensemble.Ensemble, error) {
	return ensemble.Ensemble{}, ensemble.ErrInvalidConfiguration
}

// onesEvaluator scores the share of options set to "1".
type onesEvaluator struct {
	calls atomic.Int64
}

func (e *onesEvaluator) Evaluate(_ context.Context, ens ensemble.Ensemble, _ fitness.Dataset) (fitness.Quality, error) {
	e.calls.Add(1)
	options := ens.Members[0].Options
	ones := 0
	for _, v := range options {
		if v == "1" {
			ones++
		}
	}
	q := float64(ones) / float64(len(options))
	return fitness.Quality{Learn: q, Validation: q / 2}, nil
}

func (e *onesEvaluator) Finalize(ctx context.Context, ens ensemble.Ensemble, data fitness.Dataset) (fitness.Quality, error) {
	q, err := e.Evaluate(ctx, ens, data)
	q.Learn = 1
	return q, err
}

type constantEvaluator struct{}

func (constantEvaluator) Evaluate(context.Context, ensemble.Ensemble, fitness.Dataset) (fitness.Quality, error) {
	return fitness.Quality{Learn: 0.5, Validation: 0.5}, nil
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, ensemble.Ensemble, fitness.Dataset) (fitness.Quality, error) {
	return fitness.Quality{}, errors.New("trainer crashed")
}

func newTestNetwork(t *testing.T) *network.Network {
	t.Helper()
	binary := variable.Discrete{Labels: []string{"0", "1"}}
	def := network.Definition{}
	for _, name := range []string{"A", "B", "C", "D"} {
		def.Variables = append(def.Variables, network.VariableDef{Name: name, Domain: binary})
	}
	net, err := network.New(def, network.Config{MaxParents: 1, LearningRate: 0.5, Seed: 1, Generations: 20})
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	return net
}

func baseConfig(t *testing.T) MonitorConfig {
	return MonitorConfig{
		RunID:          "run-test",
		Network:        newTestNetwork(t),
		Builder:        configBuilder{},
		Evaluator:      &onesEvaluator{},
		Dataset:        fitness.Dataset{Instances: 10},
		Individuals:    10,
		Generations:    5,
		SelectionShare: 0.5,
		BurnIn:         2,
		Thinning:       1,
		Workers:        4,
	}
}

func runMonitor(t *testing.T, cfg MonitorConfig) (RunResult, error) {
	t.Helper()
	monitor, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatalf("new population monitor: %v", err)
	}
	return monitor.Run(context.Background())
}

func TestPopulationMonitorRunsAllGenerations(t *testing.T) {
	cfg := baseConfig(t)
	evaluator := &onesEvaluator{}
	cfg.Evaluator = evaluator
	cfg.Finalizer = evaluator
	var observed []int
	cfg.Observer = func(diag model.GenerationDiagnostics) { observed = append(observed, diag.Generation) }

	monitor, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatalf("new population monitor: %v", err)
	}
	result, err := monitor.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.StopReason != "exhausted" || result.Stop != StateExhausted {
		t.Fatalf("unexpected stop reason %q", result.StopReason)
	}
	if monitor.State() != StateFinalized {
		t.Fatalf("expected finalized monitor, got %s", monitor.State())
	}
	if result.Completed != 5 || len(result.Diagnostics) != 5 || len(observed) != 5 {
		t.Fatalf("expected 5 generations, got completed=%d diagnostics=%d observed=%d", result.Completed, len(result.Diagnostics), len(observed))
	}
	if len(result.Structures) != 6 || result.Structures[0].Generation != -1 {
		t.Fatalf("expected initial plus one structure per generation, got %d", len(result.Structures))
	}
	if result.Evaluations != 50 {
		t.Fatalf("expected 50 evaluations, got %d", result.Evaluations)
	}
	for _, diag := range result.Diagnostics {
		if diag.OverallBest > result.OverallBest.Quality.Learn {
			t.Fatalf("generation %d reports overall best %f above run best %f", diag.Generation, diag.OverallBest, result.OverallBest.Quality.Learn)
		}
		if diag.MinQuality > diag.MedianQuality || diag.MedianQuality > diag.MaxQuality {
			t.Fatalf("generation %d quality summary out of order: %+v", diag.Generation, diag)
		}
	}
	if len(result.Final) == 0 || result.Final[0].Quality.Learn != 1 {
		t.Fatalf("expected finalized overall best, got %+v", result.Final)
	}
}

func TestPopulationMonitorEarlyStopWaitsForMinimumGenerations(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Evaluator = constantEvaluator{}
	cfg.Generations = 30
	cfg.EarlyStop = EarlyStopConfig{Window: 2, Tolerance: 0.001}

	result, err := runMonitor(t, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.StopReason != "early_stopped" {
		t.Fatalf("expected early stop, got %q", result.StopReason)
	}
	if result.Completed != MinGenerations {
		t.Fatalf("expected stop at generation %d, got %d", MinGenerations, result.Completed)
	}
}

func TestPopulationMonitorTimesOut(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Generations = 50
	cfg.Timeout = 90 * time.Second
	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := clock
		clock = clock.Add(time.Minute)
		return now
	}

	result, err := runMonitor(t, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.StopReason != "timed_out" {
		t.Fatalf("expected timeout, got %q", result.StopReason)
	}
	if result.Completed != 2 {
		t.Fatalf("expected 2 completed generations, got %d", result.Completed)
	}
}

func TestPopulationMonitorEvaluationFailureIsFatal(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Evaluator = failingEvaluator{}

	result, err := runMonitor(t, cfg)
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected evaluation error, got %v", err)
	}
	if result.StopReason != "failed" {
		t.Fatalf("expected failed stop reason, got %q", result.StopReason)
	}
	if !strings.Contains(err.Error(), "trainer crashed") {
		t.Fatalf("expected cause in error, got %v", err)
	}
}

func TestPopulationMonitorSamplingExhaustion(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Builder = rejectingBuilder{}
	cfg.MaxAttemptsFactor = 2

	result, err := runMonitor(t, cfg)
	if !errors.Is(err, network.ErrSamplingExhausted) {
		t.Fatalf("expected sampling exhaustion, got %v", err)
	}
	if result.Completed != 0 {
		t.Fatalf("expected no completed generation, got %d", result.Completed)
	}
}

func TestPopulationMonitorCanceled(t *testing.T) {
	monitor, err := NewPopulationMonitor(baseConfig(t))
	if err != nil {
		t.Fatalf("new population monitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := monitor.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if result.StopReason != "canceled" {
		t.Fatalf("expected canceled stop reason, got %q", result.StopReason)
	}
}

func TestPopulationMonitorCarryOverSkipsReevaluation(t *testing.T) {
	cfg := baseConfig(t)
	evaluator := &onesEvaluator{}
	cfg.Evaluator = evaluator
	cfg.Individuals = 5
	cfg.Generations = 3
	cfg.CarryOver = 2

	result, err := runMonitor(t, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Evaluations != 11 || evaluator.calls.Load() != 11 {
		t.Fatalf("expected 11 evaluations, got %d (calls %d)", result.Evaluations, evaluator.calls.Load())
	}
	for i := 1; i < len(result.Diagnostics); i++ {
		if result.Diagnostics[i].MaxQuality < result.Diagnostics[i-1].MaxQuality {
			t.Fatalf("carried leaders must keep the generation maximum from dropping: %+v", result.Diagnostics)
		}
	}
}

func TestNewPopulationMonitorValidation(t *testing.T) {
	cases := map[string]func(*MonitorConfig){
		"no network":     func(c *MonitorConfig) { c.Network = nil },
		"no builder":     func(c *MonitorConfig) { c.Builder = nil },
		"no evaluator":   func(c *MonitorConfig) { c.Evaluator = nil },
		"no individuals": func(c *MonitorConfig) { c.Individuals = 0 },
		"share":          func(c *MonitorConfig) { c.SelectionShare = 1.5 },
		"thinning":       func(c *MonitorConfig) { c.Thinning = 0 },
		"carry over":     func(c *MonitorConfig) { c.CarryOver = c.Individuals },
		"timeout":        func(c *MonitorConfig) { c.Timeout = -time.Second },
	}
	for name, mutate := range cases {
		cfg := baseConfig(t)
		mutate(&cfg)
		if _, err := NewPopulationMonitor(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	cfg := baseConfig(t)
	cfg.RunID = ""
	monitor, err := NewPopulationMonitor(cfg)
	if err != nil {
		t.Fatalf("new population monitor: %v", err)
	}
	if monitor.RunID() == "" {
		t.Fatal("expected generated run id")
	}
}
