package main

import (
	"time"

	"github.com/spf13/cobra"

	"ensembleda/internal/config"
)

// runFlags are the command-line overrides of a run configuration. They are
// applied on top of the --config file and ENSEMBLEDA_* variables, and only
// when set explicitly.
type runFlags struct {
	configPath      string
	modelDir        string
	individuals     int
	generations     int
	seed            int64
	workers         int
	maxParents      int
	learningRate    float64
	significance    float64
	burnIn          int
	thinning        int
	timeout         time.Duration
	earlyStop       int
	carryOver       int
	restartFromBest bool
	baseline        bool
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "YAML run configuration")
	flags.StringVar(&f.modelDir, "model-dir", "", "bootstrap model directory (embedded default when empty)")
	flags.IntVar(&f.individuals, "individuals", 0, "individuals per generation")
	flags.IntVar(&f.generations, "generations", 0, "generation budget")
	flags.Int64Var(&f.seed, "seed", 0, "random seed")
	flags.IntVar(&f.workers, "workers", 0, "parallel evaluations")
	flags.IntVar(&f.maxParents, "max-parents", 0, "maximum probabilistic parents per variable")
	flags.Float64Var(&f.learningRate, "learning-rate", 0, "probability learning rate")
	flags.Float64Var(&f.significance, "mi-significance", 0, "independence level discounting discrete mutual information")
	flags.IntVar(&f.burnIn, "burn-in", 0, "sweeps discarded before each generation")
	flags.IntVar(&f.thinning, "thinning", 0, "sweeps between accepted samples")
	flags.DurationVar(&f.timeout, "timeout", 0, "wall-clock budget")
	flags.IntVar(&f.earlyStop, "early-stop", 0, "early-stop window in generations, 0 disables")
	flags.IntVar(&f.carryOver, "carry-over", 0, "best individuals kept into the next generation")
	flags.BoolVar(&f.restartFromBest, "restart-from-best", true, "restart the chain from the generation best")
	flags.BoolVar(&f.baseline, "baseline", true, "seed generation 0 with the most probable configuration")
}

func loadRunConfig(cmd *cobra.Command, f *runFlags) (config.RunConfig, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.RunConfig{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("model-dir") {
		cfg.ModelDir = f.modelDir
	}
	if flags.Changed("individuals") {
		cfg.Individuals = f.individuals
	}
	if flags.Changed("generations") {
		cfg.Generations = f.generations
	}
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
	if flags.Changed("workers") {
		cfg.Workers = f.workers
	}
	if flags.Changed("max-parents") {
		cfg.MaxParents = f.maxParents
	}
	if flags.Changed("learning-rate") {
		cfg.LearningRate = f.learningRate
	}
	if flags.Changed("mi-significance") {
		cfg.MISignificance = f.significance
	}
	if flags.Changed("burn-in") {
		cfg.BurnIn = f.burnIn
	}
	if flags.Changed("thinning") {
		cfg.ThinningFactor = f.thinning
	}
	if flags.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if flags.Changed("early-stop") {
		cfg.EarlyStopGenerations = f.earlyStop
	}
	if flags.Changed("carry-over") {
		cfg.CarryOver = f.carryOver
	}
	if flags.Changed("restart-from-best") {
		cfg.RestartFromBest = f.restartFromBest
	}
	if flags.Changed("baseline") {
		cfg.Baseline = f.baseline
	}
	if err := cfg.Validate(); err != nil {
		return config.RunConfig{}, err
	}
	return cfg, nil
}
