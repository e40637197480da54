// Package config loads run configuration from YAML files with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ensembleda/internal/fitness"
	"ensembleda/internal/network"
)

const EnvPrefix = "ENSEMBLEDA_"

var validate = validator.New()

type DatasetConfig struct {
	Name                string `json:"name" yaml:"name"`
	Instances           int    `json:"instances" yaml:"instances" validate:"gte=1"`
	ValidationInstances int    `json:"validation_instances" yaml:"validation_instances" validate:"gte=0"`
	Classes             int    `json:"classes" yaml:"classes" validate:"gte=2"`
	Seed                int64  `json:"seed" yaml:"seed"`
}

// RunConfig holds every knob of one search run.
type RunConfig struct {
	Individuals          int           `json:"n_individuals" yaml:"n_individuals" validate:"gte=1"`
	Generations          int           `json:"n_generations" yaml:"n_generations" validate:"gte=1"`
	SelectionShare       float64       `json:"selection_share" yaml:"selection_share" validate:"gt=0,lte=1"`
	LearningRate         float64       `json:"learning_rate" yaml:"learning_rate" validate:"gte=0,lte=1"`
	LearningRateDecay    float64       `json:"learning_rate_decay" yaml:"learning_rate_decay" validate:"gte=0"`
	MaxParents           int           `json:"max_parents" yaml:"max_parents" validate:"gte=0"`
	StructureDelay       int           `json:"structure_delay" yaml:"structure_delay" validate:"gte=1"`
	MinHeuristic         float64       `json:"min_heuristic" yaml:"min_heuristic"`
	MISignificance       float64       `json:"mi_significance" yaml:"mi_significance" validate:"gte=0,lt=1"`
	BurnIn               int           `json:"burn_in" yaml:"burn_in" validate:"gte=0"`
	ThinningFactor       int           `json:"thinning_factor" yaml:"thinning_factor" validate:"gte=1"`
	MaxAttemptsFactor    int           `json:"max_attempts_factor" yaml:"max_attempts_factor" validate:"gte=0"`
	EarlyStopGenerations int           `json:"early_stop_generations" yaml:"early_stop_generations" validate:"gte=0"`
	EarlyStopTolerance   float64       `json:"early_stop_tolerance" yaml:"early_stop_tolerance" validate:"gte=0"`
	Timeout              time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
	Seed                 int64         `json:"seed" yaml:"seed"`
	Workers              int           `json:"workers" yaml:"workers" validate:"gte=1"`
	CarryOver            int           `json:"carry_over" yaml:"carry_over" validate:"gte=0"`
	RestartFromBest      bool          `json:"restart_from_best" yaml:"restart_from_best"`
	Baseline             bool          `json:"baseline" yaml:"baseline"`
	ModelDir             string        `json:"model_dir,omitempty" yaml:"model_dir"`
	Store                string        `json:"store" yaml:"store" validate:"omitempty,oneof=memory sqlite badger"`
	DBPath               string        `json:"db_path,omitempty" yaml:"db_path"`
	ArtifactsDir         string        `json:"artifacts_dir" yaml:"artifacts_dir"`
	LogLevel             string        `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	MetricsAddr          string        `json:"metrics_addr,omitempty" yaml:"metrics_addr"`
	Dataset              DatasetConfig `json:"dataset" yaml:"dataset"`
}

func Default() RunConfig {
	return RunConfig{
		Individuals:          50,
		Generations:          100,
		SelectionShare:       0.5,
		LearningRate:         0.7,
		LearningRateDecay:    0,
		MaxParents:           1,
		StructureDelay:       1,
		MinHeuristic:         0,
		MISignificance:       0.001,
		BurnIn:               100,
		ThinningFactor:       5,
		MaxAttemptsFactor:    100,
		EarlyStopGenerations: 10,
		EarlyStopTolerance:   0.005,
		Timeout:              time.Hour,
		Seed:                 1,
		Workers:              4,
		RestartFromBest:      true,
		Baseline:             true,
		Store:                "memory",
		ArtifactsDir:         "ensembleda_data",
		LogLevel:             "info",
		Dataset: DatasetConfig{
			Name:                "synthetic",
			Instances:           600,
			ValidationInstances: 200,
			Classes:             2,
			Seed:                1,
		},
	}
}

// Load builds a RunConfig from defaults, the optional YAML file at path and
// ENSEMBLEDA_* environment variables, in that order, and validates it.
func Load(path string) (RunConfig, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return RunConfig{}, err
		}
	}
	if err := loadEnv(&cfg, os.LookupEnv); err != nil {
		return RunConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *RunConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// loadEnv applies overrides named after the yaml keys, upper-cased with the
// ENSEMBLEDA_ prefix. Malformed values are errors rather than silently ignored.
func loadEnv(cfg *RunConfig, lookup lookupFunc) error {
	ints := map[string]*int{
		"N_INDIVIDUALS":          &cfg.Individuals,
		"N_GENERATIONS":          &cfg.Generations,
		"MAX_PARENTS":            &cfg.MaxParents,
		"STRUCTURE_DELAY":        &cfg.StructureDelay,
		"BURN_IN":                &cfg.BurnIn,
		"THINNING_FACTOR":        &cfg.ThinningFactor,
		"MAX_ATTEMPTS_FACTOR":    &cfg.MaxAttemptsFactor,
		"EARLY_STOP_GENERATIONS": &cfg.EarlyStopGenerations,
		"WORKERS":                &cfg.Workers,
		"CARRY_OVER":             &cfg.CarryOver,
		"DATASET_INSTANCES":      &cfg.Dataset.Instances,
		"DATASET_VALIDATION":     &cfg.Dataset.ValidationInstances,
		"DATASET_CLASSES":        &cfg.Dataset.Classes,
	}
	floats := map[string]*float64{
		"SELECTION_SHARE":      &cfg.SelectionShare,
		"LEARNING_RATE":        &cfg.LearningRate,
		"LEARNING_RATE_DECAY":  &cfg.LearningRateDecay,
		"MIN_HEURISTIC":        &cfg.MinHeuristic,
		"MI_SIGNIFICANCE":      &cfg.MISignificance,
		"EARLY_STOP_TOLERANCE": &cfg.EarlyStopTolerance,
	}
	strs := map[string]*string{
		"MODEL_DIR":     &cfg.ModelDir,
		"STORE":         &cfg.Store,
		"DB_PATH":       &cfg.DBPath,
		"ARTIFACTS_DIR": &cfg.ArtifactsDir,
		"LOG_LEVEL":     &cfg.LogLevel,
		"METRICS_ADDR":  &cfg.MetricsAddr,
	}
	bools := map[string]*bool{
		"RESTART_FROM_BEST": &cfg.RestartFromBest,
		"BASELINE":          &cfg.Baseline,
	}

	var errs []error
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				continue
			}
			*dst = i
		}
	}
	for key, dst := range floats {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				continue
			}
			*dst = f
		}
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	for key, dst := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				continue
			}
			*dst = b
		}
	}
	for _, key := range []string{"SEED", "DATASET_SEED"} {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			continue
		}
		if key == "SEED" {
			cfg.Seed = i
		} else {
			cfg.Dataset.Seed = i
		}
	}
	if v, ok := lookup(EnvPrefix + "TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTIMEOUT: %w", EnvPrefix, err))
		} else {
			cfg.Timeout = d
		}
	}
	return errors.Join(errs...)
}

// Validate checks field ranges and backend requirements.
func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}
	if c.Store == "sqlite" && strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("invalid run config: db_path is required for the sqlite store")
	}
	return nil
}

// Network returns the dependency-network settings of c.
func (c RunConfig) Network(logger *slog.Logger) network.Config {
	return network.Config{
		MaxParents:        c.MaxParents,
		MinHeuristic:      c.MinHeuristic,
		Significance:      c.MISignificance,
		StructureDelay:    c.StructureDelay,
		LearningRate:      c.LearningRate,
		LearningRateDecay: c.LearningRateDecay,
		Generations:       c.Generations,
		Seed:              c.Seed,
		Logger:            logger,
	}
}

func (c RunConfig) FitnessDataset() fitness.Dataset {
	return fitness.Dataset{
		Name:                c.Dataset.Name,
		Instances:           c.Dataset.Instances,
		ValidationInstances: c.Dataset.ValidationInstances,
		Classes:             c.Dataset.Classes,
		Seed:                c.Dataset.Seed,
	}
}

// Level maps the configured log level onto slog.
func (c RunConfig) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
