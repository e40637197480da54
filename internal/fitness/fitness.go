// Package fitness scores ensembles. Evaluator is the seam to real training
// code; Synthetic is a deterministic stand-in used by the CLI and tests.
package fitness

import (
	"context"
	"errors"

	"ensembleda/internal/ensemble"
)

var ErrInvalidDataset = errors.New("invalid dataset")

// Quality holds the learn-set score used for ranking and a held-out score
// used for reporting. Higher is better.
type Quality struct {
	Learn      float64 `json:"learn"`
	Validation float64 `json:"validation"`
}

// Dataset describes the data an ensemble is trained and scored on.
type Dataset struct {
	Name                string `json:"name" yaml:"name"`
	Instances           int    `json:"instances" yaml:"instances"`
	ValidationInstances int    `json:"validation_instances" yaml:"validation_instances"`
	Classes             int    `json:"classes" yaml:"classes"`
	Seed                int64  `json:"seed" yaml:"seed"`
}

type Evaluator interface {
	Evaluate(ctx context.Context, e ensemble.Ensemble, data Dataset) (Quality, error)
}

// Finalizer retrains an ensemble on the full training set.
type Finalizer interface {
	Finalize(ctx context.Context, e ensemble.Ensemble, data Dataset) (Quality, error)
}
