// Package network implements the dependency network: a set of variables with
// generation-varying parents, a topological sampling order, a chain sampler
// and greedy structure learning.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ensembleda/internal/mi"
	"ensembleda/internal/model"
	"ensembleda/internal/variable"
)

var tracer = otel.Tracer("ensembleda/network")

var (
	ErrStructuralInconsistency = variable.ErrStructuralInconsistency
	ErrSamplingExhausted       = errors.New("sampling attempts exhausted")
	ErrUnknownVariable         = errors.New("unknown variable")
)

// VariableDef describes one variable of the bootstrap model.
type VariableDef struct {
	Name        string
	Domain      variable.Domain
	FixedParent string
	Rows        []variable.Row
}

// Definition is the bootstrap model: variables with their initial tables and
// pairs of variables that must never be linked.
type Definition struct {
	Variables  []VariableDef
	CannotLink [][2]string
}

// Config tunes structure learning and the probability update. Significance
// is the level of the independence discount applied to discrete pairs: zero
// selects mi.DefaultSignificance and a negative value disables it.
type Config struct {
	MaxParents        int
	MinHeuristic      float64
	Neighbors         int
	Significance      float64
	StructureDelay    int
	LearningRate      float64
	LearningRateDecay float64
	Generations       int
	Seed              int64
	Logger            *slog.Logger
}

type Network struct {
	cfg       Config
	rng       *rand.Rand
	logger    *slog.Logger
	variables map[string]*variable.Variable
	names     []string
	order     []string

	cannotLink    map[string]map[string]struct{}
	fixedChildren map[string][]string

	buffered   []model.Configuration
	heuristics []float64
}

func New(def Definition, cfg Config) (*Network, error) {
	if cfg.MaxParents < 0 {
		return nil, fmt.Errorf("max parents must be >= 0")
	}
	if cfg.LearningRate < 0 || cfg.LearningRate > 1 {
		return nil, fmt.Errorf("learning rate must be in [0, 1]")
	}
	if cfg.LearningRateDecay < 0 {
		return nil, fmt.Errorf("learning rate decay must be >= 0")
	}
	if cfg.StructureDelay <= 0 {
		cfg.StructureDelay = 1
	}
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = mi.DefaultNeighbors
	}
	if cfg.Significance >= 1 {
		return nil, fmt.Errorf("significance must be below 1")
	}
	if cfg.Significance == 0 {
		cfg.Significance = mi.DefaultSignificance
	}
	if len(def.Variables) == 0 {
		return nil, fmt.Errorf("at least one variable is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Network{
		cfg:           cfg,
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		logger:        logger,
		variables:     make(map[string]*variable.Variable, len(def.Variables)),
		cannotLink:    make(map[string]map[string]struct{}),
		fixedChildren: make(map[string][]string),
	}

	for _, vd := range def.Variables {
		if _, dup := n.variables[vd.Name]; dup {
			return nil, fmt.Errorf("duplicate variable %s", vd.Name)
		}
		v, err := variable.New(vd.Name, vd.Domain)
		if err != nil {
			return nil, err
		}
		v.SetHorizon(cfg.Generations)
		n.variables[vd.Name] = v
		n.names = append(n.names, vd.Name)
	}
	sort.Strings(n.names)

	for _, vd := range def.Variables {
		v := n.variables[vd.Name]
		var fixed []*variable.Variable
		if vd.FixedParent != "" {
			parent, ok := n.variables[vd.FixedParent]
			if !ok {
				return nil, fmt.Errorf("%w: fixed parent %s of %s", ErrUnknownVariable, vd.FixedParent, vd.Name)
			}
			fixed = append(fixed, parent)
			n.fixedChildren[vd.FixedParent] = append(n.fixedChildren[vd.FixedParent], vd.Name)
		}
		if len(vd.Rows) == 0 && len(fixed) == 0 {
			continue
		}
		if err := v.Init(fixed, vd.Rows); err != nil {
			return nil, err
		}
	}

	for _, pair := range def.CannotLink {
		for _, name := range pair {
			if _, ok := n.variables[name]; !ok {
				return nil, fmt.Errorf("%w: cannot-link entry %s", ErrUnknownVariable, name)
			}
		}
		n.forbid(pair[0], pair[1])
		n.forbid(pair[1], pair[0])
	}

	order, err := n.inferOrder()
	if err != nil {
		return nil, err
	}
	n.order = order
	return n, nil
}

func (n *Network) forbid(a, b string) {
	if n.cannotLink[a] == nil {
		n.cannotLink[a] = make(map[string]struct{})
	}
	n.cannotLink[a][b] = struct{}{}
}

// Names returns all variable names, sorted.
func (n *Network) Names() []string { return append([]string(nil), n.names...) }

// Order returns the current sampling order.
func (n *Network) Order() []string { return append([]string(nil), n.order...) }

func (n *Network) Variable(name string) (*variable.Variable, bool) {
	v, ok := n.variables[name]
	return v, ok
}

// Edges counts the probabilistic parent links currently in the network.
func (n *Network) Edges() int {
	edges := 0
	for _, v := range n.variables {
		edges += len(v.ProbabilisticParents())
	}
	return edges
}

// MeanHeuristic is the mean heuristic of the edges accepted by the last
// structure pass, or 0 when none were accepted.
func (n *Network) MeanHeuristic() float64 {
	if len(n.heuristics) == 0 {
		return 0
	}
	sum := 0.0
	for _, h := range n.heuristics {
		sum += h
	}
	return sum / float64(len(n.heuristics))
}

// Rand exposes the network's random stream for collaborators that must
// share it.
func (n *Network) Rand() *rand.Rand { return n.rng }

// Fittest returns the leading selectionShare fraction of a population ranked
// best first. At least one individual is kept.
func Fittest(ranked []model.Configuration, selectionShare float64) []model.Configuration {
	if len(ranked) == 0 {
		return nil
	}
	count := int(math.Round(selectionShare * float64(len(ranked))))
	if count < 1 {
		count = 1
	}
	if count > len(ranked) {
		count = len(ranked)
	}
	return ranked[:count]
}

// LearningRate returns the learning rate applied at generation.
func (n *Network) LearningRate(generation int) float64 {
	return n.cfg.LearningRate / (1 + n.cfg.LearningRateDecay*float64(generation))
}

// Update buffers the fittest subset of ranked and relearns the structure from
// the buffer on every StructureDelay-th generation after the first, then blends the statistics of every variable
// in sampling order.
func (n *Network) Update(ctx context.Context, ranked []model.Configuration, selectionShare float64, generation int) error {
	_, span := tracer.Start(ctx, "network.update", trace.WithAttributes(
		attribute.Int("generation", generation),
		attribute.Int("population", len(ranked)),
	))
	defer span.End()

	fittest := Fittest(ranked, selectionShare)
	if len(fittest) == 0 {
		return nil
	}

	if n.cfg.MaxParents > 0 {
		n.buffered = append(n.buffered, fittest...)
		if generation > 0 && generation%n.cfg.StructureDelay == 0 {
			if err := n.LearnStructure(n.buffered); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			n.buffered = nil
		}
	}

	lr := n.LearningRate(generation)
	for _, name := range n.order {
		if err := n.variables[name].UpdateProbabilities(fittest, lr, generation); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("update probabilities of %s: %w", name, err)
		}
	}

	order, err := n.inferOrder()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	n.order = order
	span.SetAttributes(attribute.Int("edges", n.Edges()))
	return nil
}

// Snapshot renders the structure and tables of every variable.
func (n *Network) Snapshot(generation int) model.StructureSnapshot {
	snap := model.StructureSnapshot{Generation: generation, Variables: make([]model.VariableSnapshot, 0, len(n.names))}
	for _, name := range n.names {
		snap.Variables = append(snap.Variables, n.variables[name].Snapshot())
	}
	return snap
}
