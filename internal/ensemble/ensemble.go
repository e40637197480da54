// Package ensemble turns sampled configurations into ensemble descriptions.
package ensemble

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"ensembleda/internal/model"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmptyEnsemble        = errors.New("ensemble has no members")
	ErrNoAggregationPolicy  = errors.New("ensemble has no aggregation policy")
)

// Conflict forbids the variables in Forbids whenever Variable takes Value.
type Conflict struct {
	Variable string   `yaml:"variable" json:"variable"`
	Value    string   `yaml:"value" json:"value"`
	Forbids  []string `yaml:"forbids" json:"forbids"`
}

// Layout tells the builder which variables are algorithm flags and which one
// names the aggregation policy. Hyper-parameters of an algorithm are the
// variables named "<algorithm>_<option>".
type Layout struct {
	Algorithms []string   `yaml:"algorithms" json:"algorithms"`
	Aggregator string     `yaml:"aggregator" json:"aggregator"`
	MaxMembers int        `yaml:"max_members" json:"max_members"`
	Conflicts  []Conflict `yaml:"conflicts" json:"conflicts"`
}

type Member struct {
	Algorithm string            `json:"algorithm"`
	Options   map[string]string `json:"options"`
}

type Ensemble struct {
	Members        []Member   `json:"members"`
	AggregatorName string     `json:"aggregator"`
	Aggregator     Aggregator `json:"-"`
}

// Signature is a canonical text form of the ensemble.
func (e Ensemble) Signature() string {
	var b strings.Builder
	b.WriteString(e.AggregatorName)
	for _, m := range e.Members {
		b.WriteString("|")
		b.WriteString(m.Algorithm)
		keys := make([]string, 0, len(m.Options))
		for k := range m.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, ";%s=%s", k, m.Options[k])
		}
	}
	return b.String()
}

type Builder struct {
	layout    Layout
	algorithm map[string]struct{}
}

func NewBuilder(layout Layout) (*Builder, error) {
	if len(layout.Algorithms) == 0 {
		return nil, fmt.Errorf("layout needs at least one algorithm")
	}
	if layout.Aggregator == "" {
		return nil, fmt.Errorf("layout needs an aggregator variable")
	}
	if layout.MaxMembers < 0 {
		return nil, fmt.Errorf("max members must be >= 0")
	}
	b := &Builder{layout: layout, algorithm: make(map[string]struct{}, len(layout.Algorithms))}
	for _, a := range layout.Algorithms {
		if _, dup := b.algorithm[a]; dup {
			return nil, fmt.Errorf("duplicate algorithm %s", a)
		}
		b.algorithm[a] = struct{}{}
	}
	return b, nil
}

func (b *Builder) Layout() Layout { return b.layout }

// owner returns the algorithm a hyper-parameter variable belongs to.
func (b *Builder) owner(name string) string {
	best := ""
	for _, a := range b.layout.Algorithms {
		if strings.HasPrefix(name, a+"_") && len(a) > len(best) {
			best = a
		}
	}
	return best
}

// Build validates cfg and describes the ensemble it encodes.
func (b *Builder) Build(cfg model.Configuration) (Ensemble, error) {
	members := make(map[string]*Member)
	for _, a := range b.layout.Algorithms {
		switch v := cfg.Value(a); v {
		case "true":
			members[a] = &Member{Algorithm: a, Options: map[string]string{}}
		case "false", model.Absent:
		default:
			return Ensemble{}, fmt.Errorf("%w: algorithm flag %s=%s", ErrInvalidConfiguration, a, v)
		}
	}

	for _, name := range cfg.Active() {
		if _, isFlag := b.algorithm[name]; isFlag || name == b.layout.Aggregator {
			continue
		}
		owner := b.owner(name)
		if owner == "" {
			continue
		}
		m, ok := members[owner]
		if !ok {
			return Ensemble{}, fmt.Errorf("%w: %s is set but %s is disabled", ErrInvalidConfiguration, name, owner)
		}
		m.Options[strings.TrimPrefix(name, owner+"_")] = cfg[name]
	}

	for _, c := range b.layout.Conflicts {
		if cfg.Value(c.Variable) != c.Value {
			continue
		}
		for _, forbidden := range c.Forbids {
			if cfg.Value(forbidden) != model.Absent {
				return Ensemble{}, fmt.Errorf("%w: %s=%s forbids %s", ErrInvalidConfiguration, c.Variable, c.Value, forbidden)
			}
		}
	}

	if len(members) == 0 {
		return Ensemble{}, ErrEmptyEnsemble
	}
	if b.layout.MaxMembers > 0 && len(members) > b.layout.MaxMembers {
		return Ensemble{}, fmt.Errorf("%w: %d members exceed the maximum of %d", ErrInvalidConfiguration, len(members), b.layout.MaxMembers)
	}

	name := cfg.Value(b.layout.Aggregator)
	if name == model.Absent {
		return Ensemble{}, ErrNoAggregationPolicy
	}
	agg, err := ResolveAggregator(name)
	if err != nil {
		return Ensemble{}, fmt.Errorf("%w: %v", ErrNoAggregationPolicy, err)
	}

	e := Ensemble{AggregatorName: name, Aggregator: agg}
	for _, a := range b.layout.Algorithms {
		if m, ok := members[a]; ok {
			e.Members = append(e.Members, *m)
		}
	}
	return e, nil
}
