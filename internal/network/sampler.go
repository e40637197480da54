package network

import (
	"context"
	"fmt"
	"math/rand"

	"ensembleda/internal/model"
	"ensembleda/internal/variable"
)

const (
	// maxInvalidStreak consecutive failed materializations revert the chain
	// to the last accepted state.
	maxInvalidStreak = 5
	// maxResetStreak reverts without an acceptance revert the chain to the
	// state the sampling phase started from.
	maxResetStreak = 5
)

// ChainState is the current assignment of the sampling chain.
type ChainState struct {
	Values model.Configuration
}

// NewChainState starts a chain from start, or from an empty assignment.
func NewChainState(start model.Configuration) ChainState {
	if start == nil {
		return ChainState{Values: model.Configuration{}}
	}
	return ChainState{Values: start.Clone()}
}

func (s ChainState) Clone() ChainState {
	return ChainState{Values: s.Values.Clone()}
}

// Step resamples v against state and returns the successor state. state is
// left untouched.
func Step(state ChainState, v *variable.Variable, rng *rand.Rand) ChainState {
	next := state.Clone()
	next.Values[v.Name()] = v.ConditionalSample(state.Values, rng)
	return next
}

// Sweep steps every variable once in sampling order, so each variable sees
// the values drawn earlier in the same sweep.
func (n *Network) Sweep(state ChainState) ChainState {
	for _, name := range n.order {
		state = Step(state, n.variables[name], n.rng)
	}
	return state
}

// Mode returns the configuration built from the most probable value of each
// variable in sampling order.
func (n *Network) Mode() model.Configuration {
	cfg := model.Configuration{}
	for _, name := range n.order {
		cfg[name] = n.variables[name].Mode(cfg)
	}
	return cfg
}

// BuildFunc materializes a configuration. Any error discards the sample.
type BuildFunc[T any] func(model.Configuration) (T, error)

type Draw[T any] struct {
	Configuration model.Configuration
	Member        T
}

type SampleOptions struct {
	BurnIn   int
	Thinning int
	// MaxAttempts bounds the post burn-in sweeps; zero means unbounded.
	MaxAttempts int
}

type SampleStats struct {
	BurnIn  int `json:"burn_in"`
	Thinned int `json:"thinned"`
	Invalid int `json:"invalid"`
	Sweeps  int `json:"sweeps"`
	Resets  int `json:"resets"`
}

// Sample runs the chain from start until size configurations are accepted.
// Burn-in sweeps are discarded. Every later sweep counts towards thinning,
// including sweeps whose configuration fails to build; a built configuration
// is accepted only when at least opts.Thinning sweeps have elapsed since the
// previous acceptance. The terminal chain state is returned for reuse.
func Sample[T any](ctx context.Context, n *Network, start ChainState, size int, opts SampleOptions, build BuildFunc[T]) ([]Draw[T], ChainState, SampleStats, error) {
	var stats SampleStats
	if size < 0 {
		return nil, start, stats, fmt.Errorf("sample size must be >= 0")
	}
	if opts.BurnIn < 0 {
		return nil, start, stats, fmt.Errorf("burn-in must be >= 0")
	}
	if opts.Thinning < 1 {
		return nil, start, stats, fmt.Errorf("thinning factor must be >= 1")
	}
	if build == nil {
		return nil, start, stats, fmt.Errorf("build function is required")
	}

	state := start.Clone()
	if state.Values == nil {
		state.Values = model.Configuration{}
	}
	for i := 0; i < opts.BurnIn; i++ {
		if err := ctx.Err(); err != nil {
			return nil, state, stats, err
		}
		state = n.Sweep(state)
		stats.BurnIn++
		stats.Sweeps++
	}

	origin := state
	lastAccepted := state
	draws := make([]Draw[T], 0, size)
	sinceAccept := 0
	invalidStreak, resetStreak := 0, 0
	attempts := 0

	for len(draws) < size {
		if err := ctx.Err(); err != nil {
			return draws, state, stats, err
		}
		if opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts {
			return draws, state, stats, fmt.Errorf("%w: %d accepted of %d after %d sweeps", ErrSamplingExhausted, len(draws), size, attempts)
		}
		attempts++

		state = n.Sweep(state)
		stats.Sweeps++
		sinceAccept++

		member, err := build(state.Values.Clone())
		if err != nil {
			stats.Invalid++
			invalidStreak++
			if invalidStreak >= maxInvalidStreak {
				invalidStreak = 0
				resetStreak++
				stats.Resets++
				if resetStreak >= maxResetStreak {
					resetStreak = 0
					state = origin
				} else {
					state = lastAccepted
				}
			}
			continue
		}
		invalidStreak = 0

		if sinceAccept < opts.Thinning {
			stats.Thinned++
			continue
		}
		draws = append(draws, Draw[T]{Configuration: state.Values.Clone(), Member: member})
		sinceAccept = 0
		resetStreak = 0
		lastAccepted = state
	}
	return draws, state, stats, nil
}
