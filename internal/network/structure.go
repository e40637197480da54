package network

import (
	"fmt"
	"math"
	"sort"

	"ensembleda/internal/mi"
	"ensembleda/internal/model"
	"ensembleda/internal/variable"
)

// estimator caches pairwise mutual information over one fittest set.
type estimator struct {
	n          *Network
	values     map[string][]string
	continuous map[string]mi.Continuous
	cache      map[[2]string]float64
}

func (n *Network) newEstimator(fittest []model.Configuration) *estimator {
	e := &estimator{
		n:          n,
		values:     make(map[string][]string, len(n.names)),
		continuous: make(map[string]mi.Continuous),
		cache:      make(map[[2]string]float64),
	}
	for _, name := range n.names {
		column := make([]string, len(fittest))
		for i, cfg := range fittest {
			column[i] = cfg.Value(name)
		}
		e.values[name] = column
	}
	// Noise is drawn in name order so a seed fixes every estimate.
	for _, name := range n.names {
		if _, ok := n.variables[name].Domain().(variable.Continuous); !ok {
			continue
		}
		noise := make([]float64, len(fittest))
		for i := range noise {
			noise[i] = n.rng.NormFloat64()
		}
		e.continuous[name] = mi.PrepareContinuous(e.values[name], noise)
	}
	return e
}

func (e *estimator) mutualInformation(a, b string) float64 {
	key := [2]string{a, b}
	if b < a {
		key = [2]string{b, a}
	}
	if v, ok := e.cache[key]; ok {
		return v
	}
	v := e.compute(key[0], key[1])
	e.cache[key] = v
	return v
}

func (e *estimator) compute(a, b string) float64 {
	k := e.n.cfg.Neighbors
	switch e.n.variables[a].Domain().(type) {
	case variable.Discrete:
		switch e.n.variables[b].Domain().(type) {
		case variable.Discrete:
			return mi.Significant(e.values[a], e.values[b], e.n.cfg.Significance)
		case variable.Continuous:
			return mi.DiscreteContinuous(e.values[a], e.continuous[b], k)
		}
	case variable.Continuous:
		switch e.n.variables[b].Domain().(type) {
		case variable.Discrete:
			return mi.DiscreteContinuous(e.values[b], e.continuous[a], k)
		case variable.Continuous:
			return mi.ContinuousContinuous(e.continuous[a], e.continuous[b], k)
		}
	}
	return 0
}

// candidates lists the variables that may become probabilistic parents of
// child: everything except itself, its fixed parents and fixed children, and
// its cannot-link partners.
func (n *Network) candidates(child string) []string {
	v := n.variables[child]
	excluded := make(map[string]struct{})
	excluded[child] = struct{}{}
	for _, p := range v.FixedParents() {
		excluded[p] = struct{}{}
	}
	for _, c := range n.fixedChildren[child] {
		excluded[c] = struct{}{}
	}
	for c := range n.cannotLink[child] {
		excluded[c] = struct{}{}
	}
	out := make([]string, 0, len(n.names))
	for _, name := range n.names {
		if _, skip := excluded[name]; !skip {
			out = append(out, name)
		}
	}
	return out
}

// LearnStructure greedily relearns the probabilistic parents of every
// variable from fittest, then recomputes the sampling order. A candidate is
// scored by its mutual information with the child minus its mean mutual
// information with the parents chosen so far; candidates scoring at or
// below the minimum heuristic, or closing a cycle, leave the pool. Discrete
// pairs are discounted by the independence threshold at cfg.Significance.
func (n *Network) LearnStructure(fittest []model.Configuration) error {
	e := n.newEstimator(fittest)
	g := n.graphOf(true)
	n.heuristics = n.heuristics[:0]

	for _, child := range n.order {
		pool := n.candidates(child)
		var parents []string
		for len(parents) < n.cfg.MaxParents && len(pool) > 0 {
			best, bestScore := "", math.Inf(-1)
			kept := pool[:0]
			for _, candidate := range pool {
				if n.createsCycle(g, candidate, child) {
					continue
				}
				score := e.mutualInformation(candidate, child)
				if len(parents) > 0 {
					redundancy := 0.0
					for _, parent := range parents {
						redundancy += e.mutualInformation(candidate, parent)
					}
					score -= redundancy / float64(len(parents))
				}
				if score <= n.cfg.MinHeuristic {
					continue
				}
				kept = append(kept, candidate)
				if score > bestScore {
					best, bestScore = candidate, score
				}
			}
			pool = kept
			if best == "" {
				break
			}
			parents = append(parents, best)
			n.heuristics = append(n.heuristics, bestScore)
			g.SetEdge(g.NewEdge(n.node(best), n.node(child)))
			pool = remove(pool, best)
		}

		chosen := make([]*variable.Variable, 0, len(parents))
		for _, p := range parents {
			chosen = append(chosen, n.variables[p])
		}
		if err := n.variables[child].UpdateStructure(chosen); err != nil {
			return fmt.Errorf("update structure of %s: %w", child, err)
		}
		if len(parents) > 0 {
			n.logger.Debug("learned parents", "variable", child, "parents", parents)
		}
	}

	order, err := n.inferOrder()
	if err != nil {
		return err
	}
	n.order = order
	return nil
}

func remove(list []string, name string) []string {
	out := list[:0]
	for _, item := range list {
		if item != name {
			out = append(out, item)
		}
	}
	return out
}

// Parents returns the current parent sets keyed by variable, for reporting.
func (n *Network) Parents() map[string][]string {
	out := make(map[string][]string, len(n.names))
	for _, name := range n.names {
		parents := n.variables[name].Parents()
		sort.Strings(parents)
		out[name] = parents
	}
	return out
}
