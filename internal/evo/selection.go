package evo

import (
	"sort"

	"ensembleda/internal/model"
)

// Rank orders individuals by learn quality, best first. Ties keep their
// sampling order.
func Rank(population []Individual) []Individual {
	ranked := make([]Individual, len(population))
	copy(ranked, population)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Quality.Learn > ranked[j].Quality.Learn
	})
	return ranked
}

// Configurations returns the configurations of ranked in order.
func Configurations(ranked []Individual) []model.Configuration {
	out := make([]model.Configuration, len(ranked))
	for i, ind := range ranked {
		out[i] = ind.Configuration
	}
	return out
}
