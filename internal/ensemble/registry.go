package ensemble

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrAggregatorExists   = errors.New("aggregator already registered")
	ErrAggregatorNotFound = errors.New("aggregator not found")
)

// Factory creates an aggregation policy.
type Factory func() Aggregator

var aggregatorRegistry = struct {
	mu sync.RWMutex
	m  map[string]Factory
}{
	m: builtinAggregators(),
}

func builtinAggregators() map[string]Factory {
	return map[string]Factory{
		"MajorityVoting":  func() Aggregator { return MajorityVoting{} },
		"CompetenceBased": func() Aggregator { return CompetenceBased{} },
		"MeanProbability": func() Aggregator { return MeanProbability{} },
	}
}

// RegisterAggregator adds a named aggregation policy.
func RegisterAggregator(name string, factory Factory) error {
	if name == "" {
		return errors.New("aggregator name is required")
	}
	if factory == nil {
		return errors.New("aggregator factory is required")
	}

	aggregatorRegistry.mu.Lock()
	defer aggregatorRegistry.mu.Unlock()

	if _, exists := aggregatorRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrAggregatorExists, name)
	}
	aggregatorRegistry.m[name] = factory
	return nil
}

func ResolveAggregator(name string) (Aggregator, error) {
	aggregatorRegistry.mu.RLock()
	factory, ok := aggregatorRegistry.m[name]
	aggregatorRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAggregatorNotFound, name)
	}
	return factory(), nil
}

func ListAggregators() []string {
	aggregatorRegistry.mu.RLock()
	defer aggregatorRegistry.mu.RUnlock()

	names := make([]string, 0, len(aggregatorRegistry.m))
	for name := range aggregatorRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetAggregatorRegistryForTests() {
	aggregatorRegistry.mu.Lock()
	defer aggregatorRegistry.mu.Unlock()
	aggregatorRegistry.m = builtinAggregators()
}
