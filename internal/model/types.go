package model

import "sort"

// Absent is the sentinel value of a variable that is inactive in a configuration.
const Absent = "null"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Configuration maps variable names to sampled values.
type Configuration map[string]string

// Clone returns an independent copy.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Value returns the value of name, or Absent when it is not set.
func (c Configuration) Value(name string) string {
	v, ok := c[name]
	if !ok || v == "" {
		return Absent
	}
	return v
}

// Active returns the sorted names of variables holding a non-absent value.
func (c Configuration) Active() []string {
	names := make([]string, 0, len(c))
	for k, v := range c {
		if v != Absent && v != "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

type RunRecord struct {
	VersionedRecord
	ID             string  `json:"id"`
	Seed           int64   `json:"seed"`
	Individuals    int     `json:"individuals"`
	Generations    int     `json:"generations"`
	Completed      int     `json:"completed_generations"`
	StopReason     string  `json:"stop_reason"`
	BestQuality    float64 `json:"best_quality"`
	Evaluations    int     `json:"evaluations"`
	CreatedAtUTC   string  `json:"created_at_utc"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type GenerationDiagnostics struct {
	Generation        int      `json:"generation"`
	MinQuality        float64  `json:"min_quality"`
	MedianQuality     float64  `json:"median_quality"`
	MaxQuality        float64  `json:"max_quality"`
	MeanQuality       float64  `json:"mean_quality"`
	ValidationQuality float64  `json:"validation_quality"`
	OverallBest       float64  `json:"overall_best"`
	BurnInDiscarded   int      `json:"burn_in_discarded"`
	ThinnedDiscarded  int      `json:"thinned_discarded"`
	InvalidDiscarded  int      `json:"invalid_discarded"`
	Sweeps            int      `json:"sweeps"`
	Edges             int      `json:"edges"`
	MeanHeuristic     float64  `json:"mean_heuristic"`
	SamplingOrder     []string `json:"sampling_order"`
}

type TableRow struct {
	Values      []string `json:"values"`
	Probability float64  `json:"probability"`
}

type GaussianCell struct {
	Row   int     `json:"row"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

type VariableSnapshot struct {
	Name                 string         `json:"name"`
	Kind                 string         `json:"kind"`
	FixedParents         []string       `json:"fixed_parents"`
	ProbabilisticParents []string       `json:"probabilistic_parents"`
	Columns              []string       `json:"columns"`
	Rows                 []TableRow     `json:"rows"`
	Gaussians            []GaussianCell `json:"gaussians,omitempty"`
}

type StructureSnapshot struct {
	Generation int                `json:"generation"`
	Variables  []VariableSnapshot `json:"variables"`
}

type BestRecord struct {
	VersionedRecord
	Label             string        `json:"label"`
	Generation        int           `json:"generation"`
	Quality           float64       `json:"quality"`
	ValidationQuality float64       `json:"validation_quality"`
	Configuration     Configuration `json:"configuration"`
}
