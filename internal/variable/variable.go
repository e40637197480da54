package variable

import (
	"fmt"
	"math/rand"
	"sort"

	"ensembleda/internal/model"
)

// Row is one line of a bootstrap table: labels aligned with the table
// columns (fixed parents then self) and the row probability.
type Row struct {
	Values      []string
	Probability float64
}

// State is the learned part of a variable for one generation. A State is
// never mutated after it is produced; updates return a new State.
type State struct {
	Parents   []string
	Table     *Table
	Stats     Statistics
	Gaussians map[int]Gaussian
	Scale     float64

	domains map[string]Domain
}

type Variable struct {
	name        string
	domain      Domain
	fixed       []string
	generations int
	state       State
}

// New creates a variable without parents whose table is uniform over its labels.
func New(name string, domain Domain) (*Variable, error) {
	if name == "" {
		return nil, fmt.Errorf("variable name is required")
	}
	labels := labelsOf(domain)
	if len(labels) == 0 {
		return nil, fmt.Errorf("variable %s has an empty domain", name)
	}
	v := &Variable{name: name, domain: domain}
	table, err := NewTable([]string{name}, [][]string{labels})
	if err != nil {
		return nil, err
	}
	v.state = State{
		Table:   table,
		Stats:   deriveStatistics(table),
		domains: map[string]Domain{},
	}
	if c, ok := domain.(Continuous); ok {
		v.state.Scale = c.Scale
		v.state.Gaussians = v.defaultGaussians(table, c.LocInit, c.Scale)
	}
	return v, nil
}

// Init installs the bootstrap table over the fixed parents and self.
// Probabilities are renormalized per parent group.
func (v *Variable) Init(fixed []*Variable, rows []Row) error {
	if len(fixed) > 1 {
		return fmt.Errorf("variable %s: at most one fixed parent is supported, got %d", v.name, len(fixed))
	}
	columns := make([]string, 0, len(fixed)+1)
	labels := make([][]string, 0, len(fixed)+1)
	domains := make(map[string]Domain, len(fixed))
	for _, parent := range fixed {
		if parent.name == v.name {
			return fmt.Errorf("variable %s cannot be its own parent", v.name)
		}
		columns = append(columns, parent.name)
		labels = append(labels, labelsOf(parent.domain))
		domains[parent.name] = parent.domain
	}
	columns = append(columns, v.name)
	labels = append(labels, labelsOf(v.domain))

	table, err := NewTable(columns, labels)
	if err != nil {
		return fmt.Errorf("variable %s: %w", v.name, err)
	}
	for i := range table.probabilities {
		table.probabilities[i] = 0
	}

	var gaussians map[int]Gaussian
	c, continuous := v.domain.(Continuous)
	if continuous {
		gaussians = make(map[int]Gaussian)
	}
	for i, row := range rows {
		if len(row.Values) != len(columns) {
			return fmt.Errorf("variable %s row %d: expected %d values, got %d", v.name, i, len(columns), len(row.Values))
		}
		if row.Probability < 0 {
			return fmt.Errorf("variable %s row %d: negative probability", v.name, i)
		}
		assignment := make(map[string]string, len(columns))
		for j, column := range columns[:len(columns)-1] {
			assignment[column] = labelOf(domains[column], row.Values[j])
		}
		self := row.Values[len(row.Values)-1]
		var cell *Gaussian
		if continuous && IsDescriptor(self) {
			g, _, err := ParseDescriptor(self)
			if err != nil {
				return fmt.Errorf("variable %s row %d: %w", v.name, i, err)
			}
			cell = &g
			self = Present
		}
		assignment[v.name] = labelOf(v.domain, self)

		matches := table.Match(assignment)
		if len(matches) != 1 {
			return fmt.Errorf("variable %s row %d: values %v do not match the declared domains", v.name, i, row.Values)
		}
		table.probabilities[matches[0]] = row.Probability
		if cell != nil {
			gaussians[matches[0]] = *cell
		}
	}
	normalizeGroups(table, nil)

	st := State{
		Table:   table,
		Stats:   deriveStatistics(table),
		domains: domains,
	}
	if continuous {
		st.Scale = c.Scale
		defaults := v.defaultGaussians(table, c.LocInit, c.Scale)
		for row, g := range defaults {
			if _, ok := gaussians[row]; !ok {
				gaussians[row] = g
			}
		}
		st.Gaussians = gaussians
	}

	v.fixed = append([]string(nil), columns[:len(columns)-1]...)
	v.state = st
	return nil
}

// SetHorizon sets the number of generations over which continuous scales
// anneal to zero. Zero disables annealing.
func (v *Variable) SetHorizon(generations int) {
	v.generations = generations
}

func (v *Variable) Name() string { return v.name }

func (v *Variable) Domain() Domain { return v.domain }

func (v *Variable) Kind() string { return KindOf(v.domain) }

// Labels returns the label set this variable contributes as a table column.
func (v *Variable) Labels() []string { return labelsOf(v.domain) }

// LabelOf maps a raw value to this variable's table label.
func (v *Variable) LabelOf(raw string) string { return labelOf(v.domain, raw) }

func (v *Variable) FixedParents() []string { return append([]string(nil), v.fixed...) }

func (v *Variable) ProbabilisticParents() []string {
	return append([]string(nil), v.state.Parents...)
}

// Parents returns fixed then probabilistic parents.
func (v *Variable) Parents() []string {
	return append(v.FixedParents(), v.state.Parents...)
}

func (v *Variable) IsFixedParent(name string) bool {
	for _, p := range v.fixed {
		if p == name {
			return true
		}
	}
	return false
}

func (v *Variable) State() State { return v.state }

func (v *Variable) Table() *Table { return v.state.Table }

// UpdateStructure replaces the probabilistic parents and rebuilds a uniform
// table over fixed parents, the new parents and self.
func (v *Variable) UpdateStructure(parents []*Variable) error {
	st, err := v.Restructure(v.state, parents)
	if err != nil {
		return err
	}
	v.state = st
	return nil
}

// Restructure derives a new State with parents as probabilistic parents.
// Univariate statistics and the bivariate statistics of parents kept from
// prev carry over.
func (v *Variable) Restructure(prev State, parents []*Variable) (State, error) {
	domains := make(map[string]Domain, len(v.fixed)+len(parents))
	for _, name := range v.fixed {
		domains[name] = prev.domains[name]
	}
	names := make([]string, 0, len(parents))
	byName := make(map[string]*Variable, len(parents))
	for _, parent := range parents {
		if parent.name == v.name {
			return State{}, fmt.Errorf("%w: variable %s cannot be its own parent", ErrStructuralInconsistency, v.name)
		}
		if v.IsFixedParent(parent.name) {
			continue
		}
		if _, dup := byName[parent.name]; dup {
			continue
		}
		byName[parent.name] = parent
		names = append(names, parent.name)
		domains[parent.name] = parent.domain
	}
	sort.Strings(names)

	columns := append(append(v.FixedParents(), names...), v.name)
	labels := make([][]string, 0, len(columns))
	for _, column := range columns[:len(columns)-1] {
		labels = append(labels, labelsOf(domains[column]))
	}
	labels = append(labels, labelsOf(v.domain))

	table, err := NewTable(columns, labels)
	if err != nil {
		return State{}, fmt.Errorf("variable %s: %w", v.name, err)
	}

	stats := Statistics{
		Univariate: copyDist(prev.Stats.Univariate),
		Bivariate:  make(map[string]map[string]map[string]float64, len(columns)-1),
	}
	for _, column := range columns[:len(columns)-1] {
		if old, ok := prev.Stats.Bivariate[column]; ok {
			stats.Bivariate[column] = copyConditional(old)
		}
	}

	st := State{
		Parents: names,
		Table:   table,
		Stats:   stats,
		Scale:   prev.Scale,
		domains: domains,
	}
	if c, ok := v.domain.(Continuous); ok {
		st.Gaussians = v.defaultGaussians(table, c.LocInit, prev.Scale)
	}
	return st, nil
}

// UpdateProbabilities blends the statistics of fittest into the current
// state and rewrites the table.
func (v *Variable) UpdateProbabilities(fittest []model.Configuration, learningRate float64, generation int) error {
	st, err := v.Next(v.state, fittest, learningRate, generation)
	if err != nil {
		return err
	}
	v.state = st
	return nil
}

// ConditionalSample draws a value given the parent values in assignment.
// Unseen parent combinations and groups without mass yield model.Absent.
func (v *Variable) ConditionalSample(assignment model.Configuration, rng *rand.Rand) string {
	st := v.state
	start, err := v.lookup(st, assignment)
	if err != nil {
		return model.Absent
	}
	labels := st.Table.selfLabels()
	total := 0.0
	for j := range labels {
		total += st.Table.probabilities[start+j]
	}
	if !(total > 0) {
		return model.Absent
	}

	u := rng.Float64() * total
	pick := len(labels) - 1
	acc := 0.0
	for j := range labels {
		acc += st.Table.probabilities[start+j]
		if u < acc {
			pick = j
			break
		}
	}
	return v.valueAt(st, start+pick, rng)
}

// Mode returns the most probable value given assignment, using cell means
// for continuous variables.
func (v *Variable) Mode(assignment model.Configuration) string {
	st := v.state
	start, err := v.lookup(st, assignment)
	if err != nil {
		return model.Absent
	}
	labels := st.Table.selfLabels()
	pick, best := -1, 0.0
	for j := range labels {
		if p := st.Table.probabilities[start+j]; p > best {
			pick, best = j, p
		}
	}
	if pick < 0 {
		return model.Absent
	}
	return v.valueAt(st, start+pick, nil)
}

func (v *Variable) lookup(st State, assignment model.Configuration) (int, error) {
	parents := st.Table.Parents()
	labels := make([]string, len(parents))
	for i, parent := range parents {
		labels[i] = labelOf(st.domains[parent], assignment.Value(parent))
	}
	return st.Table.group(labels)
}

func (v *Variable) valueAt(st State, row int, rng *rand.Rand) string {
	label := st.Table.label(row, len(st.Table.columns)-1)
	if label == model.Absent {
		return model.Absent
	}
	switch d := v.domain.(type) {
	case Discrete:
		return label
	case Continuous:
		g := st.Gaussians[row]
		x := g.Mean
		if rng != nil && g.Scale > 0 {
			x += g.Scale * rng.NormFloat64()
		}
		return formatFloat(clamp(x, d.Min, d.Max))
	default:
		return model.Absent
	}
}

func (v *Variable) defaultGaussians(table *Table, mean, scale float64) map[int]Gaussian {
	out := make(map[int]Gaussian)
	for _, row := range table.index[v.name][Present] {
		out[row] = Gaussian{Mean: mean, Scale: scale}
	}
	return out
}

// Snapshot renders the current state for reporting. Present cells of a
// continuous variable are rendered as Gaussian descriptors.
func (v *Variable) Snapshot() model.VariableSnapshot {
	st := v.state
	snap := model.VariableSnapshot{
		Name:                 v.name,
		Kind:                 v.Kind(),
		FixedParents:         v.FixedParents(),
		ProbabilisticParents: v.ProbabilisticParents(),
		Columns:              st.Table.Columns(),
		Rows:                 make([]model.TableRow, 0, st.Table.Len()),
	}
	c, continuous := v.domain.(Continuous)
	for row := 0; row < st.Table.Len(); row++ {
		values := st.Table.RowValues(row)
		if g, ok := st.Gaussians[row]; continuous && ok {
			values[len(values)-1] = Descriptor(g, c)
		}
		snap.Rows = append(snap.Rows, model.TableRow{Values: values, Probability: st.Table.probabilities[row]})
	}
	if continuous {
		rows := make([]int, 0, len(st.Gaussians))
		for row := range st.Gaussians {
			rows = append(rows, row)
		}
		sort.Ints(rows)
		for _, row := range rows {
			g := st.Gaussians[row]
			snap.Gaussians = append(snap.Gaussians, model.GaussianCell{Row: row, Mean: g.Mean, Scale: g.Scale})
		}
	}
	return snap
}
