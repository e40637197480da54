package variable

import (
	"fmt"
	"sort"
)

// Table is the conditional probability table of one variable. Columns are
// ordered fixed parents, probabilistic parents, then self; rows enumerate the
// full Cartesian product of the column labels with self varying fastest.
type Table struct {
	columns       []string
	labels        [][]string
	position      []map[string]int
	strides       []int
	index         map[string]map[string][]int
	probabilities []float64
}

// NewTable builds the row indexing for columns and initializes every parent
// group to the uniform distribution over the self labels.
func NewTable(columns []string, labels [][]string) (*Table, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table needs at least the self column", ErrStructuralInconsistency)
	}
	if len(columns) != len(labels) {
		return nil, fmt.Errorf("%w: %d columns but %d label sets", ErrStructuralInconsistency, len(columns), len(labels))
	}

	t := &Table{
		columns:  append([]string(nil), columns...),
		labels:   make([][]string, len(labels)),
		position: make([]map[string]int, len(labels)),
		strides:  make([]int, len(labels)),
		index:    make(map[string]map[string][]int, len(columns)),
	}
	size := 1
	for i := len(columns) - 1; i >= 0; i-- {
		if len(labels[i]) == 0 {
			return nil, fmt.Errorf("%w: column %s has no labels", ErrStructuralInconsistency, columns[i])
		}
		t.labels[i] = append([]string(nil), labels[i]...)
		t.position[i] = make(map[string]int, len(labels[i]))
		for j, label := range labels[i] {
			if _, dup := t.position[i][label]; dup {
				return nil, fmt.Errorf("%w: column %s repeats label %q", ErrStructuralInconsistency, columns[i], label)
			}
			t.position[i][label] = j
		}
		t.strides[i] = size
		size *= len(labels[i])
	}

	for i, column := range t.columns {
		if _, dup := t.index[column]; dup {
			return nil, fmt.Errorf("%w: duplicate column %s", ErrStructuralInconsistency, column)
		}
		byLabel := make(map[string][]int, len(t.labels[i]))
		for row := 0; row < size; row++ {
			label := t.labels[i][(row/t.strides[i])%len(t.labels[i])]
			byLabel[label] = append(byLabel[label], row)
		}
		t.index[column] = byLabel
	}

	selfCount := len(t.labels[len(t.labels)-1])
	t.probabilities = make([]float64, size)
	for row := range t.probabilities {
		t.probabilities[row] = 1 / float64(selfCount)
	}
	return t, nil
}

func (t *Table) Len() int { return len(t.probabilities) }

func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

func (t *Table) Self() string { return t.columns[len(t.columns)-1] }

// Parents returns the parent columns in table order.
func (t *Table) Parents() []string {
	return append([]string(nil), t.columns[:len(t.columns)-1]...)
}

// Labels returns the label set of column, or nil if the column is unknown.
func (t *Table) Labels(column string) []string {
	for i, name := range t.columns {
		if name == column {
			return append([]string(nil), t.labels[i]...)
		}
	}
	return nil
}

func (t *Table) selfLabels() []string { return t.labels[len(t.labels)-1] }

// Rows returns the row indices where column holds label.
func (t *Table) Rows(column, label string) []int {
	return append([]int(nil), t.index[column][label]...)
}

// Label returns the label of column i at row.
func (t *Table) label(row, i int) string {
	return t.labels[i][(row/t.strides[i])%len(t.labels[i])]
}

// RowValues returns the labels of every column at row, in column order.
func (t *Table) RowValues(row int) []string {
	values := make([]string, len(t.columns))
	for i := range t.columns {
		values[i] = t.label(row, i)
	}
	return values
}

func (t *Table) Probability(row int) float64 { return t.probabilities[row] }

func (t *Table) Probabilities() []float64 {
	return append([]float64(nil), t.probabilities...)
}

// group returns the first row of the parent group identified by parent
// labels given in column order. The group spans len(selfLabels) rows.
func (t *Table) group(parentLabels []string) (int, error) {
	if len(parentLabels) != len(t.columns)-1 {
		return 0, fmt.Errorf("%w: expected %d parent labels, got %d", ErrStructuralInconsistency, len(t.columns)-1, len(parentLabels))
	}
	start := 0
	for i, label := range parentLabels {
		pos, ok := t.position[i][label]
		if !ok {
			return 0, fmt.Errorf("%w: %s=%s", ErrCombinationNotPresent, t.columns[i], label)
		}
		start += pos * t.strides[i]
	}
	return start, nil
}

// Match intersects the row sets of every column in assignment.
func (t *Table) Match(assignment map[string]string) []int {
	var rows []int
	first := true
	for column, label := range assignment {
		candidates, ok := t.index[column][label]
		if !ok {
			return nil
		}
		if first {
			rows = append([]int(nil), candidates...)
			first = false
			continue
		}
		rows = intersectSorted(rows, candidates)
		if len(rows) == 0 {
			return nil
		}
	}
	return rows
}

// groups calls fn with the first row of every parent group, in row order.
func (t *Table) groups(fn func(start int) error) error {
	width := len(t.selfLabels())
	for start := 0; start < len(t.probabilities); start += width {
		if err := fn(start); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) clone() *Table {
	out := *t
	out.probabilities = append([]float64(nil), t.probabilities...)
	return &out
}

func intersectSorted(a, b []int) []int {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func sortedLabels(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for label := range set {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
