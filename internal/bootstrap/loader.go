// Package bootstrap loads the initial dependency-network model: one CSV table
// per variable plus a model.yaml descriptor.
package bootstrap

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ensembleda/internal/ensemble"
	"ensembleda/internal/model"
	"ensembleda/internal/network"
	"ensembleda/internal/variable"
)

const (
	DescriptorFile = "model.yaml"
	probabilityCol = "probability"
)

//go:embed defaults/*.csv defaults/model.yaml
var defaults embed.FS

type descriptor struct {
	CannotLink [][]string      `yaml:"cannot_link"`
	Ensemble   ensemble.Layout `yaml:"ensemble"`
}

// Model is a loaded bootstrap model.
type Model struct {
	Definition network.Definition
	Layout     ensemble.Layout
}

// Default returns the embedded search space.
func Default() (Model, error) {
	sub, err := fs.Sub(defaults, "defaults")
	if err != nil {
		return Model{}, err
	}
	return Load(sub)
}

// LoadDir loads a model from a directory, or the embedded default when dir
// is empty.
func LoadDir(dir string) (Model, error) {
	if strings.TrimSpace(dir) == "" {
		return Default()
	}
	return Load(os.DirFS(dir))
}

// Load reads every *.csv at the root of fsys as a variable table and the
// optional model.yaml descriptor.
func Load(fsys fs.FS) (Model, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Model{}, err
	}

	var m Model
	tables := make(map[string]rawTable)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".csv" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".csv")
		file, err := fsys.Open(entry.Name())
		if err != nil {
			return Model{}, err
		}
		table, err := readTable(file)
		_ = file.Close()
		if err != nil {
			return Model{}, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if table.self != name {
			return Model{}, fmt.Errorf("read %s: last variable column is %s, want %s", entry.Name(), table.self, name)
		}
		tables[name] = table
	}
	if len(tables) == 0 {
		return Model{}, errors.New("model has no variable tables")
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def, err := tables[name].definition(name)
		if err != nil {
			return Model{}, fmt.Errorf("variable %s: %w", name, err)
		}
		m.Definition.Variables = append(m.Definition.Variables, def)
	}

	data, err := fs.ReadFile(fsys, DescriptorFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m, nil
	case err != nil:
		return Model{}, err
	}
	var desc descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return Model{}, fmt.Errorf("parse %s: %w", DescriptorFile, err)
	}
	for i, pair := range desc.CannotLink {
		if len(pair) != 2 {
			return Model{}, fmt.Errorf("cannot_link entry %d must name exactly two variables", i)
		}
		for _, n := range pair {
			if _, ok := tables[n]; !ok {
				return Model{}, fmt.Errorf("cannot_link entry %d names unknown variable %s", i, n)
			}
		}
		m.Definition.CannotLink = append(m.Definition.CannotLink, [2]string{pair[0], pair[1]})
	}
	m.Layout = desc.Ensemble
	return m, nil
}

type rawTable struct {
	parents []string
	self    string
	rows    [][]string
	probs   []float64
}

func readTable(r io.Reader) (rawTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return rawTable{}, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 || strings.TrimSpace(header[len(header)-1]) != probabilityCol {
		return rawTable{}, fmt.Errorf("header must end with <variable>,%s", probabilityCol)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := rawTable{
		parents: header[:len(header)-2],
		self:    header[len(header)-2],
	}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rawTable{}, err
		}
		if len(record) != len(header) {
			return rawTable{}, fmt.Errorf("row %d has %d fields, want %d", len(t.rows)+1, len(record), len(header))
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(record[len(record)-1]), 64)
		if err != nil {
			return rawTable{}, fmt.Errorf("row %d probability: %w", len(t.rows)+1, err)
		}
		values := make([]string, len(record)-1)
		for i := range values {
			values[i] = strings.TrimSpace(record[i])
		}
		t.rows = append(t.rows, values)
		t.probs = append(t.probs, p)
	}
	if len(t.rows) == 0 {
		return rawTable{}, errors.New("table has no rows")
	}
	return t, nil
}

// definition infers the domain from the self column: any Gaussian
// descriptor makes the variable continuous.
func (t rawTable) definition(name string) (network.VariableDef, error) {
	if len(t.parents) > 1 {
		return network.VariableDef{}, fmt.Errorf("at most one fixed parent is supported, got %v", t.parents)
	}
	def := network.VariableDef{Name: name}
	if len(t.parents) == 1 {
		def.FixedParent = t.parents[0]
	}

	var (
		continuous *variable.Continuous
		optional   bool
		labels     = make(map[string]struct{})
	)
	for _, row := range t.rows {
		self := row[len(row)-1]
		switch {
		case variable.IsDescriptor(self):
			if continuous == nil {
				_, c, err := variable.ParseDescriptor(self)
				if err != nil {
					return network.VariableDef{}, err
				}
				continuous = &c
			}
		case self == model.Absent:
			optional = true
			labels[self] = struct{}{}
		default:
			labels[self] = struct{}{}
		}
	}

	if continuous != nil {
		for label := range labels {
			if label != model.Absent {
				return network.VariableDef{}, fmt.Errorf("continuous variable mixes descriptors with label %q", label)
			}
		}
		continuous.Optional = optional
		def.Domain = *continuous
	} else {
		discrete := variable.Discrete{}
		for label := range labels {
			discrete.Labels = append(discrete.Labels, label)
		}
		sort.Strings(discrete.Labels)
		def.Domain = discrete
	}

	for i, row := range t.rows {
		def.Rows = append(def.Rows, variable.Row{Values: row, Probability: t.probs[i]})
	}
	return def, nil
}
