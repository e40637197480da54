package variable

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"

	"ensembleda/internal/model"
)

// Present is the table label of an active continuous variable. Each row
// holding it owns its own Gaussian.
const Present = "present"

var (
	ErrCombinationNotPresent   = errors.New("parent combination not present in table")
	ErrStructuralInconsistency = errors.New("structural inconsistency")
)

// Domain is either Discrete or Continuous.
type Domain interface {
	domain()
}

// Discrete is a finite set of labels, possibly including model.Absent.
type Discrete struct {
	Labels []string
}

// Continuous is a bounded real value represented per table cell by a Gaussian.
type Continuous struct {
	Min       float64
	Max       float64
	LocInit   float64
	ScaleInit float64
	Scale     float64
	Optional  bool
}

func (Discrete) domain()   {}
func (Continuous) domain() {}

// KindOf names the domain variant.
func KindOf(d Domain) string {
	switch d.(type) {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// labelsOf returns the table labels a domain contributes as a column.
func labelsOf(d Domain) []string {
	switch d := d.(type) {
	case Discrete:
		set := make(map[string]struct{}, len(d.Labels))
		for _, label := range d.Labels {
			set[label] = struct{}{}
		}
		return sortedLabels(set)
	case Continuous:
		if d.Optional {
			return []string{model.Absent, Present}
		}
		return []string{Present}
	default:
		return nil
	}
}

// labelOf maps a raw configuration value to its table label under d.
func labelOf(d Domain, raw string) string {
	if raw == "" {
		raw = model.Absent
	}
	switch d.(type) {
	case Continuous:
		if raw == model.Absent {
			return model.Absent
		}
		return Present
	default:
		return raw
	}
}

// Gaussian parameterizes one present cell of a continuous variable.
type Gaussian struct {
	Mean  float64
	Scale float64
}

// Descriptor renders a cell in the bootstrap table format.
func Descriptor(g Gaussian, c Continuous) string {
	return fmt.Sprintf("(loc=%s,scale=%s,a_min=%s,a_max=%s,scale_init=%s)",
		formatFloat(g.Mean), formatFloat(g.Scale), formatFloat(c.Min), formatFloat(c.Max), formatFloat(c.ScaleInit))
}

// IsDescriptor reports whether s looks like a Gaussian descriptor.
func IsDescriptor(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
}

// ParseDescriptor parses "(loc=..,scale=..,a_min=..,a_max=..,scale_init=..)".
// scale_init defaults to scale when omitted.
func ParseDescriptor(s string) (Gaussian, Continuous, error) {
	if !IsDescriptor(s) {
		return Gaussian{}, Continuous{}, fmt.Errorf("invalid gaussian descriptor %q", s)
	}
	body := strings.TrimSpace(s)
	body = body[1 : len(body)-1]

	fields := make(map[string]float64, 5)
	for _, part := range strings.Split(body, ",") {
		key, raw, ok := strings.Cut(part, "=")
		if !ok {
			return Gaussian{}, Continuous{}, fmt.Errorf("invalid descriptor field %q in %q", part, s)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Gaussian{}, Continuous{}, fmt.Errorf("descriptor field %s: %w", strings.TrimSpace(key), err)
		}
		fields[strings.TrimSpace(key)] = value
	}
	for _, key := range []string{"loc", "scale", "a_min", "a_max"} {
		if _, ok := fields[key]; !ok {
			return Gaussian{}, Continuous{}, fmt.Errorf("descriptor %q is missing %s", s, key)
		}
	}
	scaleInit, ok := fields["scale_init"]
	if !ok {
		scaleInit = fields["scale"]
	}
	if fields["a_min"] > fields["a_max"] {
		return Gaussian{}, Continuous{}, fmt.Errorf("descriptor %q has a_min > a_max", s)
	}
	if fields["scale"] < 0 || scaleInit < 0 {
		return Gaussian{}, Continuous{}, fmt.Errorf("descriptor %q has negative scale", s)
	}
	g := Gaussian{Mean: fields["loc"], Scale: fields["scale"]}
	c := Continuous{
		Min:       fields["a_min"],
		Max:       fields["a_max"],
		LocInit:   fields["loc"],
		ScaleInit: scaleInit,
		Scale:     fields["scale"],
	}
	return g, c, nil
}

func clamp[T constraints.Integer | constraints.Float](x, lo, hi T) T {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
