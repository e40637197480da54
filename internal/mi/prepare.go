package mi

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"ensembleda/internal/model"
)

const jitterAmplitude = 1e-10

// Continuous is a prepared real-valued sample: missing values already mapped
// below the observed range and every value scaled and jittered.
type Continuous struct {
	Values []float64
	Valid  int
}

// PrepareContinuous parses raw values. Absent or unparsable entries become
// min-1, values are scaled to unit standard deviation, and noise[i] scaled by
// a vanishing amplitude is added to break ties. noise may be nil.
func PrepareContinuous(raw []string, noise []float64) Continuous {
	values := make([]float64, len(raw))
	missing := make([]bool, len(raw))
	observed := make([]float64, 0, len(raw))
	for i, s := range raw {
		if s == model.Absent || s == "" {
			missing[i] = true
			continue
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			missing[i] = true
			continue
		}
		values[i] = x
		observed = append(observed, x)
	}

	out := Continuous{Values: values, Valid: len(observed)}
	if len(observed) == 0 {
		return out
	}

	minValue := observed[0]
	for _, x := range observed[1:] {
		minValue = math.Min(minValue, x)
	}
	for i := range values {
		if missing[i] {
			values[i] = minValue - 1
		}
	}

	if len(values) > 1 {
		if sd := stat.StdDev(values, nil); sd > 0 {
			for i := range values {
				values[i] /= sd
			}
		}
	}

	meanAbs := 0.0
	for _, x := range values {
		meanAbs += math.Abs(x)
	}
	meanAbs /= float64(len(values))
	amplitude := jitterAmplitude * math.Max(1, meanAbs)
	for i := range values {
		if i < len(noise) {
			values[i] += amplitude * noise[i]
		}
	}
	return out
}
