package ensemble

// Aggregator combines the class distributions predicted by the members for
// one instance. competences holds one weight per member.
type Aggregator interface {
	Combine(votes [][]float64, competences []float64) []float64
}

// MajorityVoting counts the arg-max class of every member.
type MajorityVoting struct{}

func (MajorityVoting) Combine(votes [][]float64, _ []float64) []float64 {
	out := make([]float64, width(votes))
	for _, v := range votes {
		if len(v) == 0 {
			continue
		}
		out[argmax(v)]++
	}
	return normalize(out)
}

// CompetenceBased sums member distributions weighted by competence.
type CompetenceBased struct{}

func (CompetenceBased) Combine(votes [][]float64, competences []float64) []float64 {
	out := make([]float64, width(votes))
	for i, v := range votes {
		w := 1.0
		if i < len(competences) {
			w = competences[i]
		}
		for c, p := range v {
			out[c] += w * p
		}
	}
	return normalize(out)
}

// MeanProbability averages member distributions.
type MeanProbability struct{}

func (MeanProbability) Combine(votes [][]float64, _ []float64) []float64 {
	out := make([]float64, width(votes))
	for _, v := range votes {
		for c, p := range v {
			out[c] += p
		}
	}
	return normalize(out)
}

// Predict returns the arg-max class of an aggregated distribution.
func Predict(dist []float64) int {
	if len(dist) == 0 {
		return -1
	}
	return argmax(dist)
}

func width(votes [][]float64) int {
	w := 0
	for _, v := range votes {
		if len(v) > w {
			w = len(v)
		}
	}
	return w
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func normalize(v []float64) []float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return v
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}
