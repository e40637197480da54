package evo

// MinGenerations is the number of generations observed before the early-stop
// tracker may fire.
const MinGenerations = 10

type EarlyStopConfig struct {
	// Window is the number of recent generations compared with the best
	// quality seen before them. Zero disables early stopping.
	Window    int
	Tolerance float64
}

// EarlyStop tracks the best quality of each generation and fires when the
// last Window generations improved on everything before them by no more than
// Tolerance.
type EarlyStop struct {
	cfg     EarlyStopConfig
	history []float64
}

func NewEarlyStop(cfg EarlyStopConfig) *EarlyStop {
	return &EarlyStop{cfg: cfg}
}

func (e *EarlyStop) Observe(best float64) {
	e.history = append(e.history, best)
}

func (e *EarlyStop) Generations() int { return len(e.history) }

func (e *EarlyStop) ShouldStop() bool {
	n := len(e.history)
	if e.cfg.Window <= 0 || n < MinGenerations || n <= e.cfg.Window {
		return false
	}
	before := maxOf(e.history[:n-e.cfg.Window])
	recent := maxOf(e.history[n-e.cfg.Window:])
	return recent-before <= e.cfg.Tolerance
}

func maxOf(values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best
}
