package ctc

// greedy is the best-path decoder: per time-step argmax, repeats collapsed
// unless separated by a blank, blanks dropped. Every symbol is final the
// moment its time-step arrives, so Push returns it immediately.
type greedy struct {
	cfg  Config
	prev int // raw class of the previous time-step
}

func newGreedy(cfg Config) *greedy {
	return &greedy{cfg: cfg, prev: cfg.BlankIndex}
}

func (g *greedy) Push(logProbs [][]float64) ([]int, error) {
	if err := checkRows(g.cfg, logProbs); err != nil {
		return nil, err
	}
	var out []int
	for _, row := range logProbs {
		k := argmax(row)
		if k != g.cfg.BlankIndex && k != g.prev {
			out = append(out, k)
		}
		g.prev = k
	}
	return out, nil
}

func (g *greedy) Finish() ([]int, error) {
	return nil, nil
}
