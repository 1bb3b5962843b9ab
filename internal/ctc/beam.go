package ctc

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// hypothesis is one path through the CTC lattice, reduced to what collapse
// semantics need: the collapsed symbol sequence, the raw class of the last
// time-step (a repeat of it extends the path without emitting), and the
// accumulated log probability. Hypotheses are immutable; extensions copy.
type hypothesis struct {
	seq  []int
	last int
	logp float64
}

// key identifies hypotheses that future time-steps cannot distinguish and
// that may therefore be merged.
func (h hypothesis) key() string {
	var b strings.Builder
	for _, s := range h.seq {
		b.WriteString(strconv.Itoa(s))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(h.last))
	return b.String()
}

// beam is a path-based beam-search decoder. After each time-step it keeps
// the beam_width most probable hypotheses, merging paths with identical
// collapsed sequences and last symbol by summing their probabilities.
//
// Symbols become final when every live hypothesis agrees on them: the
// common prefix of the collapsed sequences. Survivors always descend from
// prior survivors and only ever extend their sequences, so the agreed
// prefix never shrinks and emitted symbols are never retracted.
type beam struct {
	cfg     Config
	hyps    []hypothesis
	emitted int
}

func newBeam(cfg Config) *beam {
	return &beam{
		cfg:  cfg,
		hyps: []hypothesis{{last: cfg.BlankIndex}},
	}
}

func (b *beam) Push(logProbs [][]float64) ([]int, error) {
	if err := checkRows(b.cfg, logProbs); err != nil {
		return nil, err
	}
	for _, row := range logProbs {
		b.step(row)
	}
	return b.drainAgreed(), nil
}

// Finish resolves the stream to the single most probable hypothesis and
// returns its symbols beyond the already-finalized prefix.
func (b *beam) Finish() ([]int, error) {
	if len(b.hyps) == 0 {
		return nil, nil
	}
	best := b.hyps[0]
	out := append([]int(nil), best.seq[b.emitted:]...)
	b.emitted = len(best.seq)
	b.hyps = b.hyps[:1]
	return out, nil
}

// step extends every hypothesis with the most probable classes of one
// time-step, merges colliding paths, and prunes back to the beam width.
func (b *beam) step(row []float64) {
	cands := topClasses(row, b.cfg.BeamWidth, b.cfg.BlankIndex)
	next := make(map[string]hypothesis, len(b.hyps)*len(cands))
	order := make([]string, 0, len(b.hyps)*len(cands))
	for _, h := range b.hyps {
		for _, c := range cands {
			ext := hypothesis{seq: h.seq, last: c, logp: h.logp + row[c]}
			if c != b.cfg.BlankIndex && c != h.last {
				ext.seq = append(append(make([]int, 0, len(h.seq)+1), h.seq...), c)
			}
			k := ext.key()
			if prev, ok := next[k]; ok {
				prev.logp = logAdd(prev.logp, ext.logp)
				next[k] = prev
			} else {
				next[k] = ext
				order = append(order, k)
			}
		}
	}
	merged := make([]hypothesis, 0, len(order))
	for _, k := range order {
		merged = append(merged, next[k])
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].logp > merged[j].logp })
	if len(merged) > b.cfg.BeamWidth {
		merged = merged[:b.cfg.BeamWidth]
	}
	b.hyps = merged
}

// drainAgreed returns the newly agreed symbols: the common prefix of all
// live hypotheses past what was already emitted.
func (b *beam) drainAgreed() []int {
	agreed := len(b.hyps[0].seq)
	for _, h := range b.hyps[1:] {
		n := len(h.seq)
		if n < agreed {
			agreed = n
		}
		for i := b.emitted; i < agreed; i++ {
			if h.seq[i] != b.hyps[0].seq[i] {
				agreed = i
				break
			}
		}
	}
	if agreed <= b.emitted {
		return nil
	}
	out := append([]int(nil), b.hyps[0].seq[b.emitted:agreed]...)
	b.emitted = agreed
	return out
}

// topClasses returns the k most probable class indices of a time-step in
// descending probability order, always including the blank so paths can end
// a run of repeats. Ties resolve to the lower index, matching argmax.
func topClasses(row []float64, k int, blank int) []int {
	idx := make([]int, len(row))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, c int) bool { return row[idx[a]] > row[idx[c]] })
	if k > len(idx) {
		k = len(idx)
	}
	top := idx[:k]
	for _, c := range top {
		if c == blank {
			return top
		}
	}
	return append(append(make([]int, 0, k+1), top...), blank)
}

// logAdd computes log(exp(a)+exp(b)) without overflow.
func logAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if math.IsInf(b, -1) {
		return a
	}
	return a + math.Log1p(math.Exp(b-a))
}
