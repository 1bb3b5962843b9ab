// Package ctc implements incremental connectionist-temporal-classification
// decoding over streamed per-time-step posteriors.
//
// The heads deliver posteriors only for chunks whose look-ahead window is
// satisfied, so every time-step handed to a decoder here is already final.
// Decoders exploit that: symbols they emit are never retracted or altered by
// later pushes — the monotonic-finality guarantee live captioning callers
// depend on.
//
// Two decoders are provided: a greedy best-path decoder and a beam-search
// decoder over the CTC lattice. With beam_width=1 the beam decoder produces
// results identical to the greedy decoder.
package ctc

import (
	"errors"
	"fmt"

	"github.com/voxhollow/sibilant/internal/nn"
)

// ErrNonFinitePosterior is returned when a pushed posterior contains NaN or
// infinite values. The push is rejected atomically: decoder state and all
// previously finalized symbols are unaffected, so the caller can surface a
// per-chunk decode failure and continue with the next chunk.
var ErrNonFinitePosterior = errors.New("ctc: non-finite posterior")

// Config parameterises a CTC decoder.
type Config struct {
	// NumClasses is the posterior width, including the blank.
	NumClasses int

	// BlankIndex is the class index of the CTC blank. Read from
	// configuration (blank_at_zero), never assumed.
	BlankIndex int

	// BeamWidth is the number of concurrent hypotheses retained; 1 selects
	// the greedy best-path decoder.
	BeamWidth int
}

// Validate reports all configuration problems at once.
func (c Config) Validate() error {
	var errs []error
	if c.NumClasses < 2 {
		errs = append(errs, fmt.Errorf("num_classes %d must be at least 2", c.NumClasses))
	}
	if c.BlankIndex < 0 || c.BlankIndex >= c.NumClasses {
		errs = append(errs, fmt.Errorf("blank index %d out of range [0, %d)", c.BlankIndex, c.NumClasses))
	}
	if c.BeamWidth < 1 {
		errs = append(errs, fmt.Errorf("beam_width %d must be at least 1", c.BeamWidth))
	}
	return errors.Join(errs...)
}

// Decoder incrementally decodes a stream of finalized posteriors. Not safe
// for concurrent use; create one per head per session.
type Decoder interface {
	// Push extends the lattice with one chunk's log-probability rows and
	// returns the class indices newly finalized by this chunk, in order.
	Push(logProbs [][]float64) ([]int, error)

	// Finish ends the stream and returns any remaining symbols that were
	// held back pending hypothesis agreement.
	Finish() ([]int, error)
}

// New creates the decoder selected by cfg: greedy for beam_width 1, beam
// search otherwise.
func New(cfg Config) (Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ctc: invalid config: %w", err)
	}
	if cfg.BeamWidth == 1 {
		return newGreedy(cfg), nil
	}
	return newBeam(cfg), nil
}

// checkRows validates posterior shape and finiteness before any state is
// mutated, keeping failed pushes atomic.
func checkRows(cfg Config, logProbs [][]float64) error {
	for t, row := range logProbs {
		if len(row) != cfg.NumClasses {
			return fmt.Errorf("ctc: row %d has %d classes, want %d", t, len(row), cfg.NumClasses)
		}
		if !nn.IsFiniteRow(row) {
			return fmt.Errorf("ctc: row %d: %w", t, ErrNonFinitePosterior)
		}
	}
	return nil
}

// argmax returns the index of the largest value, preferring the lowest index
// on ties so greedy and beam decoding break ties identically.
func argmax(row []float64) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}
