// Package head implements the three neural stages fed by the windowed chunk
// encoder: the coarse CTC picker, the context helper, and the fine-grained
// CTC decoder. All three reuse the encoder's windowed block stack and differ
// only in configuration and output projection.
//
// The picker and helper run with win_back=0 so their output for chunk i is
// emittable the instant chunk i arrives. The decoder runs with a long
// look-ahead (win_back=8 in the production configuration) and compensates for
// the added latency by fusing the helper's zero-look-ahead ContextVector into
// each chunk before its block stack.
package head

import (
	"fmt"

	"github.com/voxhollow/sibilant/internal/nn"
)

// Posterior is the log-probability distribution over a head's classes for
// every reduced time-step of one finalized chunk.
type Posterior struct {
	// Index is the chunk number within the utterance.
	Index int

	// LogProbs holds one num_classes-wide log-probability row per time-step.
	LogProbs [][]float64
}

// classProjection projects hidden rows to per-class log-probabilities.
type classProjection struct {
	proj *nn.Linear
}

func newClassProjection(p nn.Params, name string, dmodel, numClasses int) (*classProjection, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("head: num_classes %d must be at least 2 (blank plus one symbol)", numClasses)
	}
	proj, err := nn.NewLinear(p, name, dmodel, numClasses)
	if err != nil {
		return nil, err
	}
	return &classProjection{proj: proj}, nil
}

func (c *classProjection) logProbs(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		logits := c.proj.Apply(r)
		nn.LogSoftmax(logits, logits)
		out[i] = logits
	}
	return out
}
