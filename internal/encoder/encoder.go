package encoder

import (
	"fmt"

	"github.com/voxhollow/sibilant/internal/nn"
)

// Config parameterises the top-level windowed chunk encoder.
type Config struct {
	// InputDim is the width of one reduced feature frame
	// (num_feature_bins × reduction_factor).
	InputDim int

	// Stack configures the block stack.
	Stack StackConfig
}

// Encoder is the windowed chunk encoder: a subsampling projection from
// reduced feature frames to the model width, followed by a windowed block
// stack. Read-only after construction and safe to share across sessions.
type Encoder struct {
	proj  *nn.Linear
	stack *Stack
}

// New constructs the encoder, fetching the projection under
// "encoder.subsample" and block parameters under "encoder.block<i>".
func New(p nn.Params, cfg Config) (*Encoder, error) {
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("encoder: input dim %d must be positive", cfg.InputDim)
	}
	stack, err := NewStack(p, "encoder", cfg.Stack)
	if err != nil {
		return nil, err
	}
	proj, err := nn.NewLinear(p, "encoder.subsample", cfg.InputDim, cfg.Stack.DModel)
	if err != nil {
		return nil, err
	}
	return &Encoder{proj: proj, stack: stack}, nil
}

// NewState creates per-utterance state.
func (e *Encoder) NewState() *State { return e.stack.NewState() }

// Push projects the chunk's reduced feature frames to the model width and
// feeds them through the block stack, returning any finalized chunks.
func (e *Encoder) Push(st *State, frames [][]float64) ([]Chunk, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("encoder: empty chunk")
	}
	return e.stack.Push(st, e.proj.ApplySeq(frames))
}

// Flush drains the stack at end of stream with truncated look-ahead.
func (e *Encoder) Flush(st *State) ([]Chunk, error) {
	return e.stack.Flush(st)
}

// LatencyChunks returns the encoder's worst-case emission delay in chunks.
func (e *Encoder) LatencyChunks() int { return e.stack.LatencyChunks() }
