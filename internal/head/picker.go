package head

import (
	"fmt"

	"github.com/voxhollow/sibilant/internal/encoder"
	"github.com/voxhollow/sibilant/internal/nn"
)

// PickerConfig parameterises the coarse CTC picker head.
type PickerConfig struct {
	// Stack configures the picker's block stack. WinBack must be zero: the
	// picker is the early-hypothesis head and may not add look-ahead latency.
	Stack encoder.StackConfig

	// NumClasses is the size of the coarse (syllable-level) output
	// distribution, including the blank.
	NumClasses int
}

// PickerOutput is the picker's result for one chunk: the hidden states that
// feed the context helper, and the coarse posterior stream.
type PickerOutput struct {
	Index    int
	Hidden   [][]float64
	LogProbs [][]float64
}

// Picker is the shallow, zero-look-ahead CTC head. Read-only after
// construction; per-utterance state lives in an [encoder.State].
type Picker struct {
	stack *encoder.Stack
	out   *classProjection
}

// NewPicker constructs the picker under the "picker" parameter namespace.
func NewPicker(p nn.Params, cfg PickerConfig) (*Picker, error) {
	if cfg.Stack.WinBack != 0 {
		return nil, fmt.Errorf("head: picker win_back must be 0, got %d", cfg.Stack.WinBack)
	}
	stack, err := encoder.NewStack(p, "picker", cfg.Stack)
	if err != nil {
		return nil, err
	}
	out, err := newClassProjection(p, "picker.out", cfg.Stack.DModel, cfg.NumClasses)
	if err != nil {
		return nil, err
	}
	return &Picker{stack: stack, out: out}, nil
}

// NewState creates per-utterance picker state.
func (pk *Picker) NewState() *encoder.State { return pk.stack.NewState() }

// Push consumes one finalized encoder chunk. With win_back=0 the stack emits
// the chunk immediately, so exactly one output is returned per push.
func (pk *Picker) Push(st *encoder.State, chunk encoder.Chunk) (PickerOutput, error) {
	emitted, err := pk.stack.Push(st, chunk.Rows)
	if err != nil {
		return PickerOutput{}, err
	}
	if len(emitted) != 1 {
		return PickerOutput{}, fmt.Errorf("head: picker emitted %d chunks for one push, want 1", len(emitted))
	}
	c := emitted[0]
	return PickerOutput{
		Index:    c.Index,
		Hidden:   c.Rows,
		LogProbs: pk.out.logProbs(c.Rows),
	}, nil
}

// Flush terminates the picker's stack state. With win_back=0 nothing is
// pending, so no outputs are produced.
func (pk *Picker) Flush(st *encoder.State) error {
	_, err := pk.stack.Flush(st)
	return err
}
