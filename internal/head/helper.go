package head

import (
	"fmt"

	"github.com/voxhollow/sibilant/internal/encoder"
	"github.com/voxhollow/sibilant/internal/nn"
)

// HelperConfig parameterises the context helper.
type HelperConfig struct {
	// Stack configures the helper's block stack. WinBack must be zero — the
	// helper exists precisely to summarise content without look-ahead.
	Stack encoder.StackConfig
}

// Helper is the small encoder that turns the picker's hidden representation
// into a per-chunk ContextVector for the decoder. The vector compensates for
// the decoder's emission delay: it carries a zero-latency summary of coarse
// linguistic content the decoder's own window has not yet finalized.
type Helper struct {
	stack *encoder.Stack
	pool  *nn.Linear // dmodel -> dmodel summary projection
}

// NewHelper constructs the helper under the "helper" parameter namespace.
func NewHelper(p nn.Params, cfg HelperConfig) (*Helper, error) {
	if cfg.Stack.WinBack != 0 {
		return nil, fmt.Errorf("head: helper win_back must be 0, got %d", cfg.Stack.WinBack)
	}
	stack, err := encoder.NewStack(p, "helper", cfg.Stack)
	if err != nil {
		return nil, err
	}
	pool, err := nn.NewLinear(p, "helper.pool", cfg.Stack.DModel, cfg.Stack.DModel)
	if err != nil {
		return nil, err
	}
	return &Helper{stack: stack, pool: pool}, nil
}

// NewState creates per-utterance helper state.
func (h *Helper) NewState() *encoder.State { return h.stack.NewState() }

// Push consumes the picker's hidden states for one chunk and returns the
// chunk's ContextVector: the mean of the helper stack's output rows passed
// through the summary projection. The vector is returned to the caller and
// never cached here — it is the caller's job to hand it to the decoder as an
// explicit argument, which is what keeps sessions isolated and the two heads
// independently testable.
func (h *Helper) Push(st *encoder.State, hidden [][]float64) ([]float64, error) {
	emitted, err := h.stack.Push(st, hidden)
	if err != nil {
		return nil, err
	}
	if len(emitted) != 1 {
		return nil, fmt.Errorf("head: helper emitted %d chunks for one push, want 1", len(emitted))
	}
	dmodel := h.stack.Config().DModel
	return h.pool.Apply(nn.Mean(emitted[0].Rows, dmodel)), nil
}

// Flush terminates the helper's stack state.
func (h *Helper) Flush(st *encoder.State) error {
	_, err := h.stack.Flush(st)
	return err
}
