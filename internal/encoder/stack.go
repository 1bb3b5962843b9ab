// Package encoder implements the windowed chunk encoder: a stack of causal
// convolution + self-attention blocks operating over a bounded sliding window
// of past and future chunks.
//
// The same windowed-block primitive ([Stack]) backs all four neural stages of
// the pipeline — the main encoder, the CTC picker, the context helper, and
// the CTC decoder differ only in configuration (block count and window
// shape). A Stack holds read-only parameters and is shared across sessions;
// each utterance owns a private [State] carrying the window buffers,
// convolution caches, and lifecycle phase.
//
// Look-ahead cascades: a block may finalize chunk i only once the block below
// has produced chunks up to i+win_back, so a stack's worst-case emission
// delay is win_back × num_blocks chunks. When the stream ends, [Stack.Flush]
// drains every block with whatever truncated look-ahead remains — proceeding
// without the missing future chunks is a correctness requirement, not an
// optimisation.
package encoder

import (
	"errors"
	"fmt"

	"github.com/voxhollow/sibilant/internal/nn"
)

// ErrFlushed is returned when pushing a chunk into a stack that has already
// been flushed.
var ErrFlushed = errors.New("encoder: stack already flushed")

// StackConfig parameterises one windowed block stack.
type StackConfig struct {
	// DModel is the hidden width carried through all blocks. Must be a
	// positive multiple of 8.
	DModel int

	// NumBlocks is the number of stacked blocks.
	NumBlocks int

	// HeadSize and NumHeads define the attention projection width.
	HeadSize int
	NumHeads int

	// KernelSize is the causal convolution tap count.
	KernelSize int

	// FCFactor is the macaron feed-forward residual weighting.
	FCFactor float64

	// Dropout is accepted for configuration compatibility; inference always
	// runs with dropout 0, so only the range is validated.
	Dropout float64

	// WinFront is the number of past chunks attention may reference.
	WinFront int

	// WinBack is the number of future chunks attention waits for before
	// finalizing a chunk. Zero means chunks are emittable the instant they
	// arrive.
	WinBack int
}

// Validate reports all configuration problems at once. Construction-time
// validation is what keeps inference free of config failures.
func (c StackConfig) Validate() error {
	var errs []error
	if c.DModel <= 0 || c.DModel%8 != 0 {
		errs = append(errs, fmt.Errorf("dmodel %d must be a positive multiple of 8", c.DModel))
	}
	if c.NumBlocks < 1 {
		errs = append(errs, fmt.Errorf("num_blocks %d must be at least 1", c.NumBlocks))
	}
	if c.HeadSize < 1 {
		errs = append(errs, fmt.Errorf("head_size %d must be at least 1", c.HeadSize))
	}
	if c.NumHeads < 1 {
		errs = append(errs, fmt.Errorf("num_heads %d must be at least 1", c.NumHeads))
	}
	if c.KernelSize < 1 {
		errs = append(errs, fmt.Errorf("kernel_size %d must be at least 1", c.KernelSize))
	}
	if c.FCFactor <= 0 || c.FCFactor > 1 {
		errs = append(errs, fmt.Errorf("fc_factor %v must be in (0, 1]", c.FCFactor))
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		errs = append(errs, fmt.Errorf("dropout %v must be in [0, 1)", c.Dropout))
	}
	if c.WinFront < 0 {
		errs = append(errs, fmt.Errorf("win_front %d must not be negative", c.WinFront))
	}
	if c.WinBack < 0 {
		errs = append(errs, fmt.Errorf("win_back %d must not be negative", c.WinBack))
	}
	return errors.Join(errs...)
}

// Chunk is one finalized chunk of hidden states emitted by a stack.
type Chunk struct {
	// Index is the monotonic chunk number within the utterance.
	Index int

	// Rows holds one hidden vector per reduced time-step in the chunk.
	Rows [][]float64
}

// Stack is a read-only stack of windowed blocks. Safe for concurrent use
// across sessions; all mutable state lives in [State].
type Stack struct {
	cfg    StackConfig
	blocks []*Block
}

// NewStack constructs a stack fetching parameters under "<name>.block<i>"
// from p. The configuration is validated first; invalid configuration never
// reaches inference.
func NewStack(p nn.Params, name string, cfg StackConfig) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("encoder: invalid %s config: %w", name, err)
	}
	blocks := make([]*Block, cfg.NumBlocks)
	for i := range blocks {
		b, err := newBlock(p, fmt.Sprintf("%s.block%d", name, i), cfg)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return &Stack{cfg: cfg, blocks: blocks}, nil
}

// Config returns the stack's configuration.
func (s *Stack) Config() StackConfig { return s.cfg }

// LatencyChunks returns the worst-case emission delay in chunks:
// win_back × num_blocks.
func (s *Stack) LatencyChunks() int {
	return s.cfg.WinBack * s.cfg.NumBlocks
}

// State is the per-utterance mutable state of a stack: one window buffer and
// convolution cache per block, plus the lifecycle phase. Created at session
// start, mutated chunk by chunk, discarded at utterance end. Not safe for
// concurrent use.
type State struct {
	phase  Phase
	pushed int
	blocks []*blockState
}

// NewState creates fresh per-utterance state for this stack.
func (s *Stack) NewState() *State {
	st := &State{blocks: make([]*blockState, len(s.blocks))}
	for i, b := range s.blocks {
		st.blocks[i] = b.newState()
	}
	return st
}

// Phase returns the current lifecycle phase.
func (st *State) Phase() Phase { return st.phase }

// Pushed returns how many chunks have been pushed so far.
func (st *State) Pushed() int { return st.pushed }

// Push feeds the next chunk of input rows through the stack and returns any
// chunks whose look-ahead requirement is now satisfied at every level, in
// index order. Chunks are processed exactly once and in order; the caller
// enforces submission order.
func (s *Stack) Push(st *State, rows [][]float64) ([]Chunk, error) {
	if st.phase == PhaseFlushing {
		return nil, ErrFlushed
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("encoder: empty chunk")
	}
	if st.phase == PhaseEmpty {
		if err := transition(&st.phase, PhaseWarming); err != nil {
			return nil, err
		}
	}

	in := &Chunk{Index: st.pushed, Rows: rows}
	st.pushed++

	if st.phase == PhaseWarming && st.pushed > s.cfg.WinFront {
		if err := transition(&st.phase, PhaseSteady); err != nil {
			return nil, err
		}
	}
	return s.feed(st, 0, in, false)
}

// Flush signals end-of-stream and drains every block using whatever
// look-ahead is still available. The stack must not be pushed afterwards.
func (s *Stack) Flush(st *State) ([]Chunk, error) {
	if st.phase == PhaseFlushing {
		return nil, ErrFlushed
	}
	if err := transition(&st.phase, PhaseFlushing); err != nil {
		return nil, err
	}

	var out []Chunk
	for level := range s.blocks {
		chunks, err := s.feed(st, level, nil, true)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

// feed delivers an optional input chunk to the given level and cascades every
// chunk that becomes emittable up through the remaining levels.
func (s *Stack) feed(st *State, level int, in *Chunk, flushing bool) ([]Chunk, error) {
	if level == len(s.blocks) {
		if in == nil {
			return nil, nil
		}
		return []Chunk{*in}, nil
	}

	blk := s.blocks[level]
	bst := st.blocks[level]
	if in != nil {
		if err := blk.ingest(bst, in.Index, in.Rows); err != nil {
			return nil, err
		}
	}

	var out []Chunk
	for blk.ready(bst, flushing) {
		emitted, err := blk.emit(bst)
		if err != nil {
			return nil, err
		}
		above, err := s.feed(st, level+1, &emitted, flushing)
		if err != nil {
			return nil, err
		}
		out = append(out, above...)
	}
	return out, nil
}
