package head

import (
	"fmt"

	"github.com/voxhollow/sibilant/internal/encoder"
	"github.com/voxhollow/sibilant/internal/nn"
)

// Fusion combines a chunk's hidden rows with the context helper's
// ContextVector before the decoder's block stack. Implementations must be
// deterministic and order-independent: fusing identical inputs always yields
// identical outputs, regardless of session interleaving.
//
// The fusion operator is a pluggable strategy because no single formula is
// canonical; [AddFusion] is the default.
type Fusion interface {
	Fuse(rows [][]float64, ctx []float64) [][]float64
}

// AddFusion adds a learned projection of the ContextVector to every hidden
// row of the chunk.
type AddFusion struct {
	proj *nn.Linear
}

// Compile-time interface check.
var _ Fusion = (*AddFusion)(nil)

// NewAddFusion constructs the additive fusion under "<name>".
func NewAddFusion(p nn.Params, name string, dmodel int) (*AddFusion, error) {
	proj, err := nn.NewLinear(p, name, dmodel, dmodel)
	if err != nil {
		return nil, err
	}
	return &AddFusion{proj: proj}, nil
}

// Fuse returns new rows with the projected context added to each.
func (f *AddFusion) Fuse(rows [][]float64, ctx []float64) [][]float64 {
	projected := f.proj.Apply(ctx)
	out := make([][]float64, len(rows))
	for i, r := range rows {
		y := make([]float64, len(r))
		copy(y, r)
		nn.AddTo(y, projected)
		out[i] = y
	}
	return out
}

// DecoderConfig parameterises the fine-grained CTC decoder head.
type DecoderConfig struct {
	// Stack configures the decoder's block stack; WinBack is typically 8.
	Stack encoder.StackConfig

	// NumClasses is the size of the token-level output distribution,
	// including the blank.
	NumClasses int
}

// Decoder is the deep CTC head. It consumes encoder chunks fused with the
// helper's ContextVector and emits token-level posteriors once each chunk's
// win_back look-ahead is satisfied (or the stream has ended).
type Decoder struct {
	stack *encoder.Stack
	in    *nn.Linear // dmodel -> dmodel input projection
	fuse  Fusion
	out   *classProjection
}

// NewDecoder constructs the decoder under the "decoder" parameter namespace
// with the given fusion strategy. A nil fusion gets the default [AddFusion].
func NewDecoder(p nn.Params, cfg DecoderConfig, fuse Fusion) (*Decoder, error) {
	stack, err := encoder.NewStack(p, "decoder", cfg.Stack)
	if err != nil {
		return nil, err
	}
	in, err := nn.NewLinear(p, "decoder.project", cfg.Stack.DModel, cfg.Stack.DModel)
	if err != nil {
		return nil, err
	}
	if fuse == nil {
		fuse, err = NewAddFusion(p, "decoder.fusion", cfg.Stack.DModel)
		if err != nil {
			return nil, err
		}
	}
	out, err := newClassProjection(p, "decoder.out", cfg.Stack.DModel, cfg.NumClasses)
	if err != nil {
		return nil, err
	}
	return &Decoder{stack: stack, in: in, fuse: fuse, out: out}, nil
}

// NewState creates per-utterance decoder state.
func (d *Decoder) NewState() *encoder.State { return d.stack.NewState() }

// LatencyChunks returns the decoder's worst-case emission delay in chunks.
func (d *Decoder) LatencyChunks() int { return d.stack.LatencyChunks() }

// Push consumes one finalized encoder chunk together with its ContextVector
// and returns posteriors for every chunk whose look-ahead is now satisfied —
// possibly none while the window fills.
func (d *Decoder) Push(st *encoder.State, chunk encoder.Chunk, ctx []float64) ([]Posterior, error) {
	if len(ctx) != d.stack.Config().DModel {
		return nil, fmt.Errorf("head: context vector width %d, want dmodel %d", len(ctx), d.stack.Config().DModel)
	}
	rows := d.in.ApplySeq(d.fuse.Fuse(chunk.Rows, ctx))
	emitted, err := d.stack.Push(st, rows)
	if err != nil {
		return nil, err
	}
	return d.posteriors(emitted), nil
}

// Flush drains the decoder's remaining look-ahead at end of stream.
func (d *Decoder) Flush(st *encoder.State) ([]Posterior, error) {
	emitted, err := d.stack.Flush(st)
	if err != nil {
		return nil, err
	}
	return d.posteriors(emitted), nil
}

func (d *Decoder) posteriors(chunks []encoder.Chunk) []Posterior {
	out := make([]Posterior, len(chunks))
	for i, c := range chunks {
		out[i] = Posterior{Index: c.Index, LogProbs: d.out.logProbs(c.Rows)}
	}
	return out
}
