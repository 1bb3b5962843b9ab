package encoder

import (
	"fmt"

	"github.com/voxhollow/sibilant/internal/nn"
)

// feedForward is the macaron-style feed-forward sub-layer: LN → 4× expansion
// → swish → projection back, added to the residual with a half-step
// fc_factor weighting.
type feedForward struct {
	ln       *nn.LayerNorm
	w1       *nn.Linear // dmodel -> 4*dmodel
	w2       *nn.Linear // 4*dmodel -> dmodel
	fcFactor float64
}

func newFeedForward(p nn.Params, name string, dmodel int, fcFactor float64) (*feedForward, error) {
	ln, err := nn.NewLayerNorm(p, name+".ln", dmodel)
	if err != nil {
		return nil, err
	}
	w1, err := nn.NewLinear(p, name+".w1", dmodel, 4*dmodel)
	if err != nil {
		return nil, err
	}
	w2, err := nn.NewLinear(p, name+".w2", 4*dmodel, dmodel)
	if err != nil {
		return nil, err
	}
	return &feedForward{ln: ln, w1: w1, w2: w2, fcFactor: fcFactor}, nil
}

func (f *feedForward) apply(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		h := f.w2.Apply(nn.Swish(f.w1.Apply(f.ln.Apply(r))))
		y := make([]float64, len(r))
		copy(y, r)
		nn.AddScaled(y, h, f.fcFactor)
		out[i] = y
	}
	return out
}

// convModule is the convolution sub-layer: LN → pointwise 2× expansion → GLU
// → causal depthwise conv → post-norm → swish → pointwise projection, with a
// squeeze-excitation gate over the result before the residual add.
type convModule struct {
	dmodel int
	ln     *nn.LayerNorm
	pw1    *nn.Linear // dmodel -> 2*dmodel
	dw     *nn.CausalConv1D
	postLN *nn.LayerNorm
	pw2    *nn.Linear // dmodel -> dmodel
	se1    *nn.Linear // dmodel -> dmodel/8
	se2    *nn.Linear // dmodel/8 -> dmodel
}

func newConvModule(p nn.Params, name string, dmodel, kernelSize int) (*convModule, error) {
	if dmodel%8 != 0 {
		return nil, fmt.Errorf("encoder: dmodel %d must be a multiple of 8 for the squeeze-excitation gate", dmodel)
	}
	ln, err := nn.NewLayerNorm(p, name+".ln", dmodel)
	if err != nil {
		return nil, err
	}
	pw1, err := nn.NewLinear(p, name+".pw1", dmodel, 2*dmodel)
	if err != nil {
		return nil, err
	}
	dw, err := nn.NewCausalConv1D(p, name+".dw", dmodel, kernelSize)
	if err != nil {
		return nil, err
	}
	postLN, err := nn.NewLayerNorm(p, name+".post_ln", dmodel)
	if err != nil {
		return nil, err
	}
	pw2, err := nn.NewLinear(p, name+".pw2", dmodel, dmodel)
	if err != nil {
		return nil, err
	}
	se1, err := nn.NewLinear(p, name+".se1", dmodel, dmodel/8)
	if err != nil {
		return nil, err
	}
	se2, err := nn.NewLinear(p, name+".se2", dmodel/8, dmodel)
	if err != nil {
		return nil, err
	}
	return &convModule{
		dmodel: dmodel,
		ln:     ln,
		pw1:    pw1,
		dw:     dw,
		postLN: postLN,
		pw2:    pw2,
		se1:    se1,
		se2:    se2,
	}, nil
}

func (c *convModule) apply(rows [][]float64, cache *nn.ConvCache) ([][]float64, error) {
	gated := make([][]float64, len(rows))
	for i, r := range rows {
		g, err := nn.GLU(c.pw1.Apply(c.ln.Apply(r)))
		if err != nil {
			return nil, err
		}
		gated[i] = g
	}

	conved := c.dw.Apply(gated, cache)

	out := make([][]float64, len(rows))
	for i, r := range conved {
		h := c.pw2.Apply(nn.Swish(c.postLN.Apply(r)))
		y := make([]float64, c.dmodel)
		copy(y, rows[i])
		nn.AddTo(y, h)
		out[i] = y
	}

	// Squeeze-excitation: gate every frame by a sigmoid vector computed from
	// the chunk-mean activation.
	se := nn.Mean(out, c.dmodel)
	se = nn.Swish(c.se1.Apply(se))
	se = nn.Swish(c.se2.Apply(se))
	for i := range se {
		se[i] = nn.Sigmoid(se[i])
	}
	for _, r := range out {
		for i := range r {
			r[i] *= se[i]
		}
	}
	return out, nil
}

// Block is one chunked self-attention block: FF (half-step) → windowed MHSA
// → conv+SE → FF (half-step) → LN. Parameters are read-only after
// construction; all per-utterance mutable state lives in [blockState].
type Block struct {
	dmodel   int
	winFront int
	winBack  int
	ff1      *feedForward
	ff2      *feedForward
	attLN    *nn.LayerNorm
	att      *nn.MultiHeadAttention
	conv     *convModule
	finalLN  *nn.LayerNorm
}

func newBlock(p nn.Params, name string, cfg StackConfig) (*Block, error) {
	ff1, err := newFeedForward(p, name+".ff1", cfg.DModel, cfg.FCFactor)
	if err != nil {
		return nil, err
	}
	attLN, err := nn.NewLayerNorm(p, name+".att_ln", cfg.DModel)
	if err != nil {
		return nil, err
	}
	att, err := nn.NewMultiHeadAttention(p, name+".att", cfg.DModel, cfg.NumHeads, cfg.HeadSize)
	if err != nil {
		return nil, err
	}
	conv, err := newConvModule(p, name+".conv", cfg.DModel, cfg.KernelSize)
	if err != nil {
		return nil, err
	}
	ff2, err := newFeedForward(p, name+".ff2", cfg.DModel, cfg.FCFactor)
	if err != nil {
		return nil, err
	}
	finalLN, err := nn.NewLayerNorm(p, name+".final_ln", cfg.DModel)
	if err != nil {
		return nil, err
	}
	return &Block{
		dmodel:   cfg.DModel,
		winFront: cfg.WinFront,
		winBack:  cfg.WinBack,
		ff1:      ff1,
		ff2:      ff2,
		attLN:    attLN,
		att:      att,
		conv:     conv,
		finalLN:  finalLN,
	}, nil
}

// blockState is the per-utterance mutable state of one block: the attention
// window ring, the convolution cache, and the emit cursor.
type blockState struct {
	win    *windowRing
	conv   nn.ConvCache
	cursor int // next chunk index to emit
}

func (b *Block) newState() *blockState {
	return &blockState{win: newWindowRing(b.winFront + 1 + b.winBack)}
}

// ingest runs the first feed-forward sub-layer on the incoming chunk and
// stores the result in the window ring. Attention context is built from
// these cached representations.
func (b *Block) ingest(st *blockState, idx int, rows [][]float64) error {
	return st.win.push(idx, b.ff1.apply(rows))
}

// ready reports whether the chunk at the emit cursor can be finalized:
// either its full look-ahead has arrived, or the stream has ended and the
// block must proceed with whatever is available rather than stall.
func (b *Block) ready(st *blockState, flushing bool) bool {
	latest := st.win.latest()
	if st.cursor > latest {
		return false
	}
	if flushing {
		return true
	}
	return latest >= st.cursor+b.winBack
}

// emit finalizes the chunk at the cursor: windowed attention over
// [cursor−win_front, cursor+win_back] (truncated to what the ring holds),
// then conv, the second feed-forward, and the final layer norm.
func (b *Block) emit(st *blockState) (Chunk, error) {
	i := st.cursor
	q, ok := st.win.get(i)
	if !ok {
		return Chunk{}, fmt.Errorf("encoder: chunk %d not available for emission", i)
	}
	context := st.win.contextRows(i-b.winFront, i+b.winBack)

	attOut, err := b.att.Apply(b.attLN.ApplySeq(q), b.attLN.ApplySeq(context))
	if err != nil {
		return Chunk{}, err
	}
	x := make([][]float64, len(q))
	for t, r := range q {
		y := make([]float64, b.dmodel)
		copy(y, r)
		nn.AddTo(y, attOut[t])
		x[t] = y
	}

	x, err = b.conv.apply(x, &st.conv)
	if err != nil {
		return Chunk{}, err
	}
	x = b.ff2.apply(x)
	x = b.finalLN.ApplySeq(x)

	st.cursor++
	return Chunk{Index: i, Rows: x}, nil
}
