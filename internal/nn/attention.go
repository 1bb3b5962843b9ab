package nn

import (
	"fmt"
	"math"
)

// MultiHeadAttention is scaled dot-product attention with NumHeads heads of
// HeadSize width each. Queries, keys, and values are projected from the model
// width; the concatenated head outputs are projected back to the model width.
//
// The layer itself is window-agnostic: callers pass the query frames of the
// current chunk and the key/value frames of whatever bounded window they own.
// Restricting the window is how the encoder enforces its look-back/look-ahead
// bounds — the layer never sees frames outside what it is handed.
type MultiHeadAttention struct {
	dmodel   int
	numHeads int
	headSize int
	wq       *Linear // dmodel -> numHeads*headSize
	wk       *Linear
	wv       *Linear
	wo       *Linear // numHeads*headSize -> dmodel
}

// NewMultiHeadAttention constructs an attention layer fetching the four
// projection tensors "<name>.{query,key,value,output}.{weight,bias}" from p.
func NewMultiHeadAttention(p Params, name string, dmodel, numHeads, headSize int) (*MultiHeadAttention, error) {
	if numHeads < 1 || headSize < 1 {
		return nil, fmt.Errorf("nn: attention %q: num_heads %d and head_size %d must be positive", name, numHeads, headSize)
	}
	proj := numHeads * headSize
	wq, err := NewLinear(p, name+".query", dmodel, proj)
	if err != nil {
		return nil, err
	}
	wk, err := NewLinear(p, name+".key", dmodel, proj)
	if err != nil {
		return nil, err
	}
	wv, err := NewLinear(p, name+".value", dmodel, proj)
	if err != nil {
		return nil, err
	}
	wo, err := NewLinear(p, name+".output", proj, dmodel)
	if err != nil {
		return nil, err
	}
	return &MultiHeadAttention{
		dmodel:   dmodel,
		numHeads: numHeads,
		headSize: headSize,
		wq:       wq,
		wk:       wk,
		wv:       wv,
		wo:       wo,
	}, nil
}

// Apply attends each query frame over all context frames and returns one
// output frame per query. Context must contain at least one frame.
func (a *MultiHeadAttention) Apply(queries, context [][]float64) ([][]float64, error) {
	if len(context) == 0 {
		return nil, fmt.Errorf("nn: attention context is empty")
	}

	q := a.wq.ApplySeq(queries)
	k := a.wk.ApplySeq(context)
	v := a.wv.ApplySeq(context)

	scale := 1 / math.Sqrt(float64(a.headSize))
	out := make([][]float64, len(queries))
	scores := make([]float64, len(context))

	for qi := range q {
		concat := make([]float64, a.numHeads*a.headSize)
		for h := range a.numHeads {
			lo := h * a.headSize
			hi := lo + a.headSize

			for ci := range k {
				var dot float64
				qh := q[qi][lo:hi]
				kh := k[ci][lo:hi]
				for i := range qh {
					dot += qh[i] * kh[i]
				}
				scores[ci] = dot * scale
			}
			Softmax(scores, scores)

			head := concat[lo:hi]
			for ci, w := range scores {
				vh := v[ci][lo:hi]
				for i := range head {
					head[i] += w * vh[i]
				}
			}
		}
		out[qi] = a.wo.Apply(concat)
	}
	return out, nil
}
