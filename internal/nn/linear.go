package nn

import (
	"fmt"
	"math"
)

// Linear is a dense layer y = Wx + b with W stored row-major (out × in).
// Read-only after construction.
type Linear struct {
	in, out int
	w       []float64 // out*in, row-major
	b       []float64 // out
}

// NewLinear constructs a dense layer fetching "<name>.weight" (out × in) and
// "<name>.bias" (out) from p.
func NewLinear(p Params, name string, in, out int) (*Linear, error) {
	w, err := p.Tensor(name+".weight", out, in)
	if err != nil {
		return nil, err
	}
	b, err := p.Tensor(name+".bias", out)
	if err != nil {
		return nil, err
	}
	return &Linear{in: in, out: out, w: w, b: b}, nil
}

// In returns the input width.
func (l *Linear) In() int { return l.in }

// Out returns the output width.
func (l *Linear) Out() int { return l.out }

// Apply computes Wx + b for a single vector.
func (l *Linear) Apply(x []float64) []float64 {
	if len(x) != l.in {
		panic(fmt.Sprintf("nn: linear input width %d, want %d", len(x), l.in))
	}
	y := make([]float64, l.out)
	for o := range l.out {
		row := l.w[o*l.in : (o+1)*l.in]
		sum := l.b[o]
		for i, v := range x {
			sum += row[i] * v
		}
		y[o] = sum
	}
	return y
}

// ApplySeq applies the layer to every row of a frame sequence.
func (l *Linear) ApplySeq(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = l.Apply(r)
	}
	return out
}

// LayerNorm normalises each frame to zero mean and unit variance, then
// applies a learned per-feature scale and shift.
type LayerNorm struct {
	dim   int
	gamma []float64
	beta  []float64
	eps   float64
}

// NewLayerNorm constructs a layer-norm fetching "<name>.gamma" and
// "<name>.beta" (both dim-wide) from p.
func NewLayerNorm(p Params, name string, dim int) (*LayerNorm, error) {
	gamma, err := p.Tensor(name+".gamma", dim)
	if err != nil {
		return nil, err
	}
	beta, err := p.Tensor(name+".beta", dim)
	if err != nil {
		return nil, err
	}
	return &LayerNorm{dim: dim, gamma: gamma, beta: beta, eps: 1e-6}, nil
}

// Apply normalises a single frame into a new slice.
func (n *LayerNorm) Apply(x []float64) []float64 {
	if len(x) != n.dim {
		panic(fmt.Sprintf("nn: layernorm input width %d, want %d", len(x), n.dim))
	}
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(n.dim)
	var variance float64
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n.dim)

	inv := 1 / math.Sqrt(variance+n.eps)
	y := make([]float64, n.dim)
	for i, v := range x {
		y[i] = (v-mean)*inv*n.gamma[i] + n.beta[i]
	}
	return y
}

// ApplySeq normalises every row of a frame sequence.
func (n *LayerNorm) ApplySeq(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = n.Apply(r)
	}
	return out
}
