// Package nn implements the small set of neural-network primitives the
// recognizer's chunked-attention blocks are built from: dense layers, layer
// normalisation, causal depthwise convolution, and multi-head attention.
//
// All primitives operate on sequences represented as [][]float64 (frames ×
// features) and are read-only after construction, so a single parameter set
// is safely shared across concurrent sessions. Weights are opaque,
// already-trained parameters supplied through the [Params] interface — either
// loaded from a tensor file ([FileParams]) or deterministically initialised
// for tests and development ([RandomParams]).
//
// There is intentionally no training support here: no gradients, no
// optimiser state, no weight mutation.
package nn

import (
	"fmt"
	"math"
)

// Swish applies x·sigmoid(x) in place and returns the slice.
func Swish(x []float64) []float64 {
	for i, v := range x {
		x[i] = v * Sigmoid(v)
	}
	return x
}

// Sigmoid returns 1/(1+e^-x).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// GLU applies a gated linear unit to x, which must have even length: the
// first half is gated by the sigmoid of the second half. Returns a new slice
// of half the input length.
func GLU(x []float64) ([]float64, error) {
	if len(x)%2 != 0 {
		return nil, fmt.Errorf("nn: glu input length %d is odd", len(x))
	}
	half := len(x) / 2
	out := make([]float64, half)
	for i := range out {
		out[i] = x[i] * Sigmoid(x[half+i])
	}
	return out, nil
}

// Softmax writes the softmax of logits into out (which may alias logits).
// Uses the max-subtraction trick for numerical stability.
func Softmax(logits, out []float64) {
	maxv := math.Inf(-1)
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(v - maxv)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
}

// LogSoftmax writes log-softmax of logits into out (which may alias logits).
func LogSoftmax(logits, out []float64) {
	maxv := math.Inf(-1)
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(v - maxv)
	}
	lse := maxv + math.Log(sum)
	for i, v := range logits {
		out[i] = v - lse
	}
}

// AddTo adds src into dst element-wise. Panics if lengths differ — callers
// control both sides and a mismatch is a programming error.
func AddTo(dst, src []float64) {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("nn: add length mismatch %d != %d", len(dst), len(src)))
	}
	for i, v := range src {
		dst[i] += v
	}
}

// AddScaled adds scale·src into dst element-wise.
func AddScaled(dst, src []float64, scale float64) {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("nn: add length mismatch %d != %d", len(dst), len(src)))
	}
	for i, v := range src {
		dst[i] += scale * v
	}
}

// Mean returns the element-wise mean of the given rows. Returns a zero
// vector of the given width when rows is empty.
func Mean(rows [][]float64, width int) []float64 {
	out := make([]float64, width)
	if len(rows) == 0 {
		return out
	}
	for _, r := range rows {
		AddTo(out, r)
	}
	inv := 1 / float64(len(rows))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// CloneRows deep-copies a frame sequence.
func CloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = make([]float64, len(r))
		copy(out[i], r)
	}
	return out
}

// IsFiniteRow reports whether every element of row is finite.
func IsFiniteRow(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
