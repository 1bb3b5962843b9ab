package nn

import "fmt"

// CausalConv1D is a depthwise 1-D convolution over the time axis with left-only
// (causal) padding. Each feature channel has its own kernel of KernelSize taps;
// the layer never reads future frames, so chunk boundaries are seamless as long
// as the caller carries the kernel_size−1 trailing frames of the previous chunk
// in a [ConvCache].
type CausalConv1D struct {
	dim        int
	kernelSize int
	w          []float64 // dim*kernelSize, kernel taps oldest-first per channel
	b          []float64 // dim
}

// NewCausalConv1D constructs a depthwise convolution fetching
// "<name>.weight" (dim × kernelSize) and "<name>.bias" (dim) from p.
func NewCausalConv1D(p Params, name string, dim, kernelSize int) (*CausalConv1D, error) {
	if kernelSize < 1 {
		return nil, fmt.Errorf("nn: conv %q kernel size %d < 1", name, kernelSize)
	}
	w, err := p.Tensor(name+".weight", dim, kernelSize)
	if err != nil {
		return nil, err
	}
	b, err := p.Tensor(name+".bias", dim)
	if err != nil {
		return nil, err
	}
	return &CausalConv1D{dim: dim, kernelSize: kernelSize, w: w, b: b}, nil
}

// KernelSize returns the number of taps per channel.
func (c *CausalConv1D) KernelSize() int { return c.kernelSize }

// ConvCache holds the trailing kernel_size−1 frames of the previous chunk for
// one convolution layer. The zero value means "true utterance start": missing
// history is read as zeros, which is what causal padding encodes.
type ConvCache struct {
	frames [][]float64
}

// Reset discards all cached history, returning the cache to utterance start.
func (cc *ConvCache) Reset() {
	cc.frames = nil
}

// Apply convolves the chunk rows, reading history from cache and updating it
// with the chunk's trailing frames so the next chunk continues seamlessly.
func (c *CausalConv1D) Apply(rows [][]float64, cache *ConvCache) [][]float64 {
	hist := cache.frames
	out := make([][]float64, len(rows))
	for t := range rows {
		y := make([]float64, c.dim)
		copy(y, c.b)
		for k := range c.kernelSize {
			// Tap k reads frame t-(kernelSize-1)+k; negative offsets fall
			// into the carried history, and beyond that into zero padding.
			off := t - (c.kernelSize - 1) + k
			var src []float64
			if off >= 0 {
				src = rows[off]
			} else if h := len(hist) + off; h >= 0 {
				src = hist[h]
			} else {
				continue // before utterance start
			}
			for d := range c.dim {
				y[d] += c.w[d*c.kernelSize+k] * src[d]
			}
		}
		out[t] = y
	}

	// Carry the trailing kernel_size-1 input frames (combined with whatever
	// history is needed when the chunk is shorter than the kernel).
	keep := c.kernelSize - 1
	combined := append(hist, rows...)
	if len(combined) > keep {
		combined = combined[len(combined)-keep:]
	}
	cache.frames = CloneRows(combined)
	return out
}
