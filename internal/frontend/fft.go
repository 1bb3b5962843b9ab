package frontend

import "math"

// fft computes an in-place iterative radix-2 Cooley-Tukey FFT. The length of
// x must be a power of two.
func fft(x []complex128) {
	n := len(x)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wl := complex(math.Cos(ang), math.Sin(ang))
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			for k := range length / 2 {
				u := x[start+k]
				v := x[start+k+length/2] * w
				x[start+k] = u + v
				x[start+k+length/2] = u - v
				w *= wl
			}
		}
	}
}

// nextPow2 returns the smallest power of two ≥ n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// powerSpectrum returns |FFT(frame)|² for bins 0..nfft/2 of the zero-padded
// frame. nfft must be a power of two ≥ len(frame).
func powerSpectrum(frame []float64, nfft int) []float64 {
	buf := make([]complex128, nfft)
	for i, v := range frame {
		buf[i] = complex(v, 0)
	}
	fft(buf)
	out := make([]float64, nfft/2+1)
	for i := range out {
		re := real(buf[i])
		im := imag(buf[i])
		out[i] = re*re + im*im
	}
	return out
}
