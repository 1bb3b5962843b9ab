package frontend

import "math"

// logFloor prevents log of zero on silent frames.
const logFloor = 1e-10

// melBank is a precomputed triangular mel filterbank mapping power-spectrum
// bins to mel-band energies.
type melBank struct {
	numBins int
	weights [][]float64 // numBins × (nfft/2+1)
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// newMelBank builds numBins triangular filters spanning [fMin, fMax] Hz over
// an nfft-point spectrum at the given sample rate.
func newMelBank(sampleRate, nfft, numBins int, fMin, fMax float64) *melBank {
	specBins := nfft/2 + 1
	melLo := hzToMel(fMin)
	melHi := hzToMel(fMax)

	// numBins+2 equally spaced mel points → filter edges and centers.
	points := make([]float64, numBins+2)
	for i := range points {
		mel := melLo + (melHi-melLo)*float64(i)/float64(numBins+1)
		points[i] = melToHz(mel) * float64(nfft) / float64(sampleRate)
	}

	weights := make([][]float64, numBins)
	for b := range numBins {
		w := make([]float64, specBins)
		left, center, right := points[b], points[b+1], points[b+2]
		for i := range specBins {
			f := float64(i)
			switch {
			case f > left && f < center:
				w[i] = (f - left) / (center - left)
			case f >= center && f < right:
				w[i] = (right - f) / (right - center)
			}
		}
		weights[b] = w
	}
	return &melBank{numBins: numBins, weights: weights}
}

// apply converts a power spectrum into log-mel energies.
func (m *melBank) apply(power []float64) []float64 {
	out := make([]float64, m.numBins)
	for b, w := range m.weights {
		var sum float64
		for i, p := range power {
			sum += w[i] * p
		}
		out[b] = math.Log(sum + logFloor)
	}
	return out
}
