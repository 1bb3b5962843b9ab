// Package frontend converts raw waveform into the reduced log-mel feature
// frames the chunk encoder consumes.
//
// The extractor is streaming: it is called repeatedly with successive
// waveform segments of arbitrary length, buffers the partial tail of an
// unfinished analysis window across calls, and never emits a frame from an
// incomplete window. Raw 10 ms log-mel frames are stacked in groups of
// reduction_factor into one reduced frame whose width is
// num_feature_bins × reduction_factor, matching the model's time resolution.
//
// Extraction is fully deterministic for a given configuration — augmentation
// is an offline collaborator and never appears on this path.
package frontend

import (
	"fmt"
	"math"

	"github.com/voxhollow/sibilant/pkg/audio"
)

// Config parameterises the feature front-end.
type Config struct {
	// SampleRate is the expected waveform sample rate in Hz.
	SampleRate int

	// NumBins is the number of mel filterbank bins per raw frame.
	NumBins int

	// FrameMs is the analysis window length in milliseconds.
	FrameMs int

	// StrideMs is the hop between successive windows in milliseconds.
	StrideMs int

	// ReductionFactor is how many raw frames are stacked into one reduced
	// frame.
	ReductionFactor int
}

// Extractor is a streaming log-mel feature extractor. Not safe for
// concurrent use; create one per session.
type Extractor struct {
	cfg      Config
	frameLen int
	hop      int
	nfft     int
	window   []float64 // Hann window coefficients
	bank     *melBank

	// pending holds samples carried across Extract calls that do not yet
	// fill a complete analysis window.
	pending []float64

	// rawPending holds raw log-mel frames awaiting reduction stacking.
	rawPending [][]float64
}

// New creates an Extractor. Configuration errors fail here, never during
// extraction.
func New(cfg Config) (*Extractor, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("frontend: sample_rate %d must be positive", cfg.SampleRate)
	}
	if cfg.NumBins <= 0 {
		return nil, fmt.Errorf("frontend: num_feature_bins %d must be positive", cfg.NumBins)
	}
	if cfg.FrameMs <= 0 || cfg.StrideMs <= 0 {
		return nil, fmt.Errorf("frontend: frame_ms %d and stride_ms %d must be positive", cfg.FrameMs, cfg.StrideMs)
	}
	if cfg.StrideMs > cfg.FrameMs {
		return nil, fmt.Errorf("frontend: stride_ms %d exceeds frame_ms %d", cfg.StrideMs, cfg.FrameMs)
	}
	if cfg.ReductionFactor <= 0 {
		return nil, fmt.Errorf("frontend: reduction_factor %d must be positive", cfg.ReductionFactor)
	}

	frameLen := cfg.SampleRate * cfg.FrameMs / 1000
	hop := cfg.SampleRate * cfg.StrideMs / 1000
	nfft := nextPow2(frameLen)

	window := make([]float64, frameLen)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(frameLen-1))
	}

	fMax := float64(cfg.SampleRate) / 2
	return &Extractor{
		cfg:      cfg,
		frameLen: frameLen,
		hop:      hop,
		nfft:     nfft,
		window:   window,
		bank:     newMelBank(cfg.SampleRate, nfft, cfg.NumBins, 20, fMax),
	}, nil
}

// ReducedDim returns the width of one reduced feature frame.
func (e *Extractor) ReducedDim() int {
	return e.cfg.NumBins * e.cfg.ReductionFactor
}

// Extract consumes a waveform segment and returns zero or more complete
// reduced frames. Segments shorter than one hop are buffered — underflow is
// never an error. The segment's sample rate must match the configured rate.
func (e *Extractor) Extract(seg audio.Segment) ([][]float64, error) {
	if seg.SampleRate != e.cfg.SampleRate {
		return nil, fmt.Errorf("frontend: segment sample rate %d, configured %d", seg.SampleRate, e.cfg.SampleRate)
	}

	e.pending = append(e.pending, seg.Samples...)

	var reduced [][]float64
	for len(e.pending) >= e.frameLen {
		raw := e.rawFrame(e.pending[:e.frameLen])
		e.pending = e.pending[e.hop:]

		e.rawPending = append(e.rawPending, raw)
		if len(e.rawPending) == e.cfg.ReductionFactor {
			reduced = append(reduced, e.stack())
		}
	}
	return reduced, nil
}

// Reset discards all buffered samples and partial frames, returning the
// extractor to stream start.
func (e *Extractor) Reset() {
	e.pending = nil
	e.rawPending = nil
}

// rawFrame computes one log-mel frame from a full analysis window.
func (e *Extractor) rawFrame(samples []float64) []float64 {
	buf := make([]float64, e.frameLen)
	for i, v := range samples {
		buf[i] = v * e.window[i]
	}
	return e.bank.apply(powerSpectrum(buf, e.nfft))
}

// stack concatenates the pending raw frames into one reduced frame.
func (e *Extractor) stack() []float64 {
	out := make([]float64, 0, e.ReducedDim())
	for _, f := range e.rawPending {
		out = append(out, f...)
	}
	e.rawPending = e.rawPending[:0]
	return out
}
