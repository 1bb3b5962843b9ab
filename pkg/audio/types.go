package audio

import "time"

// Segment is a chunk of raw waveform flowing into the recognizer. Segments
// may be of arbitrary length — the feature front-end buffers partial frames
// across segments, so callers are free to deliver whatever increment their
// transport produces (network packets, 10 ms capture frames, whole files).
type Segment struct {
	// Samples holds mono waveform samples normalised to [-1, 1).
	Samples []float64

	// SampleRate in Hz (the recognizer operates at 16000).
	SampleRate int

	// Timestamp marks when this segment was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock span covered by the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}
