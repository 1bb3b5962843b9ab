// Package session owns the per-utterance streaming state of the recognizer
// and the sequencing between its stages.
//
// A [Recognizer] bundles the trained model: feature front-end configuration,
// the windowed chunk encoder, the three heads, vocabulary tables, and CTC
// decode settings. It is read-only after construction and shared by any
// number of concurrent [Session] values. A Session owns everything mutable —
// feature buffers, per-block window rings, CTC hypothesis sets, the running
// transcript — so two sessions never touch shared mutable state and one
// session's failure cannot leak into another.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxhollow/sibilant/internal/ctc"
	"github.com/voxhollow/sibilant/internal/encoder"
	"github.com/voxhollow/sibilant/internal/frontend"
	"github.com/voxhollow/sibilant/internal/head"
	"github.com/voxhollow/sibilant/internal/nn"
	"github.com/voxhollow/sibilant/internal/observe"
	"github.com/voxhollow/sibilant/internal/vocab"
)

// MinChunkFrames is the smallest usable chunk length in reduced feature
// frames. Below this the decoder's attention windows carry too little signal
// for the trained model to be meaningful.
const MinChunkFrames = 14

// DecodeConfig holds the per-head CTC decode settings.
type DecodeConfig struct {
	// BeamWidth selects greedy decoding (1) or beam search (>1).
	BeamWidth int

	// BlankAtZero places the CTC blank at class 0 when true, at the last
	// class otherwise.
	BlankAtZero bool
}

// blankIndex resolves the blank class index for a head with n classes.
func (d DecodeConfig) blankIndex(n int) int {
	if d.BlankAtZero {
		return 0
	}
	return n - 1
}

// Config assembles the full model configuration. All values are read at
// construction and never mutated mid-session.
type Config struct {
	// Frontend configures feature extraction.
	Frontend frontend.Config

	// ChunkNum is the number of reduced feature frames per encoder chunk.
	ChunkNum int

	// Encoder configures the shared windowed chunk encoder.
	Encoder encoder.Config

	// Picker configures the coarse head (win_back must be 0).
	Picker head.PickerConfig

	// Helper configures the context helper (win_back must be 0).
	Helper head.HelperConfig

	// Decoder configures the fine-grained head.
	Decoder head.DecoderConfig

	// PickerDecode and DecoderDecode are the per-head CTC settings.
	PickerDecode  DecodeConfig
	DecoderDecode DecodeConfig
}

// Recognizer is the shared, immutable model. Safe for concurrent use.
type Recognizer struct {
	cfg Config

	enc    *encoder.Encoder
	picker *head.Picker
	helper *head.Helper
	dec    *head.Decoder

	pickerVocab  *vocab.Table
	decoderVocab *vocab.Table

	pickerCTC  ctc.Config
	decoderCTC ctc.Config

	fusion  head.Fusion
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option customises recognizer construction.
type Option func(*Recognizer)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recognizer) { r.log = l }
}

// WithMetrics replaces the default metrics instance. Tests use this to avoid
// polluting the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recognizer) { r.metrics = m }
}

// WithFusion replaces the decoder's default additive ContextVector fusion.
func WithFusion(f head.Fusion) Option {
	return func(r *Recognizer) { r.fusion = f }
}

// NewRecognizer builds the model from trained parameters. All configuration
// problems fail here, never at inference time.
func NewRecognizer(p nn.Params, cfg Config, pickerVocab, decoderVocab *vocab.Table, opts ...Option) (*Recognizer, error) {
	r := &Recognizer{
		cfg:          cfg,
		pickerVocab:  pickerVocab,
		decoderVocab: decoderVocab,
		log:          slog.Default(),
		metrics:      observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := validate(cfg, pickerVocab, decoderVocab); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}

	var err error
	if r.enc, err = encoder.New(p, cfg.Encoder); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if r.picker, err = head.NewPicker(p, cfg.Picker); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if r.helper, err = head.NewHelper(p, cfg.Helper); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if r.dec, err = head.NewDecoder(p, cfg.Decoder, r.fusion); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	r.pickerCTC = ctc.Config{
		NumClasses: cfg.Picker.NumClasses,
		BlankIndex: cfg.PickerDecode.blankIndex(cfg.Picker.NumClasses),
		BeamWidth:  cfg.PickerDecode.BeamWidth,
	}
	r.decoderCTC = ctc.Config{
		NumClasses: cfg.Decoder.NumClasses,
		BlankIndex: cfg.DecoderDecode.blankIndex(cfg.Decoder.NumClasses),
		BeamWidth:  cfg.DecoderDecode.BeamWidth,
	}
	if err := r.pickerCTC.Validate(); err != nil {
		return nil, fmt.Errorf("session: picker decode: %w", err)
	}
	if err := r.decoderCTC.Validate(); err != nil {
		return nil, fmt.Errorf("session: decoder decode: %w", err)
	}
	return r, nil
}

// validate collects every configuration failure instead of stopping at the
// first, matching the construction-time error contract.
func validate(cfg Config, pickerVocab, decoderVocab *vocab.Table) error {
	var errs []error

	if cfg.ChunkNum < MinChunkFrames {
		errs = append(errs, fmt.Errorf("chunk_num %d below minimum %d", cfg.ChunkNum, MinChunkFrames))
	}

	fe, err := frontend.New(cfg.Frontend)
	if err != nil {
		errs = append(errs, err)
	} else if got := fe.ReducedDim(); got != cfg.Encoder.InputDim {
		errs = append(errs, fmt.Errorf("encoder input dim %d does not match reduced feature dim %d", cfg.Encoder.InputDim, got))
	}

	dmodel := cfg.Encoder.Stack.DModel
	for _, stage := range []struct {
		name string
		d    int
	}{
		{"picker", cfg.Picker.Stack.DModel},
		{"helper", cfg.Helper.Stack.DModel},
		{"decoder", cfg.Decoder.Stack.DModel},
	} {
		if stage.d != dmodel {
			errs = append(errs, fmt.Errorf("%s dmodel %d does not match encoder dmodel %d", stage.name, stage.d, dmodel))
		}
	}

	if pickerVocab == nil {
		errs = append(errs, errors.New("picker vocabulary missing"))
	} else if pickerVocab.Size() != cfg.Picker.NumClasses {
		errs = append(errs, fmt.Errorf("picker num_classes %d does not match vocabulary size %d", cfg.Picker.NumClasses, pickerVocab.Size()))
	}
	if decoderVocab == nil {
		errs = append(errs, errors.New("decoder vocabulary missing"))
	} else if decoderVocab.Size() != cfg.Decoder.NumClasses {
		errs = append(errs, fmt.Errorf("decoder num_classes %d does not match vocabulary size %d", cfg.Decoder.NumClasses, decoderVocab.Size()))
	}

	return errors.Join(errs...)
}

// Config returns the recognizer's configuration.
func (r *Recognizer) Config() Config { return r.cfg }

// LatencyChunks returns the worst-case number of chunks between feeding a
// chunk and its token-level finalization: the encoder's cascade delay plus
// the decoder head's own look-ahead.
func (r *Recognizer) LatencyChunks() int {
	return r.enc.LatencyChunks() + r.dec.LatencyChunks()
}

// symbolize maps class indices through a vocabulary table.
func symbolize(tbl *vocab.Table, indices []int) []Symbol {
	if len(indices) == 0 {
		return nil
	}
	out := make([]Symbol, len(indices))
	for i, idx := range indices {
		sym, ok := tbl.Symbol(idx)
		if !ok {
			sym = "<unk>"
		}
		out[i] = Symbol{Index: idx, Symbol: sym}
	}
	return out
}
