package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/voxhollow/sibilant/internal/head"
	"github.com/voxhollow/sibilant/internal/session"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown YAML keys are rejected. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in conventional values for omitted settings.
func applyDefaults(cfg *Config) {
	if cfg.Model.SampleRate == 0 {
		cfg.Model.SampleRate = 16000
	}
	if cfg.Model.NumFeatureBins == 0 {
		cfg.Model.NumFeatureBins = 80
	}
	if cfg.Model.FrameMs == 0 {
		cfg.Model.FrameMs = 25
	}
	if cfg.Model.StrideMs == 0 {
		cfg.Model.StrideMs = 10
	}
	if cfg.Picker.BeamWidth == 0 {
		cfg.Picker.BeamWidth = 1
	}
	if cfg.Decoder.BeamWidth == 0 {
		cfg.Decoder.BeamWidth = 1
	}
	if cfg.Decoder.Fusion == "" {
		cfg.Decoder.Fusion = "add"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found, so a
// broken config surfaces every problem at once instead of one per restart.
//
// Structural model checks (dmodel divisibility, window arithmetic, class
// counts versus vocabulary sizes) are repeated with full context at
// recognizer construction; Validate catches what can be decided from the
// file alone.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Model.DModel <= 0 {
		errs = append(errs, fmt.Errorf("model.dmodel %d must be positive", cfg.Model.DModel))
	}
	if cfg.Model.ReductionFactor < 1 {
		errs = append(errs, fmt.Errorf("model.reduction_factor %d must be at least 1", cfg.Model.ReductionFactor))
	}
	if cfg.Model.ChunkNum < session.MinChunkFrames {
		errs = append(errs, fmt.Errorf("model.chunk_num %d below minimum %d", cfg.Model.ChunkNum, session.MinChunkFrames))
	}
	if cfg.Model.StrideMs <= 0 || cfg.Model.FrameMs < cfg.Model.StrideMs {
		errs = append(errs, fmt.Errorf("model.frame_ms %d / stride_ms %d: frame must cover at least one stride", cfg.Model.FrameMs, cfg.Model.StrideMs))
	}

	for _, stage := range []struct {
		name string
		b    BlockConfig
	}{
		{"encoder", cfg.Encoder},
		{"picker", cfg.Picker.BlockConfig},
		{"helper", cfg.Helper},
		{"decoder", cfg.Decoder.BlockConfig},
	} {
		if cfg.Model.DModel > 0 {
			if err := stage.b.stack(cfg.Model.DModel).Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", stage.name, err))
			}
		}
	}
	for _, zeroBack := range []struct {
		name string
		b    BlockConfig
	}{
		{"picker", cfg.Picker.BlockConfig},
		{"helper", cfg.Helper},
	} {
		if zeroBack.b.WinBack != 0 {
			errs = append(errs, fmt.Errorf("%s.win_back must be 0, got %d", zeroBack.name, zeroBack.b.WinBack))
		}
	}

	for _, h := range []struct {
		name string
		h    HeadConfig
	}{
		{"picker", cfg.Picker},
		{"decoder", cfg.Decoder.HeadConfig},
	} {
		if h.h.NumClasses < 2 {
			errs = append(errs, fmt.Errorf("%s.num_classes %d must be at least 2", h.name, h.h.NumClasses))
		}
		if h.h.Vocabulary == "" {
			errs = append(errs, fmt.Errorf("%s.vocabulary is required", h.name))
		}
		if h.h.BeamWidth < 1 {
			errs = append(errs, fmt.Errorf("%s.beam_width %d must be at least 1", h.name, h.h.BeamWidth))
		}
	}

	if !slices.Contains(head.FusionKinds(), cfg.Decoder.Fusion) {
		errs = append(errs, fmt.Errorf("decoder.fusion %q is invalid; valid values: %v", cfg.Decoder.Fusion, head.FusionKinds()))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	return errors.Join(errs...)
}
