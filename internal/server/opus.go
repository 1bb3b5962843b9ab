package server

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/voxhollow/sibilant/pkg/audio"
)

// Opus ingest is fixed at 48 kHz mono; packets up to 60 ms are accepted.
// The decoded PCM is resampled down to the model rate before feeding.
const (
	opusSampleRate   = 48000
	opusChannels     = 1
	opusMaxFrameMs   = 60
	opusMaxFrameSize = opusSampleRate * opusMaxFrameMs / 1000
)

// opusDecoder wraps a gopus decoder for one client stream. Opus decoders are
// stateful across consecutive packets, so each session gets its own.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("server: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode decodes one Opus packet into little-endian PCM16 bytes.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("server: opus decode: %w", err)
	}
	return audio.Int16sToPCM16(pcm), nil
}
