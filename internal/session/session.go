package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxhollow/sibilant/internal/ctc"
	"github.com/voxhollow/sibilant/internal/encoder"
	"github.com/voxhollow/sibilant/internal/frontend"
	"github.com/voxhollow/sibilant/internal/head"
	"github.com/voxhollow/sibilant/pkg/audio"
)

// ErrSessionClosed is returned when feeding a session after End or Abort.
var ErrSessionClosed = errors.New("session: closed")

// ErrOutOfOrderChunk is returned when a chunk is pushed at any index other
// than the next expected one, including re-submission of an already
// processed chunk. The session state is unchanged by the rejected call.
var ErrOutOfOrderChunk = errors.New("session: out-of-order chunk")

// Symbol is one finalized vocabulary entry.
type Symbol struct {
	// Index is the class index in the head's vocabulary.
	Index int `json:"index"`

	// Symbol is the vocabulary entry at Index.
	Symbol string `json:"symbol"`
}

// EventKind distinguishes the two output streams of a session.
type EventKind int

const (
	// EventInterim carries coarse picker-level symbols. They arrive with
	// zero look-ahead latency and are not part of the final Transcript.
	EventInterim EventKind = iota

	// EventFinal carries token-level decoder symbols. Final symbols are
	// appended to the Transcript and never retracted.
	EventFinal
)

// String implements [fmt.Stringer].
func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one batch of finalized symbols produced while feeding audio.
type Event struct {
	// Kind says which head produced the symbols.
	Kind EventKind `json:"kind"`

	// Chunk is the index of the fed chunk that triggered finalization.
	Chunk int `json:"chunk"`

	// Symbols holds the newly finalized symbols, in emission order.
	Symbols []Symbol `json:"symbols"`
}

// Transcript is the ordered sequence of token-level symbols finalized over
// the life of a session.
type Transcript struct {
	Symbols []Symbol `json:"symbols"`
}

// Text concatenates the transcript's symbols.
func (t Transcript) Text() string {
	var b strings.Builder
	for _, s := range t.Symbols {
		b.WriteString(s.Symbol)
	}
	return b.String()
}

// DecodeError reports a per-chunk decode failure, typically a non-finite
// posterior. It is recoverable: the session remains usable, previously
// finalized symbols are intact, and subsequent chunks decode normally. Only
// the failed chunk's contribution to the affected head is lost.
type DecodeError struct {
	// Chunk is the fed chunk index whose decode failed.
	Chunk int

	// Head names the affected head, "picker" or "decoder".
	Head string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("session: chunk %d: %s decode: %v", e.Chunk, e.Head, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// Session is the streaming state of one utterance. Chunk processing is
// inherently sequential, so a Session is not safe for concurrent use: feed
// it from a single goroutine.
type Session struct {
	r *Recognizer

	fe      *frontend.Extractor
	encSt   *encoder.State
	pickSt  *encoder.State
	helpSt  *encoder.State
	decSt   *encoder.State
	pickDec ctc.Decoder
	decDec  ctc.Decoder

	pending    [][]float64 // reduced frames not yet forming a full chunk
	next       int         // next expected chunk index
	transcript []Symbol
	closed     bool
}

// StartSession allocates fresh per-utterance state.
func (r *Recognizer) StartSession(ctx context.Context) (*Session, error) {
	fe, err := frontend.New(r.cfg.Frontend)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	pickDec, err := ctc.New(r.pickerCTC)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	decDec, err := ctc.New(r.decoderCTC)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s := &Session{
		r:       r,
		fe:      fe,
		encSt:   r.enc.NewState(),
		pickSt:  r.picker.NewState(),
		helpSt:  r.helper.NewState(),
		decSt:   r.dec.NewState(),
		pickDec: pickDec,
		decDec:  decDec,
	}
	r.metrics.ActiveSessions.Add(ctx, 1)
	return s, nil
}

// Feed pushes one waveform segment through the pipeline and returns the
// events finalized by it. Segments may have arbitrary length; frames are
// buffered until a full chunk is available, so a short segment may return no
// events at all.
//
// A returned [*DecodeError] (possibly several, joined) means one or more
// chunks failed to decode; the accompanying events are still valid and the
// session remains usable. Any other error is fatal to the call.
func (s *Session) Feed(ctx context.Context, seg audio.Segment) ([]Event, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	start := time.Now()
	frames, err := s.fe.Extract(seg)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s.r.metrics.FrontendDuration.Record(ctx, time.Since(start).Seconds())
	s.pending = append(s.pending, frames...)

	var (
		events    []Event
		decodeErr error
	)
	for len(s.pending) >= s.r.cfg.ChunkNum {
		chunk := s.pending[:s.r.cfg.ChunkNum]
		s.pending = s.pending[s.r.cfg.ChunkNum:]
		evs, err := s.PushChunk(ctx, s.next, chunk)
		events = append(events, evs...)
		if err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				return events, err
			}
			decodeErr = errors.Join(decodeErr, err)
		}
	}
	return events, decodeErr
}

// PushChunk feeds one pre-chunked block of reduced feature frames at an
// explicit chunk index. Chunks must arrive exactly once and strictly in
// order; anything else returns [ErrOutOfOrderChunk] with the session state
// unchanged. [Session.Feed] is the segment-level convenience wrapper around
// this.
func (s *Session) PushChunk(ctx context.Context, index int, frames [][]float64) ([]Event, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if index != s.next {
		return nil, fmt.Errorf("%w: got chunk %d, want %d", ErrOutOfOrderChunk, index, s.next)
	}

	start := time.Now()
	emitted, err := s.r.enc.Push(s.encSt, frames)
	if err != nil {
		return nil, fmt.Errorf("session: chunk %d: %w", index, err)
	}
	s.r.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds())
	s.r.metrics.ChunksProcessed.Add(ctx, 1)
	s.next++

	return s.runHeads(ctx, index, emitted)
}

// End signals end-of-stream: the remaining buffered frames are fed as a
// short final chunk, every stage drains its look-ahead in Flushing, and the
// CTC decoders resolve their held-back hypotheses. The final Transcript and
// any last events are returned; the session is closed afterwards.
func (s *Session) End(ctx context.Context) (Transcript, []Event, error) {
	if s.closed {
		return Transcript{}, nil, ErrSessionClosed
	}

	var (
		events    []Event
		decodeErr error
	)
	if len(s.pending) > 0 {
		evs, err := s.PushChunk(ctx, s.next, s.pending)
		events = append(events, evs...)
		if err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				s.release(ctx, "aborted")
				return Transcript{}, events, err
			}
			decodeErr = errors.Join(decodeErr, err)
		}
		s.pending = nil
	}

	flushed, err := s.r.enc.Flush(s.encSt)
	if err != nil {
		s.release(ctx, "aborted")
		return Transcript{}, events, fmt.Errorf("session: flush: %w", err)
	}
	evs, err := s.runHeads(ctx, s.next, flushed)
	events = append(events, evs...)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			s.release(ctx, "aborted")
			return Transcript{}, events, err
		}
		decodeErr = errors.Join(decodeErr, err)
	}

	evs, err = s.drainHeads(ctx)
	events = append(events, evs...)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			s.release(ctx, "aborted")
			return Transcript{}, events, err
		}
		decodeErr = errors.Join(decodeErr, err)
	}

	final := Transcript{Symbols: append([]Symbol(nil), s.transcript...)}
	s.release(ctx, "finished")
	return final, events, decodeErr
}

// Abort discards the session without finalizing a transcript. All buffers
// are released; other sessions are unaffected.
func (s *Session) Abort(ctx context.Context) {
	if s.closed {
		return
	}
	s.release(ctx, "aborted")
}

// Transcript returns a copy of the token-level symbols finalized so far.
func (s *Session) Transcript() Transcript {
	return Transcript{Symbols: append([]Symbol(nil), s.transcript...)}
}

func (s *Session) release(ctx context.Context, status string) {
	s.closed = true
	s.fe = nil
	s.encSt, s.pickSt, s.helpSt, s.decSt = nil, nil, nil, nil
	s.pickDec, s.decDec = nil, nil
	s.pending = nil
	s.r.metrics.ActiveSessions.Add(ctx, -1)
	s.r.metrics.RecordSessionEnd(ctx, status)
}

// runHeads pushes finalized encoder chunks through the three heads. The
// picker's forward pass runs first because the helper consumes its hidden
// states; after that the picker's CTC decode and the helper→decoder pass are
// independent and run concurrently.
//
// fed is the index of the fed chunk that triggered this batch, recorded on
// the resulting events for latency accounting.
func (s *Session) runHeads(ctx context.Context, fed int, chunks []encoder.Chunk) ([]Event, error) {
	var (
		events    []Event
		decodeErr error
	)
	for _, c := range chunks {
		po, err := s.r.picker.Push(s.pickSt, c)
		if err != nil {
			return events, fmt.Errorf("session: chunk %d: picker: %w", c.Index, err)
		}

		var (
			interim []int
			finals  []head.Posterior
		)
		eg, _ := errgroup.WithContext(ctx)
		eg.Go(func() error {
			start := time.Now()
			indices, err := s.pickDec.Push(po.LogProbs)
			if err != nil {
				s.r.metrics.RecordDecodeFailure(ctx, "picker")
				return &DecodeError{Chunk: c.Index, Head: "picker", Err: err}
			}
			s.r.metrics.RecordDecodeDuration(ctx, "picker", time.Since(start).Seconds())
			interim = indices
			return nil
		})
		eg.Go(func() error {
			start := time.Now()
			ctxVec, err := s.r.helper.Push(s.helpSt, po.Hidden)
			if err != nil {
				return fmt.Errorf("session: chunk %d: helper: %w", c.Index, err)
			}
			posteriors, err := s.r.dec.Push(s.decSt, c, ctxVec)
			if err != nil {
				return fmt.Errorf("session: chunk %d: decoder: %w", c.Index, err)
			}
			s.r.metrics.RecordDecodeDuration(ctx, "decoder", time.Since(start).Seconds())
			finals = posteriors
			return nil
		})
		if err := eg.Wait(); err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				return events, err
			}
			decodeErr = errors.Join(decodeErr, err)
		}

		if syms := symbolize(s.r.pickerVocab, interim); len(syms) > 0 {
			s.r.metrics.RecordSymbols(ctx, "picker", len(syms))
			events = append(events, Event{Kind: EventInterim, Chunk: fed, Symbols: syms})
		}

		evs, err := s.decodeFinals(ctx, fed, finals)
		events = append(events, evs...)
		decodeErr = errors.Join(decodeErr, err)
	}
	return events, decodeErr
}

// decodeFinals runs the token-level CTC decode over decoder posteriors and
// appends newly finalized symbols to the transcript.
func (s *Session) decodeFinals(ctx context.Context, fed int, posteriors []head.Posterior) ([]Event, error) {
	var (
		events    []Event
		decodeErr error
	)
	for _, p := range posteriors {
		indices, err := s.decDec.Push(p.LogProbs)
		if err != nil {
			s.r.metrics.RecordDecodeFailure(ctx, "decoder")
			decodeErr = errors.Join(decodeErr, &DecodeError{Chunk: p.Index, Head: "decoder", Err: err})
			continue
		}
		if syms := symbolize(s.r.decoderVocab, indices); len(syms) > 0 {
			s.r.metrics.RecordSymbols(ctx, "decoder", len(syms))
			s.transcript = append(s.transcript, syms...)
			events = append(events, Event{Kind: EventFinal, Chunk: fed, Symbols: syms})
		}
	}
	return events, decodeErr
}

// drainHeads terminates the head stacks and resolves the CTC decoders after
// the encoder has flushed.
func (s *Session) drainHeads(ctx context.Context) ([]Event, error) {
	if err := s.r.picker.Flush(s.pickSt); err != nil {
		return nil, fmt.Errorf("session: flush picker: %w", err)
	}
	if err := s.r.helper.Flush(s.helpSt); err != nil {
		return nil, fmt.Errorf("session: flush helper: %w", err)
	}
	posteriors, err := s.r.dec.Flush(s.decSt)
	if err != nil {
		return nil, fmt.Errorf("session: flush decoder: %w", err)
	}

	events, decodeErr := s.decodeFinals(ctx, s.next, posteriors)

	if indices, err := s.pickDec.Finish(); err == nil {
		if syms := symbolize(s.r.pickerVocab, indices); len(syms) > 0 {
			s.r.metrics.RecordSymbols(ctx, "picker", len(syms))
			events = append(events, Event{Kind: EventInterim, Chunk: s.next, Symbols: syms})
		}
	} else {
		s.r.metrics.RecordDecodeFailure(ctx, "picker")
		decodeErr = errors.Join(decodeErr, &DecodeError{Chunk: s.next, Head: "picker", Err: err})
	}

	if indices, err := s.decDec.Finish(); err == nil {
		if syms := symbolize(s.r.decoderVocab, indices); len(syms) > 0 {
			s.r.metrics.RecordSymbols(ctx, "decoder", len(syms))
			s.transcript = append(s.transcript, syms...)
			events = append(events, Event{Kind: EventFinal, Chunk: s.next, Symbols: syms})
		}
	} else {
		s.r.metrics.RecordDecodeFailure(ctx, "decoder")
		decodeErr = errors.Join(decodeErr, &DecodeError{Chunk: s.next, Head: "decoder", Err: err})
	}

	return events, decodeErr
}
