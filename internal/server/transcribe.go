package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/voxhollow/sibilant/internal/session"
	"github.com/voxhollow/sibilant/internal/store"
	"github.com/voxhollow/sibilant/pkg/audio"
)

// Supported ingest formats for /transcribe.
const (
	formatPCM16 = "pcm16"
	formatOpus  = "opus"
)

// wsEvent is one JSON message from server to client.
type wsEvent struct {
	// Type is "interim", "final", "error", or "transcript".
	Type string `json:"type"`

	// Chunk is the chunk index the symbols belong to (interim/final only).
	Chunk int `json:"chunk,omitempty"`

	// Symbols carries the decoded symbols of an interim or final event, or
	// the whole transcript for the closing message.
	Symbols []session.Symbol `json:"symbols,omitempty"`

	// ID and Text are set on the closing "transcript" message.
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`

	// Message describes a recoverable decode failure ("error" type).
	Message string `json:"message,omitempty"`
}

// wsControl is a JSON text message from client to server. The only control
// currently defined is {"type":"end"}.
type wsControl struct {
	Type string `json:"type"`
}

// handleTranscribe upgrades to a websocket and runs one recognition session.
// The client streams binary audio messages (little-endian PCM16 mono by
// default, or Opus packets with ?format=opus) and receives JSON events as
// symbols are decoded. Sending {"type":"end"} finishes the utterance; the
// server replies with the final transcript and closes.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = formatPCM16
	}
	if format != formatPCM16 && format != formatOpus {
		writeError(w, http.StatusBadRequest, "format must be pcm16 or opus")
		return
	}

	modelRate := s.rec.Config().Frontend.SampleRate
	clientRate := modelRate
	if format == formatOpus {
		clientRate = opusSampleRate
	}
	if v := r.URL.Query().Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "sample_rate must be a positive integer")
			return
		}
		if format == formatOpus && n != opusSampleRate {
			writeError(w, http.StatusBadRequest, "opus ingest is fixed at 48000 Hz")
			return
		}
		clientRate = n
	}

	var dec *opusDecoder
	if format == formatOpus {
		d, err := newOpusDecoder()
		if err != nil {
			s.log.Error("opus decoder", "err", err)
			writeError(w, http.StatusInternalServerError, "opus support unavailable")
			return
		}
		dec = d
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept", "err", err)
		return
	}

	id := newSessionID()
	log := s.log.With("session", id)
	log.Info("transcription session started", "format", format, "sample_rate", clientRate)

	status, reason := s.runTranscription(r.Context(), conn, id, log, dec, clientRate, modelRate)
	conn.Close(status, reason)
}

// runTranscription drives one session over an accepted connection. The
// session is fed from a single loop; events are written back as they are
// produced. Returns the close status for the connection.
func (s *Server) runTranscription(
	ctx context.Context,
	conn *websocket.Conn,
	id string,
	log *slog.Logger,
	dec *opusDecoder,
	clientRate, modelRate int,
) (websocket.StatusCode, string) {
	sess, err := s.rec.StartSession(ctx)
	if err != nil {
		log.Error("start session", "err", err)
		return websocket.StatusInternalError, "session start failed"
	}
	started := time.Now().UTC()
	finished := false
	defer func() {
		if !finished {
			sess.Abort(ctx)
		}
	}()

	var elapsed time.Duration
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			cs := websocket.CloseStatus(err)
			if cs == websocket.StatusNormalClosure || cs == websocket.StatusGoingAway {
				// Client closed without an end control. Finish anyway so the
				// utterance is not lost, but there is nobody to send it to.
				if _, _, err := sess.End(ctx); err == nil {
					finished = true
				}
				return websocket.StatusNormalClosure, ""
			}
			log.Warn("websocket read", "err", err)
			return websocket.StatusInternalError, "read failed"
		}

		switch msgType {
		case websocket.MessageBinary:
			samples, err := ingestSamples(data, dec, clientRate, modelRate)
			if err != nil {
				log.Warn("bad audio message", "err", err)
				return websocket.StatusUnsupportedData, err.Error()
			}
			seg := audio.Segment{Samples: samples, SampleRate: modelRate, Timestamp: elapsed}
			elapsed += seg.Duration()

			events, err := sess.Feed(ctx, seg)
			if werr := s.writeEvents(ctx, conn, events, err); werr != nil {
				log.Warn("websocket write", "err", werr)
				return websocket.StatusInternalError, "write failed"
			}
			if err != nil && !isDecodeError(err) {
				log.Error("feed", "err", err)
				return websocket.StatusInternalError, "recognition failed"
			}

		case websocket.MessageText:
			var ctl wsControl
			if err := json.Unmarshal(data, &ctl); err != nil || ctl.Type != "end" {
				return websocket.StatusUnsupportedData, "unknown control message"
			}

			transcript, events, err := sess.End(ctx)
			if werr := s.writeEvents(ctx, conn, events, err); werr != nil {
				log.Warn("websocket write", "err", werr)
				return websocket.StatusInternalError, "write failed"
			}
			if err != nil && !isDecodeError(err) {
				log.Error("end", "err", err)
				return websocket.StatusInternalError, "recognition failed"
			}
			finished = true

			s.saveTranscript(ctx, log, id, started, transcript)

			closing := wsEvent{
				Type:    "transcript",
				ID:      id,
				Text:    transcript.Text(),
				Symbols: transcript.Symbols,
			}
			if err := writeWSJSON(ctx, conn, closing); err != nil {
				log.Warn("websocket write", "err", err)
				return websocket.StatusInternalError, "write failed"
			}
			log.Info("transcription session finished",
				"symbols", len(transcript.Symbols),
				"audio", elapsed,
			)
			return websocket.StatusNormalClosure, "done"
		}
	}
}

// writeEvents sends interim/final events followed by one "error" message per
// recoverable decode failure. Fatal errors are left to the caller.
func (s *Server) writeEvents(ctx context.Context, conn *websocket.Conn, events []session.Event, decodeErr error) error {
	for _, ev := range events {
		msg := wsEvent{
			Type:    ev.Kind.String(),
			Chunk:   ev.Chunk,
			Symbols: ev.Symbols,
		}
		if err := writeWSJSON(ctx, conn, msg); err != nil {
			return err
		}
	}
	if decodeErr != nil && isDecodeError(decodeErr) {
		msg := wsEvent{Type: "error", Message: decodeErr.Error()}
		if err := writeWSJSON(ctx, conn, msg); err != nil {
			return err
		}
	}
	return nil
}

// saveTranscript archives the finished transcript when an archive is
// configured. Archive failures are logged, not surfaced to the client.
func (s *Server) saveTranscript(ctx context.Context, log *slog.Logger, id string, started time.Time, t session.Transcript) {
	if s.archive == nil {
		return
	}
	rec := &store.Record{
		ID:        id,
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
		Symbols:   t.Symbols,
		Text:      t.Text(),
	}
	if err := s.archive.Save(ctx, rec); err != nil {
		log.Error("archive transcript", "err", err)
	}
}

// ingestSamples converts one binary websocket message into mono samples at
// the model rate.
func ingestSamples(data []byte, dec *opusDecoder, clientRate, modelRate int) ([]float64, error) {
	var pcm []byte
	if dec != nil {
		decoded, err := dec.decode(data)
		if err != nil {
			return nil, err
		}
		pcm = decoded
	} else {
		if len(data)%2 != 0 {
			return nil, errors.New("server: pcm16 payload has odd length")
		}
		pcm = data
	}
	if clientRate != modelRate {
		pcm = audio.ResampleMono16(pcm, clientRate, modelRate)
	}
	return audio.PCM16ToFloat64(pcm), nil
}

func writeWSJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal event: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func isDecodeError(err error) bool {
	var de *session.DecodeError
	return errors.As(err, &de)
}

// newSessionID produces a random 16-byte hex string.
func newSessionID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
