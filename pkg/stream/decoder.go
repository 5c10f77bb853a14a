// Package stream decodes the orchestrator's server-sent event wire format
// into discrete frames. The stream is a sequence of text lines; every line
// of the form "data: <json>" carries one domain event. Other lines are
// keep-alives or comments and are skipped.
package stream

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog"
)

const dataPrefix = "data: "

// Frame is one decoded "data:" line: a typed domain event with its raw payload
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decoder turns arbitrarily sized byte chunks into frames. It keeps the
// trailing partial line buffered across chunks, so a multi-byte character
// split at a chunk boundary is reassembled before the line is parsed.
type Decoder struct {
	buf    []byte
	frames uint64
	errs   uint64
	logger zerolog.Logger
}

// NewDecoder creates a decoder for one stream
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Feed consumes the next chunk and returns every frame completed by it.
// A line with malformed JSON is dropped and decoding continues; the error
// is surfaced as a diagnostic only.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		if frame, ok := d.decodeLine(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Close discards the trailing incomplete line. A partial line at end of
// stream is never parsed.
func (d *Decoder) Close() {
	if len(d.buf) > 0 {
		d.logger.Debug().Int("bytes", len(d.buf)).Msg("Discarding incomplete trailing line")
		d.buf = nil
	}
}

// Frames returns the number of frames decoded so far
func (d *Decoder) Frames() uint64 { return d.frames }

// ParseErrors returns the number of malformed data lines dropped so far
func (d *Decoder) ParseErrors() uint64 { return d.errs }

func (d *Decoder) decodeLine(line []byte) (Frame, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Frame{}, false
	}

	var frame Frame
	if err := json.Unmarshal(line[len(dataPrefix):], &frame); err != nil {
		d.errs++
		d.logger.Warn().Err(err).Msg("Dropping malformed event line")
		return Frame{}, false
	}

	d.frames++
	return frame, true
}
