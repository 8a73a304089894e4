// Package sse decodes the line-framed event stream returned by the
// send-message endpoint and encodes frames for the development backend.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/capitalize-ai/threadchat/internal/model"
)

const (
	// DataPrefix marks an event line. Every other line is ignored.
	DataPrefix = "data:"

	// DoneSentinel is an optional end-of-stream marker carrying no event.
	DoneSentinel = "[DONE]"

	// DefaultMaxLineSize bounds a single buffered line.
	DefaultMaxLineSize = 1 << 20
)

var (
	// ErrDecode is matched by every DecodeError.
	ErrDecode = errors.New("sse: undecodable frame")

	// ErrLineTooLong reports a line that exceeded the decoder's size limit.
	ErrLineTooLong = errors.New("sse: line exceeds size limit")

	// ErrTruncated reports an unterminated event line discarded by Flush.
	ErrTruncated = errors.New("sse: truncated frame at end of stream")
)

// Kind tags a decoded record.
type Kind string

const (
	KindDelta   Kind = "delta"
	KindError   Kind = "error"
	KindUnknown Kind = "unknown"
)

// Record is one decoded event. Exactly one of Delta or Err is meaningful,
// selected by Kind. Unknown records carry only Raw.
type Record struct {
	Kind  Kind
	Delta model.StreamDelta
	Err   model.ErrorBody
	Raw   json.RawMessage
}

// DecodeError describes a dropped frame. Decoding always continues after one.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sse: dropped frame %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxLineSize sets the longest line the decoder will buffer.
func WithMaxLineSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// WithErrorHandler receives every dropped frame.
func WithErrorHandler(fn func(*DecodeError)) Option {
	return func(d *Decoder) {
		d.onError = fn
	}
}

// Decoder turns chunks of an event stream into records. Chunks may split
// lines at any byte offset; incomplete lines are held until terminated.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf        []byte
	maxLine    int
	discarding bool
	onError    func(*DecodeError)
}

// NewDecoder creates a decoder with an empty buffer.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{maxLine: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk to the buffer and returns the records completed by it,
// in stream order.
func (d *Decoder) Feed(chunk []byte) []Record {
	var out []Record

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			d.hold(chunk)
			break
		}

		piece := chunk[:i]
		chunk = chunk[i+1:]

		if d.discarding {
			d.discarding = false
			continue
		}

		line := piece
		if len(d.buf) > 0 {
			d.buf = append(d.buf, piece...)
			line = d.buf
		}

		if len(line) > d.maxLine {
			d.report(truncate(line), ErrLineTooLong)
		} else if rec, ok := d.decodeLine(line); ok {
			out = append(out, rec)
		}
		d.buf = d.buf[:0]
	}

	return out
}

// Flush discards any partial line left in the buffer.
func (d *Decoder) Flush() {
	if len(d.buf) > 0 {
		line := bytes.TrimSuffix(d.buf, []byte("\r"))
		if bytes.HasPrefix(line, []byte(DataPrefix)) {
			d.report(truncate(line), ErrTruncated)
		}
	}
	d.buf = d.buf[:0]
	d.discarding = false
}

// Buffered returns the number of bytes held for an incomplete line.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) hold(piece []byte) {
	if d.discarding {
		return
	}
	if len(d.buf)+len(piece) > d.maxLine {
		d.report(truncate(append(d.buf, piece...)), ErrLineTooLong)
		d.buf = d.buf[:0]
		d.discarding = true
		return
	}
	d.buf = append(d.buf, piece...)
}

func (d *Decoder) decodeLine(line []byte) (Record, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return Record{}, false
	}

	payload := bytes.TrimSpace(line[len(DataPrefix):])
	if len(payload) == 0 || string(payload) == DoneSentinel {
		return Record{}, false
	}

	var probe struct {
		ID    *string         `json:"id"`
		Text  *string         `json:"text"`
		Model *string         `json:"model"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		d.report(truncate(line), err)
		return Record{}, false
	}

	if len(probe.Error) > 0 && string(probe.Error) != "null" {
		body, err := decodeErrorBody(probe.Error)
		if err != nil {
			d.report(truncate(line), err)
			return Record{}, false
		}
		return Record{Kind: KindError, Err: body}, true
	}

	// Only text is required; a missing id or model is left empty for the
	// consumer to fill.
	if probe.Text != nil {
		delta := model.StreamDelta{Text: *probe.Text}
		if probe.ID != nil {
			delta.ID = *probe.ID
		}
		if probe.Model != nil {
			delta.Model = *probe.Model
		}
		return Record{Kind: KindDelta, Delta: delta}, true
	}

	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)
	return Record{Kind: KindUnknown, Raw: raw}, true
}

// decodeErrorBody accepts either a bare string or an object.
func decodeErrorBody(raw json.RawMessage) (model.ErrorBody, error) {
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return model.ErrorBody{Message: msg}, nil
	}
	var body model.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return model.ErrorBody{}, err
	}
	return body, nil
}

func (d *Decoder) report(line string, err error) {
	if d.onError != nil {
		d.onError(&DecodeError{Line: line, Err: err})
	}
}

const maxReportedLine = 256

func truncate(line []byte) string {
	if len(line) > maxReportedLine {
		return string(line[:maxReportedLine]) + "..."
	}
	return string(line)
}
