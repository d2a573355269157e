// Package rpc implements the transport-agnostic NDJSON RPC protocol
// engine: one JSON frame per line, a run_id-scoped lifecycle state
// machine, and a bounded retained-status cache for closed runs.
package rpc

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"github.com/tau-run/tau/pkg/models"
)

const maxFrameBytes = 1024 * 1024

// FrameReader decodes NDJSON frames from a stream one line at a time,
// grounded on the teacher's MCP stdio transport's bufio.Scanner read
// loop (internal/mcp/transport_stdio.go), generalized from JSON-RPC
// envelopes to the fixed Frame shape.
type FrameReader struct {
	scanner *bufio.Scanner
}

// NewFrameReader wraps r for line-delimited frame reading.
func NewFrameReader(r io.Reader) *FrameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxFrameBytes)
	return &FrameReader{scanner: s}
}

// ReadFrame reads the next non-empty line and decodes it as a Frame.
// It returns io.EOF once the stream is exhausted. A line that fails to
// parse as JSON is surfaced as an invalid_json RPCError rather than a
// Go error, so the caller can write it back as an error frame and keep
// reading.
func (r *FrameReader) ReadFrame() (models.Frame, *models.RPCError, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame models.Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			return models.Frame{}, &models.RPCError{
				Code:        "invalid_json",
				Category:    models.ErrorCategoryValidation,
				Description: err.Error(),
			}, nil
		}
		return frame, nil, nil
	}
	if err := r.scanner.Err(); err != nil {
		return models.Frame{}, nil, err
	}
	return models.Frame{}, nil, io.EOF
}

// FrameWriter encodes frames to a stream as NDJSON lines, serializing
// concurrent writers so a run's event stream and its responses never
// interleave mid-line.
type FrameWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewFrameWriter wraps w for line-delimited frame writing.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{enc: json.NewEncoder(w)}
}

// WriteFrame marshals and writes one frame, newline-terminated.
func (w *FrameWriter) WriteFrame(frame models.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(frame)
}

// MustPayload marshals v into a Frame's payload, panicking on a marshal
// failure since payload types are always engine-internal and known to
// be serializable.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("rpc: payload marshal: " + err.Error())
	}
	return b
}
