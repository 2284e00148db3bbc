// Package sse decodes server-sent-event byte streams into frames.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const (
	initialBufferSize = 64 * 1024
	// Frames carry whole provider payloads, not single lines; completed
	// responses can run to megabytes.
	maxFrameSize = 8 * 1024 * 1024
)

// Frame is one decoded SSE record.
type Frame struct {
	// Event is the frame's event name, empty when the frame carried none.
	Event string
	// Data is the concatenation of the frame's data lines joined by "\n".
	Data string
}

// Scanner splits a byte stream into frames delimited by "\n\n" or
// "\r\n\r\n". Frames with no data and "[DONE]" sentinels are suppressed.
// Trailing bytes without a closing delimiter are dropped: the usual cause
// is cancellation mid-frame, and a partial record would corrupt the
// incremental tool-call reconstruction downstream.
type Scanner struct {
	scanner *bufio.Scanner
	frame   Frame
	err     error
}

// NewScanner wraps r. Closing r terminates the scan.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, initialBufferSize), maxFrameSize)
	sc.Split(splitFrames)
	return &Scanner{scanner: sc}
}

// Scan advances to the next frame. It returns false at end of stream or
// on read failure; check Err afterwards.
func (s *Scanner) Scan() bool {
	for s.scanner.Scan() {
		frame, ok := parseFrame(s.scanner.Bytes())
		if !ok {
			continue
		}
		s.frame = frame
		return true
	}
	s.err = s.scanner.Err()
	return false
}

// Frame returns the frame produced by the last successful Scan.
func (s *Scanner) Frame() Frame {
	return s.frame
}

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error {
	return s.err
}

var (
	delimCRLF = []byte("\r\n\r\n")
	delimLF   = []byte("\n\n")
)

// splitFrames is the bufio.SplitFunc producing one raw frame per token.
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	crlf := bytes.Index(data, delimCRLF)
	lf := bytes.Index(data, delimLF)
	switch {
	case lf >= 0 && (crlf < 0 || lf < crlf):
		return lf + len(delimLF), data[:lf], nil
	case crlf >= 0:
		return crlf + len(delimCRLF), data[:crlf], nil
	}
	if atEOF {
		// Unterminated trailing frame: consume and drop.
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// parseFrame interprets one raw frame. ok is false for suppressed frames.
func parseFrame(raw []byte) (Frame, bool) {
	normalized := strings.ReplaceAll(string(raw), "\r\n", "\n")

	var event string
	var parts []string
	for _, line := range strings.Split(normalized, "\n") {
		switch {
		case strings.HasPrefix(line, ":"):
			// comment line
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			parts = append(parts, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	data := strings.TrimSpace(strings.Join(parts, "\n"))
	if data == "" || data == "[DONE]" {
		return Frame{}, false
	}
	return Frame{Event: event, Data: data}, true
}
