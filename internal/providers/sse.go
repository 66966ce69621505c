package providers

import (
	"bufio"
	"bytes"
	"io"
)

// StreamEvent is a single server-sent event
type StreamEvent struct {
	Event string
	Data  []byte
}

// StreamReader reads server-sent events from a response body
type StreamReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewStreamReader creates a new stream reader
func NewStreamReader(r io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &StreamReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read returns the next event carrying data. It returns io.EOF at the end of
// the body or on the "[DONE]" marker.
func (s *StreamReader) Read() (*StreamEvent, error) {
	var event string
	for s.scanner.Scan() {
		line := s.scanner.Bytes()

		switch {
		case len(line) == 0:
			event = ""
		case bytes.HasPrefix(line, []byte("event:")):
			event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := bytes.TrimSpace(line[len("data:"):])
			if bytes.Equal(data, []byte("[DONE]")) {
				return nil, io.EOF
			}
			// the scanner reuses its buffer
			out := make([]byte, len(data))
			copy(out, data)
			return &StreamEvent{Event: event, Data: out}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close closes the stream
func (s *StreamReader) Close() error {
	return s.closer.Close()
}
