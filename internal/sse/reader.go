package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

// ErrMalformedEvent is returned for frames whose data is not valid JSON.
// The stream itself stays usable.
var ErrMalformedEvent = errors.New("malformed event")

const maxFrameSize = 1 << 20

// Reader splits an event stream into frames and returns their data payloads.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &Reader{scanner: scanner}
}

// Next returns the data of the next frame. Multiple data lines are joined with
// "\n"; comment lines and other fields are ignored. It returns io.EOF once the
// stream ends and ErrMalformedEvent (wrapped) for a frame that is not JSON.
func (r *Reader) Next() (json.RawMessage, error) {
	var (
		lines   []string
		hasData bool
	)
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if !hasData {
				continue
			}
			return decodeFrame(lines)
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			lines = append(lines, strings.TrimPrefix(rest, " "))
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if hasData {
		return decodeFrame(lines)
	}
	return nil, io.EOF
}

func decodeFrame(lines []string) (json.RawMessage, error) {
	data := strings.Join(lines, "\n")
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedEvent, truncate(data, 120))
	}
	return json.RawMessage(data), nil
}

// Each calls fn for every well-formed frame until the stream ends, fn returns
// an error, or reading fails. Malformed frames are logged and skipped.
func (r *Reader) Each(fn func(json.RawMessage) error) error {
	for {
		data, err := r.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, ErrMalformedEvent):
			log.Printf("WARN [SSEReader] skipping frame: %v", err)
			continue
		case err != nil:
			return err
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
