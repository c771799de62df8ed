package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Writer encodes values as server-sent events, flushing after every frame.
type Writer struct {
	w     io.Writer
	flush func()
	mu    sync.Mutex
}

// NewWriter prepares w for streaming. It sets the event-stream headers, so it
// must be called before anything is written to the response.
func NewWriter(w http.ResponseWriter) *Writer {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	var flushFn func()
	if f, ok := w.(http.Flusher); ok {
		flushFn = f.Flush
	}
	return &Writer{w: w, flush: flushFn}
}

// NewStreamWriter allows a plain io.Writer, for example in tests.
func NewStreamWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteJSON writes v as one `data: <json>\n\n` frame.
func (s *Writer) WriteJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal payload: %w", err)
	}
	return s.write([]byte(fmt.Sprintf("data: %s\n\n", body)))
}

func (s *Writer) write(data []byte) error {
	if s == nil || s.w == nil {
		return errors.New("sse: writer not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}
