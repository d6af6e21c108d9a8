package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Writer emits the gateway's client-facing frames:
//
//	data: {"content":"..."}
//	data: {"error":"..."}
//	data: [DONE]
//
// Done writes the sentinel at most once; later writes are rejected.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    bool
}

// NewWriter sets the event-stream headers and commits the 200 status.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// SetHeaders applies the headers every event stream response carries.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func (s *Writer) Content(text string) error {
	return s.frame(map[string]string{"content": text})
}

func (s *Writer) Error(message string) error {
	return s.frame(map[string]string{"error": message})
}

// Done writes the terminal sentinel. Repeated calls are no-ops.
func (s *Writer) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	return s.writeLocked("data: " + DoneToken + "\n\n")
}

func (s *Writer) frame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("write after done")
	}
	return s.writeLocked("data: " + string(data) + "\n\n")
}

func (s *Writer) writeLocked(frame string) error {
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
