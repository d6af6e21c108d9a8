package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriterFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.Content("Hel\"lo"); err != nil {
		t.Fatalf("content: %v", err)
	}
	if err := w.Error("AI Provider Error: 500"); err != nil {
		t.Fatalf("error: %v", err)
	}
	if err := w.Done(); err != nil {
		t.Fatalf("done: %v", err)
	}
	if err := w.Done(); err != nil {
		t.Fatalf("second done: %v", err)
	}
	if err := w.Content("late"); err == nil {
		t.Fatalf("expected write after done to fail")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	want := "data: {\"content\":\"Hel\\\"lo\"}\n\n" +
		"data: {\"error\":\"AI Provider Error: 500\"}\n\n" +
		"data: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}
	if strings.Count(rec.Body.String(), "[DONE]") != 1 {
		t.Fatalf("expected exactly one sentinel")
	}
}

type plainWriter struct{ http.ResponseWriter }

func TestNewWriterRequiresFlusher(t *testing.T) {
	if _, err := NewWriter(plainWriter{httptest.NewRecorder()}); err != ErrStreamingUnsupported {
		t.Fatalf("expected ErrStreamingUnsupported, got %v", err)
	}
}
