package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goyais/streamgate/internal/imagegen"
)

type recordingWriter struct {
	mu      sync.Mutex
	content []string
	errs    []string
	done    int
	failOn  int // fail the n-th Content call when > 0
	calls   int
}

func (r *recordingWriter) Content(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failOn > 0 && r.calls >= r.failOn {
		return errors.New("client gone")
	}
	r.content = append(r.content, text)
	return nil
}

func (r *recordingWriter) Error(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, message)
	return nil
}

func (r *recordingWriter) Done() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	return nil
}

func (r *recordingWriter) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.content, "")
}

type fakeGenerator struct {
	url     string
	err     error
	release chan struct{}
	mu      sync.Mutex
	prompts []string
}

func (f *fakeGenerator) Provider() string { return "Fake" }

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (imagegen.Result, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return imagegen.Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return imagegen.Result{}, f.err
	}
	return imagegen.Result{URL: f.url, Provider: "Fake"}, nil
}

// upstream serves the given SSE frames, flushing after each.
func upstream(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			_, _ = io.WriteString(w, f)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func contentFrame(text string) string {
	return `data: {"choices":[{"delta":{"content":` + quote(text) + `}}]}` + "\n\n"
}

func toolFrame(name, args string) string {
	return `data: {"choices":[{"delta":{"tool_calls":[{"function":{"name":` + quote(name) + `,"arguments":` + quote(args) + `}}]}}]}` + "\n\n"
}

func finishFrame(reason string) string {
	return `data: {"choices":[{"delta":{},"finish_reason":` + quote(reason) + `}]}` + "\n\n"
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
